// Command tradepulse-node runs the multi-chain trade execution service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradepulse-network/tradepulse-node/bot"
	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/config"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/dex/jupiter"
	"github.com/tradepulse-network/tradepulse-node/dex/pancake"
	"github.com/tradepulse-network/tradepulse-node/dex/uniswap"
	"github.com/tradepulse-network/tradepulse-node/journal"
	"github.com/tradepulse-network/tradepulse-node/notify"
	"github.com/tradepulse-network/tradepulse-node/oracle"
	"github.com/tradepulse-network/tradepulse-node/server"
	"github.com/tradepulse-network/tradepulse-node/trading"
)

var version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	root := &cobra.Command{
		Use:          "tradepulse-node",
		Short:        "Multi-chain scheduled trade execution service",
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the journal schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := journal.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.InitSchema(ctx)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	pool := chains.NewPool(ctx, cfg.Endpoints)
	defer pool.Close()

	registry := dex.NewRegistry()
	for _, n := range []chains.Network{chains.NetworkETH, chains.NetworkBASE} {
		if client, ok := pool.EVM(n); ok {
			registry.Register(n, dex.VersionV2, uniswap.NewV2(client, n))
			registry.Register(n, dex.VersionV3, uniswap.NewV3(client, n))
		}
	}
	if client, ok := pool.EVM(chains.NetworkBNB); ok {
		registry.Register(chains.NetworkBNB, dex.VersionAuto, pancake.New(client))
	}
	if client, ok := pool.Solana(); ok {
		registry.Register(chains.NetworkSOL, dex.VersionAuto, jupiter.New(client, cfg.JupiterAPIURL))
	}

	trader := trading.New(pool, oracle.New(cfg.PriceAPIURL), registry)
	hub := notify.NewHub(server.WSAuthenticator(cfg.SessionSecret))
	sched := bot.NewScheduler(store, trader, hub)
	manager := bot.NewManager(store, sched, pool)

	if err := sched.Reconcile(ctx); err != nil {
		return err
	}
	sched.Run()

	srv := server.New(cfg.ListenAddr, cfg.SessionSecret, manager, hub)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	sched.Shutdown(shutdownCtx)
	return nil
}
