// Package config loads the process configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

// Config is everything the node needs to start.
type Config struct {
	DatabaseURL   string
	SessionSecret string
	ListenAddr    string
	PriceAPIURL   string
	JupiterAPIURL string

	// Endpoints per network; a network with missing material is disabled.
	Endpoints map[chains.Network]chains.Endpoint
}

// Load reads the environment. A .env file in the working directory is
// merged in when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LISTEN_ADDR", ":8080")

	cfg := &Config{
		DatabaseURL:   v.GetString("DATABASE_URL"),
		SessionSecret: v.GetString("SESSION_SECRET"),
		ListenAddr:    v.GetString("LISTEN_ADDR"),
		PriceAPIURL:   v.GetString("PRICE_API_URL"),
		JupiterAPIURL: v.GetString("JUPITER_API_URL"),
		Endpoints:     make(map[chains.Network]chains.Endpoint),
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		log.Warn().Msg("SESSION_SECRET not set, request identity is trusted from headers")
	}

	for _, n := range chains.All() {
		cfg.Endpoints[n] = chains.Endpoint{
			RPCURL:     v.GetString("RPC_URL_" + string(n)),
			PrivateKey: v.GetString("PRIVATE_KEY_" + string(n)),
		}
	}
	return cfg, nil
}
