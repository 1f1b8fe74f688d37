// Package bot owns the per-(user, network) trade schedules and the command
// surface the transport layer calls into.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/journal"
	"github.com/tradepulse-network/tradepulse-node/trading"
)

// Failure kinds raised by the bot layer.
const (
	KindInvalidInterval dex.Kind = "INVALID_INTERVAL"
	KindNoActiveConfig  dex.Kind = "NO_ACTIVE_CONFIG"
)

// intervalSpecs maps a config interval to its cron expression. Ticks align
// to the wall clock: a 10min bot fires at minutes divisible by ten, not at
// start-time offsets.
var intervalSpecs = map[string]string{
	"1min":  "* * * * *",
	"5min":  "*/5 * * * *",
	"10min": "*/10 * * * *",
	"30min": "*/30 * * * *",
	"1hour": "0 * * * *",
}

// Journal is the slice of the trade journal the bot layer uses.
type Journal interface {
	GetActiveConfig(ctx context.Context, userID string, n chains.Network) (*journal.TradeConfig, error)
	GetAllActiveConfigs(ctx context.Context, userID string) ([]journal.TradeConfig, error)
	GetAllConfigs(ctx context.Context, userID string) ([]journal.TradeConfig, error)
	CreateConfig(ctx context.Context, cfg *journal.TradeConfig) error
	CreateTradeLog(ctx context.Context, t *journal.TradeLog) error
	UpdateTradeLog(ctx context.Context, id string, r journal.TradeResult) error
	UpsertBotStatus(ctx context.Context, userID string, n chains.Network, isRunning bool, activeConfigID *string, nextTradeAt *time.Time) error
	RecordTradeResult(ctx context.Context, userID string, n chains.Network, success bool, amountUSD decimal.Decimal, nextTradeAt *time.Time) error
	GetBotStatuses(ctx context.Context, userID string) ([]journal.BotStatus, error)
	RunningStatuses(ctx context.Context) ([]journal.BotStatus, error)
	MarkStopped(ctx context.Context, userID string, n chains.Network) error
	GetRecentTrades(ctx context.Context, userID string, limit int) ([]journal.TradeLog, error)
	GetAllTrades(ctx context.Context, userID string) ([]journal.TradeLog, error)
	GetNetworkStats(ctx context.Context, userID string) ([]journal.NetworkStats, error)
}

// Trader executes one trade through the safety envelope.
type Trader interface {
	ExecuteTrade(ctx context.Context, p trading.TradeParams) trading.TradeOutcome
}

// Notifier pushes journal updates to connected clients.
type Notifier interface {
	BroadcastBotStatus(userID string, n chains.Network, isRunning bool)
	BroadcastTrade(userID string, t *journal.TradeLog)
}

type scheduleKey struct {
	userID  string
	network chains.Network
}

type scheduleEntry struct {
	cronID   cron.EntryID
	configID string
	schedule cron.Schedule
}

// Scheduler owns the in-memory schedule map. The map is a cache of the
// durable BotStatus rows and is reconciled against them at startup.
type Scheduler struct {
	mu      sync.Mutex
	entries map[scheduleKey]*scheduleEntry

	// ticking holds one in-flight flag per key, independent of entries:
	// a restart installs a fresh entry but keeps the key's flag, so a new
	// schedule cannot fire while the old schedule's tick is still running.
	ticking map[scheduleKey]*atomic.Bool

	cron    *cron.Cron
	journal Journal
	trader  Trader
	hub     Notifier
}

// NewScheduler builds the scheduler. Call Run to start the cron runner.
func NewScheduler(j Journal, t Trader, hub Notifier) *Scheduler {
	return &Scheduler{
		entries: make(map[scheduleKey]*scheduleEntry),
		ticking: make(map[scheduleKey]*atomic.Bool),
		cron:    cron.New(),
		journal: j,
		trader:  t,
		hub:     hub,
	}
}

func (s *Scheduler) tickFlag(k scheduleKey) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.ticking[k]
	if !ok {
		f = new(atomic.Bool)
		s.ticking[k] = f
	}
	return f
}

// Run starts the cron runner.
func (s *Scheduler) Run() {
	s.cron.Start()
}

// Shutdown cancels every timer and waits for in-flight ticks to finish.
func (s *Scheduler) Shutdown(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("shutdown timed out waiting for running ticks")
	}
}

// IsRunning reports whether the key has a schedule installed.
func (s *Scheduler) IsRunning(userID string, network chains.Network) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[scheduleKey{userID: userID, network: network}]
	return ok
}

// StartBot installs a recurring schedule for the config. An existing
// schedule on the same key is cancelled first, making restart idempotent.
func (s *Scheduler) StartBot(ctx context.Context, cfg *journal.TradeConfig) error {
	spec, ok := intervalSpecs[cfg.TradeInterval]
	if !ok {
		return dex.Errorf(KindInvalidInterval, "unknown trade interval %q", cfg.TradeInterval)
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}

	k := scheduleKey{userID: cfg.UserID, network: cfg.Network}
	snapshot := *cfg
	e := &scheduleEntry{configID: cfg.ID, schedule: schedule}

	s.mu.Lock()
	if old, exists := s.entries[k]; exists {
		s.cron.Remove(old.cronID)
	}
	cronID, err := s.cron.AddFunc(spec, func() { s.tick(&snapshot, e) })
	if err != nil {
		delete(s.entries, k)
		s.mu.Unlock()
		return err
	}
	e.cronID = cronID
	s.entries[k] = e
	s.mu.Unlock()

	next := schedule.Next(time.Now())
	if err := s.journal.UpsertBotStatus(ctx, cfg.UserID, cfg.Network, true, &cfg.ID, &next); err != nil {
		s.mu.Lock()
		s.cron.Remove(cronID)
		delete(s.entries, k)
		s.mu.Unlock()
		return err
	}

	s.hub.BroadcastBotStatus(cfg.UserID, cfg.Network, true)
	log.Info().
		Str("userId", cfg.UserID).
		Str("network", string(cfg.Network)).
		Str("interval", cfg.TradeInterval).
		Str("configId", cfg.ID).
		Time("nextTradeAt", next).
		Msg("bot started")
	return nil
}

// StopBot cancels the key's schedule and persists the stopped state. A key
// with no schedule is a no-op on the map but still persists the state, so
// stop is idempotent. The last active config id stays on the status row so
// it still says which config the counters accrued under. An in-flight tick
// is not cancelled; it finishes and writes its terminal log.
func (s *Scheduler) StopBot(ctx context.Context, userID string, network chains.Network) error {
	k := scheduleKey{userID: userID, network: network}

	s.mu.Lock()
	if e, exists := s.entries[k]; exists {
		s.cron.Remove(e.cronID)
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if err := s.journal.MarkStopped(ctx, userID, network); err != nil {
		return err
	}

	s.hub.BroadcastBotStatus(userID, network, false)
	log.Info().
		Str("userId", userID).
		Str("network", string(network)).
		Msg("bot stopped")
	return nil
}

// Reconcile re-installs timers for rows marked running in the journal.
// Rows whose active config has gone missing are forced stopped.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	statuses, err := s.journal.RunningStatuses(ctx)
	if err != nil {
		return err
	}

	for _, st := range statuses {
		cfg, err := s.journal.GetActiveConfig(ctx, st.UserID, st.Network)
		if err != nil {
			log.Error().Err(err).
				Str("userId", st.UserID).
				Str("network", string(st.Network)).
				Msg("reconciliation lookup failed")
			continue
		}
		if cfg == nil {
			log.Warn().
				Str("userId", st.UserID).
				Str("network", string(st.Network)).
				Msg("running bot has no active config, forcing stopped")
			if err := s.journal.MarkStopped(ctx, st.UserID, st.Network); err != nil {
				log.Error().Err(err).Msg("failed to force-stop orphaned bot")
			}
			continue
		}
		if err := s.StartBot(ctx, cfg); err != nil {
			log.Error().Err(err).
				Str("userId", st.UserID).
				Str("network", string(st.Network)).
				Msg("failed to re-install bot schedule")
		}
	}
	return nil
}

// tick is the cron callback. An overlapping tick for the key is skipped
// outright, never queued, and counted nowhere.
func (s *Scheduler) tick(cfg *journal.TradeConfig, e *scheduleEntry) {
	flag := s.tickFlag(scheduleKey{userID: cfg.UserID, network: cfg.Network})
	if !flag.CompareAndSwap(false, true) {
		log.Warn().
			Str("userId", cfg.UserID).
			Str("network", string(cfg.Network)).
			Msg("previous tick still executing, skipping")
		return
	}
	defer flag.Store(false)

	ctx := context.Background()
	next := e.schedule.Next(time.Now())
	version, _ := dex.ParseVersion(cfg.DexVersion)

	if _, err := s.runTrade(ctx, tradeRequest{
		userID:       cfg.UserID,
		network:      cfg.Network,
		tokenAddress: cfg.ContractAddress,
		dexVersion:   version,
		amountUSD:    cfg.TradeAmountUSD,
		slippagePct:  cfg.SlippageTolerance,
		maxGasRatio:  cfg.MaxGasRatio,
		tradeType:    journal.TradeTypeAutomated,
		configID:     &cfg.ID,
		nextTradeAt:  &next,
	}); err != nil {
		log.Error().Err(err).
			Str("userId", cfg.UserID).
			Str("network", string(cfg.Network)).
			Msg("scheduled trade failed before execution")
	}
}

type tradeRequest struct {
	userID       string
	network      chains.Network
	tokenAddress string
	dexVersion   dex.Version
	amountUSD    decimal.Decimal
	slippagePct  decimal.Decimal
	maxGasRatio  decimal.Decimal
	tradeType    string
	configID     *string
	nextTradeAt  *time.Time
}

// runTrade is the shared pipeline behind scheduled ticks and manual trades:
// pending log, trade execution, terminal update, counters, broadcasts.
// Once the pending row exists, every path ends in a terminal write.
func (s *Scheduler) runTrade(ctx context.Context, req tradeRequest) (*journal.TradeLog, error) {
	tlog := &journal.TradeLog{
		UserID:       req.userID,
		ConfigID:     req.configID,
		Network:      req.network,
		Dex:          req.network.DefaultDex(),
		TokenAddress: req.tokenAddress,
		TradeType:    req.tradeType,
		AmountUSD:    req.amountUSD,
		Slippage:     req.slippagePct,
	}
	if err := s.journal.CreateTradeLog(ctx, tlog); err != nil {
		return nil, err
	}

	outcome := s.trader.ExecuteTrade(ctx, trading.TradeParams{
		Network:      req.network,
		TokenAddress: req.tokenAddress,
		DexVersion:   req.dexVersion,
		AmountUSD:    req.amountUSD,
		SlippagePct:  req.slippagePct,
		MaxGasRatio:  req.maxGasRatio,
	})

	result := journal.TradeResult{
		Status:       journal.StatusFailed,
		TxHash:       outcome.TxHash,
		TokenAmount:  outcome.TokenAmount,
		GasFee:       outcome.GasFee,
		GasFeeUSD:    outcome.GasFeeUSD,
		TokenPrice:   outcome.TokenPrice,
		Slippage:     req.slippagePct,
		ErrorMessage: outcome.ErrorMessage,
	}
	if outcome.Success {
		result.Status = journal.StatusSuccess
	}

	if err := s.journal.UpdateTradeLog(ctx, tlog.ID, result); err != nil {
		log.Error().Err(err).Str("tradeLogId", tlog.ID).Msg("terminal trade log write failed")
		result.Status = journal.StatusFailed
		result.ErrorMessage = "journal write failed: " + err.Error()
		if err := s.journal.UpdateTradeLog(ctx, tlog.ID, result); err != nil {
			log.Error().Err(err).Str("tradeLogId", tlog.ID).Msg("forced failed write also failed")
		}
	}

	if err := s.journal.RecordTradeResult(ctx, req.userID, req.network,
		outcome.Success, req.amountUSD, req.nextTradeAt); err != nil {
		log.Error().Err(err).
			Str("userId", req.userID).
			Str("network", string(req.network)).
			Msg("failed to advance bot counters")
	}

	tlog.Status = result.Status
	tlog.TxHash = result.TxHash
	tlog.TokenAmount = result.TokenAmount
	tlog.GasFee = result.GasFee
	tlog.GasFeeUSD = result.GasFeeUSD
	tlog.TokenPrice = result.TokenPrice
	tlog.ErrorMessage = result.ErrorMessage
	if outcome.Dex != "" {
		tlog.Dex = outcome.Dex
	}

	s.hub.BroadcastTrade(req.userID, tlog)
	s.hub.BroadcastBotStatus(req.userID, req.network, s.IsRunning(req.userID, req.network))

	log.Info().
		Str("userId", req.userID).
		Str("network", string(req.network)).
		Str("tradeType", req.tradeType).
		Str("status", tlog.Status).
		Str("kind", string(outcome.Kind)).
		Msg("trade resolved")
	return tlog, nil
}
