package bot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/journal"
	"github.com/tradepulse-network/tradepulse-node/trading"
)

// defaultRecentLimit caps trades.recent when the caller gives no limit.
const defaultRecentLimit = 10

// defaultManualGasRatio applies to manual trades when the user has no
// active config to borrow a limit from.
var defaultManualGasRatio = decimal.NewFromInt(1)

// Manager is the command surface the transport layer calls. It validates
// input, consults the journal and drives the scheduler.
type Manager struct {
	journal Journal
	sched   *Scheduler
	pool    trading.Pool
}

// NewManager builds the command surface.
func NewManager(j Journal, sched *Scheduler, pool trading.Pool) *Manager {
	return &Manager{journal: j, sched: sched, pool: pool}
}

// BotStatuses returns the user's bot state rows.
func (m *Manager) BotStatuses(ctx context.Context, userID string) ([]journal.BotStatus, error) {
	return m.journal.GetBotStatuses(ctx, userID)
}

// StartBot starts the user's bot on the network using its active config.
func (m *Manager) StartBot(ctx context.Context, userID string, network chains.Network) error {
	if !m.pool.Available(network) {
		return dex.Errorf(trading.KindNetworkUnavailable,
			"network %s is not configured: missing RPC URL or private key", network)
	}
	cfg, err := m.journal.GetActiveConfig(ctx, userID, network)
	if err != nil {
		return err
	}
	if cfg == nil {
		return dex.Errorf(KindNoActiveConfig, "no active config for network %s", network)
	}
	return m.sched.StartBot(ctx, cfg)
}

// StopBot stops the user's bot on the network. Idempotent.
func (m *Manager) StopBot(ctx context.Context, userID string, network chains.Network) error {
	return m.sched.StopBot(ctx, userID, network)
}

// ActiveConfig returns the user's active config on one network, nil when
// none exists.
func (m *Manager) ActiveConfig(ctx context.Context, userID string, network chains.Network) (*journal.TradeConfig, error) {
	return m.journal.GetActiveConfig(ctx, userID, network)
}

// ActiveConfigs returns the user's active configs across networks.
func (m *Manager) ActiveConfigs(ctx context.Context, userID string) ([]journal.TradeConfig, error) {
	return m.journal.GetAllActiveConfigs(ctx, userID)
}

// AllConfigs returns every config the user ever saved.
func (m *Manager) AllConfigs(ctx context.Context, userID string) ([]journal.TradeConfig, error) {
	return m.journal.GetAllConfigs(ctx, userID)
}

// SaveConfig persists a new active config. When the bot is running on that
// network, the schedule restarts atomically with the new config.
func (m *Manager) SaveConfig(ctx context.Context, cfg *journal.TradeConfig) (*journal.TradeConfig, error) {
	if err := m.journal.CreateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if m.sched.IsRunning(cfg.UserID, cfg.Network) {
		if err := m.sched.StartBot(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ManualTradeRequest is the trades.manual input.
type ManualTradeRequest struct {
	ContractAddress   string          `json:"contractAddress"`
	Network           chains.Network  `json:"network"`
	DexVersion        string          `json:"dexVersion"`
	AmountUSD         decimal.Decimal `json:"amountUsd"`
	SlippageTolerance decimal.Decimal `json:"slippageTolerance"`
}

// ExecuteManualTrade runs one trade synchronously and returns its terminal
// log. The gas ratio limit is borrowed from the network's active config
// when one exists. Manual trades advance the same per-network counters as
// scheduled ones but never touch the schedule's next fire time.
func (m *Manager) ExecuteManualTrade(ctx context.Context, userID string, req ManualTradeRequest) (*journal.TradeLog, error) {
	if _, err := chains.ParseNetwork(string(req.Network)); err != nil {
		return nil, dex.Errorf(journal.KindValidation, "unknown network %q", req.Network)
	}
	if !req.AmountUSD.IsPositive() {
		return nil, dex.Errorf(journal.KindValidation, "trade amount must be positive, got %s", req.AmountUSD)
	}
	if !journal.ValidSlippage(req.SlippageTolerance) {
		return nil, dex.Errorf(journal.KindValidation, "slippage tolerance must be within (0, 50], got %s", req.SlippageTolerance)
	}
	version, err := dex.ParseVersion(req.DexVersion)
	if err != nil {
		return nil, dex.Errorf(journal.KindValidation, "invalid dex version %q", req.DexVersion)
	}

	maxGasRatio := defaultManualGasRatio
	if cfg, err := m.journal.GetActiveConfig(ctx, userID, req.Network); err == nil && cfg != nil {
		maxGasRatio = cfg.MaxGasRatio
	}

	return m.sched.runTrade(ctx, tradeRequest{
		userID:       userID,
		network:      req.Network,
		tokenAddress: req.ContractAddress,
		dexVersion:   version,
		amountUSD:    req.AmountUSD,
		slippagePct:  req.SlippageTolerance,
		maxGasRatio:  maxGasRatio,
		tradeType:    journal.TradeTypeManual,
	})
}

// RecentTrades returns the user's newest trade logs; limit <= 0 selects the
// default of ten.
func (m *Manager) RecentTrades(ctx context.Context, userID string, limit int) ([]journal.TradeLog, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return m.journal.GetRecentTrades(ctx, userID, limit)
}

// AllTrades returns the user's full trade history.
func (m *Manager) AllTrades(ctx context.Context, userID string) ([]journal.TradeLog, error) {
	return m.journal.GetAllTrades(ctx, userID)
}

// NetworkStats returns per-network aggregates over the user's trade logs.
func (m *Manager) NetworkStats(ctx context.Context, userID string) ([]journal.NetworkStats, error) {
	return m.journal.GetNetworkStats(ctx, userID)
}
