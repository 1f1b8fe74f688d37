package bot

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/journal"
	"github.com/tradepulse-network/tradepulse-node/trading"
)

type statusWrite struct {
	isRunning      bool
	activeConfigID *string
	nextTradeAt    *time.Time
}

type resultWrite struct {
	success     bool
	amountUSD   decimal.Decimal
	nextTradeAt *time.Time
}

type fakeJournal struct {
	mu sync.Mutex

	activeConfigs map[string]*journal.TradeConfig // keyed by userID+network
	running       []journal.BotStatus

	createdLogs   []*journal.TradeLog
	logUpdates    map[string][]journal.TradeResult
	updateErrOnce error
	statusWrites  []statusWrite
	resultWrites  []resultWrite
	stopped       []string
	recentLimit   int
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		activeConfigs: make(map[string]*journal.TradeConfig),
		logUpdates:    make(map[string][]journal.TradeResult),
	}
}

func ckey(userID string, n chains.Network) string { return userID + "/" + string(n) }

func (f *fakeJournal) GetActiveConfig(_ context.Context, userID string, n chains.Network) (*journal.TradeConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeConfigs[ckey(userID, n)], nil
}

func (f *fakeJournal) GetAllActiveConfigs(context.Context, string) ([]journal.TradeConfig, error) {
	return nil, nil
}

func (f *fakeJournal) GetAllConfigs(context.Context, string) ([]journal.TradeConfig, error) {
	return nil, nil
}

func (f *fakeJournal) CreateConfig(_ context.Context, cfg *journal.TradeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg.ID = "cfg-" + time.Now().Format("150405.000000000")
	cfg.IsActive = true
	f.activeConfigs[ckey(cfg.UserID, cfg.Network)] = cfg
	return nil
}

func (f *fakeJournal) CreateTradeLog(_ context.Context, t *journal.TradeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = "log-" + time.Now().Format("150405.000000000")
	t.Status = journal.StatusPending
	f.createdLogs = append(f.createdLogs, t)
	return nil
}

func (f *fakeJournal) UpdateTradeLog(_ context.Context, id string, r journal.TradeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErrOnce != nil {
		err := f.updateErrOnce
		f.updateErrOnce = nil
		return err
	}
	f.logUpdates[id] = append(f.logUpdates[id], r)
	return nil
}

func (f *fakeJournal) UpsertBotStatus(_ context.Context, _ string, _ chains.Network,
	isRunning bool, activeConfigID *string, nextTradeAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, statusWrite{isRunning, activeConfigID, nextTradeAt})
	return nil
}

func (f *fakeJournal) RecordTradeResult(_ context.Context, _ string, _ chains.Network,
	success bool, amountUSD decimal.Decimal, nextTradeAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultWrites = append(f.resultWrites, resultWrite{success, amountUSD, nextTradeAt})
	return nil
}

func (f *fakeJournal) GetBotStatuses(context.Context, string) ([]journal.BotStatus, error) {
	return nil, nil
}

func (f *fakeJournal) RunningStatuses(context.Context) ([]journal.BotStatus, error) {
	return f.running, nil
}

func (f *fakeJournal) MarkStopped(_ context.Context, userID string, n chains.Network) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, ckey(userID, n))
	return nil
}

func (f *fakeJournal) GetRecentTrades(_ context.Context, _ string, limit int) ([]journal.TradeLog, error) {
	f.recentLimit = limit
	return nil, nil
}

func (f *fakeJournal) GetAllTrades(context.Context, string) ([]journal.TradeLog, error) {
	return nil, nil
}

func (f *fakeJournal) GetNetworkStats(context.Context, string) ([]journal.NetworkStats, error) {
	return nil, nil
}

type fakeTrader struct {
	mu      sync.Mutex
	outcome trading.TradeOutcome
	calls   int
	got     trading.TradeParams

	// block, when set, parks ExecuteTrade until the channel is closed.
	block chan struct{}
}

func (t *fakeTrader) ExecuteTrade(_ context.Context, p trading.TradeParams) trading.TradeOutcome {
	t.mu.Lock()
	t.calls++
	t.got = p
	block := t.block
	outcome := t.outcome
	t.mu.Unlock()
	if block != nil {
		<-block
	}
	return outcome
}

func (t *fakeTrader) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type broadcast struct {
	kind      string
	isRunning bool
	trade     *journal.TradeLog
}

type fakeHub struct {
	mu     sync.Mutex
	events []broadcast
}

func (h *fakeHub) BroadcastBotStatus(_ string, _ chains.Network, isRunning bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, broadcast{kind: "bot_status", isRunning: isRunning})
}

func (h *fakeHub) BroadcastTrade(_ string, t *journal.TradeLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, broadcast{kind: "new_trade", trade: t})
}

type fakePool struct {
	available map[chains.Network]bool
}

func (p *fakePool) Available(n chains.Network) bool { return p.available[n] }

func (p *fakePool) SuggestGasPrice(context.Context, chains.Network) (*big.Int, error) {
	return big.NewInt(1), nil
}

func testConfig(network chains.Network) *journal.TradeConfig {
	addr := "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	if network == chains.NetworkSOL {
		addr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	}
	return &journal.TradeConfig{
		ID:                "cfg-1",
		UserID:            "u1",
		ContractAddress:   addr,
		Network:           network,
		DexVersion:        "auto",
		TradeInterval:     "5min",
		TradeAmountUSD:    decimal.NewFromInt(25),
		MaxGasRatio:       decimal.RequireFromString("0.5"),
		SlippageTolerance: decimal.NewFromInt(1),
	}
}

func newTestScheduler() (*Scheduler, *fakeJournal, *fakeTrader, *fakeHub) {
	j := newFakeJournal()
	tr := &fakeTrader{outcome: trading.TradeOutcome{
		SwapResult: dex.SwapResult{Success: true, TxHash: "0xabc"},
		Dex:        "Uniswap",
	}}
	hub := &fakeHub{}
	return NewScheduler(j, tr, hub), j, tr, hub
}

func TestStartBotInstallsSingleEntry(t *testing.T) {
	s, j, _, hub := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)

	require.NoError(t, s.StartBot(context.Background(), cfg))
	assert.True(t, s.IsRunning("u1", chains.NetworkETH))

	require.Len(t, j.statusWrites, 1)
	w := j.statusWrites[0]
	assert.True(t, w.isRunning)
	require.NotNil(t, w.activeConfigID)
	assert.Equal(t, "cfg-1", *w.activeConfigID)
	require.NotNil(t, w.nextTradeAt)
	assert.True(t, w.nextTradeAt.After(time.Now()))

	require.Len(t, hub.events, 1)
	assert.True(t, hub.events[0].isRunning)
}

func TestStartBotTwiceIsCleanRestart(t *testing.T) {
	s, _, _, _ := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)

	require.NoError(t, s.StartBot(context.Background(), cfg))
	require.NoError(t, s.StartBot(context.Background(), cfg))

	s.mu.Lock()
	assert.Len(t, s.entries, 1)
	s.mu.Unlock()
	assert.Len(t, s.cron.Entries(), 1, "prior timer must be cancelled")
}

func TestStartBotRejectsUnknownInterval(t *testing.T) {
	s, _, _, _ := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)
	cfg.TradeInterval = "2min"

	err := s.StartBot(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, KindInvalidInterval, dex.KindOf(err))
	assert.False(t, s.IsRunning("u1", chains.NetworkETH))
}

func TestStopBotIsIdempotent(t *testing.T) {
	s, j, _, hub := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)

	require.NoError(t, s.StartBot(context.Background(), cfg))
	require.NoError(t, s.StopBot(context.Background(), "u1", chains.NetworkETH))
	assert.False(t, s.IsRunning("u1", chains.NetworkETH))
	assert.Empty(t, s.cron.Entries())

	// stopping again is a no-op on the map but still persists stopped state
	require.NoError(t, s.StopBot(context.Background(), "u1", chains.NetworkETH))

	assert.Equal(t, []string{"u1/ETH", "u1/ETH"}, j.stopped)
	// stop never rewrites the status row's config id; only start does
	require.Len(t, j.statusWrites, 1)
	assert.True(t, j.statusWrites[0].isRunning)
	assert.False(t, hub.events[len(hub.events)-1].isRunning)
}

func TestReconcileReinstallsAndStopsOrphans(t *testing.T) {
	s, j, _, _ := newTestScheduler()

	live := testConfig(chains.NetworkETH)
	j.activeConfigs[ckey("u1", chains.NetworkETH)] = live
	j.running = []journal.BotStatus{
		{UserID: "u1", Network: chains.NetworkETH, IsRunning: true},
		{UserID: "u2", Network: chains.NetworkBNB, IsRunning: true}, // config deleted
	}

	require.NoError(t, s.Reconcile(context.Background()))

	assert.True(t, s.IsRunning("u1", chains.NetworkETH))
	assert.False(t, s.IsRunning("u2", chains.NetworkBNB))
	assert.Equal(t, []string{"u2/BNB"}, j.stopped)
}

func TestTickRunsFullPipeline(t *testing.T) {
	s, j, tr, hub := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)
	require.NoError(t, s.StartBot(context.Background(), cfg))

	s.mu.Lock()
	e := s.entries[scheduleKey{userID: "u1", network: chains.NetworkETH}]
	s.mu.Unlock()
	s.tick(cfg, e)

	require.Len(t, j.createdLogs, 1)
	created := j.createdLogs[0]
	assert.Equal(t, journal.TradeTypeAutomated, created.TradeType)
	require.NotNil(t, created.ConfigID)
	assert.Equal(t, "cfg-1", *created.ConfigID)

	updates := j.logUpdates[created.ID]
	require.Len(t, updates, 1)
	assert.Equal(t, journal.StatusSuccess, updates[0].Status)
	assert.Equal(t, "0xabc", updates[0].TxHash)

	require.Len(t, j.resultWrites, 1)
	assert.True(t, j.resultWrites[0].success)
	assert.True(t, j.resultWrites[0].amountUSD.Equal(decimal.NewFromInt(25)))
	require.NotNil(t, j.resultWrites[0].nextTradeAt, "ticks advance the next fire time")

	assert.Equal(t, 1, tr.calls)
	assert.True(t, tr.got.MaxGasRatio.Equal(cfg.MaxGasRatio))

	// start broadcast + new_trade + bot_status
	require.Len(t, hub.events, 3)
	assert.Equal(t, "new_trade", hub.events[1].kind)
	assert.Equal(t, journal.StatusSuccess, hub.events[1].trade.Status)
}

func TestTickSkipsWhenPreviousStillExecuting(t *testing.T) {
	s, j, tr, _ := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)
	require.NoError(t, s.StartBot(context.Background(), cfg))

	k := scheduleKey{userID: "u1", network: chains.NetworkETH}
	s.mu.Lock()
	e := s.entries[k]
	s.mu.Unlock()

	flag := s.tickFlag(k)
	flag.Store(true)
	s.tick(cfg, e)

	assert.Equal(t, 0, tr.calls)
	assert.Empty(t, j.createdLogs, "a skipped tick is counted nowhere")
	assert.True(t, flag.Load(), "skip must not clear the holder's flag")
}

func TestRestartKeepsTickGuardForKey(t *testing.T) {
	s, _, tr, _ := newTestScheduler()
	cfg := testConfig(chains.NetworkETH)
	require.NoError(t, s.StartBot(context.Background(), cfg))

	k := scheduleKey{userID: "u1", network: chains.NetworkETH}
	s.mu.Lock()
	oldEntry := s.entries[k]
	s.mu.Unlock()

	release := make(chan struct{})
	tr.block = release
	done := make(chan struct{})
	go func() {
		s.tick(cfg, oldEntry)
		close(done)
	}()
	require.Eventually(t, func() bool { return tr.callCount() == 1 },
		2*time.Second, time.Millisecond, "first tick never reached the trader")

	// reconfigure while the old schedule's tick is still in flight
	next := testConfig(chains.NetworkETH)
	next.ID = "cfg-2"
	require.NoError(t, s.StartBot(context.Background(), next))

	s.mu.Lock()
	newEntry := s.entries[k]
	s.mu.Unlock()

	s.tick(next, newEntry)
	assert.Equal(t, 1, tr.callCount(), "the new schedule must not trade concurrently with the old tick")

	close(release)
	<-done
	tr.mu.Lock()
	tr.block = nil
	tr.mu.Unlock()

	s.tick(next, newEntry)
	assert.Equal(t, 2, tr.callCount(), "the guard clears once the old tick resolves")
}

func TestFailedOutcomeWritesFailedTerminal(t *testing.T) {
	s, j, tr, _ := newTestScheduler()
	tr.outcome = trading.TradeOutcome{
		SwapResult: dex.Failure(dex.KindNoLiquidity, "no liquidity"),
		Dex:        "Uniswap",
	}
	cfg := testConfig(chains.NetworkETH)

	_, err := s.runTrade(context.Background(), tradeRequest{
		userID:       cfg.UserID,
		network:      cfg.Network,
		tokenAddress: cfg.ContractAddress,
		amountUSD:    cfg.TradeAmountUSD,
		slippagePct:  cfg.SlippageTolerance,
		maxGasRatio:  cfg.MaxGasRatio,
		tradeType:    journal.TradeTypeAutomated,
		configID:     &cfg.ID,
	})
	require.NoError(t, err)

	updates := j.logUpdates[j.createdLogs[0].ID]
	require.Len(t, updates, 1)
	assert.Equal(t, journal.StatusFailed, updates[0].Status)
	assert.Equal(t, "no liquidity", updates[0].ErrorMessage)
	assert.False(t, j.resultWrites[0].success)
}

func TestJournalFailureForcesFailedTerminal(t *testing.T) {
	s, j, _, _ := newTestScheduler()
	j.updateErrOnce = errors.New("connection reset")
	cfg := testConfig(chains.NetworkETH)

	_, err := s.runTrade(context.Background(), tradeRequest{
		userID:       cfg.UserID,
		network:      cfg.Network,
		tokenAddress: cfg.ContractAddress,
		amountUSD:    cfg.TradeAmountUSD,
		slippagePct:  cfg.SlippageTolerance,
		maxGasRatio:  cfg.MaxGasRatio,
		tradeType:    journal.TradeTypeAutomated,
	})
	require.NoError(t, err)

	updates := j.logUpdates[j.createdLogs[0].ID]
	require.Len(t, updates, 1)
	assert.Equal(t, journal.StatusFailed, updates[0].Status)
	assert.Contains(t, updates[0].ErrorMessage, "journal write failed")
}

func newTestManager() (*Manager, *Scheduler, *fakeJournal, *fakeTrader, *fakeHub) {
	s, j, tr, hub := newTestScheduler()
	pool := &fakePool{available: map[chains.Network]bool{
		chains.NetworkETH:  true,
		chains.NetworkBASE: true,
		chains.NetworkBNB:  true,
		chains.NetworkSOL:  true,
	}}
	return NewManager(j, s, pool), s, j, tr, hub
}

func TestManagerStartBotRequiresActiveConfig(t *testing.T) {
	m, _, _, _, _ := newTestManager()

	err := m.StartBot(context.Background(), "u1", chains.NetworkETH)
	require.Error(t, err)
	assert.Equal(t, KindNoActiveConfig, dex.KindOf(err))
}

func TestManagerStartBotRequiresNetwork(t *testing.T) {
	m, _, j, _, _ := newTestManager()
	m.pool = &fakePool{available: map[chains.Network]bool{}}
	j.activeConfigs[ckey("u1", chains.NetworkETH)] = testConfig(chains.NetworkETH)

	err := m.StartBot(context.Background(), "u1", chains.NetworkETH)
	require.Error(t, err)
	assert.Equal(t, trading.KindNetworkUnavailable, dex.KindOf(err))
}

func TestManagerStartBotUsesActiveConfig(t *testing.T) {
	m, s, j, _, _ := newTestManager()
	j.activeConfigs[ckey("u1", chains.NetworkBNB)] = testConfig(chains.NetworkBNB)

	require.NoError(t, m.StartBot(context.Background(), "u1", chains.NetworkBNB))
	assert.True(t, s.IsRunning("u1", chains.NetworkBNB))
}

func TestSaveConfigRestartsRunningBot(t *testing.T) {
	m, s, j, _, _ := newTestManager()

	first := testConfig(chains.NetworkBNB)
	j.activeConfigs[ckey("u1", chains.NetworkBNB)] = first
	require.NoError(t, m.StartBot(context.Background(), "u1", chains.NetworkBNB))

	next := testConfig(chains.NetworkBNB)
	next.ID = ""
	next.TradeInterval = "1hour"
	saved, err := m.SaveConfig(context.Background(), next)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	s.mu.Lock()
	e := s.entries[scheduleKey{userID: "u1", network: chains.NetworkBNB}]
	s.mu.Unlock()
	require.NotNil(t, e)
	assert.Equal(t, saved.ID, e.configID, "schedule follows the new config")
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSaveConfigDoesNotStartStoppedBot(t *testing.T) {
	m, s, _, _, _ := newTestManager()

	cfg := testConfig(chains.NetworkETH)
	cfg.ID = ""
	_, err := m.SaveConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, s.IsRunning("u1", chains.NetworkETH))
}

func TestManualTradeUsesConfigGasRatioAndLeavesSchedule(t *testing.T) {
	m, _, j, tr, _ := newTestManager()
	cfg := testConfig(chains.NetworkETH)
	cfg.MaxGasRatio = decimal.RequireFromString("0.25")
	j.activeConfigs[ckey("u1", chains.NetworkETH)] = cfg

	tlog, err := m.ExecuteManualTrade(context.Background(), "u1", ManualTradeRequest{
		ContractAddress:   cfg.ContractAddress,
		Network:           chains.NetworkETH,
		AmountUSD:         decimal.NewFromInt(10),
		SlippageTolerance: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, journal.TradeTypeManual, tlog.TradeType)
	assert.Nil(t, tlog.ConfigID)
	assert.True(t, tr.got.MaxGasRatio.Equal(decimal.RequireFromString("0.25")))

	require.Len(t, j.resultWrites, 1)
	assert.Nil(t, j.resultWrites[0].nextTradeAt, "manual trades never touch the next fire time")
}

func TestManualTradeDefaultsGasRatioWithoutConfig(t *testing.T) {
	m, _, _, tr, _ := newTestManager()

	_, err := m.ExecuteManualTrade(context.Background(), "u1", ManualTradeRequest{
		ContractAddress:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Network:           chains.NetworkETH,
		AmountUSD:         decimal.NewFromInt(10),
		SlippageTolerance: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, tr.got.MaxGasRatio.Equal(decimal.NewFromInt(1)))
}

func TestManualTradeValidatesInput(t *testing.T) {
	m, _, _, _, _ := newTestManager()

	_, err := m.ExecuteManualTrade(context.Background(), "u1", ManualTradeRequest{
		Network:   "DOGE",
		AmountUSD: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.Equal(t, journal.KindValidation, dex.KindOf(err))

	_, err = m.ExecuteManualTrade(context.Background(), "u1", ManualTradeRequest{
		Network:   chains.NetworkETH,
		AmountUSD: decimal.Zero,
	})
	require.Error(t, err)
	assert.Equal(t, journal.KindValidation, dex.KindOf(err))
}

func TestManualTradeSlippageBoundaries(t *testing.T) {
	m, _, _, tr, _ := newTestManager()

	trade := func(slippage string) error {
		_, err := m.ExecuteManualTrade(context.Background(), "u1", ManualTradeRequest{
			ContractAddress:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Network:           chains.NetworkETH,
			AmountUSD:         decimal.NewFromInt(10),
			SlippageTolerance: decimal.RequireFromString(slippage),
		})
		return err
	}

	assert.NoError(t, trade("0.1"))
	assert.NoError(t, trade("50"))

	for _, slippage := range []string{"0", "-1", "50.0001", "200"} {
		err := trade(slippage)
		require.Error(t, err, slippage)
		assert.Equal(t, journal.KindValidation, dex.KindOf(err), slippage)
	}

	// only the two in-range trades reached the trading service
	assert.Equal(t, 2, tr.callCount())
}

func TestRecentTradesDefaultLimit(t *testing.T) {
	m, _, j, _, _ := newTestManager()

	_, err := m.RecentTrades(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, j.recentLimit)

	_, err = m.RecentTrades(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, j.recentLimit)
}

func TestIntervalSpecsAlignToWallClock(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 3, 0, 0, time.UTC)

	sched, err := cron.ParseStandard(intervalSpecs["10min"])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 10, 0, 0, time.UTC), sched.Next(base))

	sched, err = cron.ParseStandard(intervalSpecs["1hour"])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC), sched.Next(base))

	for _, interval := range []string{"1min", "5min", "10min", "30min", "1hour"} {
		_, ok := intervalSpecs[interval]
		assert.True(t, ok, interval)
	}
}
