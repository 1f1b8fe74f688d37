package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

// Store is the Postgres-backed journal. All durable state lives here.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database unreachable")
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS trade_configs (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	contract_address   TEXT NOT NULL,
	wallet_address     TEXT NOT NULL DEFAULT '',
	network            TEXT NOT NULL,
	dex                TEXT NOT NULL,
	dex_version        TEXT NOT NULL DEFAULT 'auto',
	trade_interval     TEXT NOT NULL,
	trade_amount_usd   NUMERIC(18,2) NOT NULL,
	max_gas_ratio      NUMERIC(6,4)  NOT NULL,
	slippage_tolerance NUMERIC(8,4)  NOT NULL,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS trade_configs_one_active
	ON trade_configs (user_id, network) WHERE is_active;

CREATE TABLE IF NOT EXISTS bot_status (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	network                 TEXT NOT NULL,
	is_running              BOOLEAN NOT NULL DEFAULT FALSE,
	active_config_id        TEXT,
	last_trade_at           TIMESTAMPTZ,
	next_trade_at           TIMESTAMPTZ,
	total_trades_count      BIGINT NOT NULL DEFAULT 0,
	successful_trades_count BIGINT NOT NULL DEFAULT 0,
	failed_trades_count     BIGINT NOT NULL DEFAULT 0,
	total_volume_usd        NUMERIC(18,2) NOT NULL DEFAULT 0,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, network)
);

CREATE TABLE IF NOT EXISTS trade_logs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	config_id     TEXT,
	network       TEXT NOT NULL,
	dex           TEXT NOT NULL DEFAULT '',
	token_address TEXT NOT NULL,
	trade_type    TEXT NOT NULL,
	amount_usd    NUMERIC(18,2) NOT NULL,
	token_amount  NUMERIC(38,18) NOT NULL DEFAULT 0,
	gas_fee       NUMERIC(27,8)  NOT NULL DEFAULT 0,
	gas_fee_usd   NUMERIC(18,8)  NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	tx_hash       TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	slippage      NUMERIC(8,4)  NOT NULL DEFAULT 0,
	token_price   NUMERIC(27,8) NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS trade_logs_user_created
	ON trade_logs (user_id, created_at DESC);
`

// InitSchema applies the idempotent DDL. Run by the migrate command and
// again at startup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "schema migration failed")
	}
	log.Info().Msg("journal schema up to date")
	return nil
}

// CreateConfig deactivates any prior active config for the key and inserts
// the new one as active, in a single transaction.
func (s *Store) CreateConfig(ctx context.Context, cfg *TradeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	cfg.ID = uuid.NewString()
	cfg.IsActive = true
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.Dex == "" {
		cfg.Dex = cfg.Network.DefaultDex()
	}
	if cfg.DexVersion == "" {
		cfg.DexVersion = "auto"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE trade_configs SET is_active = FALSE, updated_at = $3
		 WHERE user_id = $1 AND network = $2 AND is_active`,
		cfg.UserID, cfg.Network, now,
	); err != nil {
		return errors.Wrap(err, "failed to deactivate prior config")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trade_configs
		 (id, user_id, contract_address, wallet_address, network, dex, dex_version,
		  trade_interval, trade_amount_usd, max_gas_ratio, slippage_tolerance,
		  is_active, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		cfg.ID, cfg.UserID, cfg.ContractAddress, cfg.WalletAddress, cfg.Network,
		cfg.Dex, cfg.DexVersion, cfg.TradeInterval, cfg.TradeAmountUSD,
		cfg.MaxGasRatio, cfg.SlippageTolerance, cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "failed to insert config")
	}

	return tx.Commit()
}

const configColumns = `id, user_id, contract_address, wallet_address, network, dex,
	dex_version, trade_interval, trade_amount_usd, max_gas_ratio,
	slippage_tolerance, is_active, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*TradeConfig, error) {
	var c TradeConfig
	err := row.Scan(&c.ID, &c.UserID, &c.ContractAddress, &c.WalletAddress,
		&c.Network, &c.Dex, &c.DexVersion, &c.TradeInterval, &c.TradeAmountUSD,
		&c.MaxGasRatio, &c.SlippageTolerance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActiveConfig returns the active config for the key, or nil when none
// exists.
func (s *Store) GetActiveConfig(ctx context.Context, userID string, network chains.Network) (*TradeConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM trade_configs
		 WHERE user_id = $1 AND network = $2 AND is_active`,
		userID, network)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

// GetConfig returns a config by id, or nil when it does not exist.
func (s *Store) GetConfig(ctx context.Context, id string) (*TradeConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM trade_configs WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

func (s *Store) queryConfigs(ctx context.Context, query string, args ...any) ([]TradeConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []TradeConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// GetAllActiveConfigs returns the user's active config on every network.
func (s *Store) GetAllActiveConfigs(ctx context.Context, userID string) ([]TradeConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM trade_configs
		 WHERE user_id = $1 AND is_active ORDER BY network`, userID)
}

// GetAllConfigs returns every config the user ever saved, newest first.
func (s *Store) GetAllConfigs(ctx context.Context, userID string) ([]TradeConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configColumns+` FROM trade_configs
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// CreateTradeLog inserts a pending log row and fills in its id.
func (s *Store) CreateTradeLog(ctx context.Context, t *TradeLog) error {
	t.ID = uuid.NewString()
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_logs
		 (id, user_id, config_id, network, dex, token_address, trade_type,
		  amount_usd, slippage, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.UserID, t.ConfigID, t.Network, t.Dex, t.TokenAddress,
		t.TradeType, t.AmountUSD, t.Slippage, t.Status, t.CreatedAt)
	return errors.Wrap(err, "failed to insert trade log")
}

// UpdateTradeLog applies the terminal result to a pending row. A row that
// already reached a terminal status is never written again; a second write
// reports an error so the caller can flag it.
func (s *Store) UpdateTradeLog(ctx context.Context, id string, r TradeResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trade_logs SET
		   status = $2, tx_hash = $3, token_amount = $4, gas_fee = $5,
		   gas_fee_usd = $6, token_price = $7, slippage = $8, error_message = $9
		 WHERE id = $1 AND status = 'pending'`,
		id, r.Status, r.TxHash, r.TokenAmount, r.GasFee,
		r.GasFeeUSD, r.TokenPrice, r.Slippage, r.ErrorMessage)
	if err != nil {
		return errors.Wrap(err, "failed to update trade log")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Errorf("trade log %s is already terminal", id)
	}
	return nil
}

// GetTradeLog returns a log row by id, or nil when it does not exist.
func (s *Store) GetTradeLog(ctx context.Context, id string) (*TradeLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeLogColumns+` FROM trade_logs WHERE id = $1`, id)
	t, err := scanTradeLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

const tradeLogColumns = `id, user_id, config_id, network, dex, token_address,
	trade_type, amount_usd, token_amount, gas_fee, gas_fee_usd, status,
	tx_hash, error_message, slippage, token_price, created_at`

func scanTradeLog(row interface{ Scan(...any) error }) (*TradeLog, error) {
	var (
		t        TradeLog
		configID sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &configID, &t.Network, &t.Dex,
		&t.TokenAddress, &t.TradeType, &t.AmountUSD, &t.TokenAmount,
		&t.GasFee, &t.GasFeeUSD, &t.Status, &t.TxHash, &t.ErrorMessage,
		&t.Slippage, &t.TokenPrice, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if configID.Valid {
		t.ConfigID = &configID.String
	}
	return &t, nil
}

func (s *Store) queryTradeLogs(ctx context.Context, query string, args ...any) ([]TradeLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []TradeLog
	for rows.Next() {
		t, err := scanTradeLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *t)
	}
	return logs, rows.Err()
}

// GetRecentTrades returns the user's newest trade logs, capped at limit.
func (s *Store) GetRecentTrades(ctx context.Context, userID string, limit int) ([]TradeLog, error) {
	return s.queryTradeLogs(ctx,
		`SELECT `+tradeLogColumns+` FROM trade_logs
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

// GetAllTrades returns every trade log for the user, newest first.
func (s *Store) GetAllTrades(ctx context.Context, userID string) ([]TradeLog, error) {
	return s.queryTradeLogs(ctx,
		`SELECT `+tradeLogColumns+` FROM trade_logs
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// UpsertBotStatus sets the running flag, active config and next fire time
// for the key, creating the row on first use.
func (s *Store) UpsertBotStatus(ctx context.Context, userID string, network chains.Network,
	isRunning bool, activeConfigID *string, nextTradeAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_status (id, user_id, network, is_running, active_config_id, next_trade_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,now())
		 ON CONFLICT (user_id, network) DO UPDATE SET
		   is_running = EXCLUDED.is_running,
		   active_config_id = EXCLUDED.active_config_id,
		   next_trade_at = EXCLUDED.next_trade_at,
		   updated_at = now()`,
		uuid.NewString(), userID, network, isRunning, activeConfigID, nextTradeAt)
	return errors.Wrap(err, "failed to upsert bot status")
}

// RecordTradeResult advances the key's counters after a terminal trade.
// Volume accumulates only on success. A nil nextTradeAt leaves the next
// fire time untouched, which is how manual trades avoid disturbing a
// running schedule.
func (s *Store) RecordTradeResult(ctx context.Context, userID string, network chains.Network,
	success bool, amountUSD decimal.Decimal, nextTradeAt *time.Time) error {
	successInc, failedInc := 0, 1
	volumeInc := decimal.Zero
	if success {
		successInc, failedInc = 1, 0
		volumeInc = amountUSD
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_status
		 (id, user_id, network, total_trades_count, successful_trades_count,
		  failed_trades_count, total_volume_usd, last_trade_at, next_trade_at, updated_at)
		 VALUES ($1,$2,$3,1,$4,$5,$6,now(),$7,now())
		 ON CONFLICT (user_id, network) DO UPDATE SET
		   total_trades_count = bot_status.total_trades_count + 1,
		   successful_trades_count = bot_status.successful_trades_count + $4,
		   failed_trades_count = bot_status.failed_trades_count + $5,
		   total_volume_usd = bot_status.total_volume_usd + $6,
		   last_trade_at = now(),
		   next_trade_at = COALESCE($7, bot_status.next_trade_at),
		   updated_at = now()`,
		uuid.NewString(), userID, network, successInc, failedInc, volumeInc, nextTradeAt)
	return errors.Wrap(err, "failed to record trade result")
}

const statusColumns = `id, user_id, network, is_running, active_config_id,
	last_trade_at, next_trade_at, total_trades_count, successful_trades_count,
	failed_trades_count, total_volume_usd, updated_at`

func scanStatus(row interface{ Scan(...any) error }) (*BotStatus, error) {
	var (
		b              BotStatus
		activeConfigID sql.NullString
		lastTradeAt    sql.NullTime
		nextTradeAt    sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.Network, &b.IsRunning, &activeConfigID,
		&lastTradeAt, &nextTradeAt, &b.TotalTradesCount, &b.SuccessfulTradesCount,
		&b.FailedTradesCount, &b.TotalVolumeUSD, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if activeConfigID.Valid {
		b.ActiveConfigID = &activeConfigID.String
	}
	if lastTradeAt.Valid {
		t := lastTradeAt.Time
		b.LastTradeAt = &t
	}
	if nextTradeAt.Valid {
		t := nextTradeAt.Time
		b.NextTradeAt = &t
	}
	return &b, nil
}

func (s *Store) queryStatuses(ctx context.Context, query string, args ...any) ([]BotStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []BotStatus
	for rows.Next() {
		b, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *b)
	}
	return statuses, rows.Err()
}

// GetBotStatuses returns the user's bot state on every network it exists.
func (s *Store) GetBotStatuses(ctx context.Context, userID string) ([]BotStatus, error) {
	return s.queryStatuses(ctx,
		`SELECT `+statusColumns+` FROM bot_status
		 WHERE user_id = $1 ORDER BY network`, userID)
}

// RunningStatuses returns every row marked running, across all users. Feeds
// startup reconciliation.
func (s *Store) RunningStatuses(ctx context.Context) ([]BotStatus, error) {
	return s.queryStatuses(ctx,
		`SELECT `+statusColumns+` FROM bot_status WHERE is_running`)
}

// MarkStopped clears the running flag and next fire time for a key without
// touching counters or the last active config id, creating the row when the
// key has never run. Serves both bot stop and startup reconciliation of
// running rows whose config has gone missing.
func (s *Store) MarkStopped(ctx context.Context, userID string, network chains.Network) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_status (id, user_id, network, is_running, updated_at)
		 VALUES ($1,$2,$3,FALSE,now())
		 ON CONFLICT (user_id, network) DO UPDATE SET
		   is_running = FALSE,
		   next_trade_at = NULL,
		   updated_at = now()`,
		uuid.NewString(), userID, network)
	return errors.Wrap(err, "failed to mark bot stopped")
}

// GetNetworkStats aggregates the user's trade logs per network. Every
// supported network appears in the result, zero-valued when it has no
// trades.
func (s *Store) GetNetworkStats(ctx context.Context, userID string) ([]NetworkStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT network,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COALESCE(SUM(gas_fee), 0),
		        COALESCE(SUM(gas_fee_usd), 0),
		        COALESCE(SUM(amount_usd), 0)
		 FROM trade_logs WHERE user_id = $1 GROUP BY network`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byNetwork := make(map[chains.Network]NetworkStats)
	for rows.Next() {
		var st NetworkStats
		if err := rows.Scan(&st.Network, &st.TotalTrades, &st.SuccessfulTrades,
			&st.FailedTrades, &st.TotalGasFee, &st.TotalGasFeeUSD, &st.TotalAmountUSD); err != nil {
			return nil, err
		}
		byNetwork[st.Network] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]NetworkStats, 0, len(chains.All()))
	for _, n := range chains.All() {
		st, ok := byNetwork[n]
		if !ok {
			st = NetworkStats{
				Network:        n,
				TotalGasFee:    decimal.Zero,
				TotalGasFeeUSD: decimal.Zero,
				TotalAmountUSD: decimal.Zero,
			}
		}
		stats = append(stats, st)
	}
	return stats, nil
}
