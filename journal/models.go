// Package journal owns the durable entities: trade configs, bot status and
// the trade log. Everything else in the process holds transient copies.
package journal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
)

// Trade log status values. A log is created pending and moves to exactly
// one terminal status.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Trade type values.
const (
	TradeTypeAutomated = "automated"
	TradeTypeManual    = "manual"
)

// KindValidation tags config input that fails validation.
const KindValidation dex.Kind = "VALIDATION"

// Intervals is the closed set of schedule strings a config may carry.
var Intervals = []string{"1min", "5min", "10min", "30min", "1hour"}

func validInterval(s string) bool {
	for _, v := range Intervals {
		if v == s {
			return true
		}
	}
	return false
}

// TradeConfig is a per-(user, network) trading configuration. At most one
// row per key is active at any instant.
type TradeConfig struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	ContractAddress   string          `json:"contractAddress"`
	WalletAddress     string          `json:"walletAddress"`
	Network           chains.Network  `json:"network"`
	Dex               string          `json:"dex"`
	DexVersion        string          `json:"dexVersion"`
	TradeInterval     string          `json:"tradeInterval"`
	TradeAmountUSD    decimal.Decimal `json:"tradeAmountUsd"`
	MaxGasRatio       decimal.Decimal `json:"maxGasRatio"`
	SlippageTolerance decimal.Decimal `json:"slippageTolerance"`
	IsActive          bool            `json:"isActive"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

var (
	minTradeAmountUSD = decimal.NewFromInt(1)
	minGasRatio       = decimal.RequireFromString("0.1")
	maxGasRatioBound  = decimal.NewFromInt(1)
	maxSlippagePct    = decimal.NewFromInt(50)
)

// Validate checks the config's input fields against the accepted ranges.
func (c *TradeConfig) Validate() error {
	if _, err := chains.ParseNetwork(string(c.Network)); err != nil {
		return dex.Errorf(KindValidation, "unknown network %q", c.Network)
	}
	if !chains.ValidAddress(c.Network, c.ContractAddress) {
		return dex.Errorf(KindValidation, "invalid contract address %q for %s", c.ContractAddress, c.Network)
	}
	if _, err := dex.ParseVersion(c.DexVersion); err != nil {
		return dex.Errorf(KindValidation, "invalid dex version %q", c.DexVersion)
	}
	if !validInterval(c.TradeInterval) {
		return dex.Errorf(KindValidation, "invalid trade interval %q", c.TradeInterval)
	}
	if c.TradeAmountUSD.LessThan(minTradeAmountUSD) {
		return dex.Errorf(KindValidation, "trade amount must be at least $1, got %s", c.TradeAmountUSD)
	}
	if c.MaxGasRatio.LessThan(minGasRatio) || c.MaxGasRatio.GreaterThan(maxGasRatioBound) {
		return dex.Errorf(KindValidation, "max gas ratio must be within [0.1, 1.0], got %s", c.MaxGasRatio)
	}
	if !ValidSlippage(c.SlippageTolerance) {
		return dex.Errorf(KindValidation, "slippage tolerance must be within (0, 50], got %s", c.SlippageTolerance)
	}
	return nil
}

// ValidSlippage reports whether a slippage tolerance is within the accepted
// (0, 50] percent range. Shared with the manual trade path, which takes the
// tolerance directly from the request instead of a validated config.
func ValidSlippage(pct decimal.Decimal) bool {
	return pct.IsPositive() && !pct.GreaterThan(maxSlippagePct)
}

// BotStatus is the per-(user, network) bot state row. Counters only ever
// grow; total volume accumulates successful notionals.
type BotStatus struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"userId"`
	Network               chains.Network  `json:"network"`
	IsRunning             bool            `json:"isRunning"`
	ActiveConfigID        *string         `json:"activeConfigId"`
	LastTradeAt           *time.Time      `json:"lastTradeAt"`
	NextTradeAt           *time.Time      `json:"nextTradeAt"`
	TotalTradesCount      int64           `json:"totalTradesCount"`
	SuccessfulTradesCount int64           `json:"successfulTradesCount"`
	FailedTradesCount     int64           `json:"failedTradesCount"`
	TotalVolumeUSD        decimal.Decimal `json:"totalVolumeUsd"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// TradeLog records a single trade attempt. Terminal rows are never
// mutated again.
type TradeLog struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	ConfigID     *string         `json:"configId"`
	Network      chains.Network  `json:"network"`
	Dex          string          `json:"dex"`
	TokenAddress string          `json:"tokenAddress"`
	TradeType    string          `json:"tradeType"`
	AmountUSD    decimal.Decimal `json:"amountUsd"`
	TokenAmount  decimal.Decimal `json:"tokenAmount"`
	GasFee       decimal.Decimal `json:"gasFee"`
	GasFeeUSD    decimal.Decimal `json:"gasFeeUsd"`
	Status       string          `json:"status"`
	TxHash       string          `json:"txHash"`
	ErrorMessage string          `json:"errorMessage"`
	Slippage     decimal.Decimal `json:"slippage"`
	TokenPrice   decimal.Decimal `json:"tokenPrice"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TradeResult is the terminal update applied to a pending trade log.
type TradeResult struct {
	Status       string
	TxHash       string
	TokenAmount  decimal.Decimal
	GasFee       decimal.Decimal
	GasFeeUSD    decimal.Decimal
	TokenPrice   decimal.Decimal
	Slippage     decimal.Decimal
	ErrorMessage string
}

// NetworkStats aggregates a user's trade logs for one network.
type NetworkStats struct {
	Network          chains.Network  `json:"network"`
	TotalTrades      int64           `json:"totalTrades"`
	SuccessfulTrades int64           `json:"successfulTrades"`
	FailedTrades     int64           `json:"failedTrades"`
	TotalGasFee      decimal.Decimal `json:"totalGasFee"`
	TotalGasFeeUSD   decimal.Decimal `json:"totalGasFeeUsd"`
	TotalAmountUSD   decimal.Decimal `json:"totalAmountUsd"`
}
