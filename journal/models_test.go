package journal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
)

func validConfig() *TradeConfig {
	return &TradeConfig{
		UserID:            "u1",
		ContractAddress:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Network:           chains.NetworkETH,
		DexVersion:        "auto",
		TradeInterval:     "5min",
		TradeAmountUSD:    decimal.NewFromInt(25),
		MaxGasRatio:       decimal.RequireFromString("0.5"),
		SlippageTolerance: decimal.NewFromInt(1),
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateSlippageBoundaries(t *testing.T) {
	cfg := validConfig()

	cfg.SlippageTolerance = decimal.RequireFromString("0.1")
	assert.NoError(t, cfg.Validate())

	cfg.SlippageTolerance = decimal.NewFromInt(50)
	assert.NoError(t, cfg.Validate())

	cfg.SlippageTolerance = decimal.Zero
	assert.Error(t, cfg.Validate())

	cfg.SlippageTolerance = decimal.RequireFromString("50.0001")
	assert.Error(t, cfg.Validate())

	cfg.SlippageTolerance = decimal.RequireFromString("-1")
	assert.Error(t, cfg.Validate())
}

func TestValidateGasRatioBoundaries(t *testing.T) {
	cfg := validConfig()

	cfg.MaxGasRatio = decimal.RequireFromString("0.1")
	assert.NoError(t, cfg.Validate())

	cfg.MaxGasRatio = decimal.NewFromInt(1)
	assert.NoError(t, cfg.Validate())

	cfg.MaxGasRatio = decimal.RequireFromString("0.0999")
	assert.Error(t, cfg.Validate())

	cfg.MaxGasRatio = decimal.RequireFromString("1.0001")
	assert.Error(t, cfg.Validate())
}

func TestValidateAmountBoundary(t *testing.T) {
	cfg := validConfig()

	cfg.TradeAmountUSD = decimal.NewFromInt(1)
	assert.NoError(t, cfg.Validate())

	cfg.TradeAmountUSD = decimal.RequireFromString("0.99")
	assert.Error(t, cfg.Validate())
}

func TestValidateInterval(t *testing.T) {
	cfg := validConfig()
	for _, interval := range Intervals {
		cfg.TradeInterval = interval
		assert.NoError(t, cfg.Validate(), interval)
	}

	cfg.TradeInterval = "2min"
	assert.Error(t, cfg.Validate())
	cfg.TradeInterval = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateAddressFamilyFollowsNetwork(t *testing.T) {
	cfg := validConfig()

	cfg.Network = chains.NetworkSOL
	assert.Error(t, cfg.Validate(), "EVM address on SOL is rejected")

	cfg.ContractAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	assert.NoError(t, cfg.Validate())

	cfg.Network = chains.NetworkETH
	assert.Error(t, cfg.Validate(), "Solana address on ETH is rejected")
}

func TestValidateNetworkAndVersion(t *testing.T) {
	cfg := validConfig()

	cfg.Network = "DOGE"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.DexVersion = "v5"
	assert.Error(t, cfg.Validate())

	cfg.DexVersion = ""
	assert.NoError(t, cfg.Validate(), "empty version means auto")
}

func TestValidateErrorsCarryValidationKind(t *testing.T) {
	cfg := validConfig()
	cfg.TradeInterval = "never"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, KindValidation, dex.KindOf(err))
}
