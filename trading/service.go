// Package trading is the safety envelope and dispatch layer in front of the
// DEX adapters: network availability, address validation, USD to native
// conversion, the gas ratio pre-check, and the Uniswap version strategy.
package trading

import (
	"context"
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/retry"
)

// Failure kinds raised by the envelope before any adapter runs.
const (
	KindNetworkUnavailable dex.Kind = "NETWORK_UNAVAILABLE"
	KindInvalidAddress     dex.Kind = "INVALID_ADDRESS"
	KindGasTooHigh         dex.Kind = "GAS_TOO_HIGH"
	KindNotImplemented     dex.Kind = "NOT_IMPLEMENTED"
)

// nominalSwapGas is the gas limit assumed by the pre-trade cost estimate.
// A router swap lands well under this on every supported EVM chain.
const nominalSwapGas = 200_000

// Pool is the slice of the RPC client pool the service needs.
type Pool interface {
	Available(n chains.Network) bool
	SuggestGasPrice(ctx context.Context, n chains.Network) (*big.Int, error)
}

// Oracle supplies the USD price of a network's native asset.
type Oracle interface {
	Price(ctx context.Context, n chains.Network) decimal.Decimal
}

// TradeParams is one normalized trade request.
type TradeParams struct {
	Network      chains.Network
	TokenAddress string
	DexVersion   dex.Version
	AmountUSD    decimal.Decimal
	SlippagePct  decimal.Decimal
	MaxGasRatio  decimal.Decimal
}

// TradeOutcome is the adapter result plus the envelope's own derivations.
type TradeOutcome struct {
	dex.SwapResult
	Dex          string
	AmountNative decimal.Decimal
}

// Service runs the pre-trade envelope and dispatches to the right adapter.
type Service struct {
	pool     Pool
	oracle   Oracle
	registry *dex.Registry
}

// New builds the trading service.
func New(pool Pool, oracle Oracle, registry *dex.Registry) *Service {
	return &Service{pool: pool, oracle: oracle, registry: registry}
}

func failure(kind dex.Kind, msg string) TradeOutcome {
	return TradeOutcome{SwapResult: dex.Failure(kind, msg)}
}

// ExecuteTrade validates, converts, pre-checks and dispatches one trade.
// The outcome is always structured; it never returns an error.
func (s *Service) ExecuteTrade(ctx context.Context, p TradeParams) TradeOutcome {
	if !s.pool.Available(p.Network) {
		return failure(KindNetworkUnavailable,
			"network "+string(p.Network)+" is not configured: missing RPC URL or private key")
	}

	if !chains.ValidAddress(p.Network, p.TokenAddress) {
		return failure(KindInvalidAddress,
			"address "+p.TokenAddress+" is not a valid "+string(p.Network)+" token address")
	}

	price := s.oracle.Price(ctx, p.Network)
	amountNative := p.AmountUSD.DivRound(price, 18)

	if p.Network.IsEVM() {
		if out, blocked := s.gasPreCheck(ctx, p, price, amountNative); blocked {
			return out
		}
	}

	out := s.dispatch(ctx, p, amountNative, price)
	out.AmountNative = amountNative
	return out
}

// gasPreCheck estimates a nominal swap cost from the current gas price and
// refuses the trade when it eats more of the notional than maxGasRatio
// allows. Nothing is signed or sent on refusal.
func (s *Service) gasPreCheck(ctx context.Context, p TradeParams, price, amountNative decimal.Decimal) (TradeOutcome, bool) {
	gasPrice, err := retry.DoValue(ctx, retry.ForNetwork(p.Network), func() (*big.Int, error) {
		return s.pool.SuggestGasPrice(ctx, p.Network)
	})
	if err != nil {
		// No adapter ran; an unanswerable endpoint is a network problem,
		// not an adapter one.
		return failure(KindNetworkUnavailable, "gas price lookup failed: "+err.Error()), true
	}

	gasFeeWei := new(big.Int).Mul(gasPrice, big.NewInt(nominalSwapGas))
	gasFee := decimal.NewFromBigInt(gasFeeWei, -18).Round(8)
	gasFeeUSD := gasFee.Mul(price).Round(8)
	ratio := gasFeeUSD.DivRound(p.AmountUSD, 8)

	if ratio.GreaterThan(p.MaxGasRatio) {
		log.Warn().
			Str("network", string(p.Network)).
			Str("gasFeeUsd", gasFeeUSD.String()).
			Str("amountUsd", p.AmountUSD.String()).
			Str("ratio", ratio.String()).
			Str("maxGasRatio", p.MaxGasRatio.String()).
			Msg("trade refused by gas pre-check")
		out := failure(KindGasTooHigh,
			"estimated gas $"+gasFeeUSD.StringFixed(2)+" is "+ratio.Mul(decimal.NewFromInt(100)).StringFixed(1)+
				"% of the $"+p.AmountUSD.StringFixed(2)+" notional, above the "+
				p.MaxGasRatio.Mul(decimal.NewFromInt(100)).StringFixed(0)+"% limit")
		out.GasFee = gasFee
		out.GasFeeUSD = gasFeeUSD
		out.AmountNative = amountNative
		return out, true
	}
	return TradeOutcome{}, false
}

// dispatch routes the trade to an adapter. The V3 to V2 fallback lives here
// because it is cross-adapter policy; adapters stay single-protocol.
func (s *Service) dispatch(ctx context.Context, p TradeParams, amountNative, price decimal.Decimal) TradeOutcome {
	params := dex.SwapParams{
		TokenAddress:   p.TokenAddress,
		AmountNative:   amountNative,
		SlippagePct:    p.SlippagePct,
		NativePriceUSD: price,
	}

	switch p.Network {
	case chains.NetworkSOL, chains.NetworkBNB:
		return s.swap(ctx, p.Network, dex.VersionAuto, params)
	}

	version := p.DexVersion
	if version == "" {
		version = dex.VersionAuto
	}
	switch version {
	case dex.VersionV4:
		return failure(KindNotImplemented, "Uniswap V4 is not supported")
	case dex.VersionV2, dex.VersionV3:
		return s.swap(ctx, p.Network, version, params)
	default:
		out := s.swap(ctx, p.Network, dex.VersionV3, params)
		if !out.Success && out.Kind == dex.KindNoV3Pool {
			log.Info().
				Str("network", string(p.Network)).
				Str("token", p.TokenAddress).
				Msg("no V3 pool, falling back to V2")
			return s.swap(ctx, p.Network, dex.VersionV2, params)
		}
		return out
	}
}

func (s *Service) swap(ctx context.Context, n chains.Network, v dex.Version, params dex.SwapParams) TradeOutcome {
	adapter, ok := s.registry.Lookup(n, v)
	if !ok {
		return failure(KindNetworkUnavailable,
			"no adapter registered for "+string(n)+"/"+string(v))
	}
	return TradeOutcome{
		SwapResult: adapter.Swap(ctx, params),
		Dex:        adapter.Name(),
	}
}
