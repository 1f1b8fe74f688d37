package uniswap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/chains/evm"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/retry"
)

// FeeTiers are the V3 pool fee tiers probed for a quote, in hundred
// thousandths, ascending. Ties between tiers go to the earlier one.
var FeeTiers = []int64{100, 500, 3000, 10000}

// baseTierProbeDelay spaces quoter calls on Base, where public endpoints
// throttle bursts of view calls.
const baseTierProbeDelay = 500 * time.Millisecond

type v3Deployment struct {
	router  common.Address
	quoter  common.Address
	wnative common.Address
}

var v3Deployments = map[chains.Network]v3Deployment{
	chains.NetworkETH: {
		router:  common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
		quoter:  common.HexToAddress("0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"),
		wnative: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	},
	chains.NetworkBASE: {
		router:  common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
		quoter:  common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
		wnative: common.HexToAddress("0x4200000000000000000000000000000000000006"),
	},
}

// V3Adapter swaps native for token through the Uniswap V3 router, probing
// every fee tier for the best quote first.
type V3Adapter struct {
	network chains.Network
	client  *evm.Client
	d       v3Deployment
	profile retry.Profile
}

// NewV3 builds the Uniswap V3 adapter for ETH or BASE.
func NewV3(client *evm.Client, network chains.Network) *V3Adapter {
	return &V3Adapter{
		network: network,
		client:  client,
		d:       v3Deployments[network],
		profile: retry.ForNetwork(network),
	}
}

// Name implements dex.Swapper.
func (a *V3Adapter) Name() string {
	return "Uniswap"
}

// Swap implements dex.Swapper.
func (a *V3Adapter) Swap(ctx context.Context, p dex.SwapParams) dex.SwapResult {
	token := common.HexToAddress(p.TokenAddress)

	decimals, err := tokenDecimals(ctx, a.client, a.profile, token)
	if err != nil {
		return dex.Failuref(dex.KindInvalidToken, "token %s does not implement decimals(): %v", p.TokenAddress, err)
	}

	amountInWei := p.AmountNative.Shift(weiDecimals).BigInt()

	bestTier, bestOut, err := a.bestTier(ctx, token, amountInWei)
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "tier probing aborted: %v", err)
	}
	if bestOut == nil || bestOut.Sign() == 0 {
		return dex.Failuref(dex.KindNoV3Pool, "no V3 pool with liquidity for %s", p.TokenAddress)
	}

	minOut := MinAmountOut(bestOut, p.SlippagePct)
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           a.d.wnative,
		TokenOut:          token,
		Fee:               big.NewInt(bestTier),
		Recipient:         a.client.From(),
		Deadline:          deadline,
		AmountIn:          amountInWei,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	calldata, err := routerV3ABI.Pack("exactInputSingle", params)
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "failed to encode swap: %v", err)
	}

	// The V3 router shares the V2 engine's submit path.
	engine := &V2Adapter{
		label:   a.Name(),
		network: a.network,
		client:  a.client,
		router:  a.d.router,
		wnative: a.d.wnative,
		profile: a.profile,
	}
	txHash, gasFeeWei, failure := engine.send(ctx, amountInWei, calldata)
	if failure != nil {
		return *failure
	}

	gasFee := nativeFromWei(gasFeeWei).Round(8)
	tokenAmount := decimal.NewFromBigInt(bestOut, -int32(decimals))
	result := dex.SwapResult{
		Success:     true,
		TxHash:      txHash,
		TokenAmount: tokenAmount,
		GasFee:      gasFee,
		GasFeeUSD:   gasFee.Mul(p.NativePriceUSD).Round(8),
		SlippagePct: p.SlippagePct,
	}
	if tokenAmount.IsPositive() {
		result.TokenPrice = p.AmountNative.DivRound(tokenAmount, 8)
	}

	log.Info().
		Str("dex", a.Name()).
		Str("network", string(a.network)).
		Str("token", p.TokenAddress).
		Int64("feeTier", bestTier).
		Str("txHash", txHash).
		Msg("V3 swap submitted")
	return result
}

// bestTier quotes every fee tier and returns the one with the strictly
// largest output. A tier that fails to quote counts as no pool.
func (a *V3Adapter) bestTier(ctx context.Context, token common.Address, amountIn *big.Int) (int64, *big.Int, error) {
	var (
		bestTier int64
		bestOut  *big.Int
	)
	for i, tier := range FeeTiers {
		if i > 0 && a.network == chains.NetworkBASE {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(baseTierProbeDelay):
			}
		}

		out, err := a.quoteTier(ctx, token, tier, amountIn)
		if err != nil {
			log.Debug().
				Int64("feeTier", tier).
				Str("token", token.Hex()).
				Err(err).
				Msg("V3 tier quote failed")
			continue
		}
		if improves(bestOut, out) {
			bestTier, bestOut = tier, out
		}
	}
	return bestTier, bestOut, nil
}

// improves reports whether candidate strictly beats the best quote so far.
// An equal output keeps the earlier tier.
func improves(best, candidate *big.Int) bool {
	return candidate.Sign() > 0 && (best == nil || candidate.Cmp(best) > 0)
}

func (a *V3Adapter) quoteTier(ctx context.Context, token common.Address, tier int64, amountIn *big.Int) (*big.Int, error) {
	data, err := quoterABI.Pack("quoteExactInputSingle", a.d.wnative, token, big.NewInt(tier), amountIn, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	out, err := retry.DoValue(ctx, a.profile, func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{To: &a.d.quoter, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	res, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}
