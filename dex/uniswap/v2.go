package uniswap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/chains/evm"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/retry"
)

// v2Deployment is the router and wrapped-native pair for one network.
type v2Deployment struct {
	router  common.Address
	wnative common.Address
}

var v2Deployments = map[chains.Network]v2Deployment{
	chains.NetworkETH: {
		router:  common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		wnative: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	},
	chains.NetworkBASE: {
		router:  common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
		wnative: common.HexToAddress("0x4200000000000000000000000000000000000006"),
	},
}

// V2Adapter swaps native for token through a Uniswap V2 style router. The
// same engine serves PancakeSwap on BNB with its own label and deployment.
type V2Adapter struct {
	label   string
	network chains.Network
	client  *evm.Client
	router  common.Address
	wnative common.Address
	profile retry.Profile
}

// NewV2 builds the Uniswap V2 adapter for ETH or BASE.
func NewV2(client *evm.Client, network chains.Network) *V2Adapter {
	d := v2Deployments[network]
	return NewV2Router("Uniswap", client, network, d.router, d.wnative)
}

// NewV2Router builds a V2-style adapter against an arbitrary router
// deployment. Used directly by the PancakeSwap adapter.
func NewV2Router(label string, client *evm.Client, network chains.Network, router, wnative common.Address) *V2Adapter {
	return &V2Adapter{
		label:   label,
		network: network,
		client:  client,
		router:  router,
		wnative: wnative,
		profile: retry.ForNetwork(network),
	}
}

// Name implements dex.Swapper.
func (a *V2Adapter) Name() string {
	return a.label
}

// Swap implements dex.Swapper: validate the token, quote the route, apply
// slippage, then sign and submit swapExactETHForTokens.
func (a *V2Adapter) Swap(ctx context.Context, p dex.SwapParams) dex.SwapResult {
	token := common.HexToAddress(p.TokenAddress)

	decimals, err := tokenDecimals(ctx, a.client, a.profile, token)
	if err != nil {
		return dex.Failuref(dex.KindInvalidToken, "token %s does not implement decimals(): %v", p.TokenAddress, err)
	}

	amountInWei := p.AmountNative.Shift(weiDecimals).BigInt()
	path := []common.Address{a.wnative, token}

	expectedOut, err := a.quote(ctx, amountInWei, path)
	if err != nil {
		return dex.Failuref(dex.KindNoLiquidity, "no liquidity for %s: %v", p.TokenAddress, err)
	}
	if expectedOut.Sign() == 0 {
		return dex.Failuref(dex.KindNoLiquidity, "router quoted zero output for %s", p.TokenAddress)
	}

	minOut := MinAmountOut(expectedOut, p.SlippagePct)
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	calldata, err := routerV2ABI.Pack("swapExactETHForTokens", minOut, path, a.client.From(), deadline)
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "failed to encode swap: %v", err)
	}

	txHash, gasFeeWei, res := a.send(ctx, amountInWei, calldata)
	if res != nil {
		return *res
	}

	gasFee := nativeFromWei(gasFeeWei).Round(8)
	tokenAmount := decimal.NewFromBigInt(expectedOut, -int32(decimals))
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
		Str("dex", a.label).
		Str("network", string(a.network)).
		Str("token", p.TokenAddress).
		Str("txHash", txHash).
		Str("tokenAmount", tokenAmount.String()).
		Msg("swap submitted")
	return result
}

func (a *V2Adapter) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := routerV2ABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	out, err := retry.DoValue(ctx, a.profile, func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{To: &a.router, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	res, err := routerV2ABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, err
	}
	amounts, ok := res[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, errors.New("malformed getAmountsOut result")
	}
	return amounts[len(amounts)-1], nil
}

// send estimates gas, signs and submits the swap. On failure it returns the
// terminal result to hand back; on success txHash and the gas fee in wei.
func (a *V2Adapter) send(ctx context.Context, value *big.Int, calldata []byte) (string, *big.Int, *dex.SwapResult) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := ethereum.CallMsg{From: a.client.From(), To: &a.router, Value: value, Data: calldata}
	gasLimit, err := retry.DoValue(ctx, a.profile, func() (uint64, error) {
		return a.client.EstimateGas(ctx, msg)
	})
	if err != nil {
		res := dex.Failuref(dex.KindAdapterError, "gas estimate failed: %v", err)
		return "", nil, &res
	}

	gasPrice, err := retry.DoValue(ctx, a.profile, func() (*big.Int, error) {
		return a.client.SuggestGasPrice(ctx)
	})
	if err != nil {
		res := dex.Failuref(dex.KindAdapterError, "gas price failed: %v", err)
		return "", nil, &res
	}

	nonce, err := retry.DoValue(ctx, a.profile, func() (uint64, error) {
		return a.client.PendingNonceAt(ctx, a.client.From())
	})
	if err != nil {
		res := dex.Failuref(dex.KindAdapterError, "nonce lookup failed: %v", err)
		return "", nil, &res
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &a.router,
		Value:    value,
		Data:     calldata,
	})
	signed, err := a.client.SignTx(tx)
	if err != nil {
		res := dex.Failuref(dex.KindAdapterError, "failed to sign transaction: %v", err)
		return "", nil, &res
	}

	if err := retry.Do(ctx, a.profile, func() error {
		return a.client.SendTransaction(ctx, signed)
	}); err != nil {
		res := dex.Failuref(dex.KindAdapterError, "failed to send transaction: %v", err)
		return "", nil, &res
	}

	gasFeeWei := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return signed.Hash().Hex(), gasFeeWei, nil
}
