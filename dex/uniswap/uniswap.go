// Package uniswap implements the Uniswap V2 and V3 swap adapters used on
// Ethereum and Base, plus the V2 router engine PancakeSwap reuses on BNB.
package uniswap

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains/evm"
	"github.com/tradepulse-network/tradepulse-node/retry"
)

const (
	// swapDeadline is how far in the future the router deadline is set.
	swapDeadline = 20 * time.Minute

	// sendTimeout bounds the sign-and-submit leg of a swap.
	sendTimeout = 60 * time.Second

	weiDecimals = 18
)

const erc20ABIJSON = `[
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const routerV2ABIJSON = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view",
	 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
	           {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const quoterABIJSON = `[
	{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
	           {"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},
	           {"name":"sqrtPriceLimitX96","type":"uint160"}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const routerV3ABIJSON = `[
	{"name":"exactInputSingle","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var (
	erc20ABI    = mustABI(erc20ABIJSON)
	routerV2ABI = mustABI(routerV2ABIJSON)
	quoterABI   = mustABI(quoterABIJSON)
	routerV3ABI = mustABI(routerV3ABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// MinAmountOut applies the slippage tolerance to a quoted output:
// expected x floor((1 - slippage/100) x 1000) / 1000, all in big integers
// so no precision is lost on large token amounts.
func MinAmountOut(expected *big.Int, slippagePct decimal.Decimal) *big.Int {
	factor := decimal.NewFromInt(1).
		Sub(slippagePct.Div(decimal.NewFromInt(100))).
		Mul(decimal.NewFromInt(1000)).
		Floor().
		BigInt()
	out := new(big.Int).Mul(expected, factor)
	return out.Div(out, big.NewInt(1000))
}

// nativeFromWei converts a wei amount to the native unit at gas scale.
func nativeFromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// tokenDecimals probes the token's decimals() view method. A token that
// does not answer is treated as invalid upstream.
func tokenDecimals(ctx context.Context, client *evm.Client, profile retry.Profile, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := retry.DoValue(ctx, profile, func() ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return 0, err
	}
	res, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, err
	}
	dec, ok := res[0].(uint8)
	if !ok {
		return 0, errors.Errorf("unexpected decimals() result %T", res[0])
	}
	return dec, nil
}
