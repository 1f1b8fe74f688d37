// Package pancake adapts PancakeSwap V2 on BNB Smart Chain. The router is
// protocol-compatible with Uniswap V2, so the adapter reuses that engine
// with the Pancake deployment.
package pancake

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/chains/evm"
	"github.com/tradepulse-network/tradepulse-node/dex/uniswap"
)

var (
	routerAddress = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	wbnbAddress   = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEF60aF814a3f6F0Ee75")
)

// New builds the PancakeSwap adapter for BNB.
func New(client *evm.Client) *uniswap.V2Adapter {
	return uniswap.NewV2Router("PancakeSwap", client, chains.NetworkBNB, routerAddress, wbnbAddress)
}
