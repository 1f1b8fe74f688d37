// Package chains defines the supported networks and the process-wide RPC
// client pool shared by every component that talks to a chain.
package chains

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

// Network identifies a supported blockchain network.
type Network string

const (
	NetworkETH  Network = "ETH"
	NetworkBASE Network = "BASE"
	NetworkBNB  Network = "BNB"
	NetworkSOL  Network = "SOL"
)

// All returns every supported network in a stable order.
func All() []Network {
	return []Network{NetworkETH, NetworkBASE, NetworkBNB, NetworkSOL}
}

// ParseNetwork validates a network string.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkETH, NetworkBASE, NetworkBNB, NetworkSOL:
		return Network(s), nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// IsEVM reports whether the network uses the EVM address and transaction
// format.
func (n Network) IsEVM() bool {
	return n != NetworkSOL
}

// NativeSymbol returns the chain's base asset symbol.
func (n Network) NativeSymbol() string {
	switch n {
	case NetworkBNB:
		return "BNB"
	case NetworkSOL:
		return "SOL"
	default:
		return "ETH"
	}
}

// CoinID returns the price-source asset id for the network's native asset.
// ETH and BASE settle in the same asset and share one id.
func (n Network) CoinID() string {
	switch n {
	case NetworkBNB:
		return "binancecoin"
	case NetworkSOL:
		return "solana"
	default:
		return "ethereum"
	}
}

// DefaultDex returns the DEX used for the network.
func (n Network) DefaultDex() string {
	switch n {
	case NetworkBNB:
		return "PancakeSwap"
	case NetworkSOL:
		return "Jupiter"
	default:
		return "Uniswap"
	}
}

var (
	evmAddressRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidAddress reports whether addr matches the network's address family:
// 20-byte hex for EVM networks, base58 of length 32-44 for Solana.
func ValidAddress(n Network, addr string) bool {
	if n.IsEVM() {
		return evmAddressRe.MatchString(addr)
	}
	if !solanaAddressRe.MatchString(addr) {
		return false
	}
	_, err := base58.Decode(addr)
	return err == nil
}
