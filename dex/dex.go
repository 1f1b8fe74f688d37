// Package dex defines the single capability every DEX adapter implements
// and the tagged result it produces. Adapters are single-protocol; routing
// and version fallback live in the trading service.
package dex

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

// Kind classifies a failed outcome. The taxonomy is shared across the core:
// adapters emit the protocol-level kinds, the trading service and bot layer
// add their own constants of this type.
type Kind string

const (
	KindInvalidToken Kind = "INVALID_TOKEN"
	KindNoLiquidity  Kind = "NO_LIQUIDITY"
	KindNoV3Pool     Kind = "NO_V3_POOL"
	KindAdapterError Kind = "ADAPTER_ERROR"
)

// Error is a kind-tagged error for the core's public surface. Callers
// unwrap it to map outcomes onto transport responses.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a kind-tagged error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error, defaulting to AdapterError for
// untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAdapterError
}

// Version selects a protocol version on EVM Uniswap networks.
type Version string

const (
	VersionAuto Version = "auto"
	VersionV2   Version = "v2"
	VersionV3   Version = "v3"
	VersionV4   Version = "v4"
)

// ParseVersion normalizes a version string; empty means auto.
func ParseVersion(s string) (Version, error) {
	switch Version(s) {
	case "":
		return VersionAuto, nil
	case VersionAuto, VersionV2, VersionV3, VersionV4:
		return Version(s), nil
	}
	return "", fmt.Errorf("unknown dex version %q", s)
}

// SwapParams is a normalized buy-side swap request. Amounts are expressed
// in the native unit of the chain; the signing key and RPC handle are bound
// to the adapter at construction.
type SwapParams struct {
	TokenAddress   string
	AmountNative   decimal.Decimal
	SlippagePct    decimal.Decimal
	NativePriceUSD decimal.Decimal
}

// SwapResult is the tagged outcome of a swap attempt.
type SwapResult struct {
	Success      bool
	Kind         Kind
	ErrorMessage string

	TxHash      string
	TokenAmount decimal.Decimal
	GasFee      decimal.Decimal
	GasFeeUSD   decimal.Decimal
	TokenPrice  decimal.Decimal
	SlippagePct decimal.Decimal
}

// Failure builds a failed result.
func Failure(kind Kind, msg string) SwapResult {
	return SwapResult{Kind: kind, ErrorMessage: msg}
}

// Failuref builds a failed result with a formatted message.
func Failuref(kind Kind, format string, args ...any) SwapResult {
	return SwapResult{Kind: kind, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Swapper is the one capability adapters expose.
type Swapper interface {
	// Name is the DEX label recorded in trade logs ("Uniswap", "Jupiter", ...).
	Name() string
	Swap(ctx context.Context, p SwapParams) SwapResult
}

type registryKey struct {
	network chains.Network
	version Version
}

// Registry maps (network, version) to an adapter. Populated once at startup;
// read-only afterwards.
type Registry struct {
	adapters map[registryKey]Swapper
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Swapper)}
}

// Register binds an adapter to a (network, version) slot.
func (r *Registry) Register(n chains.Network, v Version, s Swapper) {
	r.adapters[registryKey{network: n, version: v}] = s
}

// Lookup returns the adapter bound to (network, version).
func (r *Registry) Lookup(n chains.Network, v Version) (Swapper, bool) {
	s, ok := r.adapters[registryKey{network: n, version: v}]
	return s, ok
}
