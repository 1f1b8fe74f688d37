package chains

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse-network/tradepulse-node/chains/evm"
	"github.com/tradepulse-network/tradepulse-node/chains/solana"
)

// Endpoint is the environment-supplied connection material for one network.
// A network with either field empty is disabled.
type Endpoint struct {
	RPCURL     string
	PrivateKey string
}

// Pool holds the process-wide chain clients. Networks whose endpoint or key
// material is missing are simply absent; operations on them fail upstream
// with a network-unavailable outcome.
type Pool struct {
	evm map[Network]*evm.Client
	sol *solana.Client
}

// NewPool dials every configured network. A network that fails to connect is
// logged and left disabled rather than aborting startup.
func NewPool(ctx context.Context, endpoints map[Network]Endpoint) *Pool {
	p := &Pool{evm: make(map[Network]*evm.Client)}

	for _, n := range All() {
		ep, ok := endpoints[n]
		if !ok || ep.RPCURL == "" || ep.PrivateKey == "" {
			log.Warn().Str("network", string(n)).Msg("network disabled: missing RPC URL or private key")
			continue
		}
		if n == NetworkSOL {
			client, err := solana.New(ep.RPCURL, ep.PrivateKey)
			if err != nil {
				log.Error().Err(err).Str("network", string(n)).Msg("network disabled: client setup failed")
				continue
			}
			p.sol = client
			continue
		}
		client, err := evm.Dial(ctx, ep.RPCURL, ep.PrivateKey)
		if err != nil {
			log.Error().Err(err).Str("network", string(n)).Msg("network disabled: dial failed")
			continue
		}
		p.evm[n] = client
	}
	return p
}

// EVM returns the client for an EVM network.
func (p *Pool) EVM(n Network) (*evm.Client, bool) {
	c, ok := p.evm[n]
	return c, ok
}

// Solana returns the Solana client.
func (p *Pool) Solana() (*solana.Client, bool) {
	if p.sol == nil {
		return nil, false
	}
	return p.sol, true
}

// Available reports whether the network has a connected client and signer.
func (p *Pool) Available(n Network) bool {
	if n == NetworkSOL {
		return p.sol != nil
	}
	_, ok := p.evm[n]
	return ok
}

// SuggestGasPrice proxies the gas price call for an EVM network. Used by the
// trading service's pre-trade gas check.
func (p *Pool) SuggestGasPrice(ctx context.Context, n Network) (*big.Int, error) {
	c, ok := p.evm[n]
	if !ok {
		return nil, errors.Errorf("network %s unavailable", n)
	}
	return c.SuggestGasPrice(ctx)
}

// Close tears down every connection.
func (p *Pool) Close() {
	for _, c := range p.evm {
		c.Close()
	}
}
