// Package solana wraps a Solana RPC connection together with the keypair
// configured for the network.
package solana

import (
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client is the shared Solana handle: one RPC client plus the trading
// keypair. Safe for concurrent use.
type Client struct {
	rpc    *rpc.Client
	key    solanago.PrivateKey
	wallet solanago.PublicKey
}

// New builds a client from an RPC endpoint and a base58-encoded private key.
func New(rpcURL, privateKeyBase58 string) (*Client, error) {
	key, err := solanago.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}

	c := &Client{
		rpc:    rpc.New(rpcURL),
		key:    key,
		wallet: key.PublicKey(),
	}
	log.Info().Str("wallet", c.wallet.String()).Msg("Solana client ready")
	return c, nil
}

// RPC returns the underlying RPC client.
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// Key returns the signing keypair.
func (c *Client) Key() solanago.PrivateKey {
	return c.key
}

// Wallet returns the public key trades are executed from.
func (c *Client) Wallet() solanago.PublicKey {
	return c.wallet
}
