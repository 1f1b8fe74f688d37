// Package evm wraps an ethclient connection together with the signing key
// configured for that network.
package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client is a network-typed EVM handle: one shared RPC connection plus the
// key material used to sign outgoing transactions. Safe for concurrent use.
type Client struct {
	*ethclient.Client

	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

// Dial connects to an EVM endpoint and derives the signer address from the
// hex-encoded private key.
func Dial(ctx context.Context, rpcURL, privateKeyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}

	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", rpcURL)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	log.Info().
		Str("chainId", chainID.String()).
		Str("signer", from.Hex()).
		Msg("EVM client connected")

	return &Client{Client: ec, chainID: chainID, key: key, from: from}, nil
}

// From returns the signer address.
func (c *Client) From() common.Address {
	return c.from
}

// NetworkChainID returns the chain ID reported by the endpoint at dial time.
func (c *Client) NetworkChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SignTx signs tx with the client's configured key.
func (c *Client) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
}
