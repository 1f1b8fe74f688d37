package jupiter

import (
	"context"
	"encoding/base64"
	"math/big"
	"time"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/chains/solana"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/retry"
)

const (
	// wrappedSOLMint is the input mint for every buy: Jupiter wraps and
	// unwraps SOL around the route.
	wrappedSOLMint = "So11111111111111111111111111111111111111112"

	lamportDecimals = 9

	// mintDecimalsOffset is the byte position of the decimals field in an
	// SPL mint account's data.
	mintDecimalsOffset = 44

	// confirmTimeout bounds the post-submit confirmation poll.
	confirmTimeout = 60 * time.Second

	confirmPollInterval = 2 * time.Second
)

// flatFeeSOL approximates the base signature fee; Solana swaps carry no gas
// estimation step.
var flatFeeSOL = decimal.RequireFromString("0.000005")

// Adapter swaps SOL for SPL tokens through the Jupiter aggregator.
type Adapter struct {
	api     *Client
	chain   *solana.Client
	profile retry.Profile
}

// New builds the Jupiter adapter. apiURL may be empty for the public API.
func New(chain *solana.Client, apiURL string) *Adapter {
	return &Adapter{
		api:     NewClient(apiURL),
		chain:   chain,
		profile: retry.ForNetwork(chains.NetworkSOL),
	}
}

// Name implements dex.Swapper.
func (a *Adapter) Name() string {
	return "Jupiter"
}

// Swap implements dex.Swapper: quote the route, have Jupiter build the
// transaction, then sign, submit and confirm it.
func (a *Adapter) Swap(ctx context.Context, p dex.SwapParams) dex.SwapResult {
	lamports := p.AmountNative.Shift(lamportDecimals).BigInt()
	if !lamports.IsUint64() || lamports.Sign() <= 0 {
		return dex.Failuref(dex.KindAdapterError, "amount %s SOL is out of range", p.AmountNative)
	}
	slippageBps := int(p.SlippagePct.Mul(decimal.NewFromInt(100)).Round(0).IntPart())

	quote, err := retry.DoValue(ctx, a.profile, func() (*QuoteResponse, error) {
		return a.api.Quote(ctx, wrappedSOLMint, p.TokenAddress, lamports.Uint64(), slippageBps)
	})
	if err != nil {
		return dex.Failuref(dex.KindNoLiquidity, "no route for %s: %v", p.TokenAddress, err)
	}
	outAmount, ok := new(big.Int).SetString(quote.OutAmount, 10)
	if !ok || outAmount.Sign() == 0 {
		return dex.Failuref(dex.KindNoLiquidity, "route quoted zero output for %s", p.TokenAddress)
	}

	swap, err := retry.DoValue(ctx, a.profile, func() (*SwapResponse, error) {
		return a.api.Swap(ctx, quote.Raw, a.chain.Wallet().String())
	})
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "swap build failed: %v", err)
	}

	tx, err := decodeTransaction(swap.SwapTransaction)
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "failed to decode swap transaction: %v", err)
	}

	sig, lastValidHeight, err := a.signAndSend(ctx, tx)
	if err != nil {
		return dex.Failuref(dex.KindAdapterError, "failed to submit swap: %v", err)
	}
	if err := a.confirm(ctx, sig, lastValidHeight); err != nil {
		return dex.Failure(dex.KindAdapterError, err.Error())
	}

	decimals := a.mintDecimals(ctx, p.TokenAddress)
	tokenAmount := decimal.NewFromBigInt(outAmount, -int32(decimals))
	result := dex.SwapResult{
		Success:     true,
		TxHash:      sig.String(),
		TokenAmount: tokenAmount,
		GasFee:      flatFeeSOL,
		GasFeeUSD:   flatFeeSOL.Mul(p.NativePriceUSD).Round(8),
		SlippagePct: p.SlippagePct,
	}
	if tokenAmount.IsPositive() {
		result.TokenPrice = p.AmountNative.DivRound(tokenAmount, 8)
	}

	log.Info().
		Str("dex", a.Name()).
		Str("network", string(chains.NetworkSOL)).
		Str("token", p.TokenAddress).
		Str("txHash", sig.String()).
		Str("tokenAmount", tokenAmount.String()).
		Msg("swap confirmed")
	return result
}

// decodeTransaction parses the base64 payload Jupiter returns. The decoder
// handles both versioned and legacy message formats.
func decodeTransaction(encoded string) (*solanago.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
}

func (a *Adapter) signAndSend(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, uint64, error) {
	blockhash, err := retry.DoValue(ctx, a.profile, func() (*rpc.GetLatestBlockhashResult, error) {
		return a.chain.RPC().GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return solanago.Signature{}, 0, err
	}
	tx.Message.RecentBlockhash = blockhash.Value.Blockhash
	lastValidHeight := blockhash.Value.LastValidBlockHeight

	key := a.chain.Key()
	wallet := a.chain.Wallet()
	if _, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(wallet) {
			return &key
		}
		return nil
	}); err != nil {
		return solanago.Signature{}, 0, err
	}

	sig, err := retry.DoValue(ctx, a.profile, func() (solanago.Signature, error) {
		return a.chain.RPC().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
	return sig, lastValidHeight, err
}

// confirm polls the signature status until the cluster confirms it, the
// transaction fails, the blockhash expires, or the timeout elapses.
func (a *Adapter) confirm(ctx context.Context, sig solanago.Signature, lastValidHeight uint64) error {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Errorf("transaction %s not confirmed in time", sig)
		case <-ticker.C:
		}

		statuses, err := a.chain.RPC().GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			log.Debug().Err(err).Str("signature", sig.String()).Msg("status poll failed")
			continue
		}
		if len(statuses.Value) == 0 || statuses.Value[0] == nil {
			if height, err := a.chain.RPC().GetBlockHeight(ctx, rpc.CommitmentConfirmed); err == nil && height > lastValidHeight {
				return errors.Errorf("transaction %s expired before confirmation", sig)
			}
			continue
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return errors.Errorf("transaction %s failed on chain: %v", sig, status.Err)
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
	}
}

// mintDecimals reads the decimals byte from the SPL mint account, falling
// back to 9 when the account cannot be read.
func (a *Adapter) mintDecimals(ctx context.Context, mint string) uint8 {
	pub, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return lamportDecimals
	}
	info, err := retry.DoValue(ctx, a.profile, func() (*rpc.GetAccountInfoResult, error) {
		return a.chain.RPC().GetAccountInfo(ctx, pub)
	})
	if err != nil || info.Value == nil {
		return lamportDecimals
	}
	data := info.Value.Data.GetBinary()
	if len(data) <= mintDecimalsOffset {
		return lamportDecimals
	}
	return data[mintDecimalsOffset]
}
