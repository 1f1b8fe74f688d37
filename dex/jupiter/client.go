// Package jupiter adapts the Jupiter aggregator on Solana: quote over HTTP,
// swap transaction built server-side, signed and submitted locally.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultAPIURL is the Jupiter v6 quote API base.
const DefaultAPIURL = "https://quote-api.jup.ag/v6"

// Client is a thin HTTP client for the Jupiter quote/swap API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds an API client; empty baseURL selects the public v6 API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// QuoteResponse is the subset of the quote payload the adapter consumes.
// Raw retains the full payload, which the swap endpoint requires verbatim.
type QuoteResponse struct {
	OutAmount  string `json:"outAmount"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`

	Raw json.RawMessage `json:"-"`
}

// Quote requests an ExactIn quote for amount lamports of the input mint.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*QuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, inputMint, outputMint, amount, slippageBps)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, errors.Wrap(err, "malformed quote response")
	}
	quote.Raw = body
	return &quote, nil
}

// SwapResponse carries the serialized transaction built by Jupiter.
type SwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

// Swap requests a swap transaction for a previously obtained quote.
func (c *Client) Swap(ctx context.Context, quote json.RawMessage, userPublicKey string) (*SwapResponse, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           quote,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var swap SwapResponse
	if err := json.Unmarshal(body, &swap); err != nil {
		return nil, errors.Wrap(err, "malformed swap response")
	}
	if swap.SwapTransaction == "" {
		return nil, errors.New("swap response carried no transaction")
	}
	return &swap, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("jupiter API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
