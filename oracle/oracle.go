// Package oracle provides the USD price of each network's native asset,
// backed by an HTTP source with a short memoized cache and static fallbacks.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

const (
	// DefaultAPIURL is the CoinGecko simple-price endpoint base.
	DefaultAPIURL = "https://api.coingecko.com/api/v3"

	cacheTTL = 30 * time.Second
)

// Fallback prices used whenever the HTTP source fails. Price never errors;
// callers must tolerate stale or fallback values.
var fallbackUSD = map[string]decimal.Decimal{
	"ethereum":    decimal.NewFromInt(2000),
	"binancecoin": decimal.NewFromInt(600),
	"solana":      decimal.NewFromInt(150),
}

// Oracle fetches and caches native asset prices. Safe for concurrent use.
type Oracle struct {
	apiURL string
	client *http.Client
	cache  *lru.LRU[string, decimal.Decimal]
}

// New builds an oracle against the given price API base URL.
func New(apiURL string) *Oracle {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Oracle{
		apiURL: apiURL,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  lru.NewLRU[string, decimal.Decimal](8, nil, cacheTTL),
	}
}

// Price returns the USD price of the network's native unit. The cache is
// keyed by source asset id, so ETH and BASE share one entry.
func (o *Oracle) Price(ctx context.Context, n chains.Network) decimal.Decimal {
	id := n.CoinID()
	if price, ok := o.cache.Get(id); ok {
		return price
	}

	price, err := o.fetch(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("asset", id).Msg("price fetch failed, using fallback")
		return fallbackUSD[id]
	}
	o.cache.Add(id, price)
	return price
}

func (o *Oracle) fetch(ctx context.Context, id string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.apiURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("price source returned %d", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, errors.Wrap(err, "malformed price response")
	}

	raw, ok := payload[id]["usd"]
	if !ok {
		return decimal.Zero, errors.Errorf("no usd quote for %s", id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, errors.Errorf("bad usd quote %q for %s", raw.String(), id)
	}
	return price, nil
}
