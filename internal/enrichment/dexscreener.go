package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrNoPair means the provider returned no usable pair for the token.
	ErrNoPair = errors.New("no trading pair")
	// ErrRateLimited means the provider answered 429.
	ErrRateLimited = errors.New("market data rate limited (429)")
)

// Pair is a trading pair as reported by the DexScreener API.
type Pair struct {
	ChainID     string     `json:"chainId"`
	DexID       string     `json:"dexId"`
	PairAddress string     `json:"pairAddress"`
	BaseToken   PairToken  `json:"baseToken"`
	QuoteToken  PairToken  `json:"quoteToken"`
	PriceNative string     `json:"priceNative"`
	PriceUSD    string     `json:"priceUsd"`
	Txns        PairTxns   `json:"txns"`
	Volume      PairWindow `json:"volume"`
	PriceChange PairWindow `json:"priceChange"`
	Liquidity   struct {
		USD   float64 `json:"usd"`
		Base  float64 `json:"base"`
		Quote float64 `json:"quote"`
	} `json:"liquidity"`
	FDV           float64   `json:"fdv"`
	MarketCap     float64   `json:"marketCap"`
	PairCreatedAt int64     `json:"pairCreatedAt"` // Unix ms
	Info          *PairInfo `json:"info,omitempty"`
}

// PairToken identifies one side of a pair.
type PairToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// PairWindow holds per-window values.
type PairWindow struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// PairTxns holds per-window buy/sell counts.
type PairTxns struct {
	M5  PairTxnCount `json:"m5"`
	H1  PairTxnCount `json:"h1"`
	H24 PairTxnCount `json:"h24"`
}

// PairTxnCount is a buy/sell count.
type PairTxnCount struct {
	Buys  int64 `json:"buys"`
	Sells int64 `json:"sells"`
}

// PairInfo carries token profile data.
type PairInfo struct {
	ImageURL string `json:"imageUrl"`
}

// PriceUSDFloat parses the USD price.
func (p Pair) PriceUSDFloat() float64 {
	f, _ := strconv.ParseFloat(p.PriceUSD, 64)
	return f
}

// PriceNativeFloat parses the price in the quote asset.
func (p Pair) PriceNativeFloat() float64 {
	f, _ := strconv.ParseFloat(p.PriceNative, 64)
	return f
}

// DexClient queries the DexScreener API.
type DexClient struct {
	baseURL string
	client  *http.Client
}

// NewDexClient creates a client for baseURL, e.g. https://api.dexscreener.com/latest/dex.
func NewDexClient(baseURL string, timeout time.Duration) *DexClient {
	return &DexClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// TokenPairs returns every pair that trades mint.
func (c *DexClient) TokenPairs(ctx context.Context, mint string) ([]Pair, error) {
	body, err := c.get(ctx, "/tokens/"+url.PathEscape(mint))
	if err != nil {
		return nil, err
	}
	return decodePairs(body)
}

// PairByAddress returns a single pair.
func (c *DexClient) PairByAddress(ctx context.Context, chain, pairAddress string) (*Pair, error) {
	body, err := c.get(ctx, "/pairs/"+url.PathEscape(chain)+"/"+url.PathEscape(pairAddress))
	if err != nil {
		return nil, err
	}
	var single struct {
		Pair *Pair `json:"pair"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.Pair != nil {
		return single.Pair, nil
	}
	pairs, err := decodePairs(body)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrNoPair
	}
	return &pairs[0], nil
}

func (c *DexClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// decodePairs accepts either {"pairs":[...]} or a bare array.
func decodePairs(body []byte) ([]Pair, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var pairs []Pair
		if err := json.Unmarshal(body, &pairs); err != nil {
			return nil, fmt.Errorf("unmarshal pairs: %w", err)
		}
		return pairs, nil
	}
	var wrapped struct {
		Pairs []Pair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal pairs: %w", err)
	}
	return wrapped.Pairs, nil
}
