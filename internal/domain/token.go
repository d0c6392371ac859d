package domain

import "time"

// WindowStats holds counters for the rolling 5m, 1h and 24h windows.
type WindowStats struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H24 float64 `json:"h24"`
}

// TradeCounts holds buy and sell counts per rolling window.
type TradeCounts struct {
	Buys  WindowCounts `json:"buys"`
	Sells WindowCounts `json:"sells"`
}

// WindowCounts holds integer counts per rolling window.
type WindowCounts struct {
	M5  int64 `json:"m5"`
	H1  int64 `json:"h1"`
	H24 int64 `json:"h24"`
}

// TokenRecord is the merged view of one token: on-chain signals plus market data.
// Age and IsNew are derived from CreatedAt at read time; values stored on a
// record are only correct at the instant they were computed.
type TokenRecord struct {
	Mint        string `json:"mint"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Image       string `json:"image,omitempty"`
	URI         string `json:"uri,omitempty"`
	Description string `json:"description,omitempty"`

	PriceUSD    float64     `json:"priceUsd"`
	PriceSOL    float64     `json:"priceSol"`
	PriceChange WindowStats `json:"priceChange"`
	VolumeUSD   WindowStats `json:"volumeUsd"`
	VolumeSOL   WindowStats `json:"volumeSol"`
	Liquidity   float64     `json:"liquidity"`
	MarketCap   float64     `json:"marketCap"`
	Holders     int64       `json:"holders"`
	Txns        TradeCounts `json:"txns"`

	PairAddress  string `json:"pairAddress,omitempty"`
	Source       Source `json:"source"`
	Creator      string `json:"creator,omitempty"`
	BondingCurve string `json:"bondingCurve,omitempty"`

	CreatedAt   int64 `json:"createdAt"`   // Unix ms
	LastTradeAt int64 `json:"lastTradeAt"` // Unix ms, 0 if never traded
	UpdatedAt   int64 `json:"updatedAt"`   // Unix ms

	Age          time.Duration `json:"age"`
	IsNew        bool          `json:"isNew"`
	IsGraduating bool          `json:"isGraduating"`
	IsGraduated  bool          `json:"isGraduated"`
	IsTrending   bool          `json:"isTrending"`
	RiskScore    int           `json:"riskScore"`
}

// Refresh recomputes the time-derived fields against now.
func (r *TokenRecord) Refresh(now time.Time, newThreshold time.Duration) {
	created := time.UnixMilli(r.CreatedAt)
	r.Age = now.Sub(created)
	if r.Age < 0 {
		r.Age = 0
	}
	r.IsNew = r.Age < newThreshold
}

// EnrichmentUpdate carries fields obtained from market-data or metadata lookups.
// Zero values mean "unknown" and never overwrite existing data.
type EnrichmentUpdate struct {
	Mint        string
	Name        string
	Symbol      string
	Image       string
	URI         string
	Description string
	PriceUSD    float64
	PriceSOL    float64
	PriceChange *WindowStats
	VolumeUSD   *WindowStats
	Liquidity   float64
	MarketCap   float64
	Holders     int64
	PairAddress string
	Source      Source
	PairCreated int64 // Unix ms, pair creation as reported by provider
}

// TokenFilter selects records in a store query.
type TokenFilter struct {
	OnlyNew        bool
	OnlyGraduating bool
	OnlyGraduated  bool
	OnlyTrending   bool
	MinLiquidity   float64
	MaxAge         time.Duration // 0 means unbounded
	Source         Source        // empty means any
	Limit          int           // 0 means unbounded
	SortBy         SortKey
}

// SortKey orders query results. The default is newest first.
type SortKey string

const (
	SortNewest    SortKey = "newest"
	SortVolume    SortKey = "volume"
	SortLiquidity SortKey = "liquidity"
	SortMarketCap SortKey = "marketcap"
)
