package cache

import (
	"time"

	"solana-token-feed/internal/domain"
)

// Default lifetimes of the enrichment cache classes.
const (
	DefaultMetadataTTL    = 1 * time.Hour
	DefaultPriceTTL       = 1 * time.Minute
	DefaultVolumeTTL      = 5 * time.Minute
	DefaultMarketDataTTL  = 2 * time.Minute
	DefaultPriceChangeTTL = 1 * time.Minute
	DefaultSnapshotTTL    = 30 * time.Second
)

// TieredConfig sets the lifetime of each class.
type TieredConfig struct {
	MetadataTTL    time.Duration
	PriceTTL       time.Duration
	VolumeTTL      time.Duration
	MarketDataTTL  time.Duration
	PriceChangeTTL time.Duration
	SnapshotTTL    time.Duration
	// MaxEntries bounds each class; 0 means unbounded.
	MaxEntries int
}

// DefaultTieredConfig returns the standard class lifetimes.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		MetadataTTL:    DefaultMetadataTTL,
		PriceTTL:       DefaultPriceTTL,
		VolumeTTL:      DefaultVolumeTTL,
		MarketDataTTL:  DefaultMarketDataTTL,
		PriceChangeTTL: DefaultPriceChangeTTL,
		SnapshotTTL:    DefaultSnapshotTTL,
		MaxEntries:     50_000,
	}
}

// Metadata is the slow-changing identity of a token.
type Metadata struct {
	Name        string
	Symbol      string
	Image       string
	URI         string
	Description string
}

// Price is the last known price in USD and SOL.
type Price struct {
	USD float64
	SOL float64
}

// MarketData is pool-level state for the selected pair.
type MarketData struct {
	Liquidity   float64
	MarketCap   float64
	Holders     int64
	PairAddress string
	Source      domain.Source
}

// Tiered groups the per-mint enrichment caches. Each class expires
// independently so slow-moving data is not refetched on every price tick.
type Tiered struct {
	Metadata    *TTL[string, Metadata]
	Price       *TTL[string, Price]
	Volume      *TTL[string, domain.WindowStats]
	MarketData  *TTL[string, MarketData]
	PriceChange *TTL[string, domain.WindowStats]
	Snapshot    *TTL[string, domain.EnrichmentUpdate]
}

// NewTiered creates the class caches from cfg. Zero TTLs fall back to defaults.
func NewTiered(cfg TieredConfig) *Tiered {
	def := DefaultTieredConfig()
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return &Tiered{
		Metadata:    NewTTL[string, Metadata](pick(cfg.MetadataTTL, def.MetadataTTL), cfg.MaxEntries),
		Price:       NewTTL[string, Price](pick(cfg.PriceTTL, def.PriceTTL), cfg.MaxEntries),
		Volume:      NewTTL[string, domain.WindowStats](pick(cfg.VolumeTTL, def.VolumeTTL), cfg.MaxEntries),
		MarketData:  NewTTL[string, MarketData](pick(cfg.MarketDataTTL, def.MarketDataTTL), cfg.MaxEntries),
		PriceChange: NewTTL[string, domain.WindowStats](pick(cfg.PriceChangeTTL, def.PriceChangeTTL), cfg.MaxEntries),
		Snapshot:    NewTTL[string, domain.EnrichmentUpdate](pick(cfg.SnapshotTTL, def.SnapshotTTL), cfg.MaxEntries),
	}
}

// WithClock sets the time source of every class.
func (t *Tiered) WithClock(nowFn func() time.Time) *Tiered {
	t.Metadata.WithClock(nowFn)
	t.Price.WithClock(nowFn)
	t.Volume.WithClock(nowFn)
	t.MarketData.WithClock(nowFn)
	t.PriceChange.WithClock(nowFn)
	t.Snapshot.WithClock(nowFn)
	return t
}

// Fresh reports whether every class holds a live entry for mint.
func (t *Tiered) Fresh(mint string) bool {
	return t.Metadata.Fresh(mint) &&
		t.Price.Fresh(mint) &&
		t.Volume.Fresh(mint) &&
		t.MarketData.Fresh(mint) &&
		t.PriceChange.Fresh(mint)
}

// Store writes a market-data result into every class.
func (t *Tiered) Store(u domain.EnrichmentUpdate) {
	if u.Mint == "" {
		return
	}
	if u.Name != "" || u.Symbol != "" || u.Image != "" {
		t.Metadata.Set(u.Mint, Metadata{
			Name:        u.Name,
			Symbol:      u.Symbol,
			Image:       u.Image,
			URI:         u.URI,
			Description: u.Description,
		})
	}
	t.Price.Set(u.Mint, Price{USD: u.PriceUSD, SOL: u.PriceSOL})
	if u.VolumeUSD != nil {
		t.Volume.Set(u.Mint, *u.VolumeUSD)
	}
	t.MarketData.Set(u.Mint, MarketData{
		Liquidity:   u.Liquidity,
		MarketCap:   u.MarketCap,
		Holders:     u.Holders,
		PairAddress: u.PairAddress,
		Source:      u.Source,
	})
	if u.PriceChange != nil {
		t.PriceChange.Set(u.Mint, *u.PriceChange)
	}
	t.Snapshot.Set(u.Mint, u)
}

// Compose rebuilds an update for mint from whatever classes are still live.
// The bool is false when nothing is cached.
func (t *Tiered) Compose(mint string) (domain.EnrichmentUpdate, bool) {
	if snap, ok := t.Snapshot.Get(mint); ok {
		return snap, true
	}

	u := domain.EnrichmentUpdate{Mint: mint}
	found := false
	if m, ok := t.Metadata.Get(mint); ok {
		u.Name, u.Symbol, u.Image, u.URI, u.Description = m.Name, m.Symbol, m.Image, m.URI, m.Description
		found = true
	}
	if p, ok := t.Price.Get(mint); ok {
		u.PriceUSD, u.PriceSOL = p.USD, p.SOL
		found = true
	}
	if v, ok := t.Volume.Get(mint); ok {
		u.VolumeUSD = &v
		found = true
	}
	if md, ok := t.MarketData.Get(mint); ok {
		u.Liquidity, u.MarketCap, u.Holders = md.Liquidity, md.MarketCap, md.Holders
		u.PairAddress, u.Source = md.PairAddress, md.Source
		found = true
	}
	if pc, ok := t.PriceChange.Get(mint); ok {
		u.PriceChange = &pc
		found = true
	}
	return u, found
}

// Sweep reclaims expired entries in every class and returns the total removed.
func (t *Tiered) Sweep() int {
	return t.Metadata.Sweep() +
		t.Price.Sweep() +
		t.Volume.Sweep() +
		t.MarketData.Sweep() +
		t.PriceChange.Sweep() +
		t.Snapshot.Sweep()
}
