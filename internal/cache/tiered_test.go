package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-feed/internal/domain"
)

func sampleUpdate(mint string) domain.EnrichmentUpdate {
	return domain.EnrichmentUpdate{
		Mint:        mint,
		Name:        "Foo",
		Symbol:      "FOO",
		PriceUSD:    0.001,
		Liquidity:   12_000,
		MarketCap:   50_000,
		PairAddress: "pair1",
		Source:      domain.SourceRaydium,
		VolumeUSD:   &domain.WindowStats{M5: 10, H1: 100, H24: 1000},
		PriceChange: &domain.WindowStats{M5: 1, H1: 2, H24: 3},
	}
}

func TestTiered_FreshRequiresEveryClass(t *testing.T) {
	clk := newClock()
	tc := NewTiered(DefaultTieredConfig()).WithClock(clk.Now)

	assert.False(t, tc.Fresh("M"))
	tc.Store(sampleUpdate("M"))
	assert.True(t, tc.Fresh("M"))

	// Price expires after one minute while metadata lives for an hour.
	clk.Advance(61 * time.Second)
	assert.False(t, tc.Fresh("M"))

	_, ok := tc.Metadata.Get("M")
	assert.True(t, ok)
	_, ok = tc.Price.Get("M")
	assert.False(t, ok)
}

func TestTiered_ClassLifetimes(t *testing.T) {
	clk := newClock()
	tc := NewTiered(DefaultTieredConfig()).WithClock(clk.Now)
	tc.Store(sampleUpdate("M"))

	clk.Advance(31 * time.Second)
	_, ok := tc.Snapshot.Get("M")
	assert.False(t, ok, "snapshot lives 30s")
	_, ok = tc.Price.Get("M")
	assert.True(t, ok)

	clk.Advance(90 * time.Second) // 2m1s
	_, ok = tc.MarketData.Get("M")
	assert.False(t, ok, "market data lives 2m")
	_, ok = tc.Volume.Get("M")
	assert.True(t, ok, "volume lives 5m")

	clk.Advance(3 * time.Minute) // 5m1s
	_, ok = tc.Volume.Get("M")
	assert.False(t, ok)
	_, ok = tc.Metadata.Get("M")
	assert.True(t, ok)
}

func TestTiered_Compose(t *testing.T) {
	clk := newClock()
	tc := NewTiered(DefaultTieredConfig()).WithClock(clk.Now)
	tc.Store(sampleUpdate("M"))

	clk.Advance(45 * time.Second)
	u, ok := tc.Compose("M")
	require.True(t, ok)
	assert.Equal(t, "Foo", u.Name)
	assert.Equal(t, 0.001, u.PriceUSD)
	assert.Equal(t, "pair1", u.PairAddress)

	_, ok = tc.Compose("other")
	assert.False(t, ok)
}

func TestTiered_Sweep(t *testing.T) {
	clk := newClock()
	tc := NewTiered(DefaultTieredConfig()).WithClock(clk.Now)
	tc.Store(sampleUpdate("M"))

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 6, tc.Sweep())
}
