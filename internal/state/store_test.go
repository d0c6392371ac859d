package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/observability"
)

const mintA = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(cfg Config) (*Store, *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	s := New(cfg, zap.NewNop(), observability.NewTestMetrics()).WithClock(clk.Now)
	return s, clk
}

func strp(s string) *string { return &s }
func f64p(v float64) *float64 { return &v }
func i64p(v int64) *int64 { return &v }

func drain(ch <-chan domain.TokenRecord, wait time.Duration) []domain.TokenRecord {
	var out []domain.TokenRecord
	deadline := time.After(wait)
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, rec)
		case <-deadline:
			return out
		}
	}
}

func TestStore_DebouncesTrades(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: 30 * time.Millisecond})
	defer s.Close()
	ch, unsubscribe := s.Subscribe(16)
	defer unsubscribe()

	s.Apply(domain.NewTokenEvent{Mint: mintA, Name: strp("Foo"), Timestamp: clk.Now().UnixMilli(), Source: domain.SourcePumpFun})
	first := drain(ch, 10*time.Millisecond)
	require.Len(t, first, 1, "creation is broadcast immediately")

	for i := 0; i < 10; i++ {
		s.Apply(domain.TradeEvent{
			Mint:      mintA,
			Timestamp: clk.Now().UnixMilli(),
			Side:      domain.SideBuy,
			AmountSol: 0.5,
			Price:     f64p(float64(i + 1)),
			Source:    domain.SourcePumpFun,
		})
	}

	got := drain(ch, 200*time.Millisecond)
	require.Len(t, got, 1, "burst collapses into one broadcast")
	assert.Equal(t, int64(10), got[0].Txns.Buys.M5)
	assert.Equal(t, 5.0, got[0].VolumeSOL.M5)
	assert.Equal(t, 10.0, got[0].PriceSOL, "broadcast carries state after the last event")
}

func TestStore_TradeOnUnknownMintIsDebounced(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: 20 * time.Millisecond})
	defer s.Close()
	ch, unsubscribe := s.Subscribe(16)
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		s.Apply(domain.TradeEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Side: domain.SideSell, AmountSol: 1, Source: domain.SourceRaydium})
	}
	got := drain(ch, 150*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Txns.Sells.M5)
	assert.Equal(t, domain.SourceRaydium, got[0].Source)
}

func TestStore_GraduationBroadcastsImmediately(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: time.Hour})
	defer s.Close()
	s.Apply(domain.NewTokenEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Source: domain.SourcePumpFun})
	s.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mintA, MarketCap: 65_000})

	ch, unsubscribe := s.Subscribe(4)
	defer unsubscribe()

	s.Apply(domain.GraduationEvent{Mint: mintA, Pool: strp("pool1"), Liquidity: f64p(80_000), Source: domain.SourceRaydium})
	got := drain(ch, 50*time.Millisecond)
	require.Len(t, got, 1, "pending enrichment broadcast is folded into the graduation")
	rec := got[0]
	assert.True(t, rec.IsGraduated)
	assert.False(t, rec.IsGraduating)
	assert.Equal(t, "pool1", rec.PairAddress)
	assert.Equal(t, 80_000.0, rec.Liquidity)
	assert.Equal(t, domain.SourceRaydium, rec.Source)
}

func TestStore_IsNewRecomputedOnRead(t *testing.T) {
	s, clk := newTestStore(Config{NewThreshold: 30 * time.Minute})
	defer s.Close()

	s.Apply(domain.NewTokenEvent{Mint: mintA, Timestamp: clk.Now().Add(-45 * time.Minute).UnixMilli()})
	rec, ok := s.Get(mintA)
	require.True(t, ok)
	assert.False(t, rec.IsNew)
	assert.Equal(t, 45*time.Minute, rec.Age)
	assert.Empty(t, s.Query(domain.TokenFilter{OnlyNew: true}))

	other := "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	s.Apply(domain.NewTokenEvent{Mint: other, Timestamp: clk.Now().Add(-10 * time.Minute).UnixMilli()})
	fresh := s.Query(domain.TokenFilter{OnlyNew: true})
	require.Len(t, fresh, 1)
	assert.Equal(t, other, fresh[0].Mint)

	clk.Advance(25 * time.Minute)
	rec, _ = s.Get(other)
	assert.False(t, rec.IsNew, "age keeps growing without new events")
	assert.Equal(t, 35*time.Minute, rec.Age)
}

func TestStore_EnrichmentNeverNullsFields(t *testing.T) {
	s, _ := newTestStore(Config{Debounce: time.Hour})
	defer s.Close()

	s.ApplyEnrichment(domain.EnrichmentUpdate{
		Mint:        mintA,
		Name:        "Foo",
		Symbol:      "FOO",
		Image:       "https://img.example/foo.png",
		PriceUSD:    0.001,
		Liquidity:   5_000,
		Holders:     120,
		PairAddress: "pool1",
		Source:      domain.SourceRaydium,
	})
	s.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mintA, PriceUSD: 0.002})

	rec, ok := s.Get(mintA)
	require.True(t, ok)
	assert.Equal(t, "Foo", rec.Name)
	assert.Equal(t, "FOO", rec.Symbol)
	assert.Equal(t, "https://img.example/foo.png", rec.Image)
	assert.Equal(t, 0.002, rec.PriceUSD)
	assert.Equal(t, 5_000.0, rec.Liquidity)
	assert.Equal(t, int64(120), rec.Holders)
	assert.Equal(t, "pool1", rec.PairAddress)
	assert.Equal(t, domain.SourceRaydium, rec.Source)
}

func TestStore_AMMPairMarksLaunchTokenGraduated(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: time.Hour})
	defer s.Close()

	s.Apply(domain.NewTokenEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Source: domain.SourcePumpFun})
	s.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mintA, Source: domain.SourcePumpSwap})
	rec, _ := s.Get(mintA)
	assert.True(t, rec.IsGraduated)

	s.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mintA, Source: domain.SourcePumpFun})
	rec, _ = s.Get(mintA)
	assert.Equal(t, domain.SourcePumpSwap, rec.Source, "graduated token never moves back to the launch venue")
}

func TestStore_WindowsRollForward(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: time.Hour})
	defer s.Close()

	s.Apply(domain.TradeEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Side: domain.SideBuy, AmountSol: 2})
	s.Apply(domain.TradeEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Side: domain.SideSell, AmountSol: 1})

	rec, _ := s.Get(mintA)
	assert.Equal(t, domain.WindowCounts{M5: 1, H1: 1, H24: 1}, rec.Txns.Buys)
	assert.Equal(t, domain.WindowCounts{M5: 1, H1: 1, H24: 1}, rec.Txns.Sells)
	assert.Equal(t, 3.0, rec.VolumeSOL.M5)

	clk.Advance(6 * time.Minute)
	rec, _ = s.Get(mintA)
	assert.Equal(t, int64(0), rec.Txns.Buys.M5)
	assert.Equal(t, int64(1), rec.Txns.Buys.H1)
	assert.Equal(t, 0.0, rec.VolumeSOL.M5)
	assert.Equal(t, 3.0, rec.VolumeSOL.H1)

	clk.Advance(2 * time.Hour)
	rec, _ = s.Get(mintA)
	assert.Equal(t, int64(0), rec.Txns.Buys.H1)
	assert.Equal(t, int64(1), rec.Txns.Buys.H24)

	clk.Advance(24 * time.Hour)
	rec, _ = s.Get(mintA)
	assert.Equal(t, domain.TradeCounts{}, rec.Txns)
}

func TestStore_TrendingAndGraduatingFlags(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: time.Hour, TrendingTrades5m: 3, GraduatingMarketCap: 50_000})
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Apply(domain.TradeEvent{Mint: mintA, Timestamp: clk.Now().UnixMilli(), Side: domain.SideBuy, AmountSol: 0.1})
	}
	s.Apply(domain.UpdateEvent{Mint: mintA, MarketCap: f64p(55_000), Holders: i64p(400)})

	rec, _ := s.Get(mintA)
	assert.True(t, rec.IsTrending)
	assert.True(t, rec.IsGraduating)
	assert.Equal(t, int64(400), rec.Holders)

	clk.Advance(10 * time.Minute)
	rec, _ = s.Get(mintA)
	assert.False(t, rec.IsTrending, "trending decays with the 5m window")
}

func TestStore_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s, clk := newTestStore(Config{})
	defer s.Close()
	ch, unsubscribe := s.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Apply(domain.NewTokenEvent{Mint: fmt.Sprintf("mint-%d", i), Timestamp: clk.Now().UnixMilli()})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Apply blocked on a full subscriber")
	}
	assert.Len(t, drain(ch, 10*time.Millisecond), 1)
}

func TestStore_UnsubscribeClosesChannel(t *testing.T) {
	s, _ := newTestStore(Config{})
	defer s.Close()
	ch, unsubscribe := s.Subscribe(1)
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	s.Apply(domain.NewTokenEvent{Mint: mintA})
}

func TestStore_CloseClosesSubscribers(t *testing.T) {
	s, _ := newTestStore(Config{})
	ch, _ := s.Subscribe(1)
	s.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := s.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestStore_QueryFilterSortLimit(t *testing.T) {
	s, clk := newTestStore(Config{Debounce: time.Hour})
	defer s.Close()
	base := clk.Now()

	for i, liq := range []float64{100, 5_000, 20_000} {
		mint := fmt.Sprintf("mint-%d", i)
		s.Apply(domain.NewTokenEvent{Mint: mint, Timestamp: base.Add(time.Duration(i) * time.Minute).UnixMilli(), Source: domain.SourcePumpFun})
		s.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mint, Liquidity: liq, MarketCap: liq * 10})
	}
	clk.Advance(3 * time.Minute)

	newest := s.Query(domain.TokenFilter{})
	require.Len(t, newest, 3)
	assert.Equal(t, []string{"mint-2", "mint-1", "mint-0"}, mints(newest))

	liquid := s.Query(domain.TokenFilter{MinLiquidity: 1_000, SortBy: domain.SortLiquidity})
	assert.Equal(t, []string{"mint-2", "mint-1"}, mints(liquid))

	young := s.Query(domain.TokenFilter{MaxAge: 150 * time.Second})
	assert.Equal(t, []string{"mint-2", "mint-1"}, mints(young))

	top := s.Query(domain.TokenFilter{SortBy: domain.SortMarketCap, Limit: 1})
	assert.Equal(t, []string{"mint-2"}, mints(top))

	assert.Empty(t, s.Query(domain.TokenFilter{Source: domain.SourceRaydium}))
	assert.Equal(t, []string{"mint-2", "mint-1", "mint-0"}, s.Mints(domain.TokenFilter{}))
}

func mints(recs []domain.TokenRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Mint
	}
	return out
}

func TestStore_SweepKeepsIdleTokens(t *testing.T) {
	s, clk := newTestStore(Config{})
	defer s.Close()
	created := clk.Now()
	s.Apply(domain.NewTokenEvent{Mint: mintA, Timestamp: created.UnixMilli(), Source: domain.SourcePumpFun})
	s.Apply(domain.TradeEvent{
		Mint: mintA, Timestamp: created.UnixMilli(), Side: domain.SideBuy,
		AmountSol: 1, AmountTokens: 1000, Source: domain.SourcePumpFun,
	})

	clk.Advance(25 * time.Hour)
	assert.Equal(t, 1, s.Sweep(), "the expired trade bucket is pruned")
	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 1, s.Len())

	rec, ok := s.Get(mintA)
	require.True(t, ok, "records are never deleted")
	assert.Equal(t, created.UnixMilli(), rec.CreatedAt)
	assert.Equal(t, int64(0), rec.Txns.Buys.H24)
	assert.False(t, rec.IsNew)

	assert.Empty(t, s.Query(domain.TokenFilter{MaxAge: 24 * time.Hour}))
	assert.Empty(t, s.Query(domain.TokenFilter{OnlyNew: true}))
	assert.Equal(t, []string{mintA}, mints(s.Query(domain.TokenFilter{})))
}

func TestRiskScore(t *testing.T) {
	risky := domain.TokenRecord{Liquidity: 500, Holders: 10, Age: time.Minute}
	risky.Txns.Sells.H1 = 9
	risky.Txns.Buys.H1 = 1
	assert.Equal(t, 100, riskScore(&risky))

	safe := domain.TokenRecord{Liquidity: 250_000, Holders: 5_000, Age: 48 * time.Hour, IsGraduated: true, PairAddress: "pool"}
	assert.Equal(t, 0, riskScore(&safe))
}
