package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sgo "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/state"
)

const (
	mintNew       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	mintGraduated = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintTrending  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

// storeEnricher merges a fixed update for every mint it is asked about.
type storeEnricher struct {
	store *state.Store
	mu    sync.Mutex
	calls [][]string
}

func (e *storeEnricher) EnrichMany(_ context.Context, mints []string) error {
	e.mu.Lock()
	e.calls = append(e.calls, mints)
	e.mu.Unlock()
	for _, m := range mints {
		e.store.ApplyEnrichment(domain.EnrichmentUpdate{Mint: m, Name: "Foo", PriceUSD: 0.001})
	}
	return nil
}

func newTestFeed(t *testing.T) (*Service, *state.Store, *storeEnricher) {
	t.Helper()
	now := time.Now()
	store := state.New(state.DefaultConfig(), zap.NewNop(), nil)
	t.Cleanup(store.Close)

	store.Apply(domain.NewTokenEvent{Mint: mintNew, Timestamp: now.Add(-time.Minute).UnixMilli(), Source: domain.SourcePumpFun})
	store.ApplyEnrichment(domain.EnrichmentUpdate{Mint: mintNew, Liquidity: 5000})

	store.Apply(domain.NewTokenEvent{Mint: mintGraduated, Timestamp: now.Add(-2 * time.Hour).UnixMilli(), Source: domain.SourcePumpFun})
	store.Apply(domain.GraduationEvent{Mint: mintGraduated, Timestamp: now.Add(-time.Hour).UnixMilli(), Source: domain.SourceRaydium})

	store.Apply(domain.NewTokenEvent{Mint: mintTrending, Timestamp: now.Add(-10 * time.Hour).UnixMilli(), Source: domain.SourcePumpFun})
	for i := 0; i < int(state.DefaultTrendingTrades5m); i++ {
		store.Apply(domain.TradeEvent{
			Mint: mintTrending, Timestamp: now.UnixMilli(), Side: domain.SideBuy,
			AmountSol: 0.1, AmountTokens: 100, Source: domain.SourcePumpFun,
		})
	}

	enricher := &storeEnricher{store: store}
	return New(store, enricher, zap.NewNop()), store, enricher
}

func mintsOf(recs []domain.TokenRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Mint)
	}
	return out
}

func TestFetchTokens_Categories(t *testing.T) {
	svc, _, _ := newTestFeed(t)

	assert.Equal(t, []string{mintNew, mintGraduated, mintTrending}, mintsOf(svc.FetchTokens(CategoryAll, 0, 0, 0)))
	assert.Equal(t, []string{mintNew}, mintsOf(svc.FetchTokens(CategoryNew, 0, 0, 0)))
	assert.Equal(t, []string{mintGraduated}, mintsOf(svc.FetchTokens(CategoryGraduated, 0, 0, 0)))
	assert.Equal(t, []string{mintTrending}, mintsOf(svc.FetchTokens(CategoryTrending, 0, 0, 0)))
	assert.Empty(t, svc.FetchTokens(CategoryGraduating, 0, 0, 0))
}

func TestFetchTokens_Bounds(t *testing.T) {
	svc, _, _ := newTestFeed(t)

	assert.Equal(t, []string{mintNew}, mintsOf(svc.FetchTokens(CategoryAll, 1000, 0, 0)))
	assert.Equal(t, []string{mintNew, mintGraduated}, mintsOf(svc.FetchTokens(CategoryAll, 0, 3*time.Hour, 0)))
	assert.Len(t, svc.FetchTokens(CategoryAll, 0, 0, 2), 2)
}

func TestGetToken(t *testing.T) {
	svc, _, _ := newTestFeed(t)

	rec, ok := svc.GetToken(mintNew)
	require.True(t, ok)
	assert.True(t, rec.IsNew)
	assert.Equal(t, 5000.0, rec.Liquidity)

	rec, ok = svc.GetToken(mintGraduated)
	require.True(t, ok)
	assert.False(t, rec.IsNew)
	assert.True(t, rec.IsGraduated)

	_, ok = svc.GetToken("missing")
	assert.False(t, ok)
}

func TestSubscribe(t *testing.T) {
	svc, store, _ := newTestFeed(t)

	updates, stop := svc.Subscribe(4)
	const mint = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	store.Apply(domain.NewTokenEvent{Mint: mint, Source: domain.SourcePumpFun})

	select {
	case rec := <-updates:
		assert.Equal(t, mint, rec.Mint)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	stop()
	for range updates {
	}
}

func TestEnrichNow(t *testing.T) {
	svc, _, enricher := newTestFeed(t)

	err := svc.EnrichNow(context.Background(), []string{mintNew, "not-a-mint", mintNew, " " + mintGraduated})
	require.NoError(t, err)

	require.Len(t, enricher.calls, 1)
	assert.Equal(t, []string{mintNew, mintGraduated}, enricher.calls[0])

	rec, ok := svc.GetToken(mintNew)
	require.True(t, ok)
	assert.Equal(t, "Foo", rec.Name)
	assert.Equal(t, 0.001, rec.PriceUSD)
	assert.True(t, rec.IsNew)

	require.NoError(t, svc.EnrichNow(context.Background(), []string{"bad"}))
	assert.Len(t, enricher.calls, 1)
}

func testMints(n int) []string {
	out := make([]string, n)
	for i := range out {
		var b [32]byte
		b[0], b[1], b[31] = byte(i), byte(i>>8), 1
		out[i] = sgo.PublicKeyFromBytes(b[:]).String()
	}
	return out
}

func TestEnrichNow_Batches(t *testing.T) {
	svc, _, enricher := newTestFeed(t)
	mints := testMints(2*EnrichBatchSize + 50)

	require.NoError(t, svc.EnrichNow(context.Background(), mints))

	require.Len(t, enricher.calls, 3)
	assert.Len(t, enricher.calls[0], EnrichBatchSize)
	assert.Len(t, enricher.calls[1], EnrichBatchSize)
	assert.Len(t, enricher.calls[2], 50)
	var got []string
	for _, c := range enricher.calls {
		got = append(got, c...)
	}
	assert.Equal(t, mints, got)
}

type failingEnricher struct{ calls int }

func (e *failingEnricher) EnrichMany(context.Context, []string) error {
	e.calls++
	return errors.New("provider down")
}

func TestEnrichNow_StopsOnError(t *testing.T) {
	store := state.New(state.DefaultConfig(), nil, nil)
	defer store.Close()
	enricher := &failingEnricher{}

	err := New(store, enricher, nil).EnrichNow(context.Background(), testMints(EnrichBatchSize+1))
	require.Error(t, err)
	assert.Equal(t, 1, enricher.calls)
}

func TestEnrichNow_NoEnricher(t *testing.T) {
	store := state.New(state.DefaultConfig(), nil, nil)
	defer store.Close()
	assert.NoError(t, New(store, nil, nil).EnrichNow(context.Background(), []string{mintNew}))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryAll, c)

	c, err = ParseCategory(" Trending ")
	require.NoError(t, err)
	assert.Equal(t, CategoryTrending, c)

	_, err = ParseCategory("hot")
	assert.Error(t, err)
}
