package enrichment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-token-feed/internal/cache"
	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/observability"
	"solana-token-feed/internal/ratelimit"
	"solana-token-feed/internal/solana"
	"solana-token-feed/internal/solana/stub"
)

type recordingMerger struct {
	mu      sync.Mutex
	updates []domain.EnrichmentUpdate
	records map[string]domain.TokenRecord
}

func (m *recordingMerger) Get(mint string) (domain.TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[mint]
	return rec, ok
}

func (m *recordingMerger) graduate(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]domain.TokenRecord)
	}
	m.records[mint] = domain.TokenRecord{Mint: mint, IsGraduated: true, Source: domain.SourceRaydium}
}

func (m *recordingMerger) ApplyEnrichment(u domain.EnrichmentUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
}

func (m *recordingMerger) Updates() []domain.EnrichmentUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EnrichmentUpdate(nil), m.updates...)
}

type dexServer struct {
	*httptest.Server
	requests atomic.Int32
	status   atomic.Int32
	delay    atomic.Int64 // nanoseconds
	body     string
}

func newDexServer(t *testing.T, body string) *dexServer {
	ds := &dexServer{body: body}
	ds.status.Store(http.StatusOK)
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.requests.Add(1)
		if d := time.Duration(ds.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		if status := int(ds.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, ds.body)
	}))
	t.Cleanup(ds.Close)
	return ds
}

const fooPairs = `{"pairs":[
	{"chainId":"solana","dexId":"pumpfun","pairAddress":"curve","baseToken":{"address":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","name":"Foo","symbol":"FOO"},
	 "priceUsd":"0.0009","liquidity":{"usd":500}},
	{"chainId":"solana","dexId":"raydium","pairAddress":"pool1","baseToken":{"address":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","name":"Foo","symbol":"FOO"},
	 "priceUsd":"0.001","priceNative":"0.0000066","liquidity":{"usd":25000},"marketCap":1000000,
	 "volume":{"m5":10,"h1":100,"h24":1000},"priceChange":{"m5":1,"h1":2,"h24":3}}
]}`

func newTestClient(t *testing.T, baseURL string, rpc solana.RPCClient, threshold int) (*Client, *recordingMerger, *ratelimit.Limiter) {
	limiter := ratelimit.New(ratelimit.Config{
		Services: map[string]ratelimit.ServiceConfig{
			ratelimit.ServiceDexScreener: {MaxRequests: 1000, Window: time.Second, BreakerThreshold: threshold, CoolDown: time.Minute},
			ratelimit.ServiceRPC:         {MaxRequests: 1000, Window: time.Second, BreakerThreshold: threshold, CoolDown: time.Minute},
			ratelimit.ServiceMetadata:    {MaxRequests: 1000, Window: time.Second, BreakerThreshold: threshold, CoolDown: time.Minute},
		},
	}, zap.NewNop(), nil)
	merger := &recordingMerger{}
	c := New(Config{BaseURL: baseURL, Workers: 4}, rpc, limiter, cache.NewTiered(cache.DefaultTieredConfig()), merger, zap.NewNop(), observability.NewTestMetrics())
	t.Cleanup(c.Close)
	return c, merger, limiter
}

func TestEnrich_MarketData(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	c, merger, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)
	merger.graduate(testMint)

	u, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "Foo", u.Name)
	assert.Equal(t, 0.001, u.PriceUSD)
	assert.Equal(t, "pool1", u.PairAddress)
	assert.Equal(t, domain.SourceRaydium, u.Source)

	updates := merger.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, u, updates[0])

	// Every class is live now, so nothing is fetched or merged.
	again, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ds.requests.Load())
	assert.Len(t, merger.Updates(), 1)
	assert.Equal(t, 0.001, again.PriceUSD)
}

func TestEnrich_CurveTokenUsesLaunchVenue(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	c, _, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)

	u, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "curve", u.PairAddress)
	assert.Equal(t, 0.0009, u.PriceUSD)
	assert.Equal(t, domain.SourcePumpFun, u.Source)
}

func TestEnrich_BareArrayResponse(t *testing.T) {
	ds := newDexServer(t, `[{"dexId":"pumpswap","pairAddress":"p","baseToken":{"address":"`+testMint+`","name":"Foo","symbol":"FOO"},"priceUsd":"0.5","liquidity":{"usd":10}}]`)
	c, _, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)

	u, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 0.5, u.PriceUSD)
	assert.Equal(t, domain.SourcePumpSwap, u.Source)
}

func TestEnrich_ConcurrentCallsShareFetch(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	ds.delay.Store(int64(50 * time.Millisecond))
	c, _, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Enrich(context.Background(), testMint)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ds.requests.Load())
}

func metadataAccount(t *testing.T, name, symbol, uri string) *solana.AccountInfo {
	t.Helper()
	md := tokenmetadata.Metadata{
		Data: tokenmetadata.Data{Name: name, Symbol: symbol, Uri: uri},
	}
	var buf bytes.Buffer
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(md))
	return &solana.AccountInfo{
		Owner: solana.MetadataProgramID,
		Data:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
}

func TestEnrich_FallbackToOnChainMetadata(t *testing.T) {
	ds := newDexServer(t, `{"pairs":[]}`)

	offChain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":        "ignored",
			"image":       "https://img.example/foo.png",
			"description": "a token",
		})
	}))
	defer offChain.Close()

	rpc := stub.NewRPCClient()
	pda, err := solana.DeriveMetadataPDA(testMint)
	require.NoError(t, err)
	rpc.AddAccount(pda, metadataAccount(t, "Foo\x00\x00\x00", "FOO\x00", offChain.URL))

	c, merger, _ := newTestClient(t, ds.URL, rpc, 5)
	u, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "Foo", u.Name)
	assert.Equal(t, "FOO", u.Symbol)
	assert.Equal(t, "https://img.example/foo.png", u.Image)
	assert.Equal(t, "a token", u.Description)
	assert.Zero(t, u.PriceUSD)
	require.Len(t, merger.Updates(), 1)
	assert.False(t, c.tiered.Fresh(testMint), "fallback only fills the metadata class")
}

func TestEnrich_RateLimitedTripsBreakerAndFallsBack(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	ds.status.Store(http.StatusTooManyRequests)

	rpc := stub.NewRPCClient()
	pda, err := solana.DeriveMetadataPDA(testMint)
	require.NoError(t, err)
	rpc.AddAccount(pda, metadataAccount(t, "Foo", "FOO", ""))

	c, _, limiter := newTestClient(t, ds.URL, rpc, 1)
	u, err := c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "Foo", u.Name)
	assert.Equal(t, ratelimit.StateOpen, limiter.State(ratelimit.ServiceDexScreener))

	// Open breaker: the provider is skipped entirely.
	ds.status.Store(http.StatusOK)
	c.tiered.Metadata.Delete(testMint)
	_, err = c.Enrich(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ds.requests.Load())
}

func TestEnrich_MetadataSkippedWhileRPCBreakerOpen(t *testing.T) {
	ds := newDexServer(t, `{"pairs":[]}`)
	rpc := stub.NewRPCClient()
	pda, err := solana.DeriveMetadataPDA(testMint)
	require.NoError(t, err)
	rpc.AddAccount(pda, metadataAccount(t, "Foo", "FOO", ""))

	c, merger, limiter := newTestClient(t, ds.URL, rpc, 1)
	limiter.RecordRateLimited(ratelimit.ServiceRPC)
	require.True(t, limiter.BreakerOpen(ratelimit.ServiceRPC))

	_, err = c.Enrich(context.Background(), testMint)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrCircuitOpen)
	assert.Equal(t, 0, rpc.Calls("getAccountInfo"))
	assert.Empty(t, merger.Updates())
}

func TestEnrich_MetadataRateLimitTripsBreaker(t *testing.T) {
	ds := newDexServer(t, `{"pairs":[]}`)
	rpc := stub.NewRPCClient()
	rpc.SetErr(fmt.Errorf("getAccountInfo: %w", solana.ErrRateLimited))

	c, _, limiter := newTestClient(t, ds.URL, rpc, 1)
	_, err := c.Enrich(context.Background(), testMint)
	require.Error(t, err)
	assert.Equal(t, 1, rpc.Calls("getAccountInfo"))
	assert.Equal(t, ratelimit.StateOpen, limiter.State(ratelimit.ServiceMetadata))

	// Open breaker: the account is not read again.
	_, err = c.Enrich(context.Background(), testMint)
	assert.ErrorIs(t, err, ratelimit.ErrCircuitOpen)
	assert.Equal(t, 1, rpc.Calls("getAccountInfo"))
}

func TestEnrich_FailureLeavesRecordUntouched(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	ds.status.Store(http.StatusInternalServerError)
	c, merger, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)

	_, err := c.Enrich(context.Background(), testMint)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMetadata)
	assert.Empty(t, merger.Updates())
}

func TestRefreshPair(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		fmt.Fprint(w, `{"pair":{"dexId":"raydium","pairAddress":"pool1","baseToken":{"address":"`+testMint+`","name":"Foo","symbol":"FOO"},"priceUsd":"0.002","liquidity":{"usd":30000}}}`)
	}))
	defer srv.Close()

	c, merger, _ := newTestClient(t, srv.URL, stub.NewRPCClient(), 5)
	u, err := c.RefreshPair(context.Background(), testMint, "pool1")
	require.NoError(t, err)
	assert.Equal(t, "/pairs/solana/pool1", <-paths)
	assert.Equal(t, 0.002, u.PriceUSD)
	assert.Equal(t, 30_000.0, u.Liquidity)
	assert.Len(t, merger.Updates(), 1)
}

func TestEnrichMany(t *testing.T) {
	ds := newDexServer(t, fooPairs)
	c, merger, _ := newTestClient(t, ds.URL, stub.NewRPCClient(), 5)

	require.NoError(t, c.EnrichMany(context.Background(), []string{testMint, testMint}))
	assert.NotEmpty(t, merger.Updates())
	assert.LessOrEqual(t, ds.requests.Load(), int32(2))
}
