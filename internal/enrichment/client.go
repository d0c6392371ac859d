// Package enrichment merges third-party market data and on-chain metadata
// into token records.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"solana-token-feed/internal/cache"
	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/observability"
	"solana-token-feed/internal/ratelimit"
	"solana-token-feed/internal/solana"
)

// Defaults.
const (
	DefaultBaseURL         = "https://api.dexscreener.com/latest/dex"
	DefaultChain           = "solana"
	DefaultHTTPTimeout     = 5 * time.Second
	DefaultMetadataTimeout = 3 * time.Second
	DefaultMetadataRPS     = 5
	DefaultWorkers         = 8
	DefaultQueueSize       = 1024
)

// Merger receives enrichment results.
type Merger interface {
	ApplyEnrichment(u domain.EnrichmentUpdate)
}

// recordReader is implemented by mergers that expose the current record, so
// pair selection can follow the token's graduation state.
type recordReader interface {
	Get(mint string) (domain.TokenRecord, bool)
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	Chain           string
	HTTPTimeout     time.Duration
	MetadataTimeout time.Duration
	MetadataRPS     float64
	Workers         int
	QueueSize       int
}

// DefaultConfig returns the default enrichment configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Chain:           DefaultChain,
		HTTPTimeout:     DefaultHTTPTimeout,
		MetadataTimeout: DefaultMetadataTimeout,
		MetadataRPS:     DefaultMetadataRPS,
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
	}
}

// Client enriches tokens with market data, falling back to on-chain
// metadata when the market-data provider has nothing.
type Client struct {
	cfg     Config
	dex     *DexClient
	meta    *MetadataFetcher
	limiter *ratelimit.Limiter
	tiered  *cache.Tiered
	merger  Merger
	group   singleflight.Group
	pool    pond.Pool
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a Client. merger may be nil.
func New(cfg Config, rpc solana.RPCClient, limiter *ratelimit.Limiter, tiered *cache.Tiered, merger Merger, logger *zap.Logger, metrics *observability.Metrics) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Chain == "" {
		cfg.Chain = def.Chain
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = def.MetadataTimeout
	}
	if cfg.MetadataRPS <= 0 {
		cfg.MetadataRPS = def.MetadataRPS
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		dex:     NewDexClient(cfg.BaseURL, cfg.HTTPTimeout),
		meta:    NewMetadataFetcher(rpc, limiter, cfg.MetadataTimeout, cfg.MetadataRPS),
		limiter: limiter,
		tiered:  tiered,
		merger:  merger,
		pool:    pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize)),
		logger:  logger.Named("enrichment"),
		metrics: metrics,
	}
}

// SetMerger sets the destination of enrichment results.
func (c *Client) SetMerger(m Merger) {
	c.merger = m
}

// Enrich refreshes mint unless every cache class is still live, and returns
// the resulting update. Concurrent calls for the same mint share one fetch.
func (c *Client) Enrich(ctx context.Context, mint string) (domain.EnrichmentUpdate, error) {
	if c.tiered.Fresh(mint) {
		c.metrics.RecordEnrichment("fresh", 0)
		u, _ := c.tiered.Compose(mint)
		return u, nil
	}

	ch := c.group.DoChan(mint, func() (interface{}, error) {
		return c.enrich(context.WithoutCancel(ctx), mint)
	})
	select {
	case <-ctx.Done():
		return domain.EnrichmentUpdate{}, ctx.Err()
	case res := <-ch:
		u, _ := res.Val.(domain.EnrichmentUpdate)
		return u, res.Err
	}
}

func (c *Client) enrich(ctx context.Context, mint string) (domain.EnrichmentUpdate, error) {
	start := time.Now()

	u, err := c.fetchMarket(ctx, mint)
	if err == nil {
		c.tiered.Store(u)
		c.merge(u)
		c.metrics.RecordEnrichment("market", time.Since(start).Seconds())
		return u, nil
	}
	c.logger.Debug("market data unavailable, using on-chain metadata",
		zap.String("mint", mint), zap.Error(err))

	md, mdErr := c.meta.Fetch(ctx, mint)
	if mdErr != nil {
		c.metrics.RecordEnrichment("failed", time.Since(start).Seconds())
		return domain.EnrichmentUpdate{}, fmt.Errorf("enrich %s: %w", mint, errors.Join(err, mdErr))
	}
	u = domain.EnrichmentUpdate{
		Mint:        mint,
		Name:        md.Name,
		Symbol:      md.Symbol,
		Image:       md.Image,
		URI:         md.URI,
		Description: md.Description,
	}
	if u.Name != "" || u.Symbol != "" || u.Image != "" {
		c.tiered.Metadata.Set(mint, cache.Metadata{
			Name:        u.Name,
			Symbol:      u.Symbol,
			Image:       u.Image,
			URI:         u.URI,
			Description: u.Description,
		})
	}
	c.merge(u)
	c.metrics.RecordEnrichment("metadata", time.Since(start).Seconds())
	return u, nil
}

func (c *Client) fetchMarket(ctx context.Context, mint string) (domain.EnrichmentUpdate, error) {
	if c.limiter.BreakerOpen(ratelimit.ServiceDexScreener) {
		return domain.EnrichmentUpdate{}, ratelimit.ErrCircuitOpen
	}
	c.limiter.WaitIfNeeded(ctx, ratelimit.ServiceDexScreener, 0)

	pairs, err := c.dex.TokenPairs(ctx, mint)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.limiter.RecordRateLimited(ratelimit.ServiceDexScreener)
		}
		return domain.EnrichmentUpdate{}, err
	}
	c.limiter.RecordSuccess(ratelimit.ServiceDexScreener)

	pair, ok := SelectPair(mint, pairs, c.graduated(mint))
	if !ok {
		return domain.EnrichmentUpdate{}, ErrNoPair
	}
	return UpdateFromPair(mint, *pair), nil
}

// RefreshPair re-reads a known pair and merges it into mint's record.
func (c *Client) RefreshPair(ctx context.Context, mint, pairAddress string) (domain.EnrichmentUpdate, error) {
	if c.limiter.BreakerOpen(ratelimit.ServiceDexScreener) {
		return domain.EnrichmentUpdate{}, ratelimit.ErrCircuitOpen
	}
	c.limiter.WaitIfNeeded(ctx, ratelimit.ServiceDexScreener, 0)

	pair, err := c.dex.PairByAddress(ctx, c.cfg.Chain, pairAddress)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.limiter.RecordRateLimited(ratelimit.ServiceDexScreener)
		}
		return domain.EnrichmentUpdate{}, fmt.Errorf("refresh pair %s: %w", pairAddress, err)
	}
	c.limiter.RecordSuccess(ratelimit.ServiceDexScreener)

	u := UpdateFromPair(mint, *pair)
	c.tiered.Store(u)
	c.merge(u)
	return u, nil
}

// Submit schedules an asynchronous enrichment of mint.
func (c *Client) Submit(ctx context.Context, mint string) {
	c.pool.Submit(func() {
		if _, err := c.Enrich(ctx, mint); err != nil && ctx.Err() == nil {
			c.logger.Debug("enrichment failed", zap.String("mint", mint), zap.Error(err))
		}
	})
}

// EnrichMany enriches mints concurrently and waits for all of them.
// Per-mint failures are logged, not returned.
func (c *Client) EnrichMany(ctx context.Context, mints []string) error {
	group := c.pool.NewGroup()
	for _, mint := range mints {
		group.Submit(func() {
			if _, err := c.Enrich(ctx, mint); err != nil && ctx.Err() == nil {
				c.logger.Debug("enrichment failed", zap.String("mint", mint), zap.Error(err))
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return ctx.Err()
}

// Close waits for queued enrichments to finish.
func (c *Client) Close() {
	c.pool.StopAndWait()
}

func (c *Client) graduated(mint string) bool {
	r, ok := c.merger.(recordReader)
	if !ok {
		return false
	}
	rec, found := r.Get(mint)
	return found && rec.IsGraduated
}

func (c *Client) merge(u domain.EnrichmentUpdate) {
	if c.merger != nil {
		c.merger.ApplyEnrichment(u)
	}
}
