// Package resolver turns transaction signatures into TxDetail values using
// a cache, in-flight deduplication, an optional batched enhanced endpoint
// and a breaker-gated RPC fallback.
package resolver

import (
	"context"
	"errors"
	"time"

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
	DefaultCacheTTL       = 10 * time.Minute
	DefaultCacheSize      = 20000
	DefaultBatchWindow    = 200 * time.Millisecond
	DefaultBatchSize      = 100
	DefaultRequestTimeout = 15 * time.Second
)

var errBatcherClosed = errors.New("batcher closed")

// Config configures a Resolver.
type Config struct {
	CacheTTL  time.Duration
	CacheSize int
	// EnhancedURL enables the batched enhanced-transactions path when set.
	EnhancedURL    string
	BatchWindow    time.Duration
	BatchSize      int
	RequestTimeout time.Duration
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL:       DefaultCacheTTL,
		CacheSize:      DefaultCacheSize,
		BatchWindow:    DefaultBatchWindow,
		BatchSize:      DefaultBatchSize,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Resolver resolves signatures to transaction details.
type Resolver struct {
	cfg      Config
	rpc      solana.RPCClient
	limiter  *ratelimit.Limiter
	cache    *cache.TTL[string, *domain.TxDetail]
	group    singleflight.Group
	enhanced *enhancedClient
	batcher  *batcher
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New creates a Resolver. limiter must not be nil.
func New(cfg Config, rpc solana.RPCClient, limiter *ratelimit.Limiter, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	def := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = def.BatchWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		cfg:     cfg,
		rpc:     rpc,
		limiter: limiter,
		cache:   cache.NewTTL[string, *domain.TxDetail](cfg.CacheTTL, cfg.CacheSize),
		logger:  logger.Named("resolver"),
		metrics: metrics,
	}
	if cfg.EnhancedURL != "" {
		r.enhanced = newEnhancedClient(cfg.EnhancedURL, cfg.RequestTimeout)
		r.batcher = newBatcher(cfg.BatchWindow, cfg.BatchSize, r.flushBatch)
	}
	return r
}

// WithClock replaces the cache time source.
func (r *Resolver) WithClock(nowFn func() time.Time) *Resolver {
	r.cache.WithClock(nowFn)
	return r
}

// Resolve returns the detail for signature. A nil detail with a nil error
// means the transaction could not be resolved. The only errors returned
// come from ctx.
func (r *Resolver) Resolve(ctx context.Context, signature string) (*domain.TxDetail, error) {
	if d, ok := r.cache.Get(signature); ok {
		r.metrics.RecordResolver("cache")
		return d, nil
	}

	ch := r.group.DoChan(signature, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RequestTimeout)
		defer cancel()
		d := r.resolve(callCtx, signature)
		if d != nil {
			r.cache.Set(signature, d)
		}
		return d, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		d, _ := res.Val.(*domain.TxDetail)
		return d, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, signature string) *domain.TxDetail {
	if r.batcher != nil {
		select {
		case res := <-r.batcher.add(signature):
			if res.err == nil {
				return res.detail
			}
		case <-ctx.Done():
			return nil
		}
	}
	return r.resolveRPC(ctx, signature)
}

// resolveRPC fetches the transaction directly, gated by the rpc breaker.
func (r *Resolver) resolveRPC(ctx context.Context, signature string) *domain.TxDetail {
	if r.limiter.BreakerOpen(ratelimit.ServiceRPC) {
		r.metrics.RecordResolver("breaker_open")
		return nil
	}
	r.limiter.WaitIfNeeded(ctx, ratelimit.ServiceRPC, 0)

	tx, err := r.rpc.GetTransaction(ctx, signature)
	if err != nil {
		if errors.Is(err, solana.ErrRateLimited) {
			r.limiter.RecordRateLimited(ratelimit.ServiceRPC)
		} else {
			r.logger.Debug("getTransaction failed", zap.String("signature", signature), zap.Error(err))
		}
		r.metrics.RecordResolver("rpc_error")
		return nil
	}
	r.limiter.RecordSuccess(ratelimit.ServiceRPC)
	r.metrics.RecordResolver("rpc")

	d := ExtractDetail(tx)
	if d == nil {
		r.metrics.RecordResolver("miss")
	}
	return d
}

// flushBatch sends one enhanced request for the batch and routes every
// member to the RPC fallback if it fails.
func (r *Resolver) flushBatch(batch []batchRequest) {
	r.metrics.RecordBatch(len(batch))

	sigs := make([]string, len(batch))
	for i, req := range batch {
		sigs[i] = req.signature
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
	defer cancel()

	var txs []*enhancedTx
	err := ratelimit.ErrCircuitOpen
	if r.limiter.BreakerOpen(ratelimit.ServiceEnhanced) {
		r.metrics.RecordResolver("enhanced_breaker_open")
	} else {
		r.limiter.WaitIfNeeded(ctx, ratelimit.ServiceEnhanced, 0)
		txs, err = r.enhanced.fetch(ctx, sigs)
		switch {
		case errors.Is(err, errEnhancedRateLimited):
			r.limiter.RecordRateLimited(ratelimit.ServiceEnhanced)
		case err != nil:
			r.logger.Debug("enhanced batch failed", zap.Int("size", len(batch)), zap.Error(err))
		default:
			r.limiter.RecordSuccess(ratelimit.ServiceEnhanced)
		}
	}

	for i, req := range batch {
		if err != nil {
			req.done <- batchResult{err: err}
			continue
		}
		r.metrics.RecordResolver("batch")
		req.done <- batchResult{detail: txs[i].toDetail(req.signature)}
	}
}

// Sweep evicts expired cache entries.
func (r *Resolver) Sweep() int {
	return r.cache.Sweep()
}

// Close flushes pending batches.
func (r *Resolver) Close() {
	if r.batcher != nil {
		r.batcher.close()
	}
}
