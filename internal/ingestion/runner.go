package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"solana-token-feed/internal/cache"
	"solana-token-feed/internal/discovery"
	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/observability"
)

// Defaults.
const (
	DefaultResolveDelay     = 400 * time.Millisecond
	DefaultWorkers          = 16
	DefaultQueueSize        = 4096
	DefaultDedupTTL         = 10 * time.Minute
	DefaultSweepSchedule    = "@every 1m"
	DefaultTrendingSchedule = "@every 1m"
	DefaultTrendingLimit    = 50

	processedCapacity = 100_000
)

// ErrSubscriptionClosed is returned by Run when the log stream ends
// without a terminal error.
var ErrSubscriptionClosed = errors.New("ingestion: subscription closed")

// DetailResolver fetches transaction details for a signature.
type DetailResolver interface {
	Resolve(ctx context.Context, signature string) (*domain.TxDetail, error)
}

// Enricher schedules market-data enrichment.
type Enricher interface {
	Submit(ctx context.Context, mint string)
	EnrichMany(ctx context.Context, mints []string) error
}

// TokenStore receives typed events.
type TokenStore interface {
	Apply(ev domain.ChainEvent)
	Mints(f domain.TokenFilter) []string
}

// EventWriter accepts events for write-behind persistence without blocking.
type EventWriter interface {
	Add(ev domain.ChainEvent) bool
}

// Sweeper reclaims expired entries and reports how many it removed.
type Sweeper func() int

// Config tunes the runner.
type Config struct {
	ResolveDelay     time.Duration
	Workers          int
	QueueSize        int
	DedupTTL         time.Duration
	SweepSchedule    string
	TrendingSchedule string
	TrendingLimit    int
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		ResolveDelay:     DefaultResolveDelay,
		Workers:          DefaultWorkers,
		QueueSize:        DefaultQueueSize,
		DedupTTL:         DefaultDedupTTL,
		SweepSchedule:    DefaultSweepSchedule,
		TrendingSchedule: DefaultTrendingSchedule,
		TrendingLimit:    DefaultTrendingLimit,
	}
}

// Options wires the runner's collaborators. Subscriber, Resolver and Store
// are required.
type Options struct {
	Subscriber *Subscriber
	Resolver   DetailResolver
	Enricher   Enricher
	Store      TokenStore
	Seen       *discovery.SeenMints
	Sinks      []EventWriter
	Sweepers   map[string]Sweeper
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Runner drives the pipeline: classify each notification, apply what is
// known immediately, then resolve, apply the typed event and enrich.
type Runner struct {
	cfg       Config
	sub       *Subscriber
	resolver  DetailResolver
	enricher  Enricher
	store     TokenStore
	seen      *discovery.SeenMints
	sinks     []EventWriter
	sweepers  map[string]Sweeper
	processed *cache.TTL[string, struct{}]
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewRunner creates a runner. Zero config fields take defaults.
func NewRunner(cfg Config, opts Options) *Runner {
	def := DefaultConfig()
	if cfg.ResolveDelay < 0 {
		cfg.ResolveDelay = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = def.SweepSchedule
	}
	if cfg.TrendingSchedule == "" {
		cfg.TrendingSchedule = def.TrendingSchedule
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = def.TrendingLimit
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := opts.Seen
	if seen == nil {
		seen = discovery.NewSeenMints(0)
	}

	return &Runner{
		cfg:       cfg,
		sub:       opts.Subscriber,
		resolver:  opts.Resolver,
		enricher:  opts.Enricher,
		store:     opts.Store,
		seen:      seen,
		sinks:     opts.Sinks,
		sweepers:  opts.Sweepers,
		processed: cache.NewTTL[string, struct{}](cfg.DedupTTL, processedCapacity),
		logger:    logger.Named("runner"),
		metrics:   opts.Metrics,
	}
}

// Run starts the subscriber and processes notifications until ctx is
// cancelled or the subscription fails terminally. A terminal subscription
// error is returned as is; cancellation returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	if err := r.sub.Start(ctx); err != nil {
		return err
	}

	pool := pond.NewPool(r.cfg.Workers, pond.WithQueueSize(r.cfg.QueueSize), pond.WithContext(ctx))
	scheduler, err := r.schedule(ctx)
	if err != nil {
		_ = r.sub.Stop()
		pool.StopAndWait()
		return err
	}
	scheduler.Start()

	defer func() {
		<-scheduler.Stop().Done()
		if err := r.sub.Stop(); err != nil {
			r.logger.Debug("subscriber stop", zap.Error(err))
		}
		pool.StopAndWait()
		r.logger.Info("runner stopped")
	}()

	r.logger.Info("runner started",
		zap.Duration("resolve_delay", r.cfg.ResolveDelay),
		zap.Int("workers", r.cfg.Workers))

	notifications := r.sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-r.sub.Errors():
			return err

		case raw, ok := <-notifications:
			if !ok {
				select {
				case err := <-r.sub.Errors():
					return err
				default:
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			if cls, ok := r.classify(raw); ok {
				pool.Submit(func() { r.process(ctx, cls) })
			}
		}
	}
}

// classify runs the classifier, drops duplicates and applies the immediate
// event. It reports whether the candidate needs resolution.
func (r *Runner) classify(raw discovery.RawLog) (discovery.Classification, bool) {
	cls := discovery.Classify(raw, r.seen)
	if !cls.Matched() {
		return cls, false
	}
	r.metrics.RecordClassified(string(cls.Kind))

	// A transaction mentioning several watched programs arrives once per
	// subscription.
	key := string(cls.Kind) + "|" + cls.Signature
	if r.processed.Fresh(key) {
		r.metrics.RecordLogDropped("duplicate")
		return cls, false
	}
	r.processed.Set(key, struct{}{})

	if cls.Kind == domain.KindNewToken && cls.Mint != nil {
		r.seen.Add(*cls.Mint)
		r.emit(domain.NewTokenEvent{
			Mint:      *cls.Mint,
			Signature: cls.Signature,
			Timestamp: cls.ReceivedAt,
			Source:    cls.Source,
		})
	}
	return cls, true
}

// process resolves a candidate after the configured delay, giving the
// transaction time to become queryable.
func (r *Runner) process(ctx context.Context, cls discovery.Classification) {
	if r.cfg.ResolveDelay > 0 {
		timer := time.NewTimer(r.cfg.ResolveDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	detail, err := r.resolver.Resolve(ctx, cls.Signature)
	if err != nil {
		return
	}

	ev, ok := BuildEvent(cls, detail)
	if ok {
		r.emit(ev)
	} else {
		r.metrics.RecordUnresolved(string(cls.Kind))
		r.logger.Debug("candidate not resolvable",
			zap.String("kind", string(cls.Kind)),
			zap.String("signature", cls.Signature))
	}

	mint := candidateMint(cls, detail)
	if mint == "" || r.enricher == nil {
		return
	}
	switch cls.Kind {
	case domain.KindNewToken:
		r.seen.Add(mint)
		r.enricher.Submit(ctx, mint)
	case domain.KindGraduation:
		r.enricher.Submit(ctx, mint)
	case domain.KindTrade:
		if ok {
			// Enrich skips mints whose caches are still fresh.
			r.enricher.Submit(ctx, mint)
		}
	}
}

func (r *Runner) emit(ev domain.ChainEvent) {
	r.store.Apply(ev)
	r.metrics.RecordEmitted(string(ev.Kind()))
	for _, s := range r.sinks {
		s.Add(ev)
	}
}

// schedule registers the periodic sweeps and the trending refresh.
func (r *Runner) schedule(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{r.logger.Sugar()})))

	if _, err := c.AddFunc(r.cfg.SweepSchedule, r.sweep); err != nil {
		return nil, err
	}

	if r.enricher != nil {
		_, err := c.AddFunc(r.cfg.TrendingSchedule, func() {
			mints := r.store.Mints(domain.TokenFilter{OnlyTrending: true, Limit: r.cfg.TrendingLimit})
			if len(mints) == 0 {
				return
			}
			if err := r.enricher.EnrichMany(ctx, mints); err != nil && ctx.Err() == nil {
				r.logger.Warn("trending refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (r *Runner) sweep() {
	r.metrics.RecordSweep("processed", r.processed.Sweep())
	r.metrics.RecordSweep("seen_mints", r.seen.Sweep())
	for name, fn := range r.sweepers {
		r.metrics.RecordSweep(name, fn())
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
