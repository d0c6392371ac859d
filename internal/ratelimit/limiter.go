// Package ratelimit enforces per-service request budgets and trips a circuit
// breaker when an upstream keeps answering with rate-limit responses.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-feed/internal/observability"
)

// Well-known service names.
const (
	ServiceRPC         = "rpc"
	ServiceEnhanced    = "enhanced"
	ServiceDexScreener = "dexscreener"
	ServiceMetadata    = "metadata"
)

// ServiceConfig is the budget and breaker policy for one upstream.
type ServiceConfig struct {
	MaxRequests      int           // requests admitted per window
	Window           time.Duration // trailing window length
	BreakerThreshold int           // consecutive rate-limit failures before opening
	CoolDown         time.Duration // how long the breaker stays open
}

// DefaultServiceConfig applies to services without an explicit entry.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxRequests:      10,
		Window:           time.Second,
		BreakerThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// Config configures a Limiter.
type Config struct {
	Services       map[string]ServiceConfig
	Default        ServiceConfig
	MaxAttempts    int           // WaitIfNeeded attempts before giving up (default: 5)
	InitialBackoff time.Duration // first WaitIfNeeded backoff (default: 100ms)
	MaxBackoff     time.Duration // backoff ceiling (default: 2s)
}

// Limiter tracks a sliding request window and a breaker per service.
type Limiter struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	services map[string]*serviceState

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

type serviceState struct {
	cfg      ServiceConfig
	requests []time.Time
	breaker  *Breaker
	// inBurst suppresses repeated rate-limit warnings until the next success.
	inBurst bool
}

// New creates a Limiter. logger and metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Limiter {
	if cfg.Default.MaxRequests <= 0 {
		cfg.Default = DefaultServiceConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:      cfg,
		logger:   logger.Named("ratelimit"),
		metrics:  metrics,
		services: make(map[string]*serviceState),
		nowFn:    time.Now,
		sleepFn:  sleepContext,
	}
}

// WithClock overrides the time source and sleep function. Intended for tests.
func (l *Limiter) WithClock(nowFn func() time.Time, sleepFn func(ctx context.Context, d time.Duration) error) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = nowFn
	if sleepFn != nil {
		l.sleepFn = sleepFn
	}
	for _, st := range l.services {
		st.breaker.nowFn = nowFn
	}
	return l
}

func (l *Limiter) state(service string) *serviceState {
	st, ok := l.services[service]
	if ok {
		return st
	}

	cfg, ok := l.cfg.Services[service]
	if !ok {
		cfg = l.cfg.Default
	}
	st = &serviceState{cfg: cfg}
	st.breaker = NewBreaker(BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		CoolDown:         cfg.CoolDown,
		OnStateChange: func(from, to State) {
			l.metrics.SetBreakerState(service, int(to))
			l.logger.Info("circuit breaker state change",
				zap.String("service", service),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	st.breaker.nowFn = l.nowFn
	l.services[service] = st
	return st
}

// prune drops timestamps outside the trailing window.
func (st *serviceState) prune(now time.Time) {
	cutoff := now.Add(-st.cfg.Window)
	i := 0
	for i < len(st.requests) && !st.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.requests = append(st.requests[:0], st.requests[i:]...)
	}
}

// CanProceed reports whether a call to service would be admitted now.
// It is false while the service breaker is open.
func (l *Limiter) CanProceed(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(service)
	if st.breaker.Allow() != nil {
		return false
	}
	st.prune(l.nowFn())
	return len(st.requests) < st.cfg.MaxRequests
}

// BreakerOpen reports whether the breaker for service is currently open.
func (l *Limiter) BreakerOpen(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(service).breaker.Allow() != nil
}

// Record counts a request against the service window.
func (l *Limiter) Record(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(service)
	st.requests = append(st.requests, l.nowFn())
}

// WaitIfNeeded blocks until service admits a request, then records it.
// It backs off exponentially up to the configured attempt limit, each step
// capped at maxWait (the configured MaxBackoff when zero); on exhaustion it
// returns false and the caller proceeds degraded.
func (l *Limiter) WaitIfNeeded(ctx context.Context, service string, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = l.cfg.MaxBackoff
	}
	backoff := min(l.cfg.InitialBackoff, maxWait)
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if l.tryAdmit(service) {
			if attempt > 0 {
				l.metrics.RecordWait(service, "admitted")
			}
			return true
		}

		if err := l.sleepFn(ctx, backoff); err != nil {
			l.metrics.RecordWait(service, "cancelled")
			return false
		}
		backoff = min(backoff*2, maxWait)
	}

	l.metrics.RecordWait(service, "exhausted")
	l.logger.Debug("rate limit wait exhausted, proceeding",
		zap.String("service", service),
		zap.Int("attempts", l.cfg.MaxAttempts))
	l.Record(service)
	return false
}

func (l *Limiter) tryAdmit(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(service)
	if st.breaker.Allow() != nil {
		return false
	}
	now := l.nowFn()
	st.prune(now)
	if len(st.requests) >= st.cfg.MaxRequests {
		return false
	}
	st.requests = append(st.requests, now)
	return true
}

// RecordRateLimited registers an upstream 429 for service. Only the first
// one of a burst is logged at warn level.
func (l *Limiter) RecordRateLimited(service string) {
	l.mu.Lock()
	st := l.state(service)
	st.breaker.RecordFailure()
	first := !st.inBurst
	st.inBurst = true
	failures := st.breaker.Failures()
	l.mu.Unlock()

	l.metrics.RecordRateLimited(service)
	if first {
		l.logger.Warn("upstream rate limited", zap.String("service", service))
		return
	}
	l.logger.Debug("upstream rate limited", zap.String("service", service), zap.Int("consecutive", failures))
}

// RecordSuccess registers a successful upstream call for service.
func (l *Limiter) RecordSuccess(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(service)
	st.breaker.RecordSuccess()
	st.inBurst = false
}

// State returns the breaker state of service.
func (l *Limiter) State(service string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(service).breaker.State()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
