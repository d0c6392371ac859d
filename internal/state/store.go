// Package state holds the in-memory token records and notifies subscribers
// when they change.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/observability"
)

// Defaults.
const (
	DefaultDebounce            = 750 * time.Millisecond
	DefaultMaxDebounce         = 3 * time.Second
	DefaultNewThreshold        = 30 * time.Minute
	DefaultTrendingTrades5m    = 20
	DefaultTrendingVolumeSOL5m = 50.0
	DefaultGraduatingMarketCap = 60_000.0
	DefaultSubscriberBuffer    = 256
)

// Config configures a Store.
type Config struct {
	// Debounce is the quiet period before a change is broadcast.
	Debounce time.Duration
	// MaxDebounce caps how long a busy token can go without a broadcast.
	MaxDebounce         time.Duration
	NewThreshold        time.Duration
	TrendingTrades5m    int64
	TrendingVolumeSOL5m float64
	// GraduatingMarketCap is the USD market cap above which a token still
	// on its bonding curve is flagged as graduating.
	GraduatingMarketCap float64
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:            DefaultDebounce,
		MaxDebounce:         DefaultMaxDebounce,
		NewThreshold:        DefaultNewThreshold,
		TrendingTrades5m:    DefaultTrendingTrades5m,
		TrendingVolumeSOL5m: DefaultTrendingVolumeSOL5m,
		GraduatingMarketCap: DefaultGraduatingMarketCap,
	}
}

type entry struct {
	rec     domain.TokenRecord
	windows tradeWindows

	// Pending broadcast.
	timer        *time.Timer
	gen          uint64
	pendingSince time.Time
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan domain.TokenRecord
	closed bool
}

// send delivers rec without blocking. It reports false when the
// subscriber's buffer is full.
func (s *subscriber) send(rec domain.TokenRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- rec:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Store is the token state store. Safe for concurrent use.
type Store struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	nowFn   func() time.Time

	mu     sync.Mutex
	tokens map[string]*entry
	closed bool

	subs   *xsync.Map[uint64, *subscriber]
	nextID atomic.Uint64
}

// New creates a Store.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Store {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxDebounce < cfg.Debounce {
		cfg.MaxDebounce = 4 * cfg.Debounce
	}
	if cfg.NewThreshold <= 0 {
		cfg.NewThreshold = def.NewThreshold
	}
	if cfg.TrendingTrades5m <= 0 {
		cfg.TrendingTrades5m = def.TrendingTrades5m
	}
	if cfg.TrendingVolumeSOL5m <= 0 {
		cfg.TrendingVolumeSOL5m = def.TrendingVolumeSOL5m
	}
	if cfg.GraduatingMarketCap <= 0 {
		cfg.GraduatingMarketCap = def.GraduatingMarketCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger.Named("state"),
		metrics: metrics,
		nowFn:   time.Now,
		tokens:  make(map[string]*entry),
		subs:    xsync.NewMap[uint64, *subscriber](),
	}
}

// WithClock replaces the time source used for records and windows.
// Debounce timers always use wall time.
func (s *Store) WithClock(nowFn func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = nowFn
	return s
}

// Apply merges a chain event into the store.
func (s *Store) Apply(ev domain.ChainEvent) {
	if ev == nil || ev.TokenMint() == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.nowFn()
	e, created := s.getOrCreate(ev.TokenMint(), eventTime(ev, now), now)

	// New tokens and graduations are broadcast at once, everything else is debounced.
	immediate := created && ev.Kind() == domain.KindNewToken
	switch v := ev.(type) {
	case domain.NewTokenEvent:
		s.applyNewToken(e, v)
	case domain.TradeEvent:
		s.applyTrade(e, v, now)
	case domain.GraduationEvent:
		s.applyGraduation(e, v)
		immediate = true
	case domain.UpdateEvent:
		s.applyUpdate(e, v)
	}
	e.rec.UpdatedAt = now.UnixMilli()

	var snap *domain.TokenRecord
	if immediate {
		snap = s.takeSnapshot(e, now)
	} else {
		s.schedule(e, now)
	}
	n := len(s.tokens)
	s.mu.Unlock()

	s.metrics.SetTrackedTokens(n)
	if snap != nil {
		s.broadcast(*snap)
	}
}

// ApplyEnrichment merges market data or metadata. Empty fields in u never
// overwrite existing values.
func (s *Store) ApplyEnrichment(u domain.EnrichmentUpdate) {
	if u.Mint == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.nowFn()
	createdAt := now.UnixMilli()
	if u.PairCreated > 0 && u.PairCreated < createdAt {
		createdAt = u.PairCreated
	}
	e, _ := s.getOrCreate(u.Mint, createdAt, now)
	r := &e.rec

	setString(&r.Name, u.Name)
	setString(&r.Symbol, u.Symbol)
	setString(&r.Image, u.Image)
	setString(&r.URI, u.URI)
	setString(&r.Description, u.Description)
	setFloat(&r.PriceUSD, u.PriceUSD)
	setFloat(&r.PriceSOL, u.PriceSOL)
	if u.PriceChange != nil {
		r.PriceChange = *u.PriceChange
	}
	if u.VolumeUSD != nil {
		r.VolumeUSD = *u.VolumeUSD
	}
	setFloat(&r.Liquidity, u.Liquidity)
	setFloat(&r.MarketCap, u.MarketCap)
	if u.Holders > 0 {
		r.Holders = u.Holders
	}
	setString(&r.PairAddress, u.PairAddress)
	if u.Source != "" && !(r.IsGraduated && !u.Source.IsAMM()) {
		if u.Source.IsAMM() && r.Source == domain.SourcePumpFun {
			r.IsGraduated = true
		}
		r.Source = u.Source
	}
	r.UpdatedAt = now.UnixMilli()

	s.schedule(e, now)
	n := len(s.tokens)
	s.mu.Unlock()
	s.metrics.SetTrackedTokens(n)
}

// getOrCreate must be called with mu held.
func (s *Store) getOrCreate(mint string, createdAt int64, now time.Time) (*entry, bool) {
	if e, ok := s.tokens[mint]; ok {
		return e, false
	}
	if createdAt <= 0 {
		createdAt = now.UnixMilli()
	}
	e := &entry{rec: domain.TokenRecord{
		Mint:      mint,
		Source:    domain.SourceUnknown,
		CreatedAt: createdAt,
		UpdatedAt: now.UnixMilli(),
	}}
	s.tokens[mint] = e
	return e, true
}

func (s *Store) applyNewToken(e *entry, ev domain.NewTokenEvent) {
	r := &e.rec
	if ev.Name != nil {
		setString(&r.Name, *ev.Name)
	}
	if ev.Symbol != nil {
		setString(&r.Symbol, *ev.Symbol)
	}
	setString(&r.Creator, ev.Creator)
	if ev.BondingCurve != nil {
		setString(&r.BondingCurve, *ev.BondingCurve)
	}
	if ev.Timestamp > 0 && ev.Timestamp < r.CreatedAt {
		r.CreatedAt = ev.Timestamp
	}
	if (r.Source == domain.SourceUnknown || r.Source == "") && ev.Source != "" {
		r.Source = ev.Source
	}
}

func (s *Store) applyTrade(e *entry, ev domain.TradeEvent, now time.Time) {
	r := &e.rec
	at := now
	if ev.Timestamp > 0 {
		at = time.UnixMilli(ev.Timestamp)
	}
	e.windows.add(at, ev.Side, ev.AmountSol)
	e.windows.prune(now)
	if ms := at.UnixMilli(); ms >= r.LastTradeAt {
		r.LastTradeAt = ms
		if ev.Price != nil && *ev.Price > 0 {
			r.PriceSOL = *ev.Price
		}
	}
	if (r.Source == domain.SourceUnknown || r.Source == "") && ev.Source != "" {
		r.Source = ev.Source
	}
}

func (s *Store) applyGraduation(e *entry, ev domain.GraduationEvent) {
	r := &e.rec
	r.IsGraduated = true
	r.IsGraduating = false
	if ev.Pool != nil {
		setString(&r.PairAddress, *ev.Pool)
	}
	if ev.Liquidity != nil {
		setFloat(&r.Liquidity, *ev.Liquidity)
	}
	if ev.Source.IsAMM() {
		r.Source = ev.Source
	} else if !r.Source.IsAMM() {
		r.Source = domain.SourcePumpSwap
	}
}

func (s *Store) applyUpdate(e *entry, ev domain.UpdateEvent) {
	r := &e.rec
	if ev.MarketCap != nil {
		setFloat(&r.MarketCap, *ev.MarketCap)
	}
	if ev.Liquidity != nil {
		setFloat(&r.Liquidity, *ev.Liquidity)
	}
	if ev.Holders != nil && *ev.Holders > 0 {
		r.Holders = *ev.Holders
	}
	if ev.Price != nil {
		setFloat(&r.PriceSOL, *ev.Price)
	}
}

// schedule arms the debounce timer for e. Must be called with mu held.
func (s *Store) schedule(e *entry, now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
	} else {
		e.pendingSince = now
	}
	e.gen++
	gen, mint := e.gen, e.rec.Mint

	delay := s.cfg.Debounce
	if waited := now.Sub(e.pendingSince); waited+delay > s.cfg.MaxDebounce {
		delay = s.cfg.MaxDebounce - waited
		if delay < 0 {
			delay = 0
		}
	}
	e.timer = time.AfterFunc(delay, func() { s.flush(mint, gen) })
}

func (s *Store) flush(mint string, gen uint64) {
	s.mu.Lock()
	e, ok := s.tokens[mint]
	if !ok || s.closed || e.gen != gen || e.timer == nil {
		s.mu.Unlock()
		return
	}
	snap := s.takeSnapshot(e, s.nowFn())
	s.mu.Unlock()
	s.broadcast(*snap)
}

// takeSnapshot cancels any pending broadcast for e and returns its current
// view. Must be called with mu held.
func (s *Store) takeSnapshot(e *entry, now time.Time) *domain.TokenRecord {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	rec := s.view(e, now)
	return &rec
}

// view computes the derived fields of e at now. Must be called with mu held.
func (s *Store) view(e *entry, now time.Time) domain.TokenRecord {
	rec := e.rec
	rec.Refresh(now, s.cfg.NewThreshold)
	rec.Txns, rec.VolumeSOL = e.windows.stats(now)

	trades5m := rec.Txns.Buys.M5 + rec.Txns.Sells.M5
	rec.IsTrending = trades5m >= s.cfg.TrendingTrades5m || rec.VolumeSOL.M5 >= s.cfg.TrendingVolumeSOL5m
	rec.IsGraduating = !rec.IsGraduated && rec.MarketCap >= s.cfg.GraduatingMarketCap
	rec.RiskScore = riskScore(&rec)
	return rec
}

func (s *Store) broadcast(rec domain.TokenRecord) {
	s.metrics.RecordBroadcast()
	s.subs.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.send(rec) {
			s.metrics.RecordSubscriberDrop()
		}
		return true
	})
}

// Subscribe registers a listener for record changes. Values are dropped,
// not queued, when the buffer is full. The returned func unsubscribes and
// closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan domain.TokenRecord, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan domain.TokenRecord, buffer)}
	id := s.nextID.Add(1)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.subs.Store(id, sub)
	}
	s.mu.Unlock()
	if closed {
		sub.close()
		return sub.ch, func() {}
	}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.subs.Delete(id)
			sub.close()
		})
	}
}

// Get returns the current view of mint.
func (s *Store) Get(mint string) (domain.TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[mint]
	if !ok {
		return domain.TokenRecord{}, false
	}
	return s.view(e, s.nowFn()), true
}

// Query returns the records matching f, newest first unless f.SortBy says
// otherwise. Derived fields are computed at call time.
func (s *Store) Query(f domain.TokenFilter) []domain.TokenRecord {
	s.mu.Lock()
	now := s.nowFn()
	out := make([]domain.TokenRecord, 0, len(s.tokens))
	for _, e := range s.tokens {
		rec := s.view(e, now)
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()

	sortRecords(out, f.SortBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(r domain.TokenRecord, f domain.TokenFilter) bool {
	switch {
	case f.OnlyNew && !r.IsNew:
		return false
	case f.OnlyGraduating && !r.IsGraduating:
		return false
	case f.OnlyGraduated && !r.IsGraduated:
		return false
	case f.OnlyTrending && !r.IsTrending:
		return false
	case f.MinLiquidity > 0 && r.Liquidity < f.MinLiquidity:
		return false
	case f.MaxAge > 0 && r.Age > f.MaxAge:
		return false
	case f.Source != "" && r.Source != f.Source:
		return false
	}
	return true
}

func sortRecords(recs []domain.TokenRecord, by domain.SortKey) {
	var less func(a, b *domain.TokenRecord) bool
	switch by {
	case domain.SortVolume:
		less = func(a, b *domain.TokenRecord) bool {
			if a.VolumeUSD.H24 != b.VolumeUSD.H24 {
				return a.VolumeUSD.H24 > b.VolumeUSD.H24
			}
			return a.VolumeSOL.H24 > b.VolumeSOL.H24
		}
	case domain.SortLiquidity:
		less = func(a, b *domain.TokenRecord) bool { return a.Liquidity > b.Liquidity }
	case domain.SortMarketCap:
		less = func(a, b *domain.TokenRecord) bool { return a.MarketCap > b.MarketCap }
	default:
		less = func(a, b *domain.TokenRecord) bool { return false }
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.Mint < b.Mint
	})
}

// Sweep drops trade buckets older than the 24h window and returns how many
// were removed. Records themselves are never deleted; old tokens only fall
// out of queries bounded by MaxAge or OnlyNew.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.nowFn()
	removed := 0
	for _, e := range s.tokens {
		removed += e.windows.prune(now)
	}
	n := len(s.tokens)
	s.mu.Unlock()

	s.metrics.SetTrackedTokens(n)
	if removed > 0 {
		s.logger.Debug("swept trade buckets", zap.Int("removed", removed), zap.Int("tokens", n))
	}
	return removed
}

// Mints returns the tracked mints matching f.
func (s *Store) Mints(f domain.TokenFilter) []string {
	recs := s.Query(f)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Mint
	}
	return out
}

// Len returns the number of tracked tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close cancels pending broadcasts and closes every subscriber channel.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, e := range s.tokens {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	s.mu.Unlock()

	s.subs.Range(func(id uint64, sub *subscriber) bool {
		s.subs.Delete(id)
		sub.close()
		return true
	})
}

func eventTime(ev domain.ChainEvent, now time.Time) int64 {
	switch v := ev.(type) {
	case domain.NewTokenEvent:
		return v.Timestamp
	case domain.TradeEvent:
		return v.Timestamp
	case domain.GraduationEvent:
		return v.Timestamp
	}
	return now.UnixMilli()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
