package ingestion

import (
	"context"
	"sync"
	"sync/atomic"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

const (
	testMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testTrader = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	pumpFunID  = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	raydiumID  = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

func createLogs(mint string) []string {
	return []string{
		"Program " + pumpFunID + " invoke [1]",
		"Program log: Instruction: Create",
		"Program log: mint=" + mint,
		"Program " + pumpFunID + " success",
	}
}

func buyLogs() []string {
	return []string{
		"Program " + pumpFunID + " invoke [1]",
		"Program log: Instruction: Buy",
		"Program " + pumpFunID + " success",
	}
}

// fakeWS is a controllable solana.WSClient.
type fakeWS struct {
	mu           sync.Mutex
	subs         map[string]chan solana.LogNotification
	fatal        chan error
	closed       bool
	subscribeErr error
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		subs:  make(map[string]chan solana.LogNotification),
		fatal: make(chan error, 1),
	}
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	ch := make(chan solana.LogNotification, 64)
	f.subs[filter.Mentions[0]] = ch
	return ch, nil
}

func (f *fakeWS) Fatal() <-chan error { return f.fatal }

func (f *fakeWS) Close() error {
	f.closeSubs()
	return nil
}

func (f *fakeWS) closeSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
}

func (f *fakeWS) push(program string, n solana.LogNotification) {
	f.mu.Lock()
	ch := f.subs[program]
	f.mu.Unlock()
	ch <- n
}

func (f *fakeWS) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// fakeResolver returns canned details and counts calls.
type fakeResolver struct {
	mu      sync.Mutex
	details map[string]*domain.TxDetail
	calls   atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, signature string) (*domain.TxDetail, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.details[signature], nil
}

// recordingEnricher records submitted mints.
type recordingEnricher struct {
	mu        sync.Mutex
	submitted []string
	many      [][]string
}

func (e *recordingEnricher) Submit(_ context.Context, mint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, mint)
}

func (e *recordingEnricher) EnrichMany(_ context.Context, mints []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.many = append(e.many, mints)
	return nil
}

func (e *recordingEnricher) Submitted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.submitted...)
}

// recordingWriter collects events passed to sinks.
type recordingWriter struct {
	mu     sync.Mutex
	events []domain.ChainEvent
}

func (w *recordingWriter) Add(ev domain.ChainEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return true
}

func (w *recordingWriter) Kinds() []domain.EventKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.EventKind, 0, len(w.events))
	for _, ev := range w.events {
		out = append(out, ev.Kind())
	}
	return out
}

func strPtr(s string) *string                { return &s }
func f64Ptr(v float64) *float64              { return &v }
func sidePtr(s domain.Side) *domain.Side { return &s }
