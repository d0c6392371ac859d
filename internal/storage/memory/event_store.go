package memory

import (
	"context"
	"sync"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/idhash"
	"solana-token-feed/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventSink.
// Events are deduplicated by their deterministic id.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.ChainEvent
	seen   map[string]struct{}
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{seen: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.EventSink = (*EventStore)(nil)

// WriteEvents appends events not already stored.
func (s *EventStore) WriteEvents(_ context.Context, events []domain.ChainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		id := eventKey(ev)
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.events = append(s.events, ev)
	}
	return nil
}

// Events returns a copy of all stored events in write order.
func (s *EventStore) Events() []domain.ChainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChainEvent(nil), s.events...)
}

// Trades returns the stored trades for mint in write order.
func (s *EventStore) Trades(mint string) []domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeEvent
	for _, ev := range s.events {
		if t, ok := ev.(domain.TradeEvent); ok && t.Mint == mint {
			out = append(out, t)
		}
	}
	return out
}

func eventKey(ev domain.ChainEvent) string {
	if t, ok := ev.(domain.TradeEvent); ok {
		return idhash.ComputeTradeID(t.Signature, t.Mint, t.Side)
	}
	return idhash.ComputeEventID(ev)
}
