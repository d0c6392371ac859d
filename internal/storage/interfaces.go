// Package storage defines the write-behind sinks that persist what the
// pipeline produces. Nothing on the hot path reads from these sinks; the
// in-memory state store stays authoritative.
package storage

import (
	"context"

	"solana-token-feed/internal/domain"
)

// TokenSink persists token record snapshots. Implementations must treat
// UpsertTokens as idempotent: the same mint may arrive many times and the
// latest snapshot wins.
type TokenSink interface {
	UpsertTokens(ctx context.Context, records []domain.TokenRecord) error
}

// TokenReader loads a previously persisted snapshot.
type TokenReader interface {
	GetToken(ctx context.Context, mint string) (domain.TokenRecord, error)
}

// EventSink persists classified chain events. Implementations may ignore
// event kinds they do not store.
type EventSink interface {
	WriteEvents(ctx context.Context, events []domain.ChainEvent) error
}

// TokenSinkFunc adapts a function to TokenSink.
type TokenSinkFunc func(ctx context.Context, records []domain.TokenRecord) error

// UpsertTokens calls f.
func (f TokenSinkFunc) UpsertTokens(ctx context.Context, records []domain.TokenRecord) error {
	return f(ctx, records)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, events []domain.ChainEvent) error

// WriteEvents calls f.
func (f EventSinkFunc) WriteEvents(ctx context.Context, events []domain.ChainEvent) error {
	return f(ctx, events)
}
