package clickhouse

import (
	"context"
	"fmt"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/idhash"
	"solana-token-feed/internal/storage"
)

// EventStore implements storage.EventSink using ClickHouse. Trades go to the
// trades table, creations and graduations to token_lifecycle. Update events
// are not stored.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventSink = (*EventStore)(nil)

// Trade is a stored trade tick.
type Trade struct {
	TradeID      string
	Mint         string
	Signature    string
	TimestampMs  int64
	Trader       string
	Side         domain.Side
	AmountSol    float64
	AmountTokens float64
	Price        *float64
	Source       domain.Source
}

// WriteEvents appends events. Rows are keyed deterministically, so a
// repeated write collapses on merge instead of failing.
func (s *EventStore) WriteEvents(ctx context.Context, events []domain.ChainEvent) error {
	var (
		trades    []domain.TradeEvent
		lifecycle []domain.ChainEvent
	)
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.TradeEvent:
			trades = append(trades, e)
		case domain.NewTokenEvent, domain.GraduationEvent:
			lifecycle = append(lifecycle, e)
		}
	}

	if err := s.insertTrades(ctx, trades); err != nil {
		return err
	}
	return s.insertLifecycle(ctx, lifecycle)
}

func (s *EventStore) insertTrades(ctx context.Context, trades []domain.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			trade_id, mint, signature, timestamp_ms, trader, side,
			amount_sol, amount_tokens, price, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare trades batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			idhash.ComputeTradeID(t.Signature, t.Mint, t.Side),
			t.Mint, t.Signature, uint64(t.Timestamp), t.Trader, string(t.Side),
			t.AmountSol, t.AmountTokens, t.Price, string(t.Source),
		)
		if err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send trades batch: %w", err)
	}
	return nil
}

func (s *EventStore) insertLifecycle(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_lifecycle (
			event_id, kind, mint, signature, timestamp_ms, creator, pool, liquidity, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare lifecycle batch: %w", err)
	}

	for _, ev := range events {
		var (
			sig, creator, pool string
			ts                 int64
			liquidity          *float64
			source             domain.Source
		)
		switch e := ev.(type) {
		case domain.NewTokenEvent:
			sig, creator, ts, source = e.Signature, e.Creator, e.Timestamp, e.Source
		case domain.GraduationEvent:
			sig, ts, liquidity, source = e.Signature, e.Timestamp, e.Liquidity, e.Source
			if e.Pool != nil {
				pool = *e.Pool
			}
		}
		err = batch.Append(
			idhash.ComputeEventID(ev), string(ev.Kind()), ev.TokenMint(), sig,
			uint64(ts), creator, pool, liquidity, string(source),
		)
		if err != nil {
			return fmt.Errorf("append lifecycle event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send lifecycle batch: %w", err)
	}
	return nil
}

// TradesByMint returns the distinct trades for mint ordered by timestamp.
func (s *EventStore) TradesByMint(ctx context.Context, mint string) ([]Trade, error) {
	query := `
		SELECT trade_id, mint, signature, timestamp_ms, trader, side,
			amount_sol, amount_tokens, price, source
		FROM trades FINAL
		WHERE mint = ?
		ORDER BY timestamp_ms ASC, trade_id ASC
	`

	rows, err := s.conn.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("query trades by mint: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t            Trade
			ts           uint64
			side, source string
		)
		if err := rows.Scan(
			&t.TradeID, &t.Mint, &t.Signature, &ts, &t.Trader, &side,
			&t.AmountSol, &t.AmountTokens, &t.Price, &source,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.TimestampMs = int64(ts)
		t.Side = domain.Side(side)
		t.Source = domain.Source(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

// CountLifecycle returns the number of distinct lifecycle rows of kind for mint.
func (s *EventStore) CountLifecycle(ctx context.Context, mint string, kind domain.EventKind) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM token_lifecycle FINAL WHERE mint = ? AND kind = ?
	`, mint, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count lifecycle: %w", err)
	}
	return n, nil
}
