// Package publish fans pipeline output out to external consumers: token
// snapshots over Redis pub/sub and chain events to Kafka.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"solana-token-feed/internal/domain"
)

// Envelope wraps every published payload.
type Envelope struct {
	Type string          `json:"type"` // "token" or an event kind
	TS   int64           `json:"ts"`   // unix milli, publish time
	Data json.RawMessage `json:"data"`
}

// Envelope type for token snapshots.
const TypeToken = "token"

func encode(typ string, v any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	b, err := json.Marshal(Envelope{Type: typ, TS: now.UnixMilli(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", typ, err)
	}
	return b, nil
}

// eventPayload is the wire shape of a chain event. Only the fields of the
// event's own variant are set.
type eventPayload struct {
	Mint         string        `json:"mint"`
	Signature    string        `json:"signature,omitempty"`
	Timestamp    int64         `json:"timestamp,omitempty"`
	Source       domain.Source `json:"source,omitempty"`
	Name         *string       `json:"name,omitempty"`
	Symbol       *string       `json:"symbol,omitempty"`
	Creator      string        `json:"creator,omitempty"`
	BondingCurve *string       `json:"bondingCurve,omitempty"`
	Trader       string        `json:"trader,omitempty"`
	Side         domain.Side   `json:"side,omitempty"`
	AmountSol    float64       `json:"amountSol,omitempty"`
	AmountTokens float64       `json:"amountTokens,omitempty"`
	Price        *float64      `json:"price,omitempty"`
	Pool         *string       `json:"pool,omitempty"`
	Liquidity    *float64      `json:"liquidity,omitempty"`
	MarketCap    *float64      `json:"marketCap,omitempty"`
	Holders      *int64        `json:"holders,omitempty"`
}

func toPayload(ev domain.ChainEvent) eventPayload {
	switch e := ev.(type) {
	case domain.NewTokenEvent:
		return eventPayload{
			Mint: e.Mint, Signature: e.Signature, Timestamp: e.Timestamp, Source: e.Source,
			Name: e.Name, Symbol: e.Symbol, Creator: e.Creator, BondingCurve: e.BondingCurve,
		}
	case domain.TradeEvent:
		return eventPayload{
			Mint: e.Mint, Signature: e.Signature, Timestamp: e.Timestamp, Source: e.Source,
			Trader: e.Trader, Side: e.Side, AmountSol: e.AmountSol, AmountTokens: e.AmountTokens,
			Price: e.Price,
		}
	case domain.GraduationEvent:
		return eventPayload{
			Mint: e.Mint, Signature: e.Signature, Timestamp: e.Timestamp, Source: e.Source,
			Pool: e.Pool, Liquidity: e.Liquidity,
		}
	case domain.UpdateEvent:
		return eventPayload{
			Mint: e.Mint, MarketCap: e.MarketCap, Liquidity: e.Liquidity,
			Holders: e.Holders, Price: e.Price,
		}
	}
	return eventPayload{Mint: ev.TokenMint()}
}
