// Package idhash computes deterministic row identifiers so that replayed or
// duplicated writes collapse onto the same key.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-token-feed/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(signature|mint|side)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(signature, mint string, side domain.Side) string {
	data := fmt.Sprintf("%s|%s|%s", signature, mint, side)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeEventID computes a deterministic event_id for any chain event.
// Formula: SHA256(kind|mint|signature)
// Update events carry no signature and hash on kind and mint only.
func ComputeEventID(ev domain.ChainEvent) string {
	sig := ""
	switch e := ev.(type) {
	case domain.NewTokenEvent:
		sig = e.Signature
	case domain.TradeEvent:
		sig = e.Signature
	case domain.GraduationEvent:
		sig = e.Signature
	}
	data := fmt.Sprintf("%s|%s|%s", ev.Kind(), ev.TokenMint(), sig)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
