// Package memory provides in-memory sinks for tests and for running the
// pipeline without external databases.
package memory

import (
	"context"
	"fmt"
	"sync"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenSink and storage.TokenReader.
type TokenStore struct {
	mu      sync.RWMutex
	records map[string]domain.TokenRecord
	writes  int
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{records: make(map[string]domain.TokenRecord)}
}

// Compile-time interface checks.
var (
	_ storage.TokenSink   = (*TokenStore)(nil)
	_ storage.TokenReader = (*TokenStore)(nil)
)

// UpsertTokens stores each snapshot unless a newer one is already held.
func (s *TokenStore) UpsertTokens(_ context.Context, records []domain.TokenRecord) error {
	for i, r := range records {
		if r.Mint == "" {
			return fmt.Errorf("upsert token %d: %w", i, storage.ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if cur, ok := s.records[r.Mint]; ok && cur.UpdatedAt > r.UpdatedAt {
			continue
		}
		s.records[r.Mint] = r
	}
	s.writes++
	return nil
}

// GetToken returns the snapshot for mint or storage.ErrNotFound.
func (s *TokenStore) GetToken(_ context.Context, mint string) (domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[mint]
	if !ok {
		return domain.TokenRecord{}, storage.ErrNotFound
	}
	return r, nil
}

// Len returns the number of distinct mints stored.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Writes returns the number of UpsertTokens calls that succeeded.
func (s *TokenStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
