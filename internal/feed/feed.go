// Package feed is the consumer-facing API over the token state store and
// the enrichment client.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

// EnrichBatchSize is how many mints EnrichNow hands to the enricher at once.
const EnrichBatchSize = 100

// Category selects a class of tokens in FetchTokens.
type Category string

const (
	CategoryAll        Category = "all"
	CategoryNew        Category = "new"
	CategoryGraduating Category = "graduating"
	CategoryGraduated  Category = "graduated"
	CategoryTrending   Category = "trending"
)

// ParseCategory parses a category name. The empty string means CategoryAll.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategoryAll, nil
	case CategoryAll, CategoryNew, CategoryGraduating, CategoryGraduated, CategoryTrending:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Store is the subset of the token state store the feed reads from.
type Store interface {
	Subscribe(buffer int) (<-chan domain.TokenRecord, func())
	Query(f domain.TokenFilter) []domain.TokenRecord
	Get(mint string) (domain.TokenRecord, bool)
}

// Enricher refreshes market data for a set of mints and waits for it.
type Enricher interface {
	EnrichMany(ctx context.Context, mints []string) error
}

// Service implements the consumer API.
type Service struct {
	store    Store
	enricher Enricher
	logger   *zap.Logger
}

// New creates a Service. enricher may be nil, in which case EnrichNow is a no-op.
func New(store Store, enricher Enricher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		enricher: enricher,
		logger:   logger.Named("feed"),
	}
}

// Subscribe streams record changes. Slow consumers miss updates instead of
// stalling the store. Call the returned func to stop.
func (s *Service) Subscribe(buffer int) (<-chan domain.TokenRecord, func()) {
	return s.store.Subscribe(buffer)
}

// FetchTokens returns tokens in category with at least minLiquidity USD
// liquidity and at most maxAge old, newest first. Zero minLiquidity, maxAge
// or limit disable that bound.
func (s *Service) FetchTokens(category Category, minLiquidity float64, maxAge time.Duration, limit int) []domain.TokenRecord {
	f := domain.TokenFilter{
		MinLiquidity: minLiquidity,
		MaxAge:       maxAge,
		Limit:        limit,
		SortBy:       domain.SortNewest,
	}
	switch category {
	case CategoryNew:
		f.OnlyNew = true
	case CategoryGraduating:
		f.OnlyGraduating = true
	case CategoryGraduated:
		f.OnlyGraduated = true
	case CategoryTrending:
		f.OnlyTrending = true
		f.SortBy = domain.SortVolume
	}
	return s.store.Query(f)
}

// GetToken returns the current record for mint.
func (s *Service) GetToken(mint string) (domain.TokenRecord, bool) {
	return s.store.Get(mint)
}

// EnrichNow refreshes market data for mints and returns once the results
// are merged. Invalid and duplicate mints are skipped. Mints are enriched in
// batches of EnrichBatchSize; the first batch error stops the rest.
func (s *Service) EnrichNow(ctx context.Context, mints []string) error {
	if s.enricher == nil {
		return nil
	}
	valid := make([]string, 0, len(mints))
	seen := make(map[string]struct{}, len(mints))
	for _, m := range mints {
		m = strings.TrimSpace(m)
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		if !solana.IsValidPublicKey(m) {
			s.logger.Debug("skipping invalid mint", zap.String("mint", m))
			continue
		}
		valid = append(valid, m)
	}
	for start := 0; start < len(valid); start += EnrichBatchSize {
		end := min(start+EnrichBatchSize, len(valid))
		if err := s.enricher.EnrichMany(ctx, valid[start:end]); err != nil {
			return fmt.Errorf("enrich batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}
