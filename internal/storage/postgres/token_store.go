package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/storage"
)

// TokenStore implements storage.TokenSink and storage.TokenReader using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.TokenSink   = (*TokenStore)(nil)
	_ storage.TokenReader = (*TokenStore)(nil)
)

const upsertTokenSQL = `
	INSERT INTO tokens (
		mint, name, symbol, image, uri, description,
		price_usd, price_sol, liquidity, market_cap, holders,
		pair_address, source, creator, bonding_curve, is_graduated, risk_score,
		created_at_ms, last_trade_at_ms, updated_at_ms,
		price_change, volume_usd, volume_sol, txns
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17,
		$18, $19, $20,
		$21, $22, $23, $24
	)
	ON CONFLICT (mint) DO UPDATE SET
		name = EXCLUDED.name,
		symbol = EXCLUDED.symbol,
		image = EXCLUDED.image,
		uri = EXCLUDED.uri,
		description = EXCLUDED.description,
		price_usd = EXCLUDED.price_usd,
		price_sol = EXCLUDED.price_sol,
		liquidity = EXCLUDED.liquidity,
		market_cap = EXCLUDED.market_cap,
		holders = EXCLUDED.holders,
		pair_address = EXCLUDED.pair_address,
		source = EXCLUDED.source,
		creator = EXCLUDED.creator,
		bonding_curve = EXCLUDED.bonding_curve,
		is_graduated = EXCLUDED.is_graduated,
		risk_score = EXCLUDED.risk_score,
		last_trade_at_ms = EXCLUDED.last_trade_at_ms,
		updated_at_ms = EXCLUDED.updated_at_ms,
		price_change = EXCLUDED.price_change,
		volume_usd = EXCLUDED.volume_usd,
		volume_sol = EXCLUDED.volume_sol,
		txns = EXCLUDED.txns
	WHERE tokens.updated_at_ms <= EXCLUDED.updated_at_ms
`

// UpsertTokens writes snapshots in one transaction. Older snapshots never
// overwrite newer ones; within a batch the last snapshot per mint wins.
func (s *TokenStore) UpsertTokens(ctx context.Context, records []domain.TokenRecord) error {
	if len(records) == 0 {
		return nil
	}

	latest := make(map[string]int, len(records))
	for i, r := range records {
		if r.Mint == "" {
			return fmt.Errorf("upsert token %d: %w", i, storage.ErrInvalidInput)
		}
		latest[r.Mint] = i
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for i, r := range records {
		if latest[r.Mint] != i {
			continue
		}
		args, err := upsertArgs(r)
		if err != nil {
			return err
		}
		batch.Queue(upsertTokenSQL, args...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetToken loads the stored snapshot for mint. Derived time fields (Age,
// IsNew) are left zero; callers refresh them on read.
func (s *TokenStore) GetToken(ctx context.Context, mint string) (domain.TokenRecord, error) {
	query := `
		SELECT mint, name, symbol, image, uri, description,
			price_usd, price_sol, liquidity, market_cap, holders,
			pair_address, source, creator, bonding_curve, is_graduated, risk_score,
			created_at_ms, last_trade_at_ms, updated_at_ms,
			price_change, volume_usd, volume_sol, txns
		FROM tokens
		WHERE mint = $1
	`

	var (
		r                                    domain.TokenRecord
		source                               string
		priceChange, volUSD, volSOL, txnsRaw []byte
	)
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&r.Mint, &r.Name, &r.Symbol, &r.Image, &r.URI, &r.Description,
		&r.PriceUSD, &r.PriceSOL, &r.Liquidity, &r.MarketCap, &r.Holders,
		&r.PairAddress, &source, &r.Creator, &r.BondingCurve, &r.IsGraduated, &r.RiskScore,
		&r.CreatedAt, &r.LastTradeAt, &r.UpdatedAt,
		&priceChange, &volUSD, &volSOL, &txnsRaw,
	)
	if err != nil {
		if isNotFoundError(err) {
			return domain.TokenRecord{}, storage.ErrNotFound
		}
		return domain.TokenRecord{}, fmt.Errorf("query token: %w", err)
	}
	r.Source = domain.Source(source)

	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{priceChange, &r.PriceChange},
		{volUSD, &r.VolumeUSD},
		{volSOL, &r.VolumeSOL},
		{txnsRaw, &r.Txns},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return domain.TokenRecord{}, fmt.Errorf("decode window column: %w", err)
		}
	}

	return r, nil
}

func upsertArgs(r domain.TokenRecord) ([]any, error) {
	windows := make([][]byte, 0, 4)
	for _, v := range []any{r.PriceChange, r.VolumeUSD, r.VolumeSOL, r.Txns} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode window column for %s: %w", r.Mint, err)
		}
		windows = append(windows, b)
	}

	return []any{
		r.Mint, r.Name, r.Symbol, r.Image, r.URI, r.Description,
		r.PriceUSD, r.PriceSOL, r.Liquidity, r.MarketCap, r.Holders,
		r.PairAddress, string(r.Source), r.Creator, r.BondingCurve, r.IsGraduated, r.RiskScore,
		r.CreatedAt, r.LastTradeAt, r.UpdatedAt,
		windows[0], windows[1], windows[2], windows[3],
	}, nil
}
