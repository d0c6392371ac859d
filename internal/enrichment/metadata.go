package enrichment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"golang.org/x/time/rate"

	"solana-token-feed/internal/ratelimit"
	"solana-token-feed/internal/solana"
)

// ErrNoMetadata means the mint has no Metaplex metadata account.
var ErrNoMetadata = errors.New("no on-chain metadata")

const maxOffChainBody = 1 << 20

// TokenMetadata is identity data read from chain and the off-chain JSON.
type TokenMetadata struct {
	Name        string
	Symbol      string
	URI         string
	Image       string
	Description string
}

type offChainMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// MetadataFetcher reads Metaplex metadata for a mint.
type MetadataFetcher struct {
	rpc      solana.RPCClient
	breakers *ratelimit.Limiter
	client   *http.Client
	limiter  *rate.Limiter
}

// NewMetadataFetcher creates a fetcher. Account reads go through the
// metadata service of breakers and are refused while it or the rpc breaker
// is open. Off-chain documents are fetched at most perSecond times per
// second, each bounded by timeout.
func NewMetadataFetcher(rpc solana.RPCClient, breakers *ratelimit.Limiter, timeout time.Duration, perSecond float64) *MetadataFetcher {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &MetadataFetcher{
		rpc:      rpc,
		breakers: breakers,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (f *MetadataFetcher) getAccount(ctx context.Context, pda string) (*solana.AccountInfo, error) {
	if f.breakers == nil {
		return f.rpc.GetAccountInfo(ctx, pda)
	}
	if f.breakers.BreakerOpen(ratelimit.ServiceRPC) || f.breakers.BreakerOpen(ratelimit.ServiceMetadata) {
		return nil, ratelimit.ErrCircuitOpen
	}
	f.breakers.WaitIfNeeded(ctx, ratelimit.ServiceMetadata, 0)

	info, err := f.rpc.GetAccountInfo(ctx, pda)
	if err != nil {
		if errors.Is(err, solana.ErrRateLimited) {
			f.breakers.RecordRateLimited(ratelimit.ServiceMetadata)
		}
		return nil, err
	}
	f.breakers.RecordSuccess(ratelimit.ServiceMetadata)
	return info, nil
}

// Fetch returns metadata for mint. Off-chain failures are not errors: the
// on-chain fields are returned alone.
func (f *MetadataFetcher) Fetch(ctx context.Context, mint string) (*TokenMetadata, error) {
	pda, err := solana.DeriveMetadataPDA(mint)
	if err != nil {
		return nil, fmt.Errorf("derive metadata pda: %w", err)
	}
	info, err := f.getAccount(ctx, pda)
	if err != nil {
		return nil, fmt.Errorf("get metadata account: %w", err)
	}
	if info == nil || info.Data == "" {
		return nil, ErrNoMetadata
	}
	if info.Owner != "" && info.Owner != solana.MetadataProgramID {
		return nil, fmt.Errorf("metadata account %s owned by %s: %w", pda, info.Owner, ErrNoMetadata)
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	var onChain tokenmetadata.Metadata
	if err := bin.NewBorshDecoder(data).Decode(&onChain); err != nil {
		return nil, fmt.Errorf("decode metaplex metadata: %w", err)
	}

	md := &TokenMetadata{
		Name:   strings.TrimSpace(strings.TrimRight(onChain.Data.Name, "\x00")),
		Symbol: strings.TrimSpace(strings.TrimRight(onChain.Data.Symbol, "\x00")),
		URI:    strings.TrimSpace(strings.TrimRight(onChain.Data.Uri, "\x00")),
	}
	if md.URI == "" {
		return md, nil
	}

	off, err := f.fetchOffChain(ctx, md.URI)
	if err != nil {
		return md, nil
	}
	md.Image = off.Image
	md.Description = off.Description
	if md.Name == "" {
		md.Name = off.Name
	}
	if md.Symbol == "" {
		md.Symbol = off.Symbol
	}
	return md, nil
}

func (f *MetadataFetcher) fetchOffChain(ctx context.Context, uri string) (*offChainMetadata, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var off offChainMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOffChainBody)).Decode(&off); err != nil {
		return nil, fmt.Errorf("unmarshal off-chain metadata: %w", err)
	}
	return &off, nil
}
