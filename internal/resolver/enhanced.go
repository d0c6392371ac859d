package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

// errEnhancedRateLimited marks a 429 from the enhanced endpoint.
var errEnhancedRateLimited = errors.New("enhanced endpoint rate limited")

// enhancedTx is one element of the enhanced transactions response.
type enhancedTx struct {
	Signature       string                   `json:"signature"`
	FeePayer        string                   `json:"feePayer"`
	Timestamp       int64                    `json:"timestamp"`
	Description     string                   `json:"description"`
	TokenTransfers  []enhancedTokenTransfer  `json:"tokenTransfers"`
	NativeTransfers []enhancedNativeTransfer `json:"nativeTransfers"`
}

type enhancedTokenTransfer struct {
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
}

type enhancedNativeTransfer struct {
	Amount          uint64 `json:"amount"` // lamports
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
}

type enhancedRequest struct {
	Transactions []string `json:"transactions"`
}

// enhancedClient posts signature batches to a parsed-transactions endpoint.
type enhancedClient struct {
	url    string
	client *http.Client
}

func newEnhancedClient(url string, timeout time.Duration) *enhancedClient {
	return &enhancedClient{url: url, client: &http.Client{Timeout: timeout}}
}

// fetch returns one entry per signature, aligned by position. Entries
// missing from the response are nil.
func (c *enhancedClient) fetch(ctx context.Context, sigs []string) ([]*enhancedTx, error) {
	body, err := json.Marshal(enhancedRequest{Transactions: sigs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errEnhancedRateLimited
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var txs []*enhancedTx
	if err := json.Unmarshal(respBody, &txs); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	out := make([]*enhancedTx, len(sigs))
	for i := range sigs {
		if i >= len(txs) || txs[i] == nil {
			continue
		}
		if txs[i].Signature != "" && txs[i].Signature != sigs[i] {
			continue
		}
		out[i] = txs[i]
	}
	return out, nil
}

// toDetail converts an enhanced transaction with the same extraction
// rules as ExtractDetail.
func (tx *enhancedTx) toDetail(signature string) *domain.TxDetail {
	if tx == nil {
		return nil
	}
	d := &domain.TxDetail{Signature: signature}
	if tx.FeePayer != "" {
		d.Creator = strPtr(tx.FeePayer)
		d.Trader = strPtr(tx.FeePayer)
	}
	if tx.Timestamp > 0 {
		ms := tx.Timestamp * 1000
		d.Timestamp = &ms
	}

	var best *enhancedTokenTransfer
	for i := range tx.TokenTransfers {
		t := &tx.TokenTransfers[i]
		if t.Mint == "" || t.Mint == solana.WSOLMint {
			continue
		}
		if best == nil || math.Abs(t.TokenAmount) > math.Abs(best.TokenAmount) {
			best = t
		}
	}
	if best != nil {
		d.Mint = strPtr(best.Mint)
		amount := math.Abs(best.TokenAmount)
		d.TokenAmount = &amount

		if tx.FeePayer != "" {
			var side domain.Side
			switch tx.FeePayer {
			case best.ToUserAccount:
				side = domain.SideBuy
			case best.FromUserAccount:
				side = domain.SideSell
			}
			if side != "" && solana.IsValidSignature(signature) {
				d.Side = &side
			}
		}
	}

	var lamports uint64
	for _, n := range tx.NativeTransfers {
		lamports += n.Amount
	}
	if lamports > 0 {
		sol := float64(lamports) / solana.LamportsPerSOL
		d.SolAmount = &sol
	}
	return d
}
