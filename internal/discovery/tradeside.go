package discovery

import (
	"math"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

// Thresholds below which a balance change is treated as noise.
const (
	SolEpsilon   = 0.00001 // 10k lamports, above a base fee
	TokenEpsilon = 1e-9
)

// BalanceDeltaInput is the balance view of one transaction.
type BalanceDeltaInput struct {
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []solana.TokenBalance
	PostTokenBalances []solana.TokenBalance
	// Fee is charged to the first account and excluded from its SOL delta.
	Fee  uint64
	Mint string
}

// TradeSide is the trade attributed to a single account.
type TradeSide struct {
	Side         domain.Side
	Trader       string
	TraderIndex  int
	Counterparty string // empty when no opposite account was found
	SolAmount    float64
	TokenAmount  float64
	Price        float64 // SOL per token
}

type accountDelta struct {
	index int
	sol   float64
	token float64
}

// ClassifySide infers the direction of a trade in in.Mint from balance
// changes. The second return is false when the transaction is not a
// usable trade.
func ClassifySide(signature string, in BalanceDeltaInput) (*TradeSide, bool) {
	if !solana.IsValidSignature(signature) || in.Mint == "" {
		return nil, false
	}
	deltas := computeDeltas(in)
	if len(deltas) == 0 {
		return nil, false
	}

	var buys, sells []accountDelta
	for _, d := range deltas {
		switch {
		case d.sol < -SolEpsilon && d.token > TokenEpsilon:
			buys = append(buys, d)
		case d.sol > SolEpsilon && d.token < -TokenEpsilon:
			sells = append(sells, d)
		}
	}

	var (
		trader   accountDelta
		side     domain.Side
		opposite []accountDelta
	)
	switch {
	case len(buys)+len(sells) == 1 && len(buys) == 1:
		trader, side, opposite = buys[0], domain.SideBuy, sells
	case len(buys)+len(sells) == 1:
		trader, side, opposite = sells[0], domain.SideSell, buys
	default:
		// Zero or several candidates: only the signer can be trusted.
		trader = deltas[0]
		switch {
		case trader.token > TokenEpsilon && trader.sol < -SolEpsilon:
			side, opposite = domain.SideBuy, sells
		case trader.token < -TokenEpsilon && trader.sol > SolEpsilon:
			side, opposite = domain.SideSell, buys
		default:
			return nil, false
		}
	}

	solAmount := math.Abs(trader.sol)
	tokenAmount := math.Abs(trader.token)
	if solAmount < SolEpsilon || tokenAmount < TokenEpsilon {
		return nil, false
	}

	out := &TradeSide{
		Side:        side,
		Trader:      keyAt(in.AccountKeys, trader.index),
		TraderIndex: trader.index,
		SolAmount:   solAmount,
		TokenAmount: tokenAmount,
		Price:       solAmount / tokenAmount,
	}
	for _, o := range opposite {
		if o.index != trader.index {
			out.Counterparty = keyAt(in.AccountKeys, o.index)
			break
		}
	}
	return out, true
}

// computeDeltas returns per-account SOL and token deltas in account order.
// SOL includes wrapped SOL held in token accounts owned by the account.
func computeDeltas(in BalanceDeltaInput) []accountDelta {
	n := len(in.AccountKeys)
	if len(in.PreBalances) > n {
		n = len(in.PreBalances)
	}
	if len(in.PostBalances) > n {
		n = len(in.PostBalances)
	}
	if n == 0 {
		return nil
	}
	out := make([]accountDelta, n)
	for i := range out {
		out[i].index = i
		pre, post := at(in.PreBalances, i), at(in.PostBalances, i)
		lamports := float64(post) - float64(pre)
		if i == 0 {
			lamports += float64(in.Fee)
		}
		out[i].sol = lamports / solana.LamportsPerSOL
	}

	ownerIndex := make(map[string]int, len(in.AccountKeys))
	for i, k := range in.AccountKeys {
		if _, dup := ownerIndex[k]; !dup {
			ownerIndex[k] = i
		}
	}
	apply := func(balances []solana.TokenBalance, sign float64) {
		for _, b := range balances {
			idx := b.AccountIndex
			if b.Owner != "" {
				if oi, ok := ownerIndex[b.Owner]; ok {
					idx = oi
				}
			}
			if idx < 0 || idx >= n {
				continue
			}
			switch b.Mint {
			case in.Mint:
				out[idx].token += sign * b.Amount
			case solana.WSOLMint:
				out[idx].sol += sign * b.Amount
			}
		}
	}
	apply(in.PostTokenBalances, 1)
	apply(in.PreTokenBalances, -1)
	return out
}

func at(v []uint64, i int) uint64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func keyAt(keys []string, i int) string {
	if i < len(keys) {
		return keys[i]
	}
	return ""
}
