package resolver

import (
	"math"

	"solana-token-feed/internal/discovery"
	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

// ExtractDetail derives a TxDetail from a parsed transaction. It returns
// nil for failed or empty transactions.
func ExtractDetail(tx *solana.Transaction) *domain.TxDetail {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return nil
	}
	d := &domain.TxDetail{Signature: tx.Signature}

	if payer := tx.FeePayer(); payer != "" {
		d.Creator = strPtr(payer)
		d.Trader = strPtr(payer)
	}
	if tx.BlockTime > 0 {
		ms := tx.BlockTime * 1000
		d.Timestamp = &ms
	}

	if mint, amount, ok := largestTokenChange(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances); ok {
		d.Mint = strPtr(mint)
		d.TokenAmount = &amount
	}
	if sol, ok := nativeAmount(tx); ok {
		d.SolAmount = &sol
	}

	if ev, ok := discovery.DecodeCreateEvent(tx.Meta.LogMessages); ok {
		d.Mint = strPtr(ev.Mint.String())
		d.Creator = strPtr(ev.User.String())
		d.BondingCurve = strPtr(ev.BondingCurve.String())
		if ev.Name != "" {
			d.Name = strPtr(ev.Name)
		}
		if ev.Symbol != "" {
			d.Symbol = strPtr(ev.Symbol)
		}
	}

	if d.Mint != nil {
		in := discovery.BalanceDeltaInput{
			PreBalances:       tx.Meta.PreBalances,
			PostBalances:      tx.Meta.PostBalances,
			PreTokenBalances:  tx.Meta.PreTokenBalances,
			PostTokenBalances: tx.Meta.PostTokenBalances,
			Fee:               tx.Meta.Fee,
			Mint:              *d.Mint,
		}
		if tx.Message != nil {
			in.AccountKeys = tx.Message.AccountKeys
		}
		if ts, ok := discovery.ClassifySide(tx.Signature, in); ok {
			side := ts.Side
			d.Side = &side
			d.Trader = strPtr(ts.Trader)
		}
	}
	return d
}

type balanceKey struct {
	index int
	mint  string
}

// largestTokenChange returns the non-WSOL token balance with the largest
// absolute change. Ties keep the first entry in balance order.
func largestTokenChange(pre, post []solana.TokenBalance) (string, float64, bool) {
	deltas := make(map[balanceKey]float64)
	var order []balanceKey
	add := func(b solana.TokenBalance, sign float64) {
		if b.Mint == "" || b.Mint == solana.WSOLMint {
			return
		}
		k := balanceKey{index: b.AccountIndex, mint: b.Mint}
		if _, ok := deltas[k]; !ok {
			order = append(order, k)
		}
		deltas[k] += sign * b.Amount
	}
	for _, b := range post {
		add(b, 1)
	}
	for _, b := range pre {
		add(b, -1)
	}

	var (
		best    balanceKey
		bestAbs float64
		found   bool
	)
	for _, k := range order {
		abs := math.Abs(deltas[k])
		if abs > bestAbs {
			best, bestAbs, found = k, abs, true
		}
	}
	if !found {
		return "", 0, false
	}
	return best.mint, bestAbs, true
}

// nativeAmount sums system transfers, falling back to the positive
// lamport deltas when the transaction carries no parsed transfers.
func nativeAmount(tx *solana.Transaction) (float64, bool) {
	var lamports uint64
	if transfers := tx.NativeTransfers(); len(transfers) > 0 {
		for _, t := range transfers {
			lamports += t.Lamports
		}
	} else {
		pre, post := tx.Meta.PreBalances, tx.Meta.PostBalances
		for i := 0; i < len(pre) && i < len(post); i++ {
			if post[i] > pre[i] {
				lamports += post[i] - pre[i]
			}
		}
	}
	if lamports == 0 {
		return 0, false
	}
	return float64(lamports) / solana.LamportsPerSOL, true
}

func strPtr(s string) *string {
	return &s
}
