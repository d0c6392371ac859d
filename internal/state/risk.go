package state

import (
	"time"

	"solana-token-feed/internal/domain"
)

// riskScore is a 0-100 heuristic; higher means riskier. Inputs are the
// derived fields of r, so it must run after the windows are rolled forward.
func riskScore(r *domain.TokenRecord) int {
	score := 0

	switch {
	case r.Liquidity <= 0:
		score += 20
	case r.Liquidity < 1_000:
		score += 30
	case r.Liquidity < 10_000:
		score += 15
	}

	switch {
	case r.Holders <= 0:
	case r.Holders < 50:
		score += 20
	case r.Holders < 200:
		score += 10
	}

	buys, sells := r.Txns.Buys.H1, r.Txns.Sells.H1
	if total := buys + sells; total >= 5 {
		ratio := float64(sells) / float64(total)
		switch {
		case ratio > 0.7:
			score += 25
		case ratio > 0.55:
			score += 10
		}
	}

	switch {
	case r.Age < 10*time.Minute:
		score += 15
	case r.Age < time.Hour:
		score += 5
	}

	if !r.IsGraduated && r.PairAddress == "" {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
