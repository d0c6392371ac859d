package ingestion

import (
	"solana-token-feed/internal/discovery"
	"solana-token-feed/internal/domain"
)

// BuildEvent turns a classified candidate and its resolved details into a
// typed event. It reports false when the details are insufficient for the
// kind: a trade needs a side and non-zero amounts, everything needs a mint.
func BuildEvent(cls discovery.Classification, d *domain.TxDetail) (domain.ChainEvent, bool) {
	if d == nil {
		return nil, false
	}
	mint := candidateMint(cls, d)
	if mint == "" {
		return nil, false
	}
	ts := cls.ReceivedAt
	if d.Timestamp != nil && *d.Timestamp > 0 {
		ts = *d.Timestamp
	}
	sig := cls.Signature
	if sig == "" {
		sig = d.Signature
	}

	switch cls.Kind {
	case domain.KindNewToken:
		return domain.NewTokenEvent{
			Mint:         mint,
			Name:         d.Name,
			Symbol:       d.Symbol,
			Creator:      deref(d.Creator),
			Signature:    sig,
			Timestamp:    ts,
			Source:       cls.Source,
			BondingCurve: d.BondingCurve,
		}, true

	case domain.KindTrade:
		if d.Side == nil || d.SolAmount == nil || d.TokenAmount == nil {
			return nil, false
		}
		sol, tokens := *d.SolAmount, *d.TokenAmount
		if sol <= discovery.SolEpsilon || tokens <= discovery.TokenEpsilon {
			return nil, false
		}
		trader := deref(d.Trader)
		if trader == "" {
			trader = deref(d.Creator)
		}
		price := sol / tokens
		return domain.TradeEvent{
			Mint:         mint,
			Signature:    sig,
			Timestamp:    ts,
			Trader:       trader,
			Side:         *d.Side,
			AmountSol:    sol,
			AmountTokens: tokens,
			Price:        &price,
			Source:       cls.Source,
		}, true

	case domain.KindGraduation:
		source := cls.Source
		if !source.IsAMM() {
			// Migration observed on the launch program lands on its AMM.
			source = domain.SourcePumpSwap
		}
		return domain.GraduationEvent{
			Mint:      mint,
			Signature: sig,
			Timestamp: ts,
			Source:    source,
		}, true
	}
	return nil, false
}

// candidateMint prefers the resolved mint over the log hint.
func candidateMint(cls discovery.Classification, d *domain.TxDetail) string {
	if d != nil && d.Mint != nil && *d.Mint != "" {
		return *d.Mint
	}
	if cls.Mint != nil {
		return *cls.Mint
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
