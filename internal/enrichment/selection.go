package enrichment

import (
	"sort"

	"solana-token-feed/internal/domain"
)

// venueRank orders venues by preference. Lower is better. A graduated
// token trades on an AMM; until then its bonding curve is the real market.
func venueRank(dexID string, graduated bool) int {
	src := domain.ParseSource(dexID)
	switch {
	case src.IsAMM() && graduated, src == domain.SourcePumpFun && !graduated:
		return 0
	case src.IsAMM(), src == domain.SourcePumpFun:
		return 1
	}
	return 2
}

// SelectPair picks the pair that best represents mint: pairs whose base
// token is mint (all pairs if none are), the venue the token is expected to
// trade on first (an AMM once graduated, the launch venue before), then
// highest USD liquidity. Equal candidates keep input order.
func SelectPair(mint string, pairs []Pair, graduated bool) (*Pair, bool) {
	if len(pairs) == 0 {
		return nil, false
	}
	var candidates []Pair
	for _, p := range pairs {
		if p.BaseToken.Address == mint {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, pairs...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := venueRank(candidates[i].DexID, graduated), venueRank(candidates[j].DexID, graduated)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].Liquidity.USD > candidates[j].Liquidity.USD
	})
	best := candidates[0]
	return &best, true
}

// UpdateFromPair maps a pair to an enrichment update for mint.
func UpdateFromPair(mint string, p Pair) domain.EnrichmentUpdate {
	u := domain.EnrichmentUpdate{
		Mint:        mint,
		PriceUSD:    p.PriceUSDFloat(),
		PriceSOL:    p.PriceNativeFloat(),
		PriceChange: &domain.WindowStats{M5: p.PriceChange.M5, H1: p.PriceChange.H1, H24: p.PriceChange.H24},
		VolumeUSD:   &domain.WindowStats{M5: p.Volume.M5, H1: p.Volume.H1, H24: p.Volume.H24},
		Liquidity:   p.Liquidity.USD,
		MarketCap:   p.MarketCap,
		PairAddress: p.PairAddress,
		Source:      domain.ParseSource(p.DexID),
		PairCreated: p.PairCreatedAt,
	}
	if u.MarketCap == 0 {
		u.MarketCap = p.FDV
	}
	if u.Source == domain.SourceUnknown {
		u.Source = ""
	}
	if p.BaseToken.Address == mint {
		u.Name = p.BaseToken.Name
		u.Symbol = p.BaseToken.Symbol
	}
	if p.Info != nil {
		u.Image = p.Info.ImageURL
	}
	return u
}
