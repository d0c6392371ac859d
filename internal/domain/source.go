package domain

// Source identifies the venue an event or token record came from.
type Source string

const (
	SourcePumpFun  Source = "pumpfun"
	SourcePumpSwap Source = "pumpswap"
	SourceRaydium  Source = "raydium"
	SourceMeteora  Source = "meteora"
	SourceOrca     Source = "orca"
	SourceUnknown  Source = "unknown"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a known venue.
func (s Source) IsValid() bool {
	switch s {
	case SourcePumpFun, SourcePumpSwap, SourceRaydium, SourceMeteora, SourceOrca:
		return true
	}
	return false
}

// IsAMM reports whether the venue is a post-graduation AMM rather than the
// bonding-curve launch venue.
func (s Source) IsAMM() bool {
	return s.IsValid() && s != SourcePumpFun
}

// ParseSource maps a DEX identifier (as reported by market-data providers)
// to a Source. Unrecognised ids map to SourceUnknown.
func ParseSource(dexID string) Source {
	switch dexID {
	case "pumpfun", "pump.fun", "pump":
		return SourcePumpFun
	case "pumpswap", "pump-swap", "pumpfun-amm":
		return SourcePumpSwap
	case "raydium", "raydium-cpmm", "raydium-clmm":
		return SourceRaydium
	case "meteora", "meteora-dlmm":
		return SourceMeteora
	case "orca", "whirlpool":
		return SourceOrca
	}
	return SourceUnknown
}
