package discovery

import "solana-token-feed/internal/domain"

// Known program IDs.
const (
	// PumpFun is the pump.fun bonding-curve program ID.
	PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// PumpSwapAMM is the pump.fun post-graduation AMM program ID.
	PumpSwapAMM = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	// RaydiumAMMV4 is the Raydium AMM v4 program ID.
	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	// RaydiumCPMM is the Raydium constant-product AMM program ID.
	RaydiumCPMM = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"
	// MeteoraDLMM is the Meteora DLMM program ID.
	MeteoraDLMM = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

// Role is what a watched program does in a token's life cycle.
type Role int

const (
	RoleUnknown Role = iota
	// RoleLaunch programs create tokens and trade them on a bonding curve.
	RoleLaunch
	// RoleAMM programs host pools that graduated tokens migrate to.
	RoleAMM
)

// Program describes a watched program.
type Program struct {
	ID     string
	Source domain.Source
	Role   Role
}

var knownPrograms = map[string]Program{
	PumpFun:      {ID: PumpFun, Source: domain.SourcePumpFun, Role: RoleLaunch},
	PumpSwapAMM:  {ID: PumpSwapAMM, Source: domain.SourcePumpSwap, Role: RoleAMM},
	RaydiumAMMV4: {ID: RaydiumAMMV4, Source: domain.SourceRaydium, Role: RoleAMM},
	RaydiumCPMM:  {ID: RaydiumCPMM, Source: domain.SourceRaydium, Role: RoleAMM},
	MeteoraDLMM:  {ID: MeteoraDLMM, Source: domain.SourceMeteora, Role: RoleAMM},
}

// LookupProgram returns the description of a known program.
func LookupProgram(id string) (Program, bool) {
	p, ok := knownPrograms[id]
	return p, ok
}

// programAliases maps CLI-friendly names to program IDs.
var programAliases = map[string]string{
	"pumpfun":      PumpFun,
	"pump":         PumpFun,
	"pumpswap":     PumpSwapAMM,
	"raydium":      RaydiumAMMV4,
	"raydium-v4":   RaydiumAMMV4,
	"raydium-cpmm": RaydiumCPMM,
	"meteora":      MeteoraDLMM,
}

// ResolvePrograms maps names or raw IDs to program IDs, dropping duplicates.
// Unknown names are passed through so arbitrary program IDs can be watched.
func ResolvePrograms(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if n == "" {
			continue
		}
		id := n
		if alias, ok := programAliases[n]; ok {
			id = alias
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DefaultPrograms is the watch list used when none is configured.
func DefaultPrograms() []string {
	return []string{PumpFun, PumpSwapAMM, RaydiumAMMV4}
}
