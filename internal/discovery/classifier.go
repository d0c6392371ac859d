package discovery

import (
	"regexp"
	"strings"

	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/solana"
)

// KindNone marks a log that matched no rule. Such logs are dropped.
const KindNone domain.EventKind = ""

// RawLog is a single logs notification attributed to the program whose
// subscription delivered it.
type RawLog struct {
	Signature  string
	Slot       int64
	ProgramID  string
	Logs       []string
	Err        interface{}
	ReceivedAt int64 // Unix ms
}

// Classification is the outcome of classifying a RawLog.
type Classification struct {
	Kind       domain.EventKind
	ProgramID  string
	Source     domain.Source
	Signature  string
	Slot       int64
	ReceivedAt int64
	// Mint is set when a log line carried a valid mint hint.
	Mint *string
}

// Matched reports whether the log produced a candidate event.
func (c Classification) Matched() bool {
	return c.Kind != KindNone
}

// MintSet answers whether a mint was seen on the launch program.
type MintSet interface {
	Contains(mint string) bool
}

var (
	mintHintRe = regexp.MustCompile(`\bmint[=:]\s*([1-9A-HJ-NP-Za-km-z]{32,44})`)
	invokeRe   = regexp.MustCompile(`^Program (\S+) invoke`)
	exitRe     = regexp.MustCompile(`^Program (\S+) (success|failed)`)
)

// Log markers per program role.
var (
	launchCreateMarkers = []string{"Instruction: Create", "Instruction: InitializeMint"}
	launchTradeMarkers  = []string{"Instruction: Buy", "Instruction: Sell"}
	launchGradMarkers   = []string{"Instruction: Withdraw", "Instruction: Migrate"}
	ammPoolInitMarkers  = []string{"initialize2", "Instruction: Initialize", "Instruction: CreatePool"}
	ammSwapMarkers      = []string{"ray_log", "Instruction: Swap", "Instruction: Buy", "Instruction: Sell"}
)

// Classify maps a raw log notification to a candidate event kind. It only
// looks at the log text and the owning program, plus seen for AMM pool
// creations. seen may be nil. Failed transactions and unknown programs
// yield KindNone.
func Classify(raw RawLog, seen MintSet) Classification {
	out := Classification{
		Kind:       KindNone,
		ProgramID:  raw.ProgramID,
		Signature:  raw.Signature,
		Slot:       raw.Slot,
		ReceivedAt: raw.ReceivedAt,
	}
	if raw.Err != nil || len(raw.Logs) == 0 {
		return out
	}
	prog, ok := LookupProgram(raw.ProgramID)
	if !ok {
		return out
	}
	out.Source = prog.Source

	lines := scopedLines(raw.Logs, prog.ID)
	out.Mint = mintHint(lines)

	switch prog.Role {
	case RoleLaunch:
		switch {
		case containsAny(lines, launchCreateMarkers):
			out.Kind = domain.KindNewToken
		case containsAny(lines, launchGradMarkers):
			out.Kind = domain.KindGraduation
		case containsAny(lines, launchTradeMarkers):
			out.Kind = domain.KindTrade
		}
	case RoleAMM:
		switch {
		case containsAny(lines, ammPoolInitMarkers):
			if mentionsLaunch(raw.Logs) || (out.Mint != nil && seen != nil && seen.Contains(*out.Mint)) {
				out.Kind = domain.KindGraduation
			}
		case containsAny(lines, ammSwapMarkers):
			out.Kind = domain.KindTrade
		}
	}
	return out
}

// scopedLines returns the log lines emitted while programID was on the
// invocation stack, including CPIs it made. Logs without any invoke
// framing are returned as-is.
func scopedLines(logs []string, programID string) []string {
	var (
		stack  []string
		out    []string
		framed bool
	)
	for _, line := range logs {
		if m := invokeRe.FindStringSubmatch(line); m != nil {
			framed = true
			stack = append(stack, m[1])
			continue
		}
		if m := exitRe.FindStringSubmatch(line); m != nil {
			if n := len(stack); n > 0 && stack[n-1] == m[1] {
				stack = stack[:n-1]
			}
			continue
		}
		for _, p := range stack {
			if p == programID {
				out = append(out, line)
				break
			}
		}
	}
	if !framed {
		return logs
	}
	return out
}

func containsAny(lines []string, markers []string) bool {
	for _, line := range lines {
		for _, m := range markers {
			if strings.Contains(line, m) {
				return true
			}
		}
	}
	return false
}

func mentionsLaunch(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, PumpFun) {
			return true
		}
	}
	return false
}

// mintHint returns the first mint= value that parses as a public key.
func mintHint(lines []string) *string {
	for _, line := range lines {
		for _, m := range mintHintRe.FindAllStringSubmatch(line, -1) {
			if solana.IsValidPublicKey(m[1]) {
				mint := m[1]
				return &mint
			}
		}
	}
	return nil
}
