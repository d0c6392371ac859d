package solana

import (
	"strings"

	sgo "github.com/gagliardetto/solana-go"
)

// Signature prefixes produced by simulators and fixtures, never by the chain.
var syntheticSignaturePrefixes = []string{"sim_", "test_", "mock_", "placeholder"}

// IsValidPublicKey reports whether s decodes to a 32-byte base58 public key.
func IsValidPublicKey(s string) bool {
	if s == "" {
		return false
	}
	_, err := sgo.PublicKeyFromBase58(s)
	return err == nil
}

// IsValidSignature reports whether s looks like a real transaction signature:
// at least 64 characters, no synthetic prefix, and a 64-byte base58 payload.
func IsValidSignature(s string) bool {
	if len(s) < 64 {
		return false
	}
	lower := strings.ToLower(s)
	for _, p := range syntheticSignaturePrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	_, err := sgo.SignatureFromBase58(s)
	return err == nil
}
