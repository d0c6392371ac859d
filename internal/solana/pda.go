package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DeriveMetadataPDA derives the Metaplex metadata account for mint.
// Seeds: ["metadata", metadata_program_id, mint]
func DeriveMetadataPDA(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	programBytes, err := base58.Decode(MetadataProgramID)
	if err != nil {
		return "", fmt.Errorf("decode program id: %w", err)
	}
	if len(mintBytes) != 32 {
		return "", fmt.Errorf("invalid mint length %d", len(mintBytes))
	}

	pda := derivePDA([][]byte{
		[]byte("metadata"),
		programBytes,
		mintBytes,
	}, programBytes)
	if pda == "" {
		return "", fmt.Errorf("no off-curve bump for %s", mint)
	}
	return pda, nil
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// sha256(seeds || bump || programID || "ProgramDerivedAddress"), taking the
// first bump from 255 down whose hash is not a valid ed25519 point.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}

	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// MintInfo is the decoded part of an SPL Token mint account.
type MintInfo struct {
	Supply   float64 // decimals applied
	Decimals int
}

// ParseMintData decodes base64 SPL Token mint account data.
// Layout (82 bytes): mintAuthority Option<Pubkey> (36), supply u64 (8),
// decimals u8 (1), isInitialized bool (1), freezeAuthority Option<Pubkey> (36).
func ParseMintData(data string) (*MintInfo, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode mint data: %w", err)
	}
	if len(decoded) < 82 {
		return nil, fmt.Errorf("mint data too short: %d", len(decoded))
	}

	supply := binary.LittleEndian.Uint64(decoded[36:44])
	decimals := int(decoded[44])

	return &MintInfo{
		Supply:   float64(supply) / math.Pow(10, float64(decimals)),
		Decimals: decimals,
	}, nil
}
