package solana

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	sgo "github.com/gagliardetto/solana-go"
)

func TestDeriveMetadataPDA_MatchesFindProgramAddress(t *testing.T) {
	mints := []string{
		WSOLMint,
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}
	program := sgo.MustPublicKeyFromBase58(MetadataProgramID)

	for _, mint := range mints {
		got, err := DeriveMetadataPDA(mint)
		if err != nil {
			t.Fatalf("DeriveMetadataPDA(%s): %v", mint, err)
		}

		mintKey := sgo.MustPublicKeyFromBase58(mint)
		want, _, err := sgo.FindProgramAddress([][]byte{
			[]byte("metadata"),
			program.Bytes(),
			mintKey.Bytes(),
		}, program)
		if err != nil {
			t.Fatalf("FindProgramAddress: %v", err)
		}

		if got != want.String() {
			t.Errorf("mint %s: got %s, want %s", mint, got, want)
		}
	}
}

func TestDeriveMetadataPDA_InvalidMint(t *testing.T) {
	if _, err := DeriveMetadataPDA("not-base58-0OIl"); err == nil {
		t.Error("expected error for invalid base58")
	}
	if _, err := DeriveMetadataPDA("abc"); err == nil {
		t.Error("expected error for short mint")
	}
}

func TestParseMintData(t *testing.T) {
	raw := make([]byte, 82)
	binary.LittleEndian.PutUint64(raw[36:44], 1_000_000_000_000_000)
	raw[44] = 6

	info, err := ParseMintData(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParseMintData: %v", err)
	}
	if info.Decimals != 6 {
		t.Errorf("expected 6 decimals, got %d", info.Decimals)
	}
	if info.Supply != 1_000_000_000 {
		t.Errorf("expected supply 1e9, got %f", info.Supply)
	}

	if _, err := ParseMintData(base64.StdEncoding.EncodeToString(raw[:10])); err == nil {
		t.Error("expected error for short data")
	}
}

func TestIsValidSignature(t *testing.T) {
	zeroSig := sgo.SignatureFromBytes(make([]byte, 64)).String()

	tests := []struct {
		sig  string
		want bool
	}{
		{"5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", true},
		{"short", false},
		{"sim_" + zeroSig, false},
		{"test_5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6", false},
		{"0000000000000000000000000000000000000000000000000000000000000000", false},
	}
	for _, tt := range tests {
		if got := IsValidSignature(tt.sig); got != tt.want {
			t.Errorf("IsValidSignature(%q) = %v, want %v", tt.sig, got, tt.want)
		}
	}
}

func TestIsValidPublicKey(t *testing.T) {
	if !IsValidPublicKey(WSOLMint) {
		t.Error("WSOL mint should be valid")
	}
	if IsValidPublicKey("") || IsValidPublicKey("nope") {
		t.Error("invalid keys accepted")
	}
}
