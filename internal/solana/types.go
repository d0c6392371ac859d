package solana

import (
	"encoding/json"
	"strconv"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known program and mint addresses.
const (
	WSOLMint          = "So11111111111111111111111111111111111111112"
	SystemProgram     = "11111111111111111111111111111111"
	TokenProgram      = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	MetadataProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// TokenBalance is an SPL token balance entry from transaction meta.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       float64 // UI amount (decimals applied)
	Decimals     int
}

// NativeTransfer is a system-program SOL transfer.
type NativeTransfer struct {
	From     string
	To       string
	Lamports uint64
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// rawTokenBalance mirrors the jsonParsed token balance shape.
type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount         string   `json:"amount"`
		Decimals       int      `json:"decimals"`
		UIAmount       *float64 `json:"uiAmount"`
		UIAmountString string   `json:"uiAmountString"`
	} `json:"uiTokenAmount"`
}

func (r rawTokenBalance) toTokenBalance() TokenBalance {
	tb := TokenBalance{
		AccountIndex: r.AccountIndex,
		Mint:         r.Mint,
		Owner:        r.Owner,
		Decimals:     r.UITokenAmount.Decimals,
	}
	switch {
	case r.UITokenAmount.UIAmount != nil:
		tb.Amount = *r.UITokenAmount.UIAmount
	case r.UITokenAmount.UIAmountString != "":
		tb.Amount, _ = strconv.ParseFloat(r.UITokenAmount.UIAmountString, 64)
	case r.UITokenAmount.Amount != "":
		raw, _ := strconv.ParseFloat(r.UITokenAmount.Amount, 64)
		tb.Amount = raw / pow10(r.UITokenAmount.Decimals)
	}
	return tb
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// accountKey decodes either a bare base58 string (json encoding) or a
// {"pubkey": ...} object (jsonParsed encoding).
type accountKey string

func (k *accountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

// parsedInstruction is a jsonParsed instruction; only system transfers are decoded.
type parsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

func (p parsedInstruction) nativeTransfer() (NativeTransfer, bool) {
	if p.Program != "system" && p.ProgramID != SystemProgram {
		return NativeTransfer{}, false
	}
	if len(p.Parsed) == 0 {
		return NativeTransfer{}, false
	}
	var parsed struct {
		Type string `json:"type"`
		Info struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Lamports    uint64 `json:"lamports"`
		} `json:"info"`
	}
	if err := json.Unmarshal(p.Parsed, &parsed); err != nil {
		return NativeTransfer{}, false
	}
	if parsed.Type != "transfer" && parsed.Type != "transferWithSeed" {
		return NativeTransfer{}, false
	}
	return NativeTransfer{
		From:     parsed.Info.Source,
		To:       parsed.Info.Destination,
		Lamports: parsed.Info.Lamports,
	}, true
}
