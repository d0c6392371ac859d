package domain

import (
	"testing"
	"time"
)

func TestTokenRecord_Refresh(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	r := TokenRecord{CreatedAt: now.Add(-45 * time.Minute).UnixMilli(), IsNew: true}
	r.Refresh(now, 30*time.Minute)
	if r.IsNew {
		t.Error("45 minute old token should not be new with 30 minute threshold")
	}
	if r.Age != 45*time.Minute {
		t.Errorf("expected age 45m, got %v", r.Age)
	}

	r = TokenRecord{CreatedAt: now.Add(-10 * time.Minute).UnixMilli()}
	r.Refresh(now, 30*time.Minute)
	if !r.IsNew {
		t.Error("10 minute old token should be new")
	}
}

func TestTokenRecord_RefreshFutureCreation(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := TokenRecord{CreatedAt: now.Add(time.Minute).UnixMilli()}
	r.Refresh(now, 30*time.Minute)
	if r.Age != 0 {
		t.Errorf("expected clamped age 0, got %v", r.Age)
	}
}

func TestParseSource(t *testing.T) {
	tests := map[string]Source{
		"pumpfun":  SourcePumpFun,
		"pumpswap": SourcePumpSwap,
		"raydium":  SourceRaydium,
		"meteora":  SourceMeteora,
		"orca":     SourceOrca,
		"jupiter":  SourceUnknown,
	}
	for in, want := range tests {
		if got := ParseSource(in); got != want {
			t.Errorf("ParseSource(%q) = %s, want %s", in, got, want)
		}
	}
	if SourcePumpFun.IsAMM() {
		t.Error("pumpfun is not an AMM")
	}
	if !SourceRaydium.IsAMM() {
		t.Error("raydium is an AMM")
	}
}
