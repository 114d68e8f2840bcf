package helpers

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{100000000, 8, "1"},          // 1 L-BTC
		{50000000, 8, "0.5"},         // 0.5 L-BTC
		{12345678, 8, "0.12345678"},  // All decimals
		{100000, 8, "0.001"},         // Small amount
		{1, 8, "0.00000001"},         // 1 satoshi
		{0, 8, "0"},                  // Zero
		{2100000000000000, 8, "21000000"},
		{123, 0, "123"},              // No decimals
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1", 8, 100000000, false},
		{"0.5", 8, 50000000, false},
		{"0.12345678", 8, 12345678, false},
		{"0.001", 8, 100000, false},
		{"0.00000001", 8, 1, false},
		{"0", 8, 0, false},
		{"21000000", 8, 2100000000000000, false},
		{"0.123456789", 8, 12345678, false},
		{"123", 0, 123, false},
		{"invalid", 8, 0, true},
		{"1.2.3", 8, 0, true},
		{"", 8, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%s, %d) = %d, want %d", tt.input, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	amounts := []uint64{1, 100, 12345678, 100000000, 999999999}

	for _, amount := range amounts {
		formatted := FormatAmount(amount, 8)
		parsed, err := ParseAmount(formatted, 8)
		if err != nil {
			t.Errorf("ParseAmount(%s) failed: %v", formatted, err)
			continue
		}
		if parsed != amount {
			t.Errorf("roundtrip failed: %d -> %s -> %d", amount, formatted, parsed)
		}
	}
}

func TestSatoshisLBTCConversion(t *testing.T) {
	if got := SatoshisToLBTC(2000); got != "0.00002" {
		t.Errorf("SatoshisToLBTC(2000) = %s, want 0.00002", got)
	}

	if got, err := LBTCToSatoshis("0.00002"); err != nil || got != 2000 {
		t.Errorf("LBTCToSatoshis(0.00002) = %d, %v, want 2000, nil", got, err)
	}
}

func TestTxIDToHash(t *testing.T) {
	txID := "54d761c76f5c22f4f93d48ddba27b9b7b5b5a962d5b424c279c623287e225d28"

	hash, err := TxIDToHash(txID)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(hash) != "285d227e2823c679c224b4d562a9b5b5b7b927badd483df9f4225c6fc761d754" {
		t.Errorf("TxIDToHash() = %x", hash)
	}
	if HashToTxID(hash) != txID {
		t.Errorf("HashToTxID() = %s, want %s", HashToTxID(hash), txID)
	}

	for _, bad := range []string{"", "zz", "0011"} {
		if _, err := TxIDToHash(bad); err == nil {
			t.Errorf("TxIDToHash(%q) expected error", bad)
		}
	}
}

func TestReverseBytes(t *testing.T) {
	in := []byte{1, 2, 3}
	got := ReverseBytes(in)
	if !bytes.Equal(got, []byte{3, 2, 1}) {
		t.Errorf("ReverseBytes() = %v", got)
	}
	if in[0] != 1 {
		t.Error("ReverseBytes modified its input")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 || ConstantTimeCompare(a, b) {
		t.Error("expected two distinct 32-byte values")
	}
	if !ConstantTimeCompare(a, append([]byte{}, a...)) {
		t.Error("ConstantTimeCompare should match equal slices")
	}
}
