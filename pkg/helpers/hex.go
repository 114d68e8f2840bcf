// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// TxIDToHash converts a display txid into the 32-byte hash used inside
// transactions (reversed byte order).
func TxIDToHash(txID string) ([]byte, error) {
	b, err := hex.DecodeString(txID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid txid: %d bytes", len(b))
	}
	return ReverseBytes(b), nil
}

// HashToTxID converts an internal transaction hash to its display form.
func HashToTxID(hash []byte) string {
	return hex.EncodeToString(ReverseBytes(hash))
}
