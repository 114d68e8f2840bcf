package swap

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/vulpemventures/boltz-core-liquid/pkg/helpers"
)

var ErrPreimageNotFound = errors.New("preimage not found in transaction")

// NewPreimage generates a random preimage and its SHA256 hash.
func NewPreimage() (preimage, hash []byte, err error) {
	preimage, err = helpers.GenerateSecureRandom(PreimageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate preimage: %w", err)
	}
	return preimage, HashPreimage(preimage), nil
}

// HashPreimage returns the SHA256 hash committed to in swap scripts.
func HashPreimage(preimage []byte) []byte {
	hash := sha256.Sum256(preimage)
	return hash[:]
}

// ExtractPreimage searches the inputs of tx for a 32-byte element whose
// HASH160 is preimageHash160. Claims reveal the preimage in the witness, or
// in the scriptSig for legacy outputs.
func ExtractPreimage(tx *transaction.Transaction, preimageHash160 []byte) ([]byte, error) {
	matches := func(item []byte) bool {
		return len(item) == PreimageSize && bytes.Equal(btcutil.Hash160(item), preimageHash160)
	}

	for _, in := range tx.Inputs {
		for _, item := range in.Witness {
			if matches(item) {
				return clone(item), nil
			}
		}

		tokenizer := txscript.MakeScriptTokenizer(0, in.Script)
		for tokenizer.Next() {
			if data := tokenizer.Data(); matches(data) {
				return clone(data), nil
			}
		}
	}

	return nil, ErrPreimageNotFound
}

// SpendsOutput returns the index of the input of tx spending txHash:vout.
func SpendsOutput(tx *transaction.Transaction, txHash []byte, vout uint32) (int, bool) {
	for i, in := range tx.Inputs {
		if in.Index == vout && bytes.Equal(in.Hash, txHash) {
			return i, true
		}
	}
	return -1, false
}
