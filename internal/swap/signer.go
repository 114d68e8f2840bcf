package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Signer produces ECDSA signatures for swap inputs.
type Signer interface {
	// PubKey returns the public key matching the signing key.
	PubKey() *btcec.PublicKey

	// Sign returns a 64-byte r || s signature over a 32-byte digest.
	// Signatures must be deterministic for identical digests.
	Sign(digest []byte) ([]byte, error)
}

// PrivateKeySigner signs with an in-memory private key using RFC6979 nonces.
type PrivateKeySigner struct {
	key *btcec.PrivateKey
}

// NewPrivateKeySigner wraps key.
func NewPrivateKeySigner(key *btcec.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

// PubKey implements Signer.
func (s *PrivateKeySigner) PubKey() *btcec.PublicKey {
	return s.key.PubKey()
}

// Sign implements Signer. The result is low-S.
func (s *PrivateKeySigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	// Recovery header || r || s
	sig := btcecdsa.SignCompact(s.key, digest, true)
	return sig[1:], nil
}
