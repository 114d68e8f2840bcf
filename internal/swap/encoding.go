package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// CompactSignatureSize is the length of an r || s signature.
const CompactSignatureSize = 64

// EncodeSignature converts a 64-byte compact signature into the DER form
// used in scripts, with flag appended as the trailing byte.
//
// The s value is encoded as given. It is not normalized to low-S.
func EncodeSignature(flag txscript.SigHashType, compact []byte) ([]byte, error) {
	if len(compact) != CompactSignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSignatureLength, len(compact))
	}

	r := canonicalInt(compact[:32])
	s := canonicalInt(compact[32:])

	bodyLen := 2 + len(r) + 2 + len(s)
	sig := make([]byte, 0, 2+bodyLen+1)
	sig = append(sig, 0x30, byte(bodyLen))
	sig = append(sig, 0x02, byte(len(r)))
	sig = append(sig, r...)
	sig = append(sig, 0x02, byte(len(s)))
	sig = append(sig, s...)
	sig = append(sig, byte(flag))

	return sig, nil
}

// canonicalInt returns the minimal non-negative big-endian form of b.
func canonicalInt(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	b = b[i:]

	if b[0]&0x80 != 0 {
		out := make([]byte, len(b)+1)
		copy(out[1:], b)
		return out
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// EncodeCltv returns height as a minimally encoded script number.
// Zero is the empty byte slice.
func EncodeCltv(height uint32) []byte {
	if height == 0 {
		return []byte{}
	}

	var out []byte
	for n := height; n > 0; n >>= 8 {
		out = append(out, byte(n))
	}

	// Keep the number positive.
	if out[len(out)-1]&0x80 != 0 {
		out = append(out, 0x00)
	}

	return out
}

// DecodeCltv parses a minimally encoded, non-negative script number of at
// most five bytes.
func DecodeCltv(b []byte) (uint32, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) > 5 {
		return 0, fmt.Errorf("script number too long: %d bytes", len(b))
	}
	if b[len(b)-1]&0x80 != 0 {
		return 0, fmt.Errorf("negative script number")
	}
	if b[len(b)-1] == 0 && (len(b) == 1 || b[len(b)-2]&0x80 == 0) {
		return 0, fmt.Errorf("non-minimal script number")
	}

	var n uint64
	for i, v := range b {
		n |= uint64(v) << (8 * i)
	}
	if n > 0xffffffff {
		return 0, fmt.Errorf("script number overflows uint32")
	}
	return uint32(n), nil
}
