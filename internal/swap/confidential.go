package swap

import (
	"bytes"
	"fmt"

	"github.com/vulpemventures/go-elements/elementsutil"
)

// CommitmentKind tells how a value, asset or nonce field is encoded.
type CommitmentKind uint8

const (
	// CommitmentNull is the single 0x00 byte.
	CommitmentNull CommitmentKind = iota
	// CommitmentExplicit carries the plaintext amount or asset id.
	CommitmentExplicit
	// CommitmentConfidential is a blinded Pedersen commitment or nonce point.
	CommitmentConfidential
	// CommitmentUnknown is any other prefix or length.
	CommitmentUnknown
)

func (k CommitmentKind) String() string {
	switch k {
	case CommitmentNull:
		return "null"
	case CommitmentExplicit:
		return "explicit"
	case CommitmentConfidential:
		return "confidential"
	default:
		return "unknown"
	}
}

const (
	explicitPrefix = 0x01

	explicitValueSize = 9
	commitmentSize    = 33
)

// Value is the value field of an output.
type Value struct {
	Kind  CommitmentKind
	Bytes []byte
}

// ParseValue classifies raw value bytes. It never fails; unsupported
// encodings surface when the amount is requested.
func ParseValue(b []byte) Value {
	kind := CommitmentUnknown
	switch {
	case len(b) == 1 && b[0] == 0x00:
		kind = CommitmentNull
	case len(b) == explicitValueSize && b[0] == explicitPrefix:
		kind = CommitmentExplicit
	case len(b) == commitmentSize && (b[0] == 0x08 || b[0] == 0x09):
		kind = CommitmentConfidential
	}
	return Value{Kind: kind, Bytes: clone(b)}
}

// ExplicitValue returns the 9-byte explicit encoding of amount.
func ExplicitValue(amount uint64) (Value, error) {
	b, err := elementsutil.ValueToBytes(amount)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: CommitmentExplicit, Bytes: b}, nil
}

// Amount returns the satoshi amount of an explicit value.
func (v Value) Amount() (uint64, error) {
	if v.Kind != CommitmentExplicit {
		return 0, fmt.Errorf("%w: %s value", ErrUnsupportedCommitment, v.Kind)
	}
	return elementsutil.ValueFromBytes(v.Bytes)
}

// Asset is the asset field of an output.
type Asset struct {
	Kind  CommitmentKind
	Bytes []byte
}

// ParseAsset classifies raw asset bytes.
func ParseAsset(b []byte) Asset {
	kind := CommitmentUnknown
	switch {
	case len(b) == 1 && b[0] == 0x00:
		kind = CommitmentNull
	case len(b) == commitmentSize && b[0] == explicitPrefix:
		kind = CommitmentExplicit
	case len(b) == commitmentSize && (b[0] == 0x0a || b[0] == 0x0b):
		kind = CommitmentConfidential
	}
	return Asset{Kind: kind, Bytes: clone(b)}
}

// ExplicitAsset returns the explicit encoding of an asset id given in its
// usual display (byte-reversed) hex form.
func ExplicitAsset(id string) (Asset, error) {
	b, err := elementsutil.AssetHashToBytes(id)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if len(b) != commitmentSize {
		return Asset{}, fmt.Errorf("%w: %s", ErrInvalidAsset, id)
	}
	return Asset{Kind: CommitmentExplicit, Bytes: b}, nil
}

// ID returns the display hex id of an explicit asset.
func (a Asset) ID() (string, error) {
	if a.Kind != CommitmentExplicit {
		return "", fmt.Errorf("%w: %s asset", ErrUnsupportedCommitment, a.Kind)
	}
	return elementsutil.AssetHashFromBytes(a.Bytes), nil
}

// Equal reports whether both assets have identical encodings.
func (a Asset) Equal(other Asset) bool {
	return a.Kind == other.Kind && bytes.Equal(a.Bytes, other.Bytes)
}

// Nonce is the nonce field of an output.
type Nonce struct {
	Kind  CommitmentKind
	Bytes []byte
}

// NullNonce is the nonce of an unblinded output.
var NullNonce = Nonce{Kind: CommitmentNull, Bytes: []byte{0x00}}

// ParseNonce classifies raw nonce bytes.
func ParseNonce(b []byte) Nonce {
	kind := CommitmentUnknown
	switch {
	case len(b) == 1 && b[0] == 0x00:
		kind = CommitmentNull
	case len(b) == commitmentSize && b[0] == explicitPrefix:
		kind = CommitmentExplicit
	case len(b) == commitmentSize && (b[0] == 0x02 || b[0] == 0x03):
		kind = CommitmentConfidential
	}
	return Nonce{Kind: kind, Bytes: clone(b)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
