package swap

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// OutputType is the wrapping used to lock funds to a redeem script.
type OutputType int

const (
	// Bech32 is a native P2WSH output.
	Bech32 OutputType = iota
	// Compatibility is a P2WSH program nested in a P2SH output.
	Compatibility
	// Legacy is a plain P2SH output.
	Legacy
)

// String returns the lowercase name of the output type.
func (t OutputType) String() string {
	switch t {
	case Bech32:
		return "bech32"
	case Compatibility:
		return "compatibility"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// IsSegwit reports whether spends of this type carry a witness.
func (t OutputType) IsSegwit() bool {
	return t == Bech32 || t == Compatibility
}

// ParseOutputType parses the names returned by OutputType.String.
func ParseOutputType(s string) (OutputType, error) {
	switch strings.ToLower(s) {
	case "bech32", "p2wsh":
		return Bech32, nil
	case "compatibility", "p2sh-p2wsh", "nested":
		return Compatibility, nil
	case "legacy", "p2sh":
		return Legacy, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownOutputType, s)
	}
}

// ScriptType is the result of classifying an output script.
type ScriptType struct {
	Type         OutputType
	IsScriptHash bool
}

// GetOutputScriptType classifies script. Nil is returned for anything that
// is not P2PKH, P2SH, P2WPKH or P2WSH.
//
// A nested segwit output is indistinguishable from any other P2SH output and
// is reported as Legacy script hash.
func GetOutputScriptType(script []byte) *ScriptType {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return &ScriptType{Type: Legacy}
	case txscript.ScriptHashTy:
		return &ScriptType{Type: Legacy, IsScriptHash: true}
	case txscript.WitnessV0PubKeyHashTy:
		return &ScriptType{Type: Bech32}
	case txscript.WitnessV0ScriptHashTy:
		return &ScriptType{Type: Bech32, IsScriptHash: true}
	default:
		return nil
	}
}
