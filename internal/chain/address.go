package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/address"
)

// Address errors
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrWrongNetwork        = errors.New("address belongs to another network")
	ErrConfidentialAddress = errors.New("confidential addresses are not supported")
	ErrUnsupportedScript   = errors.New("script has no address form")
)

// DecodeAddress returns the output script an unconfidential address pays to.
func (p *Params) DecodeAddress(addr string) ([]byte, error) {
	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, p.Blech32HRP+"1"):
		return nil, ErrConfidentialAddress
	case strings.HasPrefix(lower, p.Bech32HRP+"1"):
		return p.decodeSegwit(addr)
	}

	if confidential, err := address.IsConfidential(addr); err == nil && confidential {
		return nil, ErrConfidentialAddress
	}

	// Unknown bech32 prefixes fail here as well.
	decoded, err := address.FromBase58(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if decoded.Version != p.PubKeyHashAddrID && decoded.Version != p.ScriptHashAddrID {
		return nil, fmt.Errorf("%w: version byte %d", ErrWrongNetwork, decoded.Version)
	}

	script, err := address.ToOutputScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return script, nil
}

func (p *Params) decodeSegwit(addr string) ([]byte, error) {
	decoded, err := address.FromBech32(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if strings.ToLower(decoded.Prefix) != p.Bech32HRP {
		return nil, fmt.Errorf("%w: prefix %s", ErrWrongNetwork, decoded.Prefix)
	}

	// v0 programs use the bech32 checksum, later versions bech32m.
	_, _, variant, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if (decoded.Version == 0) != (variant == bech32.Version0) {
		return nil, fmt.Errorf("%w: wrong checksum variant", ErrInvalidAddress)
	}

	versionOp := byte(txscript.OP_0)
	if decoded.Version > 0 {
		versionOp = txscript.OP_1 + decoded.Version - 1
	}

	script := make([]byte, 0, 2+len(decoded.Program))
	script = append(script, versionOp, byte(len(decoded.Program)))
	return append(script, decoded.Program...), nil
}

// EncodeAddress returns the unconfidential address of an output script.
func (p *Params) EncodeAddress(script []byte) (string, error) {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return address.ToBase58(&address.Base58{Version: p.PubKeyHashAddrID, Data: script[3:23]}), nil
	case txscript.ScriptHashTy:
		return address.ToBase58(&address.Base58{Version: p.ScriptHashAddrID, Data: script[2:22]}), nil
	case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy:
		return address.ToBech32(&address.Bech32{Prefix: p.Bech32HRP, Version: 0, Program: script[2:]})
	case txscript.WitnessV1TaprootTy:
		return address.ToBech32(&address.Bech32{Prefix: p.Bech32HRP, Version: 1, Program: script[2:]})
	default:
		return "", ErrUnsupportedScript
	}
}

// AddressType classifies an address of this network.
func (p *Params) AddressType(addr string) (AddressType, error) {
	script, err := p.DecodeAddress(addr)
	if err != nil {
		return "", err
	}
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return AddressP2PKH, nil
	case txscript.ScriptHashTy:
		return AddressP2SH, nil
	case txscript.WitnessV0PubKeyHashTy:
		return AddressP2WPKH, nil
	case txscript.WitnessV0ScriptHashTy:
		return AddressP2WSH, nil
	case txscript.WitnessV1TaprootTy:
		return AddressP2TR, nil
	default:
		return "", fmt.Errorf("%w: unknown witness program", ErrUnsupportedScript)
	}
}
