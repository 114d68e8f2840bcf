// Package swap builds and recognizes HTLC swap spends on Liquid.
// This file contains script assembly and the standard output templates.
package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptElement is either a raw opcode or a data buffer.
type ScriptElement struct {
	op     byte
	data   []byte
	isData bool
}

// Op returns an element that is written verbatim as a single opcode byte.
func Op(op byte) ScriptElement {
	return ScriptElement{op: op}
}

// Data returns an element holding a data buffer.
func Data(data []byte) ScriptElement {
	return ScriptElement{data: data, isData: true}
}

// IsData reports whether the element is a data buffer.
func (e ScriptElement) IsData() bool {
	return e.isData
}

// ScriptBuffersToScript concatenates elements, prefixing every data buffer
// with its raw length byte. No push minimality is applied, so it is only
// suitable for templates with known element sizes.
func ScriptBuffersToScript(elements ...ScriptElement) []byte {
	var buf bytes.Buffer
	for _, e := range elements {
		if !e.isData {
			buf.WriteByte(e.op)
			continue
		}
		buf.WriteByte(byte(len(e.data)))
		buf.Write(e.data)
	}
	return buf.Bytes()
}

// ToPushdataScript concatenates elements using the minimal push encoding
// for every data buffer. An empty buffer becomes OP_0.
func ToPushdataScript(elements ...ScriptElement) []byte {
	var buf bytes.Buffer
	for _, e := range elements {
		if !e.isData {
			buf.WriteByte(e.op)
			continue
		}
		writePushData(&buf, e.data)
	}
	return buf.Bytes()
}

func writePushData(buf *bytes.Buffer, data []byte) {
	n := len(data)
	switch {
	case n < txscript.OP_PUSHDATA1:
		buf.WriteByte(byte(n))
	case n <= 0xff:
		buf.WriteByte(txscript.OP_PUSHDATA1)
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(n))
		buf.WriteByte(txscript.OP_PUSHDATA2)
		buf.Write(l[:])
	default:
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(n))
		buf.WriteByte(txscript.OP_PUSHDATA4)
		buf.Write(l[:])
	}
	buf.Write(data)
}

// P2PKHOutput returns OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHOutput(pubKeyHash []byte) []byte {
	return ScriptBuffersToScript(
		Op(txscript.OP_DUP),
		Op(txscript.OP_HASH160),
		Data(pubKeyHash),
		Op(txscript.OP_EQUALVERIFY),
		Op(txscript.OP_CHECKSIG),
	)
}

// P2WPKHOutput returns OP_0 <hash>.
func P2WPKHOutput(pubKeyHash []byte) []byte {
	return ScriptBuffersToScript(Op(txscript.OP_0), Data(pubKeyHash))
}

// P2SHOutput returns OP_HASH160 <hash160(script)> OP_EQUAL.
func P2SHOutput(script []byte) []byte {
	return ScriptBuffersToScript(
		Op(txscript.OP_HASH160),
		Data(btcutil.Hash160(script)),
		Op(txscript.OP_EQUAL),
	)
}

// P2WSHOutput returns OP_0 <sha256(script)>.
func P2WSHOutput(script []byte) []byte {
	hash := sha256.Sum256(script)
	return ScriptBuffersToScript(Op(txscript.OP_0), Data(hash[:]))
}

// P2SHP2WSHOutput wraps the P2WSH program of script in a P2SH output.
func P2SHP2WSHOutput(script []byte) []byte {
	return P2SHOutput(P2WSHOutput(script))
}

// P2SHP2WPKHOutput wraps the P2WPKH program of pubKeyHash in a P2SH output.
func P2SHP2WPKHOutput(pubKeyHash []byte) []byte {
	return P2SHOutput(P2WPKHOutput(pubKeyHash))
}

// OutputScript returns the output script that locks redeemScript with the
// wrapping of the given output type.
func OutputScript(redeemScript []byte, outputType OutputType) ([]byte, error) {
	switch outputType {
	case Legacy:
		return P2SHOutput(redeemScript), nil
	case Bech32:
		return P2WSHOutput(redeemScript), nil
	case Compatibility:
		return P2SHP2WSHOutput(redeemScript), nil
	default:
		return nil, ErrUnknownOutputType
	}
}
