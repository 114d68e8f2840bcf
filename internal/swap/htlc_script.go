// Package swap - HTLC redeem scripts for swaps.
// This file contains the swap and reverse swap script templates and a parser
// that recovers their components.
package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"
)

// Script template errors
var (
	ErrInvalidPreimageHash = errors.New("preimage hash must be 32 bytes")
	ErrInvalidPubKey       = errors.New("public key must be 33 bytes compressed")
	ErrUnknownScript       = errors.New("script is not a known swap script")
)

// ScriptGenerator produces a redeem script from the SHA256 preimage hash,
// the compressed claim and refund public keys and the timeout height.
// Builders treat its result as opaque bytes.
type ScriptGenerator func(preimageHash, claimPubKey, refundPubKey []byte, timeoutBlockHeight uint32) ([]byte, error)

// ScriptKind identifies a swap script template.
type ScriptKind int

const (
	// KindSwap is the submarine swap script.
	KindSwap ScriptKind = iota
	// KindReverseSwap is the reverse submarine swap script.
	KindReverseSwap
)

func (k ScriptKind) String() string {
	switch k {
	case KindSwap:
		return "swap"
	case KindReverseSwap:
		return "reverse"
	default:
		return "unknown"
	}
}

// SwapScript builds:
//
//	OP_HASH160 <ripemd160(preimageHash)> OP_EQUAL
//	OP_IF
//	    <claimPubKey>
//	OP_ELSE
//	    <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
func SwapScript(preimageHash, claimPubKey, refundPubKey []byte, timeoutBlockHeight uint32) ([]byte, error) {
	if err := checkScriptArgs(preimageHash, claimPubKey, refundPubKey); err != nil {
		return nil, err
	}

	return ToPushdataScript(
		Op(txscript.OP_HASH160),
		Data(ripemd(preimageHash)),
		Op(txscript.OP_EQUAL),

		Op(txscript.OP_IF),
		Data(claimPubKey),

		Op(txscript.OP_ELSE),
		Data(EncodeCltv(timeoutBlockHeight)),
		Op(txscript.OP_CHECKLOCKTIMEVERIFY),
		Op(txscript.OP_DROP),
		Data(refundPubKey),

		Op(txscript.OP_ENDIF),
		Op(txscript.OP_CHECKSIG),
	), nil
}

// ReverseSwapScript builds:
//
//	OP_SIZE 32 OP_EQUAL
//	OP_IF
//	    OP_HASH160 <ripemd160(preimageHash)> OP_EQUALVERIFY
//	    <claimPubKey>
//	OP_ELSE
//	    OP_DROP
//	    <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
func ReverseSwapScript(preimageHash, claimPubKey, refundPubKey []byte, timeoutBlockHeight uint32) ([]byte, error) {
	if err := checkScriptArgs(preimageHash, claimPubKey, refundPubKey); err != nil {
		return nil, err
	}

	return ToPushdataScript(
		Op(txscript.OP_SIZE),
		Data([]byte{PreimageSize}),
		Op(txscript.OP_EQUAL),

		Op(txscript.OP_IF),
		Op(txscript.OP_HASH160),
		Data(ripemd(preimageHash)),
		Op(txscript.OP_EQUALVERIFY),
		Data(claimPubKey),

		Op(txscript.OP_ELSE),
		Op(txscript.OP_DROP),
		Data(EncodeCltv(timeoutBlockHeight)),
		Op(txscript.OP_CHECKLOCKTIMEVERIFY),
		Op(txscript.OP_DROP),
		Data(refundPubKey),

		Op(txscript.OP_ENDIF),
		Op(txscript.OP_CHECKSIG),
	), nil
}

// GeneratorFor returns the template of the given kind.
func GeneratorFor(kind ScriptKind) (ScriptGenerator, error) {
	switch kind {
	case KindSwap:
		return SwapScript, nil
	case KindReverseSwap:
		return ReverseSwapScript, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownScript, kind)
	}
}

func checkScriptArgs(preimageHash, claimPubKey, refundPubKey []byte) error {
	if len(preimageHash) != 32 {
		return fmt.Errorf("%w: got %d", ErrInvalidPreimageHash, len(preimageHash))
	}
	if len(claimPubKey) != 33 {
		return fmt.Errorf("%w: claim key has %d bytes", ErrInvalidPubKey, len(claimPubKey))
	}
	if len(refundPubKey) != 33 {
		return fmt.Errorf("%w: refund key has %d bytes", ErrInvalidPubKey, len(refundPubKey))
	}
	return nil
}

func ripemd(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

// SwapScriptInfo holds the components of a parsed swap script.
type SwapScriptInfo struct {
	Kind ScriptKind

	// HASH160 of the preimage
	PreimageHash160    []byte
	ClaimPubKey        []byte
	RefundPubKey       []byte
	TimeoutBlockHeight uint32
}

// scriptToken is a single parsed opcode with its push data.
type scriptToken struct {
	op   byte
	data []byte
}

// ParseSwapScript recognizes both swap script templates.
func ParseSwapScript(script []byte) (*SwapScriptInfo, error) {
	var tokens []scriptToken
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		tokens = append(tokens, scriptToken{op: tokenizer.Opcode(), data: tokenizer.Data()})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownScript, err)
	}

	var (
		info    SwapScriptInfo
		pattern []byte
	)
	// 0xff marks a data push in the patterns below.
	const push = 0xff

	switch {
	case len(tokens) == 12 && tokens[0].op == txscript.OP_HASH160:
		info.Kind = KindSwap
		pattern = []byte{
			txscript.OP_HASH160, push, txscript.OP_EQUAL,
			txscript.OP_IF, push,
			txscript.OP_ELSE, push, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP, push,
			txscript.OP_ENDIF, // OP_CHECKSIG is checked below
		}
	case len(tokens) == 16 && tokens[0].op == txscript.OP_SIZE:
		info.Kind = KindReverseSwap
		pattern = []byte{
			txscript.OP_SIZE, push, txscript.OP_EQUAL,
			txscript.OP_IF, txscript.OP_HASH160, push, txscript.OP_EQUALVERIFY, push,
			txscript.OP_ELSE, txscript.OP_DROP, push, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP, push,
			txscript.OP_ENDIF,
		}
	default:
		return nil, ErrUnknownScript
	}

	if tokens[len(tokens)-1].op != txscript.OP_CHECKSIG {
		return nil, fmt.Errorf("%w: expected OP_CHECKSIG", ErrUnknownScript)
	}

	var pushes [][]byte
	for i, want := range pattern {
		tok := tokens[i]
		if want == push {
			if tok.op > txscript.OP_PUSHDATA4 {
				return nil, fmt.Errorf("%w: expected data push at %d", ErrUnknownScript, i)
			}
			pushes = append(pushes, tok.data)
			continue
		}
		if tok.op != want {
			return nil, fmt.Errorf("%w: unexpected opcode at %d", ErrUnknownScript, i)
		}
	}

	if info.Kind == KindReverseSwap {
		if !bytes.Equal(pushes[0], []byte{PreimageSize}) {
			return nil, fmt.Errorf("%w: unexpected preimage size check", ErrUnknownScript)
		}
		pushes = pushes[1:]
	}

	info.PreimageHash160 = clone(pushes[0])
	info.ClaimPubKey = clone(pushes[1])
	info.RefundPubKey = clone(pushes[3])

	if len(info.PreimageHash160) != 20 {
		return nil, fmt.Errorf("%w: preimage hash has %d bytes", ErrUnknownScript, len(info.PreimageHash160))
	}
	if len(info.ClaimPubKey) != 33 || len(info.RefundPubKey) != 33 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownScript, ErrInvalidPubKey)
	}

	timeout, err := DecodeCltv(pushes[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownScript, err)
	}
	info.TimeoutBlockHeight = timeout

	return &info, nil
}

// VerifyPreimage checks that preimage unlocks the claim branch of a parsed
// swap script.
func VerifyPreimage(info *SwapScriptInfo, preimage []byte) error {
	if len(preimage) != PreimageSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidPreimage, len(preimage))
	}
	if !bytes.Equal(btcutil.Hash160(preimage), info.PreimageHash160) {
		return fmt.Errorf("%w: hash does not match the script", ErrInvalidPreimage)
	}
	return nil
}
