package swap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/transaction"
)

const (
	sigHashMask = 0x1f

	outpointIssuanceFlag = 1 << 31
	outpointPeginFlag    = 1 << 30
)

// SigHashes holds the transaction-wide midstate of the witness v0 sighash.
// It is computed once per transaction and shared by every input.
type SigHashes struct {
	HashPrevouts  chainhash.Hash
	HashSequence  chainhash.Hash
	HashIssuances chainhash.Hash
	HashOutputs   chainhash.Hash
}

// NewSigHashes computes the midstate for tx. It must be recomputed if
// inputs or outputs are changed afterwards.
func NewSigHashes(tx *transaction.Transaction) *SigHashes {
	return &SigHashes{
		HashPrevouts:  calcHashPrevouts(tx),
		HashSequence:  calcHashSequence(tx),
		HashIssuances: calcHashIssuances(tx),
		HashOutputs:   calcHashOutputs(tx.Outputs),
	}
}

func calcHashPrevouts(tx *transaction.Transaction) chainhash.Hash {
	var b bytes.Buffer
	for _, in := range tx.Inputs {
		b.Write(in.Hash)
		writeUint32(&b, in.Index)
	}
	return chainhash.DoubleHashH(b.Bytes())
}

func calcHashSequence(tx *transaction.Transaction) chainhash.Hash {
	var b bytes.Buffer
	for _, in := range tx.Inputs {
		writeUint32(&b, in.Sequence)
	}
	return chainhash.DoubleHashH(b.Bytes())
}

func calcHashIssuances(tx *transaction.Transaction) chainhash.Hash {
	var b bytes.Buffer
	for _, in := range tx.Inputs {
		if in.Issuance == nil {
			b.WriteByte(0x00)
			continue
		}
		writeIssuance(&b, in.Issuance)
	}
	return chainhash.DoubleHashH(b.Bytes())
}

func calcHashOutputs(outs []*transaction.TxOutput) chainhash.Hash {
	var b bytes.Buffer
	for _, out := range outs {
		writeOutput(&b, out)
	}
	return chainhash.DoubleHashH(b.Bytes())
}

// CalcWitnessV0SigHash returns the segwit v0 digest of input idx spending
// scriptCode locked with the given value commitment. Bech32 and
// Compatibility inputs share this digest.
func CalcWitnessV0SigHash(tx *transaction.Transaction, sigHashes *SigHashes, idx int,
	scriptCode []byte, value []byte, hashType txscript.SigHashType) ([]byte, error) {

	if idx < 0 || idx >= len(tx.Inputs) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	if sigHashes == nil {
		sigHashes = NewSigHashes(tx)
	}

	in := tx.Inputs[idx]
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0
	base := hashType & sigHashMask

	var zero chainhash.Hash
	var b bytes.Buffer

	writeUint32(&b, uint32(tx.Version))

	if !anyoneCanPay {
		b.Write(sigHashes.HashPrevouts[:])
	} else {
		b.Write(zero[:])
	}

	if !anyoneCanPay && base != txscript.SigHashSingle && base != txscript.SigHashNone {
		b.Write(sigHashes.HashSequence[:])
	} else {
		b.Write(zero[:])
	}

	if !anyoneCanPay {
		b.Write(sigHashes.HashIssuances[:])
	} else {
		b.Write(zero[:])
	}

	b.Write(in.Hash)
	writeUint32(&b, in.Index)
	if err := wire.WriteVarBytes(&b, 0, scriptCode); err != nil {
		return nil, err
	}
	b.Write(value)
	writeUint32(&b, in.Sequence)
	if in.Issuance != nil {
		writeIssuance(&b, in.Issuance)
	}

	switch {
	case base != txscript.SigHashSingle && base != txscript.SigHashNone:
		b.Write(sigHashes.HashOutputs[:])
	case base == txscript.SigHashSingle && idx < len(tx.Outputs):
		h := calcHashOutputs(tx.Outputs[idx : idx+1])
		b.Write(h[:])
	default:
		b.Write(zero[:])
	}

	writeUint32(&b, tx.Locktime)
	writeUint32(&b, uint32(hashType))

	return chainhash.DoubleHashB(b.Bytes()), nil
}

// CalcLegacySigHash returns the pre-segwit digest of input idx spending
// script. Witness data and the segwit flag byte are not committed to.
func CalcLegacySigHash(tx *transaction.Transaction, idx int, script []byte,
	hashType txscript.SigHashType) ([]byte, error) {

	if idx < 0 || idx >= len(tx.Inputs) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}

	base := hashType & sigHashMask
	if base == txscript.SigHashSingle && idx >= len(tx.Outputs) {
		// Consensus quirk: the digest is the number one.
		var hash chainhash.Hash
		hash[0] = 0x01
		return hash[:], nil
	}

	script = removeCodeSeparators(script)

	var b bytes.Buffer
	writeUint32(&b, uint32(tx.Version))

	inputs := tx.Inputs
	signIdx := idx
	if hashType&txscript.SigHashAnyOneCanPay != 0 {
		inputs = tx.Inputs[idx : idx+1]
		signIdx = 0
	}

	if err := wire.WriteVarInt(&b, 0, uint64(len(inputs))); err != nil {
		return nil, err
	}
	for i, in := range inputs {
		b.Write(in.Hash)
		index := in.Index
		if in.Issuance != nil {
			index |= outpointIssuanceFlag
		}
		if in.IsPegin {
			index |= outpointPeginFlag
		}
		writeUint32(&b, index)

		var scriptSig []byte
		sequence := in.Sequence
		if i == signIdx {
			scriptSig = script
		} else if base == txscript.SigHashNone || base == txscript.SigHashSingle {
			sequence = 0
		}
		if err := wire.WriteVarBytes(&b, 0, scriptSig); err != nil {
			return nil, err
		}
		writeUint32(&b, sequence)

		if in.Issuance != nil {
			writeIssuance(&b, in.Issuance)
		}
	}

	switch base {
	case txscript.SigHashNone:
		if err := wire.WriteVarInt(&b, 0, 0); err != nil {
			return nil, err
		}
	case txscript.SigHashSingle:
		if err := wire.WriteVarInt(&b, 0, uint64(idx+1)); err != nil {
			return nil, err
		}
		for i := 0; i < idx; i++ {
			// Null asset, value and nonce with an empty script.
			b.Write([]byte{0x00, 0x00, 0x00, 0x00})
		}
		writeOutput(&b, tx.Outputs[idx])
	default:
		if err := wire.WriteVarInt(&b, 0, uint64(len(tx.Outputs))); err != nil {
			return nil, err
		}
		for _, out := range tx.Outputs {
			writeOutput(&b, out)
		}
	}

	writeUint32(&b, tx.Locktime)
	writeUint32(&b, uint32(hashType))

	return chainhash.DoubleHashB(b.Bytes()), nil
}

// removeCodeSeparators strips OP_CODESEPARATOR from script. Scripts that do
// not parse are returned unchanged.
func removeCodeSeparators(script []byte) []byte {
	var out []byte
	prev := 0
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_CODESEPARATOR {
			out = append(out, script[prev:tokenizer.ByteIndex()-1]...)
			prev = int(tokenizer.ByteIndex())
		}
	}
	if tokenizer.Err() != nil || out == nil {
		return script
	}
	return append(out, script[prev:]...)
}

func writeUint32(w io.Writer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func writeIssuance(b *bytes.Buffer, issuance *transaction.TxIssuance) {
	b.Write(issuance.AssetBlindingNonce)
	b.Write(issuance.AssetEntropy)
	b.Write(issuance.AssetAmount)
	b.Write(issuance.TokenAmount)
}

func writeOutput(b *bytes.Buffer, out *transaction.TxOutput) {
	b.Write(out.Asset)
	b.Write(out.Value)
	b.Write(out.Nonce)
	_ = wire.WriteVarBytes(b, 0, out.Script)
}
