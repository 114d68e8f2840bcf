// Package swap - claim and refund transaction building.
// This file assembles, signs and serializes spends of swap outputs.
package swap

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/transaction"
)

// Transaction errors
var (
	ErrNoUTXOs                = errors.New("no UTXOs to spend")
	ErrInvalidSignatureLength = errors.New("compact signature must be 64 bytes")
	ErrUnsupportedCommitment  = errors.New("only explicit commitments are supported")
	ErrInsufficientFunds      = errors.New("inputs do not cover the fee")
	ErrInvalidPreimage        = errors.New("invalid preimage")
	ErrUnknownOutputType      = errors.New("unknown output type")
	ErrOutputNotFound         = errors.New("output not found")
	ErrMissingSigner          = errors.New("no signer for input")
	ErrInvalidAsset           = errors.New("invalid asset")
	ErrInvalidTxHash          = errors.New("transaction hash must be 32 bytes")
)

const (
	// TxVersion is the version of claim and refund transactions.
	TxVersion = 1

	// PreimageSize is the length of a swap preimage.
	PreimageSize = 32

	// SequenceFinal disables locktime and RBF signaling for an input.
	SequenceFinal uint32 = 0xffffffff

	// SequenceRBF enables locktime and signals replaceability.
	SequenceRBF uint32 = 0xfffffffd
)

// SwapOutput describes a swap UTXO and how to spend it.
type SwapOutput struct {
	// Funding transaction hash in internal byte order
	TxHash []byte
	Vout   uint32

	Value Value
	Asset Asset
	Nonce Nonce

	// Script is the output script found on chain.
	Script       []byte
	RedeemScript []byte
	Type         OutputType

	// Signer owns the claim key for claims and the refund key for refunds.
	Signer Signer
}

// ClaimDetails is a swap output spent through the preimage branch.
type ClaimDetails struct {
	SwapOutput
	Preimage []byte
}

// RefundDetails is a swap output spent through the timeout branch.
type RefundDetails struct {
	SwapOutput
}

// ClaimTxParams contains parameters for a claim transaction.
type ClaimTxParams struct {
	UTXOs []ClaimDetails

	// Destination output script
	Destination []byte

	// Absolute fee in satoshis
	Fee uint64

	// AddFeeOutput appends the explicit fee output Elements requires.
	AddFeeOutput bool

	// FeeAsset is the display hex asset id of both outputs. When empty the
	// asset of the first input is used.
	FeeAsset string

	// LockTime is usually 0 but may be set to the current height.
	LockTime uint32

	// RBF makes the inputs signal replaceability.
	RBF bool
}

// RefundTxParams contains parameters for a refund transaction.
type RefundTxParams struct {
	UTXOs []RefundDetails

	Destination []byte
	Fee         uint64

	AddFeeOutput bool
	FeeAsset     string

	// TimeoutBlockHeight becomes the transaction locktime. It must be at
	// least the timeout committed to in every redeem script.
	TimeoutBlockHeight uint32
}

// BuildClaim builds a signed transaction spending utxos through the claim
// branch into a single destination output.
func BuildClaim(utxos []ClaimDetails, destination []byte, fee uint64,
	addFeeOutput bool, feeAsset string) (*transaction.Transaction, error) {

	return BuildClaimTx(&ClaimTxParams{
		UTXOs:        utxos,
		Destination:  destination,
		Fee:          fee,
		AddFeeOutput: addFeeOutput,
		FeeAsset:     feeAsset,
	})
}

// BuildRefund builds a signed transaction spending utxos through the
// refund branch into a single destination output.
func BuildRefund(utxos []RefundDetails, destination []byte, timeoutBlockHeight uint32,
	fee uint64, addFeeOutput bool, feeAsset string) (*transaction.Transaction, error) {

	return BuildRefundTx(&RefundTxParams{
		UTXOs:              utxos,
		Destination:        destination,
		Fee:                fee,
		AddFeeOutput:       addFeeOutput,
		FeeAsset:           feeAsset,
		TimeoutBlockHeight: timeoutBlockHeight,
	})
}

// BuildClaimTx builds a claim transaction from params.
func BuildClaimTx(params *ClaimTxParams) (*transaction.Transaction, error) {
	if len(params.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}

	inputs := make([]spendInput, 0, len(params.UTXOs))
	for i, utxo := range params.UTXOs {
		if len(utxo.Preimage) != PreimageSize {
			return nil, fmt.Errorf("%w: input %d has %d bytes", ErrInvalidPreimage, i, len(utxo.Preimage))
		}
		// Scripts outside the known templates are signed as given.
		if info, err := ParseSwapScript(utxo.RedeemScript); err == nil {
			if err := VerifyPreimage(info, utxo.Preimage); err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
		}
		inputs = append(inputs, spendInput{
			SwapOutput: utxo.SwapOutput,
			selector:   utxo.Preimage,
		})
	}

	sequence := SequenceFinal
	if params.RBF {
		sequence = SequenceRBF
	}

	tx, err := buildSpend(&spendParams{
		inputs:       inputs,
		destination:  params.Destination,
		fee:          params.Fee,
		addFeeOutput: params.AddFeeOutput,
		feeAsset:     params.FeeAsset,
		sequence:     sequence,
		lockTime:     params.LockTime,
	})
	if err != nil {
		return nil, err
	}

	logger().Debug("Built claim transaction", "inputs", len(inputs), "fee", params.Fee)
	return tx, nil
}

// BuildRefundTx builds a refund transaction from params.
func BuildRefundTx(params *RefundTxParams) (*transaction.Transaction, error) {
	if len(params.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}

	inputs := make([]spendInput, 0, len(params.UTXOs))
	for _, utxo := range params.UTXOs {
		// The empty push makes the redeem script take the timeout branch.
		inputs = append(inputs, spendInput{
			SwapOutput: utxo.SwapOutput,
			selector:   []byte{},
		})
	}

	tx, err := buildSpend(&spendParams{
		inputs:       inputs,
		destination:  params.Destination,
		fee:          params.Fee,
		addFeeOutput: params.AddFeeOutput,
		feeAsset:     params.FeeAsset,
		sequence:     SequenceRBF,
		lockTime:     params.TimeoutBlockHeight,
	})
	if err != nil {
		return nil, err
	}

	logger().Debug("Built refund transaction", "inputs", len(inputs), "fee", params.Fee,
		"locktime", params.TimeoutBlockHeight)
	return tx, nil
}

type spendInput struct {
	SwapOutput

	// selector is pushed between the signature and the redeem script.
	selector []byte
}

type spendParams struct {
	inputs       []spendInput
	destination  []byte
	fee          uint64
	addFeeOutput bool
	feeAsset     string
	sequence     uint32
	lockTime     uint32
}

func buildSpend(p *spendParams) (*transaction.Transaction, error) {
	asset, err := outputAsset(p.feeAsset, p.inputs)
	if err != nil {
		return nil, err
	}

	tx := transaction.NewTx(TxVersion)
	tx.Locktime = p.lockTime

	var total uint64
	for i, in := range p.inputs {
		if len(in.TxHash) != 32 {
			return nil, fmt.Errorf("%w: input %d", ErrInvalidTxHash, i)
		}
		if in.Signer == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingSigner, i)
		}
		if in.Type != Legacy && in.Type != Bech32 && in.Type != Compatibility {
			return nil, fmt.Errorf("%w: input %d", ErrUnknownOutputType, i)
		}

		amount, err := in.Value.Amount()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if amount > math.MaxUint64-total {
			return nil, fmt.Errorf("input %d: value overflow", i)
		}
		total += amount

		txIn := transaction.NewTxInput(clone(in.TxHash), in.Vout)
		txIn.Sequence = p.sequence
		tx.AddInput(txIn)
	}

	if total <= p.fee {
		return nil, fmt.Errorf("%w: inputs %d, fee %d", ErrInsufficientFunds, total, p.fee)
	}

	if err := addOutput(tx, asset, total-p.fee, p.destination); err != nil {
		return nil, err
	}
	if p.addFeeOutput {
		if err := addOutput(tx, asset, p.fee, []byte{}); err != nil {
			return nil, err
		}
	}

	// Scripts and witnesses are not committed to, so the midstate stays
	// valid while inputs are signed one after the other.
	sigHashes := NewSigHashes(tx)

	for i, in := range p.inputs {
		if err := signInput(tx, sigHashes, i, &in); err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
	}

	return tx, nil
}

func outputAsset(feeAsset string, inputs []spendInput) (Asset, error) {
	if feeAsset != "" {
		return ExplicitAsset(feeAsset)
	}
	if inputs[0].Asset.Kind != CommitmentExplicit {
		return Asset{}, fmt.Errorf("%w: no fee asset and input asset is %s",
			ErrInvalidAsset, inputs[0].Asset.Kind)
	}
	return inputs[0].Asset, nil
}

func addOutput(tx *transaction.Transaction, asset Asset, amount uint64, script []byte) error {
	value, err := ExplicitValue(amount)
	if err != nil {
		return err
	}
	out := transaction.NewTxOutput(clone(asset.Bytes), value.Bytes, clone(script))
	out.Nonce = clone(NullNonce.Bytes)
	tx.AddOutput(out)
	return nil
}

func signInput(tx *transaction.Transaction, sigHashes *SigHashes, idx int, in *spendInput) error {
	var (
		digest []byte
		err    error
	)
	if in.Type == Legacy {
		digest, err = CalcLegacySigHash(tx, idx, in.RedeemScript, txscript.SigHashAll)
	} else {
		digest, err = CalcWitnessV0SigHash(tx, sigHashes, idx, in.RedeemScript,
			in.Value.Bytes, txscript.SigHashAll)
	}
	if err != nil {
		return err
	}

	compact, err := in.Signer.Sign(digest)
	if err != nil {
		return err
	}
	sig, err := EncodeSignature(txscript.SigHashAll, compact)
	if err != nil {
		return err
	}

	txIn := tx.Inputs[idx]
	switch in.Type {
	case Legacy:
		txIn.Script = ToPushdataScript(Data(sig), Data(in.selector), Data(in.RedeemScript))
	case Bech32:
		txIn.Witness = transaction.TxWitness{sig, clone(in.selector), clone(in.RedeemScript)}
	case Compatibility:
		txIn.Witness = transaction.TxWitness{sig, clone(in.selector), clone(in.RedeemScript)}
		txIn.Script = ToPushdataScript(Data(P2WSHOutput(in.RedeemScript)))
	}

	return nil
}
