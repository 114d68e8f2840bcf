package swap

import (
	"bytes"
	"fmt"

	"github.com/vulpemventures/go-elements/transaction"
)

// DetectedSwap is the first output of a transaction locked to a redeem script.
type DetectedSwap struct {
	Vout   uint32
	Value  Value
	Asset  Asset
	Nonce  Nonce
	Script []byte
	Type   OutputType
}

// DetectSwap scans the outputs of tx in order and returns the first one
// paying to redeemScript in any of its three wrappings, or nil.
func DetectSwap(redeemScript []byte, tx *transaction.Transaction) *DetectedSwap {
	candidates := []struct {
		script []byte
		typ    OutputType
	}{
		{P2WSHOutput(redeemScript), Bech32},
		{P2SHOutput(redeemScript), Legacy},
		{P2SHP2WSHOutput(redeemScript), Compatibility},
	}

	for vout, out := range tx.Outputs {
		for _, c := range candidates {
			if !bytes.Equal(out.Script, c.script) {
				continue
			}
			return &DetectedSwap{
				Vout:   uint32(vout),
				Value:  ParseValue(out.Value),
				Asset:  ParseAsset(out.Asset),
				Nonce:  ParseNonce(out.Nonce),
				Script: clone(out.Script),
				Type:   c.typ,
			}
		}
	}

	return nil
}

// SwapOutputFromTransaction locates the output of fundingTx locked to
// redeemScript and returns a descriptor ready to be claimed or refunded.
func SwapOutputFromTransaction(fundingTx *transaction.Transaction, redeemScript []byte,
	signer Signer) (*SwapOutput, error) {

	detected := DetectSwap(redeemScript, fundingTx)
	if detected == nil {
		return nil, fmt.Errorf("%w: no output pays to the redeem script", ErrOutputNotFound)
	}

	txHash := fundingTx.TxHash()
	return &SwapOutput{
		TxHash:       txHash[:],
		Vout:         detected.Vout,
		Value:        detected.Value,
		Asset:        detected.Asset,
		Nonce:        detected.Nonce,
		Script:       detected.Script,
		RedeemScript: clone(redeemScript),
		Type:         detected.Type,
		Signer:       signer,
	}, nil
}

// SwapOutputAt builds a descriptor for a known output index of fundingTx.
func SwapOutputAt(fundingTx *transaction.Transaction, vout uint32, redeemScript []byte,
	outputType OutputType, signer Signer) (*SwapOutput, error) {

	if int(vout) >= len(fundingTx.Outputs) {
		return nil, fmt.Errorf("%w: vout %d of %d outputs", ErrOutputNotFound, vout, len(fundingTx.Outputs))
	}

	expected, err := OutputScript(redeemScript, outputType)
	if err != nil {
		return nil, err
	}
	out := fundingTx.Outputs[vout]
	if !bytes.Equal(out.Script, expected) {
		return nil, fmt.Errorf("%w: vout %d is not a %s output of the redeem script",
			ErrOutputNotFound, vout, outputType)
	}

	txHash := fundingTx.TxHash()
	return &SwapOutput{
		TxHash:       txHash[:],
		Vout:         vout,
		Value:        ParseValue(out.Value),
		Asset:        ParseAsset(out.Asset),
		Nonce:        ParseNonce(out.Nonce),
		Script:       clone(out.Script),
		RedeemScript: clone(redeemScript),
		Type:         outputType,
		Signer:       signer,
	}, nil
}
