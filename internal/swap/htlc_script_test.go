package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

func testKeys(t *testing.T) (claim, refund []byte) {
	t.Helper()
	a, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return a.PubKey().SerializeCompressed(), b.PubKey().SerializeCompressed()
}

func TestParseSwapScriptVector(t *testing.T) {
	info, err := ParseSwapScript(mustHex(t, testRedeemScript))
	if err != nil {
		t.Fatalf("ParseSwapScript() error: %v", err)
	}

	if info.Kind != KindSwap {
		t.Errorf("kind = %s, want swap", info.Kind)
	}
	if got := hex.EncodeToString(info.PreimageHash160); got != "a0738c92fde6361f09d28950c7bd0d2bf32b34be" {
		t.Errorf("preimage hash = %s", got)
	}
	if got := hex.EncodeToString(info.ClaimPubKey); got != "03be4a251dae719d565ce1d6a7a5787df99fc1ecc1f6e847567981a686f32abce1" {
		t.Errorf("claim key = %s", got)
	}
	if got := hex.EncodeToString(info.RefundPubKey); got != "03f7877d4ae985bb30b6f150ad6b6b9935c342432beed1a4781347b169c1e24173" {
		t.Errorf("refund key = %s", got)
	}
	if info.TimeoutBlockHeight != 632 {
		t.Errorf("timeout = %d, want 632", info.TimeoutBlockHeight)
	}
}

func TestSwapScriptRoundTrip(t *testing.T) {
	claim, refund := testKeys(t)
	preimage := bytes.Repeat([]byte{0x11}, PreimageSize)
	preimageHash := sha256.Sum256(preimage)

	tests := []struct {
		kind    ScriptKind
		timeout uint32
	}{
		{KindSwap, 632},
		{KindSwap, 1},
		{KindSwap, 2_500_000},
		{KindReverseSwap, 632},
		{KindReverseSwap, 0x7fffffff},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			generate, err := GeneratorFor(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			script, err := generate(preimageHash[:], claim, refund, tt.timeout)
			if err != nil {
				t.Fatalf("generate() error: %v", err)
			}

			info, err := ParseSwapScript(script)
			if err != nil {
				t.Fatalf("ParseSwapScript() error: %v", err)
			}
			if info.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", info.Kind, tt.kind)
			}
			if !bytes.Equal(info.PreimageHash160, btcutil.Hash160(preimage)) {
				t.Error("preimage hash mismatch")
			}
			if !bytes.Equal(info.ClaimPubKey, claim) || !bytes.Equal(info.RefundPubKey, refund) {
				t.Error("key mismatch")
			}
			if info.TimeoutBlockHeight != tt.timeout {
				t.Errorf("timeout = %d, want %d", info.TimeoutBlockHeight, tt.timeout)
			}

			if err := VerifyPreimage(info, preimage); err != nil {
				t.Errorf("VerifyPreimage() error: %v", err)
			}
			wrong := bytes.Repeat([]byte{0x12}, PreimageSize)
			if err := VerifyPreimage(info, wrong); !errors.Is(err, ErrInvalidPreimage) {
				t.Errorf("expected ErrInvalidPreimage, got %v", err)
			}
		})
	}
}

func TestSwapScriptLayout(t *testing.T) {
	claim, refund := testKeys(t)
	preimageHash := sha256.Sum256([]byte("preimage"))

	script, err := SwapScript(preimageHash[:], claim, refund, 632)
	if err != nil {
		t.Fatal(err)
	}

	// OP_HASH160 push20 ... OP_ENDIF OP_CHECKSIG
	if script[0] != txscript.OP_HASH160 || script[1] != 20 {
		t.Errorf("unexpected script prefix %x", script[:2])
	}
	if script[len(script)-2] != txscript.OP_ENDIF || script[len(script)-1] != txscript.OP_CHECKSIG {
		t.Errorf("unexpected script suffix %x", script[len(script)-2:])
	}
	// 1 + 21 + 1 + 1 + 34 + 1 + 3 + 1 + 1 + 34 + 1 + 1
	if len(script) != 100 {
		t.Errorf("script length = %d, want 100", len(script))
	}

	reverse, err := ReverseSwapScript(preimageHash[:], claim, refund, 632)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(reverse, []byte{txscript.OP_SIZE, 0x01, 0x20, txscript.OP_EQUAL}) {
		t.Errorf("unexpected reverse script prefix %x", reverse[:4])
	}
}

func TestSwapScriptInvalidArgs(t *testing.T) {
	claim, refund := testKeys(t)
	hash := make([]byte, 32)

	tests := []struct {
		name    string
		hash    []byte
		claim   []byte
		refund  []byte
		wantErr error
	}{
		{"short hash", hash[:20], claim, refund, ErrInvalidPreimageHash},
		{"uncompressed claim key", hash, append(claim, 0x00), refund, ErrInvalidPubKey},
		{"missing refund key", hash, claim, nil, ErrInvalidPubKey},
	}

	for _, tt := range tests {
		for _, generate := range []ScriptGenerator{SwapScript, ReverseSwapScript} {
			if _, err := generate(tt.hash, tt.claim, tt.refund, 10); !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
			}
		}
	}

	if _, err := GeneratorFor(ScriptKind(7)); !errors.Is(err, ErrUnknownScript) {
		t.Errorf("expected ErrUnknownScript, got %v", err)
	}
}

func TestParseSwapScriptRejects(t *testing.T) {
	claim, refund := testKeys(t)
	preimageHash := sha256.Sum256([]byte("x"))
	script, err := SwapScript(preimageHash[:], claim, refund, 632)
	if err != nil {
		t.Fatal(err)
	}

	wrongSig := append([]byte{}, script...)
	wrongSig[len(wrongSig)-1] = txscript.OP_CHECKSIGVERIFY

	wrongOp := append([]byte{}, script...)
	wrongOp[22] = txscript.OP_EQUALVERIFY

	tests := []struct {
		name   string
		script []byte
	}{
		{"empty", nil},
		{"p2wpkh", P2WPKHOutput(make([]byte, 20))},
		{"truncated", script[:len(script)-5]},
		{"wrong final opcode", wrongSig},
		{"wrong opcode", wrongOp},
	}

	for _, tt := range tests {
		if _, err := ParseSwapScript(tt.script); !errors.Is(err, ErrUnknownScript) {
			t.Errorf("%s: expected ErrUnknownScript, got %v", tt.name, err)
		}
	}
}
