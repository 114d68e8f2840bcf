package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/vulpemventures/boltz-core-liquid/pkg/helpers"
)

// lbtcDecimals is the precision of amounts in elementsd RPC results.
const lbtcDecimals = 8

// ElementsBackend implements Backend using direct JSON-RPC to elementsd.
// Transaction lookups by id need -txindex or wallet transactions.
type ElementsBackend struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
	requestID  atomic.Uint64
}

// NewElementsBackend creates a new elementsd JSON-RPC backend.
func NewElementsBackend(rpcURL, user, pass string) *ElementsBackend {
	return &ElementsBackend{
		rpcURL:  rpcURL,
		rpcUser: user,
		rpcPass: pass,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Type returns TypeElements.
func (j *ElementsBackend) Type() Type {
	return TypeElements
}

// Connect tests the connection to the node.
func (j *ElementsBackend) Connect(ctx context.Context) error {
	if _, err := j.call(ctx, "getblockchaininfo", []interface{}{}); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	j.mu.Lock()
	j.connected = true
	j.mu.Unlock()
	return nil
}

// Close closes the connection.
func (j *ElementsBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.connected = false
	return nil
}

// IsConnected returns true if connected.
func (j *ElementsBackend) IsConnected() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.connected
}

// GetAddressUTXOs uses scantxoutset to find the unspent outputs of address.
// The scan walks the whole UTXO set and can be slow on first use.
func (j *ElementsBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	result, err := j.call(ctx, "scantxoutset", []interface{}{
		"start",
		[]string{"addr(" + address + ")"},
	})
	if err != nil {
		return nil, fmt.Errorf("scantxoutset failed: %w", err)
	}

	var scan struct {
		Success bool  `json:"success"`
		Height  int64 `json:"height"`
		Unspent []struct {
			TxID   string      `json:"txid"`
			Vout   uint32      `json:"vout"`
			Amount json.Number `json:"amount"`
			Asset  string      `json:"asset"`
			Height int64       `json:"height"`
		} `json:"unspents"`
	}

	if err := decode(result, &scan); err != nil {
		return nil, fmt.Errorf("failed to parse scantxoutset result: %w", err)
	}
	if !scan.Success {
		return nil, fmt.Errorf("scantxoutset scan failed")
	}

	utxos := make([]UTXO, len(scan.Unspent))
	for i, u := range scan.Unspent {
		amount, err := helpers.ParseAmount(u.Amount.String(), lbtcDecimals)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s:%d: %w", u.TxID, u.Vout, err)
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        amount,
			Asset:         u.Asset,
			Confirmations: confirmations(u.Height > 0, u.Height, scan.Height),
			BlockHeight:   u.Height,
		}
	}

	return utxos, nil
}

// GetTransaction returns a decoded transaction.
func (j *ElementsBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	result, err := j.call(ctx, "getrawtransaction", []interface{}{txID, true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, err)
	}

	var rawTx struct {
		TxID          string `json:"txid"`
		Version       int32  `json:"version"`
		Size          int64  `json:"size"`
		Weight        int64  `json:"weight"`
		LockTime      uint32 `json:"locktime"`
		Hex           string `json:"hex"`
		BlockHash     string `json:"blockhash"`
		Confirmations int64  `json:"confirmations"`
		BlockTime     int64  `json:"blocktime"`
		Vin           []struct {
			TxID      string `json:"txid"`
			Vout      uint32 `json:"vout"`
			ScriptSig struct {
				Hex string `json:"hex"`
			} `json:"scriptSig"`
			Witness  []string `json:"txinwitness"`
			Sequence uint32   `json:"sequence"`
			IsPegin  bool     `json:"is_pegin"`
		} `json:"vin"`
		Vout []struct {
			Value           json.Number `json:"value"`
			Asset           string      `json:"asset"`
			ValueCommitment string      `json:"valuecommitment"`
			AssetCommitment string      `json:"assetcommitment"`
			ScriptPubKey    struct {
				Hex     string `json:"hex"`
				Type    string `json:"type"`
				Address string `json:"address"`
			} `json:"scriptPubKey"`
		} `json:"vout"`
	}

	if err := decode(result, &rawTx); err != nil {
		return nil, err
	}

	tx := &Transaction{
		TxID:          rawTx.TxID,
		Version:       rawTx.Version,
		Size:          rawTx.Size,
		Weight:        rawTx.Weight,
		LockTime:      rawTx.LockTime,
		Hex:           rawTx.Hex,
		BlockHash:     rawTx.BlockHash,
		Confirmations: rawTx.Confirmations,
		BlockTime:     rawTx.BlockTime,
		Confirmed:     rawTx.Confirmations > 0,
		Inputs:        make([]TxInput, len(rawTx.Vin)),
		Outputs:       make([]TxOutput, len(rawTx.Vout)),
	}

	for i, vin := range rawTx.Vin {
		tx.Inputs[i] = TxInput{
			TxID:      vin.TxID,
			Vout:      vin.Vout,
			ScriptSig: vin.ScriptSig.Hex,
			Witness:   vin.Witness,
			Sequence:  vin.Sequence,
			IsPegin:   vin.IsPegin,
		}
	}

	for i, vout := range rawTx.Vout {
		out := TxOutput{
			ScriptPubKey:     vout.ScriptPubKey.Hex,
			ScriptPubKeyType: vout.ScriptPubKey.Type,
			ScriptPubKeyAddr: vout.ScriptPubKey.Address,
			Asset:            vout.Asset,
			ValueCommitment:  vout.ValueCommitment,
			AssetCommitment:  vout.AssetCommitment,
		}
		// Blinded outputs have no value field.
		if vout.Value != "" {
			value, err := helpers.ParseAmount(vout.Value.String(), lbtcDecimals)
			if err != nil {
				return nil, fmt.Errorf("invalid value of output %d: %w", i, err)
			}
			out.Value = value
		}
		tx.Outputs[i] = out
	}

	return tx, nil
}

// GetRawTransaction returns the serialized transaction.
func (j *ElementsBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	result, err := j.call(ctx, "getrawtransaction", []interface{}{txID, false})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, err)
	}

	var hexStr string
	if err := json.Unmarshal(result, &hexStr); err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	return raw, nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (j *ElementsBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := j.call(ctx, "sendrawtransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	var txID string
	if err := json.Unmarshal(result, &txID); err != nil {
		return "", err
	}

	return txID, nil
}

// GetOutspend uses gettxout, which only knows whether the output is still
// unspent. The spending transaction is not reported.
func (j *ElementsBackend) GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error) {
	result, err := j.call(ctx, "gettxout", []interface{}{txID, vout, true})
	if err != nil {
		return nil, err
	}

	// null means spent or never existed
	if len(result) == 0 || string(result) == "null" {
		return &Outspend{Spent: true}, nil
	}
	return &Outspend{Spent: false}, nil
}

// GetBlockHeight returns the current block height.
func (j *ElementsBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	result, err := j.call(ctx, "getblockcount", []interface{}{})
	if err != nil {
		return 0, err
	}

	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, err
	}

	return height, nil
}

// SendToAddress pays amount satoshis of the policy asset to address from
// the node wallet.
func (j *ElementsBackend) SendToAddress(ctx context.Context, address string, amount uint64) (string, error) {
	result, err := j.call(ctx, "sendtoaddress", []interface{}{
		address,
		json.Number(helpers.FormatAmount(amount, lbtcDecimals)),
	})
	if err != nil {
		return "", err
	}

	var txID string
	if err := json.Unmarshal(result, &txID); err != nil {
		return "", err
	}
	return txID, nil
}

// GenerateToAddress mines blocks to address. Regtest only.
func (j *ElementsBackend) GenerateToAddress(ctx context.Context, blocks int, address string) ([]string, error) {
	result, err := j.call(ctx, "generatetoaddress", []interface{}{blocks, address})
	if err != nil {
		return nil, err
	}

	var hashes []string
	if err := json.Unmarshal(result, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// GetNewAddress returns a fresh address of the node wallet.
func (j *ElementsBackend) GetNewAddress(ctx context.Context) (string, error) {
	result, err := j.call(ctx, "getnewaddress", []interface{}{})
	if err != nil {
		return "", err
	}

	var address string
	if err := json.Unmarshal(result, &address); err != nil {
		return "", err
	}
	return address, nil
}

// decode unmarshals keeping numbers exact for amount parsing.
func decode(data json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (j *ElementsBackend) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := j.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if j.rpcUser != "" {
		req.SetBasicAuth(j.rpcUser, j.rpcPass)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: unauthorized", ErrNotConnected)
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		ID uint64 `json:"id"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}

	return response.Result, nil
}

// Ensure ElementsBackend implements Backend and Funder
var (
	_ Backend = (*ElementsBackend)(nil)
	_ Funder  = (*ElementsBackend)(nil)
)
