package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// EsploraBackend implements Backend using the Esplora API with its Liquid
// extensions. Compatible with blockstream.info/liquid and self-hosted
// electrs instances.
type EsploraBackend struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string) *EsploraBackend {
	// Remove trailing slash
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &EsploraBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// Connect tests the connection to the API.
func (e *EsploraBackend) Connect(ctx context.Context) error {
	if _, err := e.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Close closes the connection.
func (e *EsploraBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

// IsConnected returns true if connected.
func (e *EsploraBackend) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// GetAddressUTXOs returns unspent outputs for an address.
func (e *EsploraBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Value           uint64 `json:"value"`
		Asset           string `json:"asset"`
		ValueCommitment string `json:"valuecommitment"`
		AssetCommitment string `json:"assetcommitment"`
	}

	if err := e.get(ctx, "/address/"+address+"/utxo", &result); err != nil {
		return nil, err
	}

	// Fetch current block height for confirmation calculation
	currentHeight, err := e.GetBlockHeight(ctx)
	if err != nil {
		// If we can't get block height, fall back to simple confirmed/unconfirmed
		currentHeight = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		utxos[i] = UTXO{
			TxID:            u.TxID,
			Vout:            u.Vout,
			Amount:          u.Value,
			Asset:           u.Asset,
			ValueCommitment: u.ValueCommitment,
			AssetCommitment: u.AssetCommitment,
			Confirmations:   confirmations(u.Status.Confirmed, u.Status.BlockHeight, currentHeight),
			BlockHeight:     u.Status.BlockHeight,
		}
	}

	return utxos, nil
}

// GetTransaction returns a transaction by ID.
func (e *EsploraBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var result esploraTx
	if err := e.get(ctx, "/tx/"+txID, &result); err != nil {
		if err == ErrAddressNotFound {
			return nil, ErrTxNotFound
		}
		return nil, err
	}

	tx := result.convert()

	// Esplora returns block_height but not confirmations directly
	if tx.Confirmed && tx.BlockHeight > 0 {
		currentHeight, err := e.GetBlockHeight(ctx)
		if err == nil {
			tx.Confirmations = confirmations(true, tx.BlockHeight, currentHeight)
		}
	}

	return tx, nil
}

// GetRawTransaction returns the serialized transaction.
func (e *EsploraBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	body, err := e.getText(ctx, "/tx/"+txID+"/hex")
	if err != nil {
		if err == ErrAddressNotFound {
			return nil, ErrTxNotFound
		}
		return nil, err
	}

	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	return raw, nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (e *EsploraBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, strings.TrimSpace(string(body)))
	}

	// Response is the txid
	return strings.TrimSpace(string(body)), nil
}

// GetOutspend returns the spending status of an output.
func (e *EsploraBackend) GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error) {
	var result struct {
		Spent  bool   `json:"spent"`
		TxID   string `json:"txid"`
		Vin    uint32 `json:"vin"`
		Status struct {
			Confirmed bool `json:"confirmed"`
		} `json:"status"`
	}

	path := "/tx/" + txID + "/outspend/" + strconv.FormatUint(uint64(vout), 10)
	if err := e.get(ctx, path, &result); err != nil {
		if err == ErrAddressNotFound {
			return nil, ErrTxNotFound
		}
		return nil, err
	}

	return &Outspend{
		Spent:       result.Spent,
		SpenderTxID: result.TxID,
		SpenderVin:  result.Vin,
		Confirmed:   result.Status.Confirmed,
	}, nil
}

// GetBlockHeight returns the current block height.
func (e *EsploraBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := e.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", body, err)
	}
	return height, nil
}

// get performs a GET request and decodes JSON response.
func (e *EsploraBackend) get(ctx context.Context, path string, result interface{}) error {
	resp, err := e.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(result)
}

// getText performs a GET request and returns the trimmed body.
func (e *EsploraBackend) getText(ctx context.Context, path string) (string, error) {
	resp, err := e.do(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (e *EsploraBackend) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	// Add cache-busting headers to avoid stale CDN responses
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrAddressNotFound
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// confirmations is current_height - block_height + 1 for confirmed items.
func confirmations(confirmed bool, blockHeight, currentHeight int64) int64 {
	if !confirmed || blockHeight <= 0 {
		return 0
	}
	if currentHeight < blockHeight {
		// Fallback: at least 1 confirmation if confirmed
		return 1
	}
	return currentHeight - blockHeight + 1
}

// esploraTx is the Esplora transaction format.
type esploraTx struct {
	TxID     string `json:"txid"`
	Version  int32  `json:"version"`
	LockTime uint32 `json:"locktime"`
	Size     int64  `json:"size"`
	Weight   int64  `json:"weight"`
	Fee      uint64 `json:"fee"`
	Status   struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		TxID      string   `json:"txid"`
		Vout      uint32   `json:"vout"`
		ScriptSig string   `json:"scriptsig"`
		Witness   []string `json:"witness"`
		Sequence  uint32   `json:"sequence"`
		IsPegin   bool     `json:"is_pegin"`
	} `json:"vin"`
	Vout []struct {
		ScriptPubKey     string `json:"scriptpubkey"`
		ScriptPubKeyType string `json:"scriptpubkey_type"`
		ScriptPubKeyAddr string `json:"scriptpubkey_address"`
		Value            uint64 `json:"value"`
		Asset            string `json:"asset"`
		ValueCommitment  string `json:"valuecommitment"`
		AssetCommitment  string `json:"assetcommitment"`
	} `json:"vout"`
}

// convert converts the Esplora format to our Transaction format.
func (et *esploraTx) convert() *Transaction {
	tx := &Transaction{
		TxID:        et.TxID,
		Version:     et.Version,
		Size:        et.Size,
		Weight:      et.Weight,
		LockTime:    et.LockTime,
		Fee:         et.Fee,
		Confirmed:   et.Status.Confirmed,
		BlockHash:   et.Status.BlockHash,
		BlockHeight: et.Status.BlockHeight,
		BlockTime:   et.Status.BlockTime,
		Inputs:      make([]TxInput, len(et.Vin)),
		Outputs:     make([]TxOutput, len(et.Vout)),
	}

	for i, vin := range et.Vin {
		tx.Inputs[i] = TxInput{
			TxID:      vin.TxID,
			Vout:      vin.Vout,
			ScriptSig: vin.ScriptSig,
			Witness:   vin.Witness,
			Sequence:  vin.Sequence,
			IsPegin:   vin.IsPegin,
		}
	}

	for i, vout := range et.Vout {
		tx.Outputs[i] = TxOutput{
			ScriptPubKey:     vout.ScriptPubKey,
			ScriptPubKeyType: vout.ScriptPubKeyType,
			ScriptPubKeyAddr: vout.ScriptPubKeyAddr,
			Value:            vout.Value,
			Asset:            vout.Asset,
			ValueCommitment:  vout.ValueCommitment,
			AssetCommitment:  vout.AssetCommitment,
		}
	}

	return tx
}

// Ensure EsploraBackend implements Backend
var _ Backend = (*EsploraBackend)(nil)

