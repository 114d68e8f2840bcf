package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
)

const (
	testTxID  = "54d761e65cf5a2f2a6ca9c5ed6e0b0b1bfc7a32d8e1a9c0e5ed47d35ed4c5d28"
	testAsset = "5ac9f65c0efcc4775e0baec4ec03abdde22473cd3cf33c0419ca290e0751b225"
)

func TestDefaultConfig(t *testing.T) {
	tests := []struct {
		network  chain.Network
		wantType Type
		wantURL  string
	}{
		{chain.Liquid, TypeEsplora, "https://blockstream.info/liquid/api"},
		{chain.Testnet, TypeEsplora, "https://blockstream.info/liquidtestnet/api"},
		{chain.Regtest, TypeElements, "http://127.0.0.1:18884"},
	}

	for _, tc := range tests {
		cfg := DefaultConfig(tc.network)
		if cfg.Type != tc.wantType {
			t.Errorf("%s: type = %s, want %s", tc.network, cfg.Type, tc.wantType)
		}
		if cfg.URL != tc.wantURL {
			t.Errorf("%s: url = %s, want %s", tc.network, cfg.URL, tc.wantURL)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		wantType Type
		wantErr  bool
	}{
		{"esplora", &Config{Type: TypeEsplora, URL: "http://localhost:3000"}, TypeEsplora, false},
		{"elements", &Config{Type: TypeElements, URL: "http://localhost:18884", Timeout: 5}, TypeElements, false},
		{"nil config", nil, "", true},
		{"empty url", &Config{Type: TypeEsplora}, "", true},
		{"unknown type", &Config{Type: "electrum", URL: "tcp://localhost:50001"}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsupportedBackend) {
					t.Fatalf("New() error = %v, want ErrUnsupportedBackend", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if b.Type() != tc.wantType {
				t.Errorf("Type() = %s, want %s", b.Type(), tc.wantType)
			}
			if b.IsConnected() {
				t.Error("should not be connected initially")
			}
		})
	}
}

func TestNewEsploraBackendTrimsSlash(t *testing.T) {
	b := NewEsploraBackend("https://blockstream.info/liquid/api/")
	if b.baseURL != "https://blockstream.info/liquid/api" {
		t.Errorf("baseURL = %s, trailing slash should be removed", b.baseURL)
	}
}

func TestConfirmations(t *testing.T) {
	tests := []struct {
		confirmed     bool
		blockHeight   int64
		currentHeight int64
		want          int64
	}{
		{false, 0, 100, 0},
		{true, 0, 100, 0},
		{true, 100, 100, 1},
		{true, 90, 100, 11},
		{true, 110, 100, 1},
	}

	for _, tc := range tests {
		got := confirmations(tc.confirmed, tc.blockHeight, tc.currentHeight)
		if got != tc.want {
			t.Errorf("confirmations(%v, %d, %d) = %d, want %d",
				tc.confirmed, tc.blockHeight, tc.currentHeight, got, tc.want)
		}
	}
}

func TestUTXOIsConfidential(t *testing.T) {
	explicit := UTXO{Amount: 10000, Asset: testAsset}
	if explicit.IsConfidential() {
		t.Error("explicit output reported as confidential")
	}

	blinded := UTXO{ValueCommitment: "08aa", AssetCommitment: "0bbb"}
	if !blinded.IsConfidential() {
		t.Error("blinded output not reported as confidential")
	}
}

func newEsploraServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "110\n")
	})
	mux.HandleFunc("/address/ert1qtest/utxo", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"txid":"`+testTxID+`","vout":1,"status":{"confirmed":true,"block_height":101},"value":100000,"asset":"`+testAsset+`"},
			{"txid":"`+testTxID+`","vout":2,"status":{"confirmed":false},"valuecommitment":"08aa","assetcommitment":"0bbb"}
		]`)
	})
	mux.HandleFunc("/tx/"+testTxID, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"txid":"`+testTxID+`","version":2,"locktime":0,"size":250,"weight":1000,"fee":300,
			"status":{"confirmed":true,"block_height":100,"block_hash":"00ff","block_time":1700000000},
			"vin":[{"txid":"`+testTxID+`","vout":0,"scriptsig":"","witness":["3044","01"],"sequence":4294967293,"is_pegin":false}],
			"vout":[{"scriptpubkey":"0014aa","scriptpubkey_type":"v0_p2wpkh","value":99700,"asset":"`+testAsset+`"},
			        {"scriptpubkey":"","scriptpubkey_type":"fee","value":300,"asset":"`+testAsset+`"}]
		}`)
	})
	mux.HandleFunc("/tx/"+testTxID+"/hex", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "0200000000")
	})
	mux.HandleFunc("/tx/"+testTxID+"/outspend/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"spent":true,"txid":"ab`+testTxID[2:]+`","vin":3,"status":{"confirmed":false}}`)
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "sendrawtransaction RPC error: TX decode failed")
			return
		}
		io.WriteString(w, testTxID)
	})
	mux.HandleFunc("/address/ert1qlimited/utxo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEsploraBackend(t *testing.T) {
	srv := newEsploraServer(t)
	b := NewEsploraBackend(srv.URL)
	ctx := context.Background()

	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !b.IsConnected() {
		t.Error("should be connected")
	}

	height, err := b.GetBlockHeight(ctx)
	if err != nil {
		t.Fatalf("GetBlockHeight() error = %v", err)
	}
	if height != 110 {
		t.Errorf("height = %d, want 110", height)
	}

	utxos, err := b.GetAddressUTXOs(ctx, "ert1qtest")
	if err != nil {
		t.Fatalf("GetAddressUTXOs() error = %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2", len(utxos))
	}
	if utxos[0].Amount != 100000 || utxos[0].Asset != testAsset || utxos[0].Confirmations != 10 {
		t.Errorf("unexpected first utxo: %+v", utxos[0])
	}
	if !utxos[1].IsConfidential() || utxos[1].Confirmations != 0 {
		t.Errorf("unexpected second utxo: %+v", utxos[1])
	}

	tx, err := b.GetTransaction(ctx, testTxID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if !tx.Confirmed || tx.Confirmations != 11 || tx.Fee != 300 {
		t.Errorf("unexpected tx status: %+v", tx)
	}
	if len(tx.Inputs) != 1 || len(tx.Inputs[0].Witness) != 2 {
		t.Errorf("unexpected inputs: %+v", tx.Inputs)
	}
	if len(tx.Outputs) != 2 || tx.Outputs[1].ScriptPubKeyType != "fee" {
		t.Errorf("unexpected outputs: %+v", tx.Outputs)
	}

	raw, err := b.GetRawTransaction(ctx, testTxID)
	if err != nil {
		t.Fatalf("GetRawTransaction() error = %v", err)
	}
	if len(raw) != 5 || raw[0] != 0x02 {
		t.Errorf("raw = %x, want 0200000000", raw)
	}

	spend, err := b.GetOutspend(ctx, testTxID, 1)
	if err != nil {
		t.Fatalf("GetOutspend() error = %v", err)
	}
	if !spend.Spent || spend.SpenderVin != 3 || spend.Confirmed {
		t.Errorf("unexpected outspend: %+v", spend)
	}

	txID, err := b.BroadcastTransaction(ctx, "0200")
	if err != nil {
		t.Fatalf("BroadcastTransaction() error = %v", err)
	}
	if txID != testTxID {
		t.Errorf("txid = %s, want %s", txID, testTxID)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if b.IsConnected() {
		t.Error("should not be connected after Close")
	}
}

func TestEsploraBackendErrors(t *testing.T) {
	srv := newEsploraServer(t)
	b := NewEsploraBackend(srv.URL)
	ctx := context.Background()

	missing := strings.Repeat("00", 32)

	if _, err := b.GetTransaction(ctx, missing); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("GetTransaction() error = %v, want ErrTxNotFound", err)
	}
	if _, err := b.GetRawTransaction(ctx, missing); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("GetRawTransaction() error = %v, want ErrTxNotFound", err)
	}
	if _, err := b.GetOutspend(ctx, missing, 0); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("GetOutspend() error = %v, want ErrTxNotFound", err)
	}
	if _, err := b.GetAddressUTXOs(ctx, "ert1qlimited"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("GetAddressUTXOs() error = %v, want ErrRateLimited", err)
	}
	if _, err := b.BroadcastTransaction(ctx, "bad"); !errors.Is(err, ErrBroadcastFailed) {
		t.Errorf("BroadcastTransaction() error = %v, want ErrBroadcastFailed", err)
	}
}

func TestEsploraConnectFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewEsploraBackend(srv.URL)
	if err := b.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
	if b.IsConnected() {
		t.Error("should not be connected")
	}
}

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type requestLog struct {
	mu       sync.Mutex
	requests []rpcRequest
}

func (l *requestLog) add(req rpcRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
}

func (l *requestLog) params(method string) []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, req := range l.requests {
		if req.Method == method {
			return req.Params
		}
	}
	return nil
}

// newElementsServer answers JSON-RPC calls from the results map.
// Methods missing from the map return an RPC error.
func newElementsServer(t *testing.T, results map[string]string, seen *requestLog) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "elements" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if seen != nil {
			seen.add(req)
		}

		result, ok := results[req.Method]
		if !ok {
			io.WriteString(w, `{"result":null,"error":{"code":-5,"message":"No such mempool or blockchain transaction"},"id":1}`)
			return
		}
		io.WriteString(w, `{"result":`+result+`,"error":null,"id":1}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestElementsBackend(t *testing.T) {
	results := map[string]string{
		"getblockchaininfo": `{"chain":"elementsregtest","blocks":120}`,
		"getblockcount":     `120`,
		"scantxoutset": `{"success":true,"height":120,"unspents":[
			{"txid":"` + testTxID + `","vout":0,"amount":0.00100000,"asset":"` + testAsset + `","height":111}]}`,
		"getrawtransaction": `{"txid":"` + testTxID + `","version":2,"size":250,"weight":1000,"locktime":0,"hex":"0200",
			"confirmations":3,"blockhash":"00ff","blocktime":1700000000,
			"vin":[{"txid":"` + testTxID + `","vout":1,"scriptSig":{"hex":""},"txinwitness":["3044","01"],"sequence":4294967293}],
			"vout":[{"value":0.00099700,"asset":"` + testAsset + `","scriptPubKey":{"hex":"0014aa","type":"witness_v0_keyhash"}},
			        {"valuecommitment":"08aa","assetcommitment":"0bbb","scriptPubKey":{"hex":"0014bb","type":"witness_v0_keyhash"}}]}`,
		"sendrawtransaction": `"` + testTxID + `"`,
		"gettxout":           `null`,
		"sendtoaddress":      `"` + testTxID + `"`,
		"generatetoaddress":  `["00ff","00fe"]`,
		"getnewaddress":      `"ert1qtest"`,
	}

	seen := &requestLog{}
	srv := newElementsServer(t, results, seen)
	b := NewElementsBackend(srv.URL, "elements", "secret")
	ctx := context.Background()

	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !b.IsConnected() {
		t.Error("should be connected")
	}

	height, err := b.GetBlockHeight(ctx)
	if err != nil || height != 120 {
		t.Fatalf("GetBlockHeight() = %d, %v, want 120", height, err)
	}

	utxos, err := b.GetAddressUTXOs(ctx, "ert1qtest")
	if err != nil {
		t.Fatalf("GetAddressUTXOs() error = %v", err)
	}
	if len(utxos) != 1 || utxos[0].Amount != 100000 || utxos[0].Confirmations != 10 {
		t.Errorf("unexpected utxos: %+v", utxos)
	}

	tx, err := b.GetTransaction(ctx, testTxID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if tx.Outputs[0].Value != 99700 {
		t.Errorf("output 0 value = %d, want 99700", tx.Outputs[0].Value)
	}
	if tx.Outputs[1].Value != 0 || tx.Outputs[1].ValueCommitment != "08aa" {
		t.Errorf("unexpected blinded output: %+v", tx.Outputs[1])
	}
	if !tx.Confirmed || tx.Confirmations != 3 {
		t.Errorf("unexpected status: confirmed=%v confirmations=%d", tx.Confirmed, tx.Confirmations)
	}

	txID, err := b.BroadcastTransaction(ctx, "0200")
	if err != nil || txID != testTxID {
		t.Fatalf("BroadcastTransaction() = %s, %v", txID, err)
	}

	spend, err := b.GetOutspend(ctx, testTxID, 0)
	if err != nil {
		t.Fatalf("GetOutspend() error = %v", err)
	}
	if !spend.Spent || spend.SpenderTxID != "" {
		t.Errorf("unexpected outspend: %+v", spend)
	}

	if _, err := b.SendToAddress(ctx, "ert1qtest", 150000); err != nil {
		t.Fatalf("SendToAddress() error = %v", err)
	}
	hashes, err := b.GenerateToAddress(ctx, 2, "ert1qtest")
	if err != nil || len(hashes) != 2 {
		t.Fatalf("GenerateToAddress() = %v, %v", hashes, err)
	}
	addr, err := b.GetNewAddress(ctx)
	if err != nil || addr != "ert1qtest" {
		t.Fatalf("GetNewAddress() = %s, %v", addr, err)
	}

	// amounts go out as exact decimal numbers
	sendParams := seen.params("sendtoaddress")
	if len(sendParams) != 2 || string(sendParams[1]) != "0.0015" {
		t.Errorf("sendtoaddress params = %s", sendParams)
	}
}

func TestElementsBackendErrors(t *testing.T) {
	srv := newElementsServer(t, map[string]string{}, nil)
	ctx := context.Background()

	b := NewElementsBackend(srv.URL, "elements", "secret")
	if _, err := b.GetTransaction(ctx, testTxID); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("GetTransaction() error = %v, want ErrTxNotFound", err)
	}
	if _, err := b.GetRawTransaction(ctx, testTxID); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("GetRawTransaction() error = %v, want ErrTxNotFound", err)
	}
	if _, err := b.BroadcastTransaction(ctx, "00"); !errors.Is(err, ErrBroadcastFailed) {
		t.Errorf("BroadcastTransaction() error = %v, want ErrBroadcastFailed", err)
	}

	unauthorized := NewElementsBackend(srv.URL, "elements", "wrong")
	if err := unauthorized.Connect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
}
