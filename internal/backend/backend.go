// Package backend provides Liquid chain access for fetching funding
// transactions, following the tip and broadcasting claims and refunds.
// This package never sees private keys - all signing happens in the swap package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrInvalidTx          = errors.New("invalid transaction")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeEsplora  Type = "esplora"  // blockstream.info/liquid API
	TypeElements Type = "elements" // Direct elementsd JSON-RPC
)

// UTXO represents an unspent output. Amount and Asset are only set for
// unblinded outputs; blinded ones carry their commitments instead.
type UTXO struct {
	TxID            string `json:"txid"`
	Vout            uint32 `json:"vout"`
	Amount          uint64 `json:"value"`
	Asset           string `json:"asset,omitempty"`
	ValueCommitment string `json:"valuecommitment,omitempty"`
	AssetCommitment string `json:"assetcommitment,omitempty"`
	Confirmations   int64  `json:"confirmations"`
	BlockHeight     int64  `json:"block_height,omitempty"`
}

// IsConfidential reports whether the output is blinded.
func (u *UTXO) IsConfidential() bool {
	return u.ValueCommitment != "" || u.AssetCommitment != ""
}

// Transaction is the decoded view of a transaction with its confirmation
// status. Raw bytes are fetched through GetRawTransaction.
type Transaction struct {
	TxID          string     `json:"txid"`
	Version       int32      `json:"version"`
	Size          int64      `json:"size"`
	Weight        int64      `json:"weight"`
	LockTime      uint32     `json:"locktime"`
	Fee           uint64     `json:"fee"`
	Confirmed     bool       `json:"confirmed"`
	BlockHash     string     `json:"block_hash,omitempty"`
	BlockHeight   int64      `json:"block_height,omitempty"`
	BlockTime     int64      `json:"block_time,omitempty"`
	Confirmations int64      `json:"confirmations"`
	Inputs        []TxInput  `json:"vin"`
	Outputs       []TxOutput `json:"vout"`
	Hex           string     `json:"hex,omitempty"`
}

// TxInput represents a transaction input.
type TxInput struct {
	TxID      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	ScriptSig string   `json:"scriptsig,omitempty"`
	Witness   []string `json:"witness,omitempty"`
	Sequence  uint32   `json:"sequence"`
	IsPegin   bool     `json:"is_pegin,omitempty"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type,omitempty"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            uint64 `json:"value"`
	Asset            string `json:"asset,omitempty"`
	ValueCommitment  string `json:"valuecommitment,omitempty"`
	AssetCommitment  string `json:"assetcommitment,omitempty"`
}

// Outspend tells whether an output was spent and by which input.
// SpenderTxID is empty when the backend cannot tell.
type Outspend struct {
	Spent       bool   `json:"spent"`
	SpenderTxID string `json:"txid,omitempty"`
	SpenderVin  uint32 `json:"vin,omitempty"`
	Confirmed   bool   `json:"confirmed"`
}

// Backend defines the interface for Liquid data providers.
type Backend interface {
	// Type returns the backend type (esplora or elements).
	Type() Type

	// Connect establishes connection to the backend.
	Connect(ctx context.Context) error

	// Close closes the connection.
	Close() error

	// IsConnected returns true if connected.
	IsConnected() bool

	// Address operations
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)

	// Transaction operations
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
	GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error)

	// Block operations
	GetBlockHeight(ctx context.Context) (int64, error)
}

// Funder is implemented by backends that control a node wallet. It is
// used to fund swap addresses on regtest.
type Funder interface {
	SendToAddress(ctx context.Context, address string, amount uint64) (string, error)
	GenerateToAddress(ctx context.Context, blocks int, address string) ([]string, error)
	GetNewAddress(ctx context.Context) (string, error)
}

// Config contains backend configuration.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url"`

	// For elementsd JSON-RPC
	RPCUser string `yaml:"rpc_user,omitempty"`
	RPCPass string `yaml:"rpc_pass,omitempty"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// DefaultTimeout is used when Config.Timeout is not set.
const DefaultTimeout = 30 * time.Second

// DefaultConfig returns the default backend of a network.
func DefaultConfig(network chain.Network) *Config {
	switch network {
	case chain.Liquid:
		return &Config{
			Type: TypeEsplora,
			URL:  "https://blockstream.info/liquid/api",
		}
	case chain.Testnet:
		return &Config{
			Type: TypeEsplora,
			URL:  "https://blockstream.info/liquidtestnet/api",
		}
	default:
		// Default credentials of the Elements regtest setups
		return &Config{
			Type:    TypeElements,
			URL:     "http://127.0.0.1:18884",
			RPCUser: "elements",
			RPCPass: "elements",
		}
	}
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// New creates the backend described by cfg.
func New(cfg *Config) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", ErrUnsupportedBackend)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrUnsupportedBackend)
	}

	switch cfg.Type {
	case TypeEsplora:
		b := NewEsploraBackend(cfg.URL)
		b.httpClient.Timeout = cfg.timeout()
		return b, nil
	case TypeElements:
		b := NewElementsBackend(cfg.URL, cfg.RPCUser, cfg.RPCPass)
		b.httpClient.Timeout = cfg.timeout()
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}
