// Package swap - Type definitions for the Coordinator.
package swap

import (
	"errors"
	"sync"
	"time"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
	"github.com/vulpemventures/boltz-core-liquid/internal/config"
	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
	"github.com/vulpemventures/boltz-core-liquid/pkg/logging"
)

// Coordinator errors
var (
	ErrNoBackend        = errors.New("backend not available")
	ErrNoKey            = errors.New("no key for swap")
	ErrKeyMismatch      = errors.New("key does not match the swap script")
	ErrNoDestination    = errors.New("no destination address")
	ErrWrongRole        = errors.New("swap cannot be spent by this role")
	ErrLockupNotFound   = errors.New("lockup not found")
	ErrLockupMismatch   = errors.New("lockup does not match the swap")
	ErrNotReadyToClaim  = errors.New("not ready to claim")
	ErrNotReadyToRefund = errors.New("not ready to refund")
	ErrSwapCompleted    = errors.New("swap already completed")
)

// Event types emitted by the Coordinator.
const (
	EventSwapRegistered  = "swap_registered"
	EventLockupMempool   = "lockup_mempool"
	EventLockupConfirmed = "lockup_confirmed"
	EventPreimageFound   = "preimage_found"
	EventClaimed         = "claimed"
	EventRefunded        = "refunded"
	EventSpentElsewhere  = "spent_elsewhere"
	EventFailed          = "failed"
)

// SwapEvent represents an event that occurred during a swap.
type SwapEvent struct {
	SwapID    string
	EventType string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler is called when swap events occur.
type EventHandler func(event SwapEvent)

// KeyFunc returns the signer for the branch of rec we hold the key for.
type KeyFunc func(rec *storage.SwapRecord) (Signer, error)

// RegisterRequest describes an HTLC output to watch and spend.
type RegisterRequest struct {
	RedeemScript []byte
	OutputType   OutputType
	Role         storage.SwapRole

	// Preimage is required to claim. It may be learned later.
	Preimage []byte

	// ExpectedAmount is the minimum lockup value, 0 accepts any.
	ExpectedAmount uint64
}

// CreateRequest builds the redeem script from its components.
type CreateRequest struct {
	Kind          ScriptKind
	PreimageHash  []byte
	ClaimPubKey   []byte
	RefundPubKey  []byte
	TimeoutHeight uint32
	OutputType    OutputType
	Role          storage.SwapRole

	Preimage       []byte
	ExpectedAmount uint64
}

// CoordinatorConfig holds the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Store   *storage.Storage
	Backend backend.Backend
	Params  *chain.Params
	Swap    config.SwapConfig

	// Keys resolves signing keys. Claims and refunds fail without it.
	Keys KeyFunc

	// Destination receives claimed and refunded funds.
	Destination string

	// Logger defaults to the "coordinator" component of the default logger.
	Logger *logging.Logger
}

// Coordinator tracks swaps and spends them through the claim or refund
// branch once that becomes possible.
type Coordinator struct {
	mu sync.RWMutex

	// Serializes spends so a swap is never spent twice concurrently.
	spendMu sync.Mutex

	store       *storage.Storage
	backend     backend.Backend
	params      *chain.Params
	swapCfg     config.SwapConfig
	keys        KeyFunc
	destination string

	eventHandlers []EventHandler

	log *logging.Logger
}

// SpendResult is returned by Claim and Refund.
type SpendResult struct {
	SwapID string
	TxID   string
	TxHex  string
	Fee    uint64
}
