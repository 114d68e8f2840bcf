package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Swap persistence errors
var (
	ErrSwapNotFound     = errors.New("swap not found")
	ErrInvalidSwapState = errors.New("invalid swap state")
)

// SwapState represents the current state of a swap.
type SwapState string

const (
	SwapStateCreated   SwapState = "created"
	SwapStateMempool   SwapState = "mempool"   // lockup seen unconfirmed
	SwapStateConfirmed SwapState = "confirmed" // lockup confirmed
	SwapStateClaimed   SwapState = "claimed"
	SwapStateRefunded  SwapState = "refunded"
	SwapStateFailed    SwapState = "failed"
)

// IsTerminal reports whether no further transaction will be made.
func (s SwapState) IsTerminal() bool {
	switch s {
	case SwapStateClaimed, SwapStateRefunded, SwapStateFailed:
		return true
	}
	return false
}

// SwapKind is the script template of the swap.
type SwapKind string

const (
	SwapKindSubmarine SwapKind = "submarine"
	SwapKindReverse   SwapKind = "reverse"
)

// SwapRole is the branch of the script we hold the key for.
type SwapRole string

const (
	SwapRoleClaim  SwapRole = "claim"
	SwapRoleRefund SwapRole = "refund"
)

// SwapRecord is a persisted swap. Byte fields are hex encoded.
type SwapRecord struct {
	ID      string
	Network string
	Kind    SwapKind
	Role    SwapRole

	RedeemScript  string
	OutputType    string
	Address       string
	PreimageHash  string
	ClaimPubKey   string
	RefundPubKey  string
	TimeoutHeight uint32

	ExpectedAmount uint64
	Asset          string

	Preimage string

	LockupTxID   string
	LockupVout   uint32
	LockupAmount uint64
	LockupHeight int64

	State         SwapState
	ClaimTxID     string
	RefundTxID    string
	FailureReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// NewSwapID returns a random swap id.
func NewSwapID() string {
	return uuid.New().String()
}

const swapColumns = `
	id, network, kind, role,
	redeem_script, output_type, address, preimage_hash,
	claim_pubkey, refund_pubkey, timeout_height,
	expected_amount, asset, preimage,
	lockup_txid, lockup_vout, lockup_amount, lockup_height,
	state, claim_txid, refund_txid, failure_reason,
	created_at, updated_at, completed_at`

// SaveSwap saves or updates a swap record. An empty ID is replaced by a new one.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if swap.ID == "" {
		swap.ID = NewSwapID()
	}
	if swap.State == "" {
		swap.State = SwapStateCreated
	}

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	if swap.State.IsTerminal() && swap.CompletedAt.IsZero() {
		swap.CompletedAt = now
	}

	query := `
		INSERT INTO swaps (` + swapColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preimage = excluded.preimage,
			lockup_txid = excluded.lockup_txid,
			lockup_vout = excluded.lockup_vout,
			lockup_amount = excluded.lockup_amount,
			lockup_height = excluded.lockup_height,
			state = excluded.state,
			claim_txid = excluded.claim_txid,
			refund_txid = excluded.refund_txid,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.Exec(query,
		swap.ID,
		swap.Network,
		string(swap.Kind),
		string(swap.Role),
		swap.RedeemScript,
		swap.OutputType,
		swap.Address,
		swap.PreimageHash,
		swap.ClaimPubKey,
		swap.RefundPubKey,
		swap.TimeoutHeight,
		swap.ExpectedAmount,
		nullString(swap.Asset),
		nullString(swap.Preimage),
		nullString(swap.LockupTxID),
		swap.LockupVout,
		swap.LockupAmount,
		swap.LockupHeight,
		string(swap.State),
		nullString(swap.ClaimTxID),
		nullString(swap.RefundTxID),
		nullString(swap.FailureReason),
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
		timeToUnixOrZero(swap.CompletedAt),
	)
	return err
}

// GetSwap retrieves a swap by id.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE id = ?`, id)
	swap, err := scanSwapRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return swap, err
}

// GetSwapByAddress returns the newest swap locked to address.
func (s *Storage) GetSwapByAddress(address string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE address = ?
		ORDER BY created_at DESC LIMIT 1`, address)
	swap, err := scanSwapRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return swap, err
}

// GetPendingSwaps returns all swaps that are not in a terminal state.
func (s *Storage) GetPendingSwaps() ([]*SwapRecord, error) {
	return s.querySwaps(`SELECT `+swapColumns+` FROM swaps
		WHERE state NOT IN ('claimed', 'refunded', 'failed')
		ORDER BY created_at ASC`)
}

// GetSwapsPastTimeout returns funded refund-side swaps whose timeout is
// reached at currentHeight.
func (s *Storage) GetSwapsPastTimeout(currentHeight uint32) ([]*SwapRecord, error) {
	return s.querySwaps(`SELECT `+swapColumns+` FROM swaps
		WHERE state IN ('mempool', 'confirmed')
		AND role = 'refund'
		AND timeout_height <= ?
		ORDER BY timeout_height ASC`, currentHeight)
}

// ListSwaps returns swaps, newest first. limit <= 0 means no limit.
func (s *Storage) ListSwaps(limit int, includeCompleted bool) ([]*SwapRecord, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps`
	if !includeCompleted {
		query += ` WHERE state NOT IN ('claimed', 'refunded', 'failed')`
	}
	query += ` ORDER BY updated_at DESC, created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.querySwaps(query)
}

// UpdateSwapState updates the state of a swap. reason is kept for failures.
func (s *Storage) UpdateSwapState(id string, state SwapState, reason string) error {
	switch state {
	case SwapStateCreated, SwapStateMempool, SwapStateConfirmed,
		SwapStateClaimed, SwapStateRefunded, SwapStateFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSwapState, state)
	}

	now := time.Now().Unix()
	var completedAt int64
	if state.IsTerminal() {
		completedAt = now
	}

	return s.update(`UPDATE swaps SET state = ?, failure_reason = ?, updated_at = ?,
		completed_at = CASE WHEN ? > 0 THEN ? ELSE completed_at END
		WHERE id = ?`,
		string(state), nullString(reason), now, completedAt, completedAt, id)
}

// UpdateSwapLockup records the lockup output and moves the swap to the
// mempool or confirmed state.
func (s *Storage) UpdateSwapLockup(id, txid string, vout uint32, amount uint64, height int64) error {
	state := SwapStateMempool
	if height > 0 {
		state = SwapStateConfirmed
	}

	return s.update(`UPDATE swaps SET lockup_txid = ?, lockup_vout = ?, lockup_amount = ?,
		lockup_height = ?, state = ?, updated_at = ? WHERE id = ?`,
		txid, vout, amount, height, string(state), time.Now().Unix(), id)
}

// UpdateSwapPreimage stores the preimage once it is known.
func (s *Storage) UpdateSwapPreimage(id, preimage string) error {
	return s.update(`UPDATE swaps SET preimage = ?, updated_at = ? WHERE id = ?`,
		preimage, time.Now().Unix(), id)
}

// SetSwapClaimed marks a swap as claimed by txid.
func (s *Storage) SetSwapClaimed(id, txid string) error {
	now := time.Now().Unix()
	return s.update(`UPDATE swaps SET state = ?, claim_txid = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`, string(SwapStateClaimed), txid, now, now, id)
}

// SetSwapRefunded marks a swap as refunded by txid.
func (s *Storage) SetSwapRefunded(id, txid string) error {
	now := time.Now().Unix()
	return s.update(`UPDATE swaps SET state = ?, refund_txid = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`, string(SwapStateRefunded), txid, now, now, id)
}

// SwapCount returns count of swaps by state.
func (s *Storage) SwapCount() (pending, completed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state NOT IN ('claimed', 'refunded', 'failed')",
	).Scan(&pending)
	if err != nil {
		return
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state IN ('claimed', 'refunded', 'failed')",
	).Scan(&completed)
	return
}

func (s *Storage) update(query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapNotFound
	}
	return nil
}

func (s *Storage) querySwaps(query string, args ...interface{}) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}

	return swaps, rows.Err()
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row rowScanner) (*SwapRecord, error) {
	var swap SwapRecord
	var asset, preimage, lockupTxID, claimTxID, refundTxID, failureReason sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&swap.ID,
		&swap.Network,
		&swap.Kind,
		&swap.Role,
		&swap.RedeemScript,
		&swap.OutputType,
		&swap.Address,
		&swap.PreimageHash,
		&swap.ClaimPubKey,
		&swap.RefundPubKey,
		&swap.TimeoutHeight,
		&swap.ExpectedAmount,
		&asset,
		&preimage,
		&lockupTxID,
		&swap.LockupVout,
		&swap.LockupAmount,
		&swap.LockupHeight,
		&swap.State,
		&claimTxID,
		&refundTxID,
		&failureReason,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	swap.Asset = asset.String
	swap.Preimage = preimage.String
	swap.LockupTxID = lockupTxID.String
	swap.ClaimTxID = claimTxID.String
	swap.RefundTxID = refundTxID.String
	swap.FailureReason = failureReason.String

	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid && completedAt.Int64 > 0 {
		swap.CompletedAt = time.Unix(completedAt.Int64, 0)
	}

	return &swap, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
