// Package swap - Coordinator manages registered swaps and spends them.
package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vulpemventures/go-elements/transaction"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/config"
	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
	"github.com/vulpemventures/boltz-core-liquid/pkg/helpers"
	"github.com/vulpemventures/boltz-core-liquid/pkg/logging"
)

// SettingLastHeight stores the tip seen by the last Process pass.
const SettingLastHeight = "last_block_height"

// NewCoordinator creates a new swap coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	l := cfg.Logger
	if l == nil {
		l = logging.GetDefault().Component("coordinator")
	}

	return &Coordinator{
		store:         cfg.Store,
		backend:       cfg.Backend,
		params:        cfg.Params,
		swapCfg:       cfg.Swap,
		keys:          cfg.Keys,
		destination:   cfg.Destination,
		eventHandlers: make([]EventHandler, 0),
		log:           l,
	}
}

// SetKeys sets or updates the key resolver.
func (c *Coordinator) SetKeys(keys KeyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = keys
}

// SetDestination sets or updates the payout address.
func (c *Coordinator) SetDestination(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destination = address
}

// OnEvent registers an event handler.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

func (c *Coordinator) emitEvent(swapID, eventType string, data interface{}) {
	event := SwapEvent{
		SwapID:    swapID,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	c.mu.RLock()
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Create builds the redeem script of req and registers it.
func (c *Coordinator) Create(req *CreateRequest) (*storage.SwapRecord, error) {
	generator, err := GeneratorFor(req.Kind)
	if err != nil {
		return nil, err
	}

	preimageHash := req.PreimageHash
	if len(preimageHash) == 0 && len(req.Preimage) > 0 {
		preimageHash = HashPreimage(req.Preimage)
	}

	redeemScript, err := generator(preimageHash, req.ClaimPubKey, req.RefundPubKey, req.TimeoutHeight)
	if err != nil {
		return nil, err
	}

	return c.Register(&RegisterRequest{
		RedeemScript:   redeemScript,
		OutputType:     req.OutputType,
		Role:           req.Role,
		Preimage:       req.Preimage,
		ExpectedAmount: req.ExpectedAmount,
	})
}

// Register stores a swap for an existing redeem script.
func (c *Coordinator) Register(req *RegisterRequest) (*storage.SwapRecord, error) {
	if req.Role != storage.SwapRoleClaim && req.Role != storage.SwapRoleRefund {
		return nil, fmt.Errorf("%w: %q", ErrWrongRole, req.Role)
	}

	info, err := ParseSwapScript(req.RedeemScript)
	if err != nil {
		return nil, err
	}
	if len(req.Preimage) > 0 {
		if err := VerifyPreimage(info, req.Preimage); err != nil {
			return nil, err
		}
	}

	outputScript, err := OutputScript(req.RedeemScript, req.OutputType)
	if err != nil {
		return nil, err
	}
	address, err := c.params.EncodeAddress(outputScript)
	if err != nil {
		return nil, err
	}

	kind := storage.SwapKindSubmarine
	if info.Kind == KindReverseSwap {
		kind = storage.SwapKindReverse
	}

	rec := &storage.SwapRecord{
		Network:        string(c.params.Network),
		Kind:           kind,
		Role:           req.Role,
		RedeemScript:   hex.EncodeToString(req.RedeemScript),
		OutputType:     req.OutputType.String(),
		Address:        address,
		PreimageHash:   hex.EncodeToString(info.PreimageHash160),
		ClaimPubKey:    hex.EncodeToString(info.ClaimPubKey),
		RefundPubKey:   hex.EncodeToString(info.RefundPubKey),
		TimeoutHeight:  info.TimeoutBlockHeight,
		ExpectedAmount: req.ExpectedAmount,
		Asset:          c.params.PolicyAsset,
		Preimage:       hex.EncodeToString(req.Preimage),
		State:          storage.SwapStateCreated,
	}

	if err := c.store.SaveSwap(rec); err != nil {
		return nil, fmt.Errorf("failed to save swap: %w", err)
	}

	c.log.Info("Swap registered",
		"id", rec.ID,
		"kind", rec.Kind,
		"role", rec.Role,
		"address", rec.Address,
		"timeout", rec.TimeoutHeight,
	)
	c.emitEvent(rec.ID, EventSwapRegistered, rec.Address)

	return rec, nil
}

// GetSwap returns a stored swap.
func (c *Coordinator) GetSwap(id string) (*storage.SwapRecord, error) {
	return c.store.GetSwap(id)
}

// SetPreimage stores the preimage of a swap after checking it against the script.
func (c *Coordinator) SetPreimage(id string, preimage []byte) error {
	rec, err := c.store.GetSwap(id)
	if err != nil {
		return err
	}

	info, err := c.scriptInfo(rec)
	if err != nil {
		return err
	}
	if err := VerifyPreimage(info, preimage); err != nil {
		return err
	}

	if err := c.store.UpdateSwapPreimage(id, hex.EncodeToString(preimage)); err != nil {
		return err
	}
	c.emitEvent(id, EventPreimageFound, nil)
	return nil
}

// FindLockup looks for the lockup of a swap, or refreshes its confirmation
// status when it is already known.
func (c *Coordinator) FindLockup(ctx context.Context, id string) (*storage.SwapRecord, error) {
	if c.backend == nil {
		return nil, ErrNoBackend
	}

	rec, err := c.store.GetSwap(id)
	if err != nil {
		return nil, err
	}
	if rec.State.IsTerminal() {
		return rec, ErrSwapCompleted
	}

	if rec.LockupTxID != "" {
		return c.refreshLockup(ctx, rec)
	}

	utxos, err := c.backend.GetAddressUTXOs(ctx, rec.Address)
	if err != nil && !errors.Is(err, backend.ErrAddressNotFound) {
		return nil, fmt.Errorf("failed to fetch lockup candidates: %w", err)
	}

	for _, u := range utxos {
		if u.IsConfidential() {
			c.log.Warn("Ignoring blinded output", "id", id, "txid", u.TxID, "vout", u.Vout)
			continue
		}
		if rec.Asset != "" && u.Asset != rec.Asset {
			c.log.Warn("Ignoring output of other asset", "id", id, "txid", u.TxID, "asset", u.Asset)
			continue
		}
		if u.Amount < rec.ExpectedAmount {
			c.log.Warn("Ignoring underpaying output", "id", id, "txid", u.TxID,
				"amount", u.Amount, "expected", rec.ExpectedAmount)
			continue
		}

		if err := c.store.UpdateSwapLockup(id, u.TxID, u.Vout, u.Amount, u.BlockHeight); err != nil {
			return nil, err
		}

		event := EventLockupMempool
		if u.BlockHeight > 0 {
			event = EventLockupConfirmed
		}
		c.log.Info("Lockup found", "id", id, "txid", u.TxID, "vout", u.Vout, "amount", u.Amount)
		c.emitEvent(id, event, u.TxID)

		return c.store.GetSwap(id)
	}

	return rec, ErrLockupNotFound
}

func (c *Coordinator) refreshLockup(ctx context.Context, rec *storage.SwapRecord) (*storage.SwapRecord, error) {
	if rec.LockupHeight > 0 {
		return rec, nil
	}

	tx, err := c.backend.GetTransaction(ctx, rec.LockupTxID)
	if err != nil {
		return nil, err
	}
	if !tx.Confirmed {
		return rec, nil
	}

	blockHeight := tx.BlockHeight
	if blockHeight == 0 && tx.Confirmations > 0 {
		tip, err := c.backend.GetBlockHeight(ctx)
		if err != nil {
			return nil, err
		}
		blockHeight = tip - tx.Confirmations + 1
	}

	if err := c.store.UpdateSwapLockup(rec.ID, rec.LockupTxID, rec.LockupVout, rec.LockupAmount, blockHeight); err != nil {
		return nil, err
	}
	c.log.Info("Lockup confirmed", "id", rec.ID, "txid", rec.LockupTxID, "height", blockHeight)
	c.emitEvent(rec.ID, EventLockupConfirmed, rec.LockupTxID)

	return c.store.GetSwap(rec.ID)
}

// Claim spends the lockup of a claim-side swap through the preimage branch.
func (c *Coordinator) Claim(ctx context.Context, id string) (*SpendResult, error) {
	c.spendMu.Lock()
	defer c.spendMu.Unlock()

	rec, err := c.spendable(id, storage.SwapRoleClaim)
	if err != nil {
		return nil, err
	}
	if rec.Preimage == "" {
		return nil, fmt.Errorf("%w: preimage unknown", ErrNotReadyToClaim)
	}
	if rec.LockupTxID == "" {
		return nil, fmt.Errorf("%w: no lockup", ErrNotReadyToClaim)
	}

	height, err := c.backend.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	var confirmations int64
	if rec.LockupHeight > 0 {
		confirmations = height - rec.LockupHeight + 1
	}
	if confirmations < int64(c.swapCfg.MinConfirmations) {
		return nil, fmt.Errorf("%w: lockup has %d of %d confirmations",
			ErrNotReadyToClaim, confirmations, c.swapCfg.MinConfirmations)
	}
	if !config.IsSafeToClaim(uint32(height), rec.TimeoutHeight, c.swapCfg.SafetyMarginBlocks) {
		return nil, fmt.Errorf("%w: %d blocks left before timeout",
			ErrNotReadyToClaim, config.BlocksUntilTimeout(uint32(height), rec.TimeoutHeight))
	}

	preimage, err := hex.DecodeString(rec.Preimage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreimage, err)
	}
	out, err := c.lockupOutput(ctx, rec, rec.ClaimPubKey)
	if err != nil {
		return nil, err
	}
	destination, err := c.destinationScript()
	if err != nil {
		return nil, err
	}

	tx, err := BuildClaimTx(&ClaimTxParams{
		UTXOs:        []ClaimDetails{{SwapOutput: *out, Preimage: preimage}},
		Destination:  destination,
		Fee:          c.swapCfg.Fee,
		AddFeeOutput: c.swapCfg.AddFeeOutput,
		FeeAsset:     c.params.PolicyAsset,
		RBF:          c.swapCfg.RBF,
	})
	if err != nil {
		return nil, err
	}

	result, err := c.broadcast(ctx, rec.ID, tx)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetSwapClaimed(rec.ID, result.TxID); err != nil {
		return nil, err
	}

	c.log.Info("Swap claimed", "id", rec.ID, "txid", result.TxID)
	c.emitEvent(rec.ID, EventClaimed, result.TxID)
	return result, nil
}

// Refund spends the lockup of a refund-side swap through the timeout branch.
func (c *Coordinator) Refund(ctx context.Context, id string) (*SpendResult, error) {
	c.spendMu.Lock()
	defer c.spendMu.Unlock()

	rec, err := c.spendable(id, storage.SwapRoleRefund)
	if err != nil {
		return nil, err
	}
	if rec.LockupTxID == "" {
		return nil, fmt.Errorf("%w: no lockup", ErrNotReadyToRefund)
	}

	height, err := c.backend.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	if !config.CanRefund(uint32(height), rec.TimeoutHeight) {
		return nil, fmt.Errorf("%w: %d blocks left before timeout",
			ErrNotReadyToRefund, config.BlocksUntilTimeout(uint32(height), rec.TimeoutHeight))
	}

	out, err := c.lockupOutput(ctx, rec, rec.RefundPubKey)
	if err != nil {
		return nil, err
	}
	destination, err := c.destinationScript()
	if err != nil {
		return nil, err
	}

	tx, err := BuildRefundTx(&RefundTxParams{
		UTXOs:              []RefundDetails{{SwapOutput: *out}},
		Destination:        destination,
		Fee:                c.swapCfg.Fee,
		AddFeeOutput:       c.swapCfg.AddFeeOutput,
		FeeAsset:           c.params.PolicyAsset,
		TimeoutBlockHeight: rec.TimeoutHeight,
	})
	if err != nil {
		return nil, err
	}

	result, err := c.broadcast(ctx, rec.ID, tx)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetSwapRefunded(rec.ID, result.TxID); err != nil {
		return nil, err
	}

	c.log.Info("Swap refunded", "id", rec.ID, "txid", result.TxID)
	c.emitEvent(rec.ID, EventRefunded, result.TxID)
	return result, nil
}

// CheckSpent reports whether the lockup of a swap was spent. A spend by
// another transaction completes the swap: a revealed preimage means the
// claim branch was used, otherwise the refund branch.
func (c *Coordinator) CheckSpent(ctx context.Context, id string) (bool, error) {
	rec, err := c.store.GetSwap(id)
	if err != nil {
		return false, err
	}
	if rec.LockupTxID == "" || rec.State.IsTerminal() {
		return rec.State.IsTerminal(), nil
	}

	outspend, err := c.backend.GetOutspend(ctx, rec.LockupTxID, rec.LockupVout)
	if err != nil {
		return false, err
	}
	if !outspend.Spent {
		return false, nil
	}

	if outspend.SpenderTxID == "" {
		c.log.Warn("Lockup spent by unknown transaction", "id", id, "txid", rec.LockupTxID)
		if err := c.store.UpdateSwapState(id, storage.SwapStateFailed, "lockup spent by unknown transaction"); err != nil {
			return true, err
		}
		c.emitEvent(id, EventSpentElsewhere, nil)
		return true, nil
	}

	raw, err := c.backend.GetRawTransaction(ctx, outspend.SpenderTxID)
	if err != nil {
		return true, err
	}
	spender, err := transaction.NewTxFromBuffer(bytes.NewBuffer(raw))
	if err != nil {
		return true, fmt.Errorf("failed to parse spending transaction: %w", err)
	}
	lockupHash, err := helpers.TxIDToHash(rec.LockupTxID)
	if err != nil {
		return true, err
	}
	if _, ok := SpendsOutput(spender, lockupHash, rec.LockupVout); !ok {
		return true, fmt.Errorf("%w: %s does not spend %s:%d", ErrLockupMismatch,
			outspend.SpenderTxID, rec.LockupTxID, rec.LockupVout)
	}

	hash160, err := hex.DecodeString(rec.PreimageHash)
	if err != nil {
		return true, err
	}

	preimage, err := ExtractPreimage(spender, hash160)
	switch {
	case err == nil:
		if err := c.store.UpdateSwapPreimage(id, hex.EncodeToString(preimage)); err != nil {
			return true, err
		}
		c.emitEvent(id, EventPreimageFound, hex.EncodeToString(preimage))
		err = c.store.SetSwapClaimed(id, outspend.SpenderTxID)
		if err != nil {
			return true, err
		}
	case errors.Is(err, ErrPreimageNotFound):
		if err := c.store.SetSwapRefunded(id, outspend.SpenderTxID); err != nil {
			return true, err
		}
	default:
		return true, err
	}

	c.log.Info("Lockup spent elsewhere", "id", id, "spender", outspend.SpenderTxID, "preimage", preimage != nil)
	c.emitEvent(id, EventSpentElsewhere, outspend.SpenderTxID)
	return true, nil
}

// Process runs one pass over all pending swaps: lockups are looked up,
// spends by others are detected, and swaps are claimed or refunded once
// possible. Errors of single swaps are logged and do not stop the pass.
func (c *Coordinator) Process(ctx context.Context) error {
	if c.backend == nil {
		return ErrNoBackend
	}

	height, err := c.backend.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block height: %w", err)
	}
	if err := c.store.SetSetting(SettingLastHeight, strconv.FormatInt(height, 10)); err != nil {
		return err
	}

	swaps, err := c.store.GetPendingSwaps()
	if err != nil {
		return err
	}

	for _, rec := range swaps {
		if err := c.processSwap(ctx, rec); err != nil {
			c.log.Debug("Error processing swap", "id", rec.ID, "error", err)
		}
	}

	refundable, err := c.store.GetSwapsPastTimeout(uint32(height))
	if err != nil {
		return err
	}
	for _, rec := range refundable {
		if _, err := c.Refund(ctx, rec.ID); err != nil {
			c.log.Debug("Error refunding swap", "id", rec.ID, "error", err)
		}
	}

	return nil
}

func (c *Coordinator) processSwap(ctx context.Context, rec *storage.SwapRecord) error {
	rec, err := c.FindLockup(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, ErrLockupNotFound) {
			return nil
		}
		return err
	}

	spent, err := c.CheckSpent(ctx, rec.ID)
	if err != nil || spent {
		return err
	}

	// Refunds are picked up by timeout in Process.
	if rec.Role != storage.SwapRoleClaim || rec.Preimage == "" {
		return nil
	}
	_, err = c.Claim(ctx, rec.ID)
	if errors.Is(err, ErrNotReadyToClaim) {
		return nil
	}
	return err
}

// spendable loads a swap that role may still spend.
func (c *Coordinator) spendable(id string, role storage.SwapRole) (*storage.SwapRecord, error) {
	if c.backend == nil {
		return nil, ErrNoBackend
	}

	rec, err := c.store.GetSwap(id)
	if err != nil {
		return nil, err
	}
	if rec.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSwapCompleted, rec.State)
	}
	if rec.Role != role {
		return nil, fmt.Errorf("%w: swap is %s side", ErrWrongRole, rec.Role)
	}
	return rec, nil
}

// lockupOutput fetches the lockup transaction and describes its swap output
// with the signer for pubKeyHex.
func (c *Coordinator) lockupOutput(ctx context.Context, rec *storage.SwapRecord, pubKeyHex string) (*SwapOutput, error) {
	signer, err := c.signer(rec, pubKeyHex)
	if err != nil {
		return nil, err
	}

	redeemScript, err := hex.DecodeString(rec.RedeemScript)
	if err != nil {
		return nil, err
	}
	outputType, err := ParseOutputType(rec.OutputType)
	if err != nil {
		return nil, err
	}

	raw, err := c.backend.GetRawTransaction(ctx, rec.LockupTxID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lockup: %w", err)
	}
	lockup, err := transaction.NewTxFromBuffer(bytes.NewBuffer(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse lockup: %w", err)
	}

	out, err := SwapOutputAt(lockup, rec.LockupVout, redeemScript, outputType, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockupMismatch, err)
	}
	return out, nil
}

func (c *Coordinator) signer(rec *storage.SwapRecord, pubKeyHex string) (Signer, error) {
	c.mu.RLock()
	keys := c.keys
	c.mu.RUnlock()

	if keys == nil {
		return nil, ErrNoKey
	}
	signer, err := keys(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKey, err)
	}
	if signer == nil {
		return nil, ErrNoKey
	}
	want, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, err
	}
	if !helpers.ConstantTimeCompare(signer.PubKey().SerializeCompressed(), want) {
		return nil, ErrKeyMismatch
	}
	return signer, nil
}

func (c *Coordinator) destinationScript() ([]byte, error) {
	c.mu.RLock()
	destination := c.destination
	c.mu.RUnlock()

	if destination == "" {
		return nil, ErrNoDestination
	}
	return c.params.DecodeAddress(destination)
}

func (c *Coordinator) scriptInfo(rec *storage.SwapRecord) (*SwapScriptInfo, error) {
	redeemScript, err := hex.DecodeString(rec.RedeemScript)
	if err != nil {
		return nil, err
	}
	return ParseSwapScript(redeemScript)
}

func (c *Coordinator) broadcast(ctx context.Context, id string, tx *transaction.Transaction) (*SpendResult, error) {
	txHex, err := tx.ToHex()
	if err != nil {
		return nil, err
	}

	txID, err := c.backend.BroadcastTransaction(ctx, txHex)
	if err != nil {
		return nil, err
	}

	return &SpendResult{
		SwapID: id,
		TxID:   txID,
		TxHex:  txHex,
		Fee:    c.swapCfg.Fee,
	}, nil
}
