// Package swap - Chain monitor driving the Coordinator.
package swap

import (
	"context"
	"sync"
	"time"

	"github.com/vulpemventures/boltz-core-liquid/pkg/logging"
)

// DefaultMonitorInterval is used when MonitorConfig.Interval is zero.
const DefaultMonitorInterval = 30 * time.Second

// Monitor periodically runs Coordinator.Process until stopped.
type Monitor struct {
	coordinator *Coordinator
	log         *logging.Logger

	// Polling interval
	interval time.Duration

	// Context for background operations
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// MonitorConfig holds configuration for the Monitor.
type MonitorConfig struct {
	Coordinator *Coordinator
	Interval    time.Duration // Polling interval, default 30s
}

// NewMonitor creates a new monitor.
func NewMonitor(cfg *MonitorConfig) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	return &Monitor{
		coordinator: cfg.Coordinator,
		log:         logging.GetDefault().Component("swap-monitor"),
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the monitor. A first pass runs immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.log.Info("Swap monitor started", "interval", m.interval)
}

// Stop stops the monitor and waits for the running pass to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("Swap monitor stopped")
}

// Done is closed once Stop was called.
func (m *Monitor) Done() <-chan struct{} {
	return m.ctx.Done()
}

// run is the main monitoring loop.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.processAll()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.processAll()
		}
	}
}

func (m *Monitor) processAll() {
	if m.coordinator == nil {
		return
	}
	if err := m.coordinator.Process(m.ctx); err != nil && m.ctx.Err() == nil {
		m.log.Warn("Swap processing failed", "error", err)
	}
}

// CheckNow refreshes a single swap: its lockup status and whether it was
// spent by someone else.
func (m *Monitor) CheckNow(swapID string) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	defer cancel()

	if _, err := m.coordinator.FindLockup(ctx, swapID); err != nil {
		return err
	}
	_, err := m.coordinator.CheckSpent(ctx, swapID)
	return err
}

// WaitForConfirmations waits for a transaction to reach the required confirmations.
// Returns when confirmed or context is cancelled.
func (m *Monitor) WaitForConfirmations(ctx context.Context, txID string, required uint32) error {
	b := m.coordinator.backend
	if b == nil {
		return ErrNoBackend
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		tx, err := b.GetTransaction(ctx, txID)
		if err != nil {
			m.log.Debug("Error getting transaction", "txid", txID, "error", err)
		} else if tx.Confirmations >= int64(required) {
			m.log.Info("Transaction confirmed",
				"txid", txID,
				"confirmations", tx.Confirmations,
				"required", required,
			)
			return nil
		} else {
			m.log.Debug("Waiting for confirmations",
				"txid", txID,
				"current", tx.Confirmations,
				"required", required,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
