package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
)

func TestMonitorClaims(t *testing.T) {
	h := newTestHarness(t, 101)
	rec := h.create(t, storage.SwapRoleClaim, 200, true)
	h.fund(t, rec, 10000, 100)

	m := NewMonitor(&MonitorConfig{Coordinator: h.c, Interval: 10 * time.Millisecond})
	m.Start()
	defer m.Stop()

	deadline := time.After(5 * time.Second)
	for {
		if h.mustGet(t, rec.ID).State == storage.SwapStateClaimed {
			return
		}
		select {
		case <-deadline:
			t.Fatal("swap was not claimed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMonitorDefaultInterval(t *testing.T) {
	m := NewMonitor(&MonitorConfig{})
	if m.interval != DefaultMonitorInterval {
		t.Errorf("interval = %v", m.interval)
	}

	m.Start()
	m.Stop()
	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed after Stop()")
	}
}

func TestMonitorCheckNow(t *testing.T) {
	h := newTestHarness(t, 101)
	rec := h.create(t, storage.SwapRoleRefund, 200, false)
	m := NewMonitor(&MonitorConfig{Coordinator: h.c, Interval: time.Second})

	if err := m.CheckNow(rec.ID); !errors.Is(err, ErrLockupNotFound) {
		t.Errorf("CheckNow() error = %v, want ErrLockupNotFound", err)
	}

	h.fund(t, rec, 10000, 100)
	if err := m.CheckNow(rec.ID); err != nil {
		t.Fatalf("CheckNow() error: %v", err)
	}
	if got := h.mustGet(t, rec.ID).State; got != storage.SwapStateConfirmed {
		t.Errorf("state = %s, want confirmed", got)
	}
}

func TestWaitForConfirmations(t *testing.T) {
	h := newTestHarness(t, 105)
	rec := h.create(t, storage.SwapRoleRefund, 200, false)
	_, txID := h.fund(t, rec, 10000, 100)
	m := NewMonitor(&MonitorConfig{Coordinator: h.c, Interval: 10 * time.Millisecond})

	if err := m.WaitForConfirmations(context.Background(), txID, 6); err != nil {
		t.Errorf("WaitForConfirmations() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.WaitForConfirmations(ctx, txID, 7); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForConfirmations() error = %v, want deadline exceeded", err)
	}
}
