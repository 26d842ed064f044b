package process

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestManager_SignalCancelsContext(t *testing.T) {
	m := NewManager(nil)

	var order []int
	m.RegisterShutdownHandler(func() { order = append(order, 1) })
	m.RegisterShutdownHandler(func() { order = append(order, 2) })

	ctx := m.Start(context.Background())
	if !m.IsRunning() {
		t.Fatal("expected manager to be running")
	}

	m.signals <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled by signal")
	}

	m.Stop()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("expected handlers in reverse order, got %v", order)
	}
	if m.Received() != syscall.SIGTERM {
		t.Errorf("expected SIGTERM recorded, got %v", m.Received())
	}
}

func TestManager_StopWithoutSignal(t *testing.T) {
	m := NewManager(nil)
	called := false
	m.RegisterShutdownHandler(func() { called = true })

	ctx := m.Start(context.Background())
	m.Stop()

	if ctx.Err() == nil {
		t.Error("expected context cancelled after Stop")
	}
	if called {
		t.Error("shutdown handlers should only run on a signal")
	}
	if m.IsRunning() {
		t.Error("expected manager stopped")
	}
	m.Stop()
}
