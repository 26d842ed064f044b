// Package process turns operator interrupts into context cancellation
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/injector/injector/pkg/logger"
)

// Manager handles signals for one long-running command. A signal cancels
// the context handed out by Start and runs the shutdown handlers; child
// processes started elsewhere are left alone.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	signals          chan os.Signal
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
	received         os.Signal
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
		signals:          make(chan os.Signal, 1),
	}
}

// RegisterShutdownHandler adds a handler run once on shutdown, in reverse
// registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start listens for SIGINT, SIGTERM and SIGHUP and returns a context that
// is cancelled on the first one, or when ctx ends.
func (m *Manager) Start(ctx context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ctx
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	signal.Notify(m.signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-ctx.Done():
		case sig := <-m.signals:
			m.logger.Warn("Received signal", logger.WithField("signal", sig.String()))
			m.mu.Lock()
			m.received = sig
			m.mu.Unlock()
			m.cancel()
			m.handleShutdown()
		}
	}()

	return ctx
}

// Stop stops listening and waits for the signal goroutine
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	signal.Stop(m.signals)
	cancel()
	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Received returns the signal that triggered shutdown, if any
func (m *Manager) Received() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Private methods

func (m *Manager) handleShutdown() {
	m.logger.Info("Initiating graceful shutdown...")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.shutdownHandlers = nil
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
