package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/injector/injector/internal/state"
	"github.com/injector/injector/pkg/events"
	"github.com/injector/injector/pkg/patch"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// sessionHandle bundles an open session with the resources it holds
type sessionHandle struct {
	*patch.Session
	closers []func() error
}

// Close releases the session, then the publisher and the store
func (h *sessionHandle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openSession wires a patch session for recordID and opens it
func (c *CLI) openSession(ctx context.Context, recordID string) (*sessionHandle, error) {
	h := &sessionHandle{}

	store, err := tracking.Open(c.injector.Tracking)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, store.Close)

	publisher := c.publisher
	if publisher == nil {
		if publisher, err = events.New(c.injector.Events); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		h.closers = append(h.closers, publisher.Close)
	}

	sess, err := patch.NewSession(patch.Dependencies{
		Config:    c.injector,
		Registry:  store,
		Extractor: store,
		Launcher:  c.launcher,
		Notifier:  c.notifier,
		Publisher: publisher,
		States:    state.NewStateManager(c.config.StateDir(), c.logger),
		Logger:    c.logger,
	})
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	if _, err := sess.Open(ctx, recordID); err != nil {
		_ = h.Close()
		return nil, err
	}
	h.Session = sess
	h.closers = append(h.closers, sess.Close)
	return h, nil
}

// closeSession closes h and reports a failure without masking err
func (c *CLI) closeSession(h *sessionHandle) {
	if err := h.Close(); err != nil {
		c.printWarning(fmt.Sprintf("Failed to close session: %v", err))
	}
}

func (c *CLI) printIssues(issues []types.Issue) {
	for _, issue := range issues {
		c.printWarning(issue.String())
	}
}
