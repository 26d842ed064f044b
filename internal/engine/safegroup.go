// Package engine holds the concurrency primitives shared by long-running
// operations.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/injector/injector/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// SafeGroup is an errgroup.Group whose goroutines turn panics into errors
// instead of crashing the process.
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a SafeGroup bound to a derived context that is
// cancelled when the first goroutine fails.
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	g, ctx := errgroup.WithContext(ctx)
	return &SafeGroup{group: g, logger: log}, ctx
}

// Go runs fn in a new goroutine. A panic becomes the goroutine's error.
func (sg *SafeGroup) Go(name string, fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("task", name),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	})
}

// Wait blocks until every goroutine has returned and yields the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
