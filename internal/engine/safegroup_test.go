package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSafeGroup_RecoversPanic(t *testing.T) {
	g, ctx := NewSafeGroup(context.Background(), nil)

	g.Go("poller", func() error {
		panic("boom")
	})
	g.Go("coordinator", func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	if err == nil || !strings.Contains(err.Error(), "poller panicked: boom") {
		t.Errorf("expected panic to surface as error, got %v", err)
	}
}

func TestSafeGroup_FirstError(t *testing.T) {
	g, _ := NewSafeGroup(context.Background(), nil)
	want := errors.New("first")

	g.Go("a", func() error { return want })
	if err := g.Wait(); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
