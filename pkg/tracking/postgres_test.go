package tracking_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// Runs only against a disposable database, e.g.
// INJECTOR_TEST_POSTGRES_DSN=postgres://postgres@localhost/injector_test?sslmode=disable
func TestPostgresRegistry(t *testing.T) {
	dsn := os.Getenv("INJECTOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INJECTOR_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	reg, err := tracking.NewPostgresRegistry(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	if err := reg.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.FetchTrack(ctx, "pg-test-missing-track"); !errors.Is(err, types.ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
	if err := reg.UpdateRecord(ctx, "pg-test-missing-record", "X"); err == nil {
		t.Error("expected error updating a missing record")
	}
}
