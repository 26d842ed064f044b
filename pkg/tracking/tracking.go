// Package tracking talks to the change-tracking system: it loads change
// records and tracks, extracts tracked file contents, and writes back the
// record status when a patch completes.
package tracking

import (
	"context"
	"fmt"

	"github.com/injector/injector/pkg/types"
)

// Registry is the change-tracking system as seen by a patch session
type Registry interface {
	// FetchRecord loads the change record a patch is created from
	FetchRecord(ctx context.Context, id string) (*types.ChangeRecord, error)
	// FetchTrack loads a track. Unknown tracks return an error wrapping
	// types.ErrTrackNotFound.
	FetchTrack(ctx context.Context, id string) (*types.ChangeTrack, error)
	// UpdateRecord sets the upstream status of a change record
	UpdateRecord(ctx context.Context, id, status string) error
}

// Extractor writes the tracked content of a file at a track's revision
type Extractor interface {
	Extract(ctx context.Context, track, path, dest string) error
}

// Store is a registry backend that can also extract file contents
type Store interface {
	Registry
	Extractor
	Close() error
}

// StatusInjected is written upstream once a patch reaches BuildComplete
const StatusInjected = "INJECTED"

// Open creates the store selected by cfg
func Open(cfg types.TrackingConfig) (Store, error) {
	switch cfg.Driver {
	case types.TrackingDriverFile, "":
		return NewFileRegistry(cfg.Dir), nil
	case types.TrackingDriverPostgres:
		return NewPostgresRegistry(cfg.DSN)
	case types.TrackingDriverMemory:
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("unknown tracking driver: %s", cfg.Driver)
	}
}

func trackNotFound(id string) error {
	return fmt.Errorf("%w: %s", types.ErrTrackNotFound, id)
}
