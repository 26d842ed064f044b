// Package patch drives a patch through resolution, planning, build and
// completion.
package patch

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// New creates a patch from an upstream change record. Records already
// marked injected start in BuildComplete.
func New(record *types.ChangeRecord) (*types.Patch, error) {
	p := types.NewPatch(uuid.New().String(), record.ID, record.Location)
	if record.Status == tracking.StatusInjected {
		p.State = types.PatchStateBuildComplete
	}

	for _, rr := range record.Requests {
		if rr.ID == "" {
			return nil, fmt.Errorf("record %s has a request without an id", record.ID)
		}
		req := &types.InjectionRequest{
			ID:         rr.ID,
			Developer:  rr.Developer,
			Tracks:     append([]string(nil), rr.Tracks...),
			SourceHint: rr.SourceHint,
		}
		if err := p.AddRequest(req); err != nil {
			return nil, err
		}
	}
	return p, nil
}
