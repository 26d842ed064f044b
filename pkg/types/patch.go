package types

import (
	"fmt"
	"sort"
)

// Patch is a unit of promotable change: a target location, a lifecycle
// state, and the injection requests it carries.
type Patch struct {
	ID         string                       `json:"id"`
	RecordID   string                       `json:"recordId"`
	Location   string                       `json:"location"`
	State      PatchState                   `json:"state"`
	Order      []string                     `json:"order"`
	Requests   map[string]*InjectionRequest `json:"requests"`
	Tracks     map[string]*ChangeTrack      `json:"tracks"`
	Duplicates map[string][]string          `json:"duplicates,omitempty"`
	Report     *ResolutionReport            `json:"report,omitempty"`
}

// NewPatch creates an empty Ready patch
func NewPatch(id, recordID, location string) *Patch {
	return &Patch{
		ID:       id,
		RecordID: recordID,
		Location: location,
		State:    PatchStateReady,
		Requests: make(map[string]*InjectionRequest),
		Tracks:   make(map[string]*ChangeTrack),
	}
}

// AddRequest appends a request, keeping insertion order
func (p *Patch) AddRequest(r *InjectionRequest) error {
	if _, exists := p.Requests[r.ID]; exists {
		return fmt.Errorf("duplicate injection request id: %s", r.ID)
	}
	if r.Files == nil {
		r.Files = make(map[string]*SourceFile)
	}
	p.Requests[r.ID] = r
	p.Order = append(p.Order, r.ID)
	return nil
}

// Request looks up a request by id
func (p *Patch) Request(id string) (*InjectionRequest, error) {
	r, ok := p.Requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return r, nil
}

// OrderedRequests returns requests in insertion order
func (p *Patch) OrderedRequests() []*InjectionRequest {
	out := make([]*InjectionRequest, 0, len(p.Order))
	for _, id := range p.Order {
		if r, ok := p.Requests[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// TrackIDs returns every track id referenced by any request, sorted
func (p *Patch) TrackIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range p.OrderedRequests() {
		for _, t := range r.Tracks {
			if !seen[t] {
				seen[t] = true
				ids = append(ids, t)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// HasDuplicates reports whether the last duplicate scan found conflicts
func (p *Patch) HasDuplicates() bool {
	return len(p.Duplicates) > 0
}
