package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/injector/injector/pkg/types"
)

// MemoryRegistry is an in-process registry
type MemoryRegistry struct {
	mu       sync.RWMutex
	records  map[string]*types.ChangeRecord
	tracks   map[string]*types.ChangeTrack
	contents map[string][]byte
	// UpdateErr, when set, is returned by UpdateRecord
	UpdateErr error
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records:  make(map[string]*types.ChangeRecord),
		tracks:   make(map[string]*types.ChangeTrack),
		contents: make(map[string][]byte),
	}
}

var _ Store = (*MemoryRegistry)(nil)

// PutRecord stores a change record
func (m *MemoryRegistry) PutRecord(rec *types.ChangeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
}

// PutTrack stores a track
func (m *MemoryRegistry) PutTrack(track *types.ChangeTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[track.ID] = copyTrack(track)
}

// PutContent stores file content for extraction
func (m *MemoryRegistry) PutContent(track, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[track+"\x00"+path] = append([]byte(nil), data...)
}

// FetchRecord returns a copy of a stored record
func (m *MemoryRegistry) FetchRecord(ctx context.Context, id string) (*types.ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("change record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// FetchTrack returns a copy of a stored track
func (m *MemoryRegistry) FetchTrack(ctx context.Context, id string) (*types.ChangeTrack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil, trackNotFound(id)
	}
	return copyTrack(t), nil
}

// UpdateRecord sets a record's status
func (m *MemoryRegistry) UpdateRecord(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("change record %s not found", id)
	}
	rec.Status = status
	return nil
}

// Extract writes stored content to dest
func (m *MemoryRegistry) Extract(ctx context.Context, track, path, dest string) error {
	m.mu.RLock()
	data, ok := m.contents[track+"\x00"+path]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no content for %s in track %s", path, track)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// Close is a no-op
func (m *MemoryRegistry) Close() error {
	return nil
}

func copyTrack(t *types.ChangeTrack) *types.ChangeTrack {
	cp := &types.ChangeTrack{
		ID:          t.ID,
		Description: t.Description,
		Files:       make(map[string]types.FileRevision, len(t.Files)),
	}
	for p, rev := range t.Files {
		cp.Files[p] = rev
	}
	return cp
}
