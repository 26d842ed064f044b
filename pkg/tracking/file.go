package tracking

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/types"
	"gopkg.in/yaml.v3"
)

// FileRegistry keeps the change-tracking data as YAML documents:
//
//	<dir>/records/<id>.yaml   change records
//	<dir>/tracks/<id>.yaml    tracks and their changed files
//	<dir>/files/<track>/<path> file contents at the track's revision
type FileRegistry struct {
	dir string
	fs  fsutil.FileSystem
	mu  sync.Mutex
}

// NewFileRegistry creates a registry rooted at dir
func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{dir: dir, fs: fsutil.NewOS()}
}

var _ Store = (*FileRegistry)(nil)

// FetchRecord loads records/<id>.yaml
func (r *FileRegistry) FetchRecord(ctx context.Context, id string) (*types.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec types.ChangeRecord
	if err := r.readYAML(r.recordPath(id), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("change record %s not found", id)
		}
		return nil, fmt.Errorf("failed to load change record %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// FetchTrack loads tracks/<id>.yaml
func (r *FileRegistry) FetchTrack(ctx context.Context, id string) (*types.ChangeTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var track types.ChangeTrack
	if err := r.readYAML(filepath.Join(r.dir, "tracks", id+".yaml"), &track); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, trackNotFound(id)
		}
		return nil, fmt.Errorf("failed to load track %s: %w", id, err)
	}
	if track.ID == "" {
		track.ID = id
	}
	if track.Files == nil {
		track.Files = make(map[string]types.FileRevision)
	}
	return &track, nil
}

// UpdateRecord rewrites the record's status
func (r *FileRegistry) UpdateRecord(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.FetchRecord(ctx, id)
	if err != nil {
		return err
	}
	rec.Status = status
	return r.writeYAML(r.recordPath(id), rec)
}

// Extract copies files/<track>/<path> to dest
func (r *FileRegistry) Extract(ctx context.Context, track, path, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(r.dir, "files", track, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if !r.fs.Exists(src) {
		return fmt.Errorf("no content for %s in track %s", path, track)
	}
	return r.fs.CopyFile(src, dest)
}

// PutRecord stores a change record
func (r *FileRegistry) PutRecord(rec *types.ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeYAML(r.recordPath(rec.ID), rec)
}

// PutTrack stores a track
func (r *FileRegistry) PutTrack(track *types.ChangeTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeYAML(filepath.Join(r.dir, "tracks", track.ID+".yaml"), track)
}

// PutContent stores the content of a file at a track's revision
func (r *FileRegistry) PutContent(track, path string, data []byte) error {
	dest := filepath.Join(r.dir, "files", track, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	return r.fs.WriteFileAtomic(dest, data, 0644)
}

// Close is a no-op
func (r *FileRegistry) Close() error {
	return nil
}

func (r *FileRegistry) recordPath(id string) string {
	return filepath.Join(r.dir, "records", id+".yaml")
}

func (r *FileRegistry) readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func (r *FileRegistry) writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return r.fs.WriteFileAtomic(path, data, 0644)
}
