// Package ledger keeps the append-only history of promoted files.
//
// Each line records one promotion:
//
//	path#track#developer#timestamp#location
//
// with an RFC 3339 timestamp. Blank lines and lines starting with '#' are
// ignored.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/injector/injector/pkg/types"
)

const fieldCount = 5

// Ledger is the history file of one installation
type Ledger struct {
	path string
	mu   sync.Mutex
}

// New opens the ledger at path. The file is created on first append.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file path
func (l *Ledger) Path() string {
	return l.path
}

// Load reads every entry. A missing file is an empty history.
func (l *Ledger) Load() ([]types.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *Ledger) load() ([]types.LedgerEntry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return entries, nil
}

// Parse reads ledger lines from r
func Parse(r io.Reader) ([]types.LedgerEntry, error) {
	var entries []types.LedgerEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ParseLine parses a single ledger line
func ParseLine(line string) (types.LedgerEntry, error) {
	fields := strings.Split(line, "#")
	if len(fields) != fieldCount {
		return types.LedgerEntry{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}
	ts, err := time.Parse(time.RFC3339, fields[3])
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("invalid timestamp %q: %w", fields[3], err)
	}
	return types.LedgerEntry{
		Path:      fields[0],
		Track:     fields[1],
		Developer: fields[2],
		Timestamp: ts,
		Location:  fields[4],
	}, nil
}

// FormatLine renders an entry as a ledger line, without newline
func FormatLine(e types.LedgerEntry) string {
	return strings.Join([]string{
		e.Path,
		e.Track,
		e.Developer,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Location,
	}, "#")
}

// Append adds the entries not already recorded and returns how many were
// written. The new lines go out in one append followed by fsync, so
// retrying after a partial failure never duplicates history.
func (l *Ledger) Append(entries []types.LedgerEntry) (int, error) {
	for _, e := range entries {
		if err := validate(e); err != nil {
			return 0, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load()
	if err != nil {
		return 0, err
	}
	seen := Index(existing)

	var b strings.Builder
	written := 0
	for _, e := range entries {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		b.WriteString(FormatLine(e))
		b.WriteByte('\n')
		written++
	}
	if written == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open ledger for append: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to append to ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close ledger: %w", err)
	}
	return written, nil
}

// Index returns the set of entry keys
func Index(entries []types.LedgerEntry) map[string]bool {
	idx := make(map[string]bool, len(entries))
	for _, e := range entries {
		idx[e.Key()] = true
	}
	return idx
}

// Contains reports whether an equivalent entry is already recorded
func (l *Ledger) Contains(e types.LedgerEntry) (bool, error) {
	entries, err := l.Load()
	if err != nil {
		return false, err
	}
	return Index(entries)[e.Key()], nil
}

// ForLocation filters entries by location
func ForLocation(entries []types.LedgerEntry, location string) []types.LedgerEntry {
	var out []types.LedgerEntry
	for _, e := range entries {
		if e.Location == location {
			out = append(out, e)
		}
	}
	return out
}

// NewEntries produces one entry per (active file, track, developer) of the
// given requests, in request order and sorted path order.
func NewEntries(requests []*types.InjectionRequest, location string, now time.Time) []types.LedgerEntry {
	var out []types.LedgerEntry
	for _, req := range requests {
		for _, f := range req.ActiveFiles() {
			out = append(out, EntriesForFile(req, f, location, now)...)
		}
	}
	return out
}

// EntriesForFile produces the entries of a single file
func EntriesForFile(req *types.InjectionRequest, f *types.SourceFile, location string, now time.Time) []types.LedgerEntry {
	out := make([]types.LedgerEntry, 0, len(f.Tracks))
	for _, track := range f.Tracks {
		out = append(out, types.LedgerEntry{
			Path:      f.TargetPath,
			Track:     track,
			Developer: req.Developer,
			Timestamp: now.UTC().Truncate(time.Second),
			Location:  location,
		})
	}
	return out
}

func validate(e types.LedgerEntry) error {
	for name, v := range map[string]string{
		"path": e.Path, "track": e.Track, "developer": e.Developer, "location": e.Location,
	} {
		if strings.Contains(v, "#") || strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("ledger %s %q contains a reserved character", name, v)
		}
	}
	if e.Path == "" || e.Location == "" {
		return fmt.Errorf("ledger entry needs a path and a location")
	}
	return nil
}
