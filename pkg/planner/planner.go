// Package planner turns the active files of selected injection requests into
// a reviewable set of backup, copy, and extract actions, and executes a
// confirmed plan.
package planner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/ledger"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/types"
)

// BackupTimeFormat names the per-plan backup directory
const BackupTimeFormat = "20060102T150405Z"

// BackupAction snapshots an existing target and then overwrites it
type BackupAction struct {
	Request    string `json:"request"`
	Target     string `json:"target"`
	Source     string `json:"source"`
	BackupPath string `json:"backupPath"`
}

// ExtractAction extracts tracked revisions straight into the location.
// Paths are repository-relative target paths.
type ExtractAction struct {
	Request    string   `json:"request"`
	Track      string   `json:"track"`
	Paths      []string `json:"paths"`
	WholeTrack bool     `json:"wholeTrack"`
	// Snapshot is set when at least one target already exists; its
	// pre-image is saved under SnapshotDir first.
	Snapshot    bool   `json:"snapshot"`
	SnapshotDir string `json:"snapshotDir,omitempty"`
}

// Plan is the reviewed set of actions for one promotion. Backup, Copy, and
// Extract never share a target path.
type Plan struct {
	PatchID   string    `json:"patchId"`
	Location  string    `json:"location"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"createdAt"`
	Requests  []string  `json:"requests"`

	// Backup and Copy are keyed by absolute target path
	Backup  map[string]BackupAction `json:"backup"`
	Copy    map[string]string       `json:"copy"`
	Extract []ExtractAction         `json:"extract"`

	Entries         []types.LedgerEntry `json:"entries"`
	AlreadyPromoted []types.LedgerEntry `json:"alreadyPromoted,omitempty"`
	Warnings        []types.Issue       `json:"warnings,omitempty"`
}

// Targets returns every absolute target path the plan writes, sorted
func (p *Plan) Targets() []string {
	var out []string
	for t := range p.Backup {
		out = append(out, t)
	}
	for t := range p.Copy {
		out = append(out, t)
	}
	for _, x := range p.Extract {
		for _, path := range x.Paths {
			out = append(out, TargetPath(p.Root, path))
		}
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the plan has no actions
func (p *Plan) Empty() bool {
	return len(p.Backup) == 0 && len(p.Copy) == 0 && len(p.Extract) == 0
}

// Summary renders a short per-kind count
func (p *Plan) Summary() string {
	extracted := 0
	for _, x := range p.Extract {
		extracted += len(x.Paths)
	}
	return fmt.Sprintf("%d backup, %d copy, %d extract, %d ledger entries (%d already promoted)",
		len(p.Backup), len(p.Copy), extracted, len(p.Entries), len(p.AlreadyPromoted))
}

// Planner builds plans. Now is the clock used for timestamps.
type Planner struct {
	fs     fsutil.FileSystem
	logger logger.Logger
	Now    func() time.Time
}

// New creates a planner
func New(fs fsutil.FileSystem, log logger.Logger) *Planner {
	if fs == nil {
		fs = fsutil.NewOS()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Planner{fs: fs, logger: log, Now: time.Now}
}

// Plan builds the action plan for the selected requests (all when selected
// is empty). Requests are taken in patch order and files in path order, so
// the same inputs and clock give the same plan.
func (pl *Planner) Plan(p *types.Patch, selected []string, loc *types.Location, history []types.LedgerEntry) (*Plan, error) {
	if loc == nil || loc.Name == "" {
		return nil, types.ErrLocationUnset
	}
	requests, err := selectRequests(p, selected)
	if err != nil {
		return nil, err
	}

	now := pl.Now().UTC().Truncate(time.Second)
	plan := &Plan{
		PatchID:   p.ID,
		Location:  loc.Name,
		Root:      loc.Root,
		CreatedAt: now,
		Backup:    make(map[string]BackupAction),
		Copy:      make(map[string]string),
	}
	backupRoot := filepath.Join(backupDir(loc), now.Format(BackupTimeFormat))
	promoted := ledger.Index(ledger.ForLocation(history, loc.Name))
	claimed := make(map[string]string)

	for _, req := range requests {
		plan.Requests = append(plan.Requests, req.ID)

		var files []*types.SourceFile
		for _, f := range req.ActiveFiles() {
			if owner, ok := claimed[f.TargetPath]; ok {
				plan.Warnings = append(plan.Warnings, types.Issue{
					Kind:    types.IssueDuplicateFile,
					Request: req.ID,
					Path:    f.TargetPath,
					Message: fmt.Sprintf("already planned for request %s", owner),
				})
				continue
			}
			claimed[f.TargetPath] = req.ID
			files = append(files, f)

			if !f.PathValid {
				plan.Warnings = append(plan.Warnings, types.Issue{
					Kind:    types.IssuePathInvalid,
					Request: req.ID,
					Path:    f.TargetPath,
					Message: fmt.Sprintf("source %s does not exist", f.SourcePath),
				})
			}
			pl.addEntries(plan, req, f, promoted, now)
		}

		var extract []*types.SourceFile
		for _, f := range files {
			target := TargetPath(loc.Root, f.TargetPath)
			switch {
			case loc.DirectExtraction && f.Origin == types.OriginTracking:
				extract = append(extract, f)
			case pl.fs.Exists(target):
				plan.Backup[target] = BackupAction{
					Request:    req.ID,
					Target:     target,
					Source:     f.SourcePath,
					BackupPath: TargetPath(backupRoot, f.TargetPath),
				}
			default:
				plan.Copy[target] = f.SourcePath
			}
		}
		if len(extract) > 0 {
			plan.Extract = append(plan.Extract, pl.extractActions(p, req, extract, loc.Root, backupRoot)...)
		}
	}

	pl.logger.Debug("Plan built",
		logger.WithField("location", loc.Name),
		logger.WithField("summary", plan.Summary()))
	return plan, nil
}

func (pl *Planner) addEntries(plan *Plan, req *types.InjectionRequest, f *types.SourceFile, promoted map[string]bool, now time.Time) {
	for _, e := range ledger.EntriesForFile(req, f, plan.Location, now) {
		if promoted[e.Key()] {
			plan.AlreadyPromoted = append(plan.AlreadyPromoted, e)
			plan.Warnings = append(plan.Warnings, types.Issue{
				Kind:    types.IssueAlreadyInjected,
				Request: req.ID,
				Track:   e.Track,
				Path:    e.Path,
				Message: "already promoted to " + plan.Location,
			})
			continue
		}
		plan.Entries = append(plan.Entries, e)
	}
}

// extractActions groups files by owning track. A track whose files are all
// planned here, and owned by it, becomes one whole-track action.
func (pl *Planner) extractActions(p *types.Patch, req *types.InjectionRequest, files []*types.SourceFile, root, backupRoot string) []ExtractAction {
	byPath := make(map[string]*types.SourceFile, len(files))
	for _, f := range files {
		byPath[f.TargetPath] = f
	}

	var actions []ExtractAction
	done := make(map[string]bool)
	for _, trackID := range req.Tracks {
		track, ok := p.Tracks[trackID]
		if !ok || !track.Found() || len(track.Files) == 0 {
			continue
		}
		whole := true
		for path := range track.Files {
			f, ok := byPath[path]
			if !ok || owningTrack(f) != trackID {
				whole = false
				break
			}
		}
		if !whole {
			continue
		}
		paths := track.Paths()
		for _, path := range paths {
			done[path] = true
		}
		actions = append(actions, pl.extractAction(req.ID, trackID, paths, true, root, backupRoot))
	}

	for _, f := range files {
		if done[f.TargetPath] {
			continue
		}
		actions = append(actions, pl.extractAction(req.ID, owningTrack(f), []string{f.TargetPath}, false, root, backupRoot))
	}
	return actions
}

func (pl *Planner) extractAction(reqID, track string, paths []string, whole bool, root, backupRoot string) ExtractAction {
	x := ExtractAction{Request: reqID, Track: track, Paths: paths, WholeTrack: whole}
	for _, path := range paths {
		if pl.fs.Exists(TargetPath(root, path)) {
			x.Snapshot = true
			x.SnapshotDir = backupRoot
			break
		}
	}
	return x
}

// owningTrack is the last track that touched the file; its revision is the
// one resolution recorded.
func owningTrack(f *types.SourceFile) string {
	if len(f.Tracks) == 0 {
		return ""
	}
	return f.Tracks[len(f.Tracks)-1]
}

// TargetPath joins a repository-relative path onto a root
func TargetPath(root, path string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

func backupDir(loc *types.Location) string {
	if loc.BackupDir != "" {
		return loc.BackupDir
	}
	return filepath.Join(loc.Root, ".backup")
}

func selectRequests(p *types.Patch, selected []string) ([]*types.InjectionRequest, error) {
	if len(selected) == 0 {
		return p.OrderedRequests(), nil
	}
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		if _, err := p.Request(id); err != nil {
			return nil, err
		}
		want[id] = true
	}
	var out []*types.InjectionRequest
	for _, r := range p.OrderedRequests() {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}
