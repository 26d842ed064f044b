// Package resolver maps the tracks of each injection request to concrete
// source files and finds target paths claimed by more than one request.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// LocationMode selects how a changed file's source path is derived
type LocationMode int

const (
	// ModeParse roots each request at its own source hint
	ModeParse LocationMode = iota
	// ModeTree roots every request at a named source tree
	ModeTree
	// ModeOther roots every request at an operator-supplied directory
	ModeOther
	// ModeNative references the tracked revision directly
	ModeNative
)

// DefaultTree is the source tree used by ModeParse for requests without a hint
const DefaultTree = "default"

// NativeScheme prefixes source references in ModeNative
const NativeScheme = "track://"

func (m LocationMode) String() string {
	switch m {
	case ModeParse:
		return "parse"
	case ModeTree:
		return "tree"
	case ModeOther:
		return "other"
	case ModeNative:
		return "native"
	default:
		return fmt.Sprintf("LocationMode(%d)", int(m))
	}
}

// ParseMode parses a mode name
func ParseMode(s string) (LocationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parse", "":
		return ModeParse, nil
	case "tree":
		return ModeTree, nil
	case "other":
		return ModeOther, nil
	case "native":
		return ModeNative, nil
	default:
		return ModeParse, fmt.Errorf("unknown location mode: %q", s)
	}
}

// EffectiveMode forces ModeNative for direct-extraction locations
func EffectiveMode(loc *types.Location, mode LocationMode) LocationMode {
	if loc != nil && loc.DirectExtraction {
		return ModeNative
	}
	return mode
}

// NativeRef builds the source reference of a file at a track revision
func NativeRef(track, path, revision string) string {
	return fmt.Sprintf("%s%s/%s@%s", NativeScheme, track, strings.TrimPrefix(path, "/"), revision)
}

// ParseNativeRef splits a native source reference into track, target path
// and revision.
func ParseNativeRef(ref string) (track, path, revision string, err error) {
	rest, ok := strings.CutPrefix(ref, NativeScheme)
	if !ok {
		return "", "", "", fmt.Errorf("not a native reference: %q", ref)
	}
	at := strings.LastIndex(rest, "@")
	slash := strings.Index(rest, "/")
	if at < 0 || slash <= 0 || slash > at {
		return "", "", "", fmt.Errorf("malformed native reference: %q", ref)
	}
	return rest[:slash], "/" + rest[slash+1:at], rest[at+1:], nil
}

// Resolver builds and edits the per-request source file mapping of a patch
type Resolver struct {
	fs          fsutil.FileSystem
	sourceTrees map[string]string
	logger      logger.Logger
}

// New creates a resolver. sourceTrees maps tree names to their roots.
func New(fs fsutil.FileSystem, sourceTrees map[string]string, log logger.Logger) *Resolver {
	if fs == nil {
		fs = fsutil.NewOS()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Resolver{fs: fs, sourceTrees: sourceTrees, logger: log}
}

// FetchTracks loads every track the patch's requests reference. Tracks the
// registry does not know are recorded with an empty description and
// reported; any other registry error is returned.
func (r *Resolver) FetchTracks(ctx context.Context, reg tracking.Registry, p *types.Patch) (*types.ResolutionReport, error) {
	report := &types.ResolutionReport{}
	for _, id := range p.TrackIDs() {
		if isManualTrack(id) {
			if _, ok := p.Tracks[id]; ok {
				continue
			}
		}
		track, err := reg.FetchTrack(ctx, id)
		if err != nil {
			if !errors.Is(err, types.ErrTrackNotFound) {
				return nil, fmt.Errorf("failed to fetch track %s: %w", id, err)
			}
			track = &types.ChangeTrack{ID: id, Files: map[string]types.FileRevision{}}
		}
		p.Tracks[id] = normalizeTrack(track)
		if !track.Found() {
			report.MissingTracks = append(report.MissingTracks, types.Issue{
				Kind:    types.IssueTrackNotFound,
				Track:   id,
				Message: "track not found in change-tracking system",
			})
		}
	}
	return report, nil
}

// Resolve creates or refreshes a SourceFile for every changed file of every
// track of every request. Existing files keep their active flag and manual
// files are left untouched, so resolving twice yields the same mapping.
func (r *Resolver) Resolve(p *types.Patch, mode LocationMode, hint string) (*types.ResolutionReport, error) {
	root, err := r.modeRoot(mode, hint)
	if err != nil {
		return nil, err
	}

	report := &types.ResolutionReport{}
	for _, req := range p.OrderedRequests() {
		if req.Files == nil {
			req.Files = make(map[string]*types.SourceFile)
		}
		for _, trackID := range req.Tracks {
			track, ok := p.Tracks[trackID]
			if !ok || !track.Found() {
				report.MissingTracks = append(report.MissingTracks, types.Issue{
					Kind:    types.IssueTrackNotFound,
					Request: req.ID,
					Track:   trackID,
					Message: "track not found in change-tracking system",
				})
				continue
			}
			for _, path := range track.Paths() {
				r.resolveFile(req, track, path, mode, root)
			}
		}

		for _, path := range req.FilePaths() {
			if f := req.Files[path]; !f.PathValid {
				report.InvalidPaths = append(report.InvalidPaths, types.Issue{
					Kind:    types.IssuePathInvalid,
					Request: req.ID,
					Path:    path,
					Message: fmt.Sprintf("source %s does not exist", f.SourcePath),
				})
			}
		}
	}

	for _, issue := range report.Issues() {
		r.logger.Warn(issue.String())
	}
	p.Report = report
	return report, nil
}

func (r *Resolver) resolveFile(req *types.InjectionRequest, track *types.ChangeTrack, trackPath string, mode LocationMode, root string) {
	rev := track.Files[trackPath]
	path := normalizeTarget(trackPath)
	f, exists := req.Files[path]
	if exists && f.Origin == types.OriginManual {
		return
	}
	if !exists {
		f = &types.SourceFile{
			TargetPath: path,
			Active:     true,
			Origin:     types.OriginTracking,
		}
		req.Files[path] = f
	}
	if !f.HasTrack(track.ID) {
		f.Tracks = append(f.Tracks, track.ID)
	}
	f.Revision = rev.Revision
	f.Author = rev.Author

	if mode == ModeNative {
		f.SourcePath = NativeRef(track.ID, path, rev.Revision)
		f.PathValid = true
		return
	}

	base := root
	if mode == ModeParse {
		base = req.SourceHint
		if base == "" {
			base, _ = r.tree(DefaultTree)
		}
	}
	f.SourcePath = sourcePath(base, path)
	f.PathValid = r.fs.Exists(f.SourcePath)
}

// AddFile adds a file to a request by hand. When no loaded track knows the
// path, a synthetic manual-<request> track records it.
func (r *Resolver) AddFile(p *types.Patch, requestID, targetPath, src, developer string) (*types.SourceFile, error) {
	req, err := p.Request(requestID)
	if err != nil {
		return nil, err
	}
	targetPath = normalizeTarget(targetPath)
	if _, exists := req.Files[targetPath]; exists {
		return nil, fmt.Errorf("%s is already part of request %s", targetPath, requestID)
	}

	f := &types.SourceFile{
		TargetPath: targetPath,
		SourcePath: src,
		Active:     true,
		PathValid:  r.fs.Exists(src),
		Origin:     types.OriginManual,
	}

	if owner := knownTrack(p, targetPath); owner != nil {
		rev := owner.Files[targetPath]
		f.Tracks = []string{owner.ID}
		f.Revision = rev.Revision
		f.Author = rev.Author
	} else {
		id := ManualTrackID(requestID)
		track, ok := p.Tracks[id]
		if !ok {
			track = &types.ChangeTrack{
				ID:          id,
				Description: "manual additions for request " + requestID,
				Files:       make(map[string]types.FileRevision),
			}
			p.Tracks[id] = track
		}
		track.Files[targetPath] = types.FileRevision{Revision: "manual", Author: developer}
		if !req.HasTrack(id) {
			req.Tracks = append(req.Tracks, id)
		}
		f.Tracks = []string{id}
		f.Revision = "manual"
		f.Author = developer
	}

	if req.Files == nil {
		req.Files = make(map[string]*types.SourceFile)
	}
	req.Files[targetPath] = f
	if !f.PathValid {
		r.logger.Warn("Manual source does not exist",
			logger.WithField("request", requestID),
			logger.WithField("source", src))
	}
	return f, nil
}

// RemoveFile removes a manually added file. Tracked files can only be
// deactivated.
func (r *Resolver) RemoveFile(p *types.Patch, requestID, targetPath string) error {
	req, f, err := lookup(p, requestID, targetPath)
	if err != nil {
		return err
	}
	if f.Origin != types.OriginManual {
		return fmt.Errorf("%s comes from tracking and can only be deactivated", f.TargetPath)
	}
	delete(req.Files, f.TargetPath)

	id := ManualTrackID(requestID)
	if track, ok := p.Tracks[id]; ok {
		delete(track.Files, f.TargetPath)
		if len(track.Files) == 0 {
			delete(p.Tracks, id)
			req.Tracks = without(req.Tracks, id)
		}
	}
	return nil
}

// SetActive includes or excludes a file from promotion
func (r *Resolver) SetActive(p *types.Patch, requestID, targetPath string, active bool) error {
	_, f, err := lookup(p, requestID, targetPath)
	if err != nil {
		return err
	}
	f.Active = active
	return nil
}

// Relocate points a file at a different source and re-checks it exists
func (r *Resolver) Relocate(p *types.Patch, requestID, targetPath, src string) error {
	_, f, err := lookup(p, requestID, targetPath)
	if err != nil {
		return err
	}
	f.SourcePath = src
	f.PathValid = strings.HasPrefix(src, NativeScheme) || r.fs.Exists(src)
	if !f.PathValid {
		issue := types.Issue{
			Kind:    types.IssuePathInvalid,
			Request: requestID,
			Path:    f.TargetPath,
			Message: fmt.Sprintf("source %s does not exist", src),
		}
		r.logger.Warn(issue.String())
	}
	return nil
}

// ManualTrackID names the synthetic track holding a request's manual files
func ManualTrackID(requestID string) string {
	return "manual-" + requestID
}

func isManualTrack(id string) bool {
	return strings.HasPrefix(id, "manual-")
}

func (r *Resolver) modeRoot(mode LocationMode, hint string) (string, error) {
	switch mode {
	case ModeParse, ModeNative:
		return "", nil
	case ModeTree:
		root, ok := r.tree(hint)
		if !ok {
			return "", fmt.Errorf("unknown source tree: %q", hint)
		}
		return root, nil
	case ModeOther:
		if strings.TrimSpace(hint) == "" {
			return "", fmt.Errorf("a source root is required in %s mode", mode)
		}
		return hint, nil
	default:
		return "", fmt.Errorf("unsupported location mode: %s", mode)
	}
}

func (r *Resolver) tree(name string) (string, bool) {
	for k, v := range r.sourceTrees {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func knownTrack(p *types.Patch, path string) *types.ChangeTrack {
	var best *types.ChangeTrack
	for id, t := range p.Tracks {
		if isManualTrack(id) || !t.Found() {
			continue
		}
		if _, ok := t.Files[path]; ok && (best == nil || id < best.ID) {
			best = t
		}
	}
	return best
}

func lookup(p *types.Patch, requestID, targetPath string) (*types.InjectionRequest, *types.SourceFile, error) {
	req, err := p.Request(requestID)
	if err != nil {
		return nil, nil, err
	}
	f, ok := req.Files[normalizeTarget(targetPath)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s in request %s", types.ErrFileNotFound, targetPath, requestID)
	}
	return req, f, nil
}

func sourcePath(root, target string) string {
	if root == "" {
		return filepath.FromSlash(target)
	}
	return filepath.Join(root, filepath.FromSlash(target))
}

// normalizeTrack returns track with every changed path in target form. The
// registry's copy is never modified.
func normalizeTrack(track *types.ChangeTrack) *types.ChangeTrack {
	clean := true
	for path := range track.Files {
		if normalizeTarget(path) != path {
			clean = false
			break
		}
	}
	if clean {
		return track
	}

	out := *track
	out.Files = make(map[string]types.FileRevision, len(track.Files))
	for path, rev := range track.Files {
		out.Files[normalizeTarget(path)] = rev
	}
	return &out
}

func normalizeTarget(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
