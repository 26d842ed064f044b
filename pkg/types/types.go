// Package types provides the core model shared by the injector packages
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PatchState represents the lifecycle state of a patch
type PatchState string

const (
	PatchStateReady         PatchState = "Ready"
	PatchStateBuildComplete PatchState = "BuildComplete"
)

// ParsePatchState parses a patch state token
func ParsePatchState(s string) (PatchState, error) {
	switch PatchState(s) {
	case PatchStateReady:
		return PatchStateReady, nil
	case PatchStateBuildComplete:
		return PatchStateBuildComplete, nil
	default:
		return "", fmt.Errorf("unknown patch state: %q", s)
	}
}

// BuildState represents the state of a single platform build command
type BuildState int

const (
	BuildStatePending BuildState = iota
	BuildStateRunning
	BuildStateComplete
	BuildStateFailed
)

func (s BuildState) String() string {
	switch s {
	case BuildStatePending:
		return "PENDING"
	case BuildStateRunning:
		return "RUNNING"
	case BuildStateComplete:
		return "COMPLETE"
	case BuildStateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("BuildState(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions are expected
func (s BuildState) IsTerminal() bool {
	return s == BuildStateComplete || s == BuildStateFailed
}

// MarshalText encodes the state as its token
func (s BuildState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state token
func (s *BuildState) UnmarshalText(text []byte) error {
	parsed, err := ParseBuildState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseBuildState parses a status-file state token. Unknown tokens are an
// error rather than an implicit "not complete".
func ParseBuildState(token string) (BuildState, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "PENDING":
		return BuildStatePending, nil
	case "RUNNING":
		return BuildStateRunning, nil
	case "COMPLETE":
		return BuildStateComplete, nil
	case "FAILED":
		return BuildStateFailed, nil
	default:
		return BuildStatePending, fmt.Errorf("unknown build state token: %q", token)
	}
}

// Origin tells where a source file entry came from
type Origin string

const (
	OriginTracking Origin = "tracking"
	OriginManual   Origin = "manual"
)

// FileRevision is a changed file entry of a track
type FileRevision struct {
	Revision string `json:"revision" yaml:"revision"`
	Author   string `json:"author" yaml:"author"`
}

// ChangeTrack is a unit of tracked change. An empty Description means the
// track was not found in the change-tracking system.
type ChangeTrack struct {
	ID          string                  `json:"id" yaml:"id"`
	Description string                  `json:"description" yaml:"description"`
	Files       map[string]FileRevision `json:"files" yaml:"files"`
}

// Found reports whether the change-tracking system knows this track
func (t *ChangeTrack) Found() bool {
	return t != nil && strings.TrimSpace(t.Description) != ""
}

// Paths returns the changed file paths in sorted order
func (t *ChangeTrack) Paths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SourceFile is one file an injection request promotes
type SourceFile struct {
	TargetPath string   `json:"targetPath" yaml:"targetPath"`
	SourcePath string   `json:"sourcePath" yaml:"sourcePath"`
	Active     bool     `json:"active" yaml:"active"`
	PathValid  bool     `json:"pathValid" yaml:"pathValid"`
	Origin     Origin   `json:"origin" yaml:"origin"`
	Tracks     []string `json:"tracks" yaml:"tracks"`
	Revision   string   `json:"revision,omitempty" yaml:"revision,omitempty"`
	Author     string   `json:"author,omitempty" yaml:"author,omitempty"`
}

// HasTrack reports whether the file is touched by the given track
func (f *SourceFile) HasTrack(track string) bool {
	for _, t := range f.Tracks {
		if t == track {
			return true
		}
	}
	return false
}

// InjectionRequest is a developer's request to promote a set of tracks
type InjectionRequest struct {
	ID         string                 `json:"id" yaml:"id"`
	Developer  string                 `json:"developer" yaml:"developer"`
	Tracks     []string               `json:"tracks" yaml:"tracks"`
	SourceHint string                 `json:"sourceHint,omitempty" yaml:"sourceHint,omitempty"`
	Files      map[string]*SourceFile `json:"files" yaml:"files"`
}

// FilePaths returns the request's target paths in sorted order
func (r *InjectionRequest) FilePaths() []string {
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ActiveFiles returns the active files in sorted target-path order
func (r *InjectionRequest) ActiveFiles() []*SourceFile {
	var files []*SourceFile
	for _, p := range r.FilePaths() {
		if f := r.Files[p]; f.Active {
			files = append(files, f)
		}
	}
	return files
}

// HasTrack reports whether the request lists the track
func (r *InjectionRequest) HasTrack(track string) bool {
	for _, t := range r.Tracks {
		if t == track {
			return true
		}
	}
	return false
}

// RequestRecord is the upstream description of one injection request
type RequestRecord struct {
	ID         string   `json:"id" yaml:"id"`
	Developer  string   `json:"developer" yaml:"developer"`
	Tracks     []string `json:"tracks" yaml:"tracks"`
	SourceHint string   `json:"sourceHint,omitempty" yaml:"sourceHint,omitempty"`
}

// ChangeRecord is the upstream record a patch is created from
type ChangeRecord struct {
	ID       string          `json:"id" yaml:"id"`
	Location string          `json:"location" yaml:"location"`
	Status   string          `json:"status" yaml:"status"`
	Requests []RequestRecord `json:"requests" yaml:"requests"`
}

// Location describes a named destination release tree
type Location struct {
	Name             string `json:"name" yaml:"name" mapstructure:"name"`
	Root             string `json:"root" yaml:"root" mapstructure:"root"`
	ReleaseVersion   string `json:"releaseVersion" yaml:"releaseVersion" mapstructure:"releaseVersion"`
	DirectExtraction bool   `json:"directExtraction" yaml:"directExtraction" mapstructure:"directExtraction"`
	BackupDir        string `json:"backupDir,omitempty" yaml:"backupDir,omitempty" mapstructure:"backupDir"`
}

// Platform is a build platform that can be checked for a build
type Platform struct {
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	Bits      int    `json:"bits" yaml:"bits" mapstructure:"bits"`
	TechLevel bool   `json:"techLevel,omitempty" yaml:"techLevel,omitempty" mapstructure:"techLevel"`
}

// TechLevelRule maps a release-version substring to a technology-level tag
type TechLevelRule struct {
	Contains string `json:"contains" yaml:"contains" mapstructure:"contains"`
	Tag      string `json:"tag" yaml:"tag" mapstructure:"tag"`
}

// BuildCommand is the per-platform build instruction tracked by polling
type BuildCommand struct {
	Platform   string     `json:"platform"`
	Bits       int        `json:"bits"`
	Command    string     `json:"command"`
	TechLevel  string     `json:"techLevel,omitempty"`
	LogFile    string     `json:"logFile"`
	StatusFile string     `json:"statusFile"`
	Machine    string     `json:"machine,omitempty"`
	State      BuildState `json:"state"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// LedgerEntry is one promotion event in the history ledger
type LedgerEntry struct {
	Path      string    `json:"path"`
	Track     string    `json:"track"`
	Developer string    `json:"developer"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
}

// Key identifies an entry independent of its timestamp
func (e LedgerEntry) Key() string {
	return e.Location + "\x00" + e.Path + "\x00" + e.Track + "\x00" + e.Developer
}

// IssueKind classifies report items
type IssueKind string

const (
	IssueTrackNotFound   IssueKind = "track-not-found"
	IssuePathInvalid     IssueKind = "path-invalid"
	IssueDuplicateFile   IssueKind = "duplicate-file"
	IssueAlreadyInjected IssueKind = "already-injected"
	IssueStatusRead      IssueKind = "status-read"
	IssueUpstreamUpdate  IssueKind = "upstream-update"
)

// Issue is a warning collected during resolution, planning, or completion
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Request  string    `json:"request,omitempty"`
	Track    string    `json:"track,omitempty"`
	Path     string    `json:"path,omitempty"`
	Platform string    `json:"platform,omitempty"`
	Message  string    `json:"message"`
}

func (i Issue) String() string {
	var parts []string
	if i.Request != "" {
		parts = append(parts, "request="+i.Request)
	}
	if i.Track != "" {
		parts = append(parts, "track="+i.Track)
	}
	if i.Path != "" {
		parts = append(parts, "path="+i.Path)
	}
	if i.Platform != "" {
		parts = append(parts, "platform="+i.Platform)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", i.Kind, i.Message, strings.Join(parts, ", "))
}

// ResolutionReport collects non-fatal findings from source resolution
type ResolutionReport struct {
	MissingTracks []Issue `json:"missingTracks,omitempty"`
	InvalidPaths  []Issue `json:"invalidPaths,omitempty"`
}

// Empty reports whether resolution produced no warnings
func (r *ResolutionReport) Empty() bool {
	return r == nil || (len(r.MissingTracks) == 0 && len(r.InvalidPaths) == 0)
}

// Issues returns all report items
func (r *ResolutionReport) Issues() []Issue {
	if r == nil {
		return nil
	}
	out := make([]Issue, 0, len(r.MissingTracks)+len(r.InvalidPaths))
	out = append(out, r.MissingTracks...)
	return append(out, r.InvalidPaths...)
}
