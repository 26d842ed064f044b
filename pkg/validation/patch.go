// Package validation builds the operator-facing report for a patch
package validation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/types"
)

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

// ValidationError is one report item
type ValidationError struct {
	Subject string          `json:"subject"`
	Field   string          `json:"field"`
	Message string          `json:"message"`
	Level   ValidationLevel `json:"level"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Subject, e.Field, e.Message)
}

// ValidationResult contains validation results. Valid is false as soon as
// one error-level item is present.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// AddError adds an item to the validation result
func (r *ValidationResult) AddError(subject, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Subject: subject,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Count returns the number of items at a level
func (r *ValidationResult) Count(level ValidationLevel) int {
	n := 0
	for _, e := range r.Errors {
		if e.Level == level {
			n++
		}
	}
	return n
}

// PatchValidator validates patches against the configuration
type PatchValidator struct {
	config *types.InjectorConfig
	fs     fsutil.FileSystem
}

// NewPatchValidator creates a new patch validator
func NewPatchValidator(config *types.InjectorConfig, fs fsutil.FileSystem) *PatchValidator {
	if fs == nil {
		fs = fsutil.NewOS()
	}
	return &PatchValidator{config: config, fs: fs}
}

// Validate reports everything an operator should see before promoting
func (v *PatchValidator) Validate(p *types.Patch) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateLocation(p, result)
	v.validateResolution(p, result)
	v.validateDuplicates(p, result)
	v.validateFiles(p, result)

	return result
}

func (v *PatchValidator) validateLocation(p *types.Patch, result *ValidationResult) {
	loc, err := v.config.Location(p.Location)
	if errors.Is(err, types.ErrLocationUnset) {
		result.AddError(p.ID, "location", "target location is not set", ValidationLevelError)
		return
	}
	if err != nil {
		result.AddError(p.ID, "location", err.Error(), ValidationLevelError)
		return
	}
	if !v.fs.IsDirectory(loc.Root) {
		result.AddError(p.ID, "location", fmt.Sprintf("location root does not exist: %s", loc.Root), ValidationLevelWarning)
	}
	if p.State != types.PatchStateReady {
		result.AddError(p.ID, "state", fmt.Sprintf("patch is %s, not Ready", p.State), ValidationLevelInfo)
	}
}

func (v *PatchValidator) validateResolution(p *types.Patch, result *ValidationResult) {
	if p.Report == nil {
		return
	}
	for _, issue := range p.Report.MissingTracks {
		result.AddError(issue.Request, "tracks", fmt.Sprintf("track %s not found", issue.Track), ValidationLevelWarning)
	}
	for _, issue := range p.Report.InvalidPaths {
		result.AddError(issue.Request, "files", fmt.Sprintf("source for %s does not exist", issue.Path), ValidationLevelWarning)
	}
}

func (v *PatchValidator) validateDuplicates(p *types.Patch, result *ValidationResult) {
	paths := make([]string, 0, len(p.Duplicates))
	for path := range p.Duplicates {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		result.AddError(path, "duplicates", fmt.Sprintf("active in requests %v", p.Duplicates[path]), ValidationLevelWarning)
	}
}

func (v *PatchValidator) validateFiles(p *types.Patch, result *ValidationResult) {
	active := 0
	for _, r := range p.OrderedRequests() {
		n := len(r.ActiveFiles())
		if len(r.Files) == 0 {
			result.AddError(r.ID, "files", "request has no files", ValidationLevelInfo)
		}
		active += n
	}
	if active == 0 {
		result.AddError(p.ID, "files", "no active files to promote", ValidationLevelWarning)
	}
}
