package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/injector/injector/pkg/config"
	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// Post-processing directories under the location root
const (
	IncludeDir = "include"
	MsgDir     = "msg"
)

// ApplyOptions controls plan execution
type ApplyOptions struct {
	// Confirm must be set; an unconfirmed plan is refused
	Confirm bool
	// Options drives header and message-catalog post-processing
	Options *config.Options
}

// ApplyResult lists what was written, as absolute paths
type ApplyResult struct {
	BackedUp  []string `json:"backedUp"`
	Written   []string `json:"written"`
	Extracted []string `json:"extracted"`
	Published []string `json:"published,omitempty"`
}

// Executor carries out confirmed plans
type Executor struct {
	fs        fsutil.FileSystem
	extractor tracking.Extractor
	logger    logger.Logger
}

// NewExecutor creates an executor. extractor may be nil when no plan
// contains extract actions or native sources.
func NewExecutor(fs fsutil.FileSystem, extractor tracking.Extractor, log logger.Logger) *Executor {
	if fs == nil {
		fs = fsutil.NewOS()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Executor{fs: fs, extractor: extractor, logger: log}
}

// Apply runs backups, then copies, then extractions, then post-processing.
// It stops at the first failure; earlier actions are not rolled back but
// every overwritten target has its pre-image in the backup directory.
func (e *Executor) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) (*ApplyResult, error) {
	if !opts.Confirm {
		return nil, fmt.Errorf("apply plan for %s: %w", plan.Location, types.ErrNotConfirmed)
	}
	result := &ApplyResult{}

	for _, target := range sortedKeys(plan.Backup) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		a := plan.Backup[target]
		if err := e.fs.CopyFile(a.Target, a.BackupPath); err != nil {
			return result, fmt.Errorf("backup %s: %w", a.Target, err)
		}
		result.BackedUp = append(result.BackedUp, a.Target)
		if err := e.place(ctx, a.Source, a.Target); err != nil {
			return result, fmt.Errorf("overwrite %s: %w", a.Target, err)
		}
		result.Written = append(result.Written, a.Target)
	}

	for _, target := range sortedKeys(plan.Copy) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.place(ctx, plan.Copy[target], target); err != nil {
			return result, fmt.Errorf("copy %s: %w", target, err)
		}
		result.Written = append(result.Written, target)
	}

	for _, x := range plan.Extract {
		if e.extractor == nil {
			return result, fmt.Errorf("plan extracts track %s but no extractor is configured", x.Track)
		}
		for _, path := range x.Paths {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			target := TargetPath(plan.Root, path)
			if x.Snapshot && e.fs.Exists(target) {
				backup := TargetPath(x.SnapshotDir, path)
				if err := e.fs.CopyFile(target, backup); err != nil {
					return result, fmt.Errorf("snapshot %s: %w", target, err)
				}
				result.BackedUp = append(result.BackedUp, target)
			}
			if err := e.extractor.Extract(ctx, x.Track, path, target); err != nil {
				return result, fmt.Errorf("extract %s from %s: %w", path, x.Track, err)
			}
			result.Extracted = append(result.Extracted, target)
		}
	}

	if opts.Options != nil {
		published, err := e.postProcess(plan.Root, append(append([]string{}, result.Written...), result.Extracted...), opts.Options)
		result.Published = published
		if err != nil {
			return result, err
		}
	}

	e.logger.Info("Plan applied",
		logger.WithField("location", plan.Location),
		logger.WithField("written", len(result.Written)),
		logger.WithField("extracted", len(result.Extracted)),
		logger.WithField("backups", len(result.BackedUp)))
	return result, nil
}

// place writes source to target; native references are extracted
func (e *Executor) place(ctx context.Context, source, target string) error {
	if strings.HasPrefix(source, resolver.NativeScheme) {
		if e.extractor == nil {
			return fmt.Errorf("native source %s needs an extractor", source)
		}
		track, path, _, err := resolver.ParseNativeRef(source)
		if err != nil {
			return err
		}
		return e.extractor.Extract(ctx, track, path, target)
	}
	if !e.fs.Exists(source) {
		return fmt.Errorf("%w: %s", types.ErrPathInvalid, source)
	}
	return e.fs.CopyFile(source, target)
}

// postProcess publishes headers into <root>/include and message catalogs
// into <root>/msg when the options ask for it.
func (e *Executor) postProcess(root string, written []string, opts *config.Options) ([]string, error) {
	var published []string
	for _, target := range written {
		var dir string
		switch strings.ToLower(filepath.Ext(target)) {
		case ".h":
			if !opts.CopyHeaderFiles {
				continue
			}
			dir = IncludeDir
		case ".msg":
			if !opts.CopyMessageCatalogs {
				continue
			}
			dir = MsgDir
		default:
			continue
		}
		dest := filepath.Join(root, dir, filepath.Base(target))
		if dest == target {
			continue
		}
		if err := e.fs.CopyFile(target, dest); err != nil {
			return published, fmt.Errorf("publish %s: %w", target, err)
		}
		published = append(published, dest)
	}
	return published, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
