// Package orchestrator dispatches per-platform build commands to an external
// runner and tracks their completion through status files.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/injector/injector/internal/engine"
	"github.com/injector/injector/pkg/config"
	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/types"
)

// DefaultPollInterval is used when the configured interval is not positive
const DefaultPollInterval = 2 * time.Second

// Run is one dispatch of build commands
type Run struct {
	ID           string                `json:"id"`
	Descriptor   string                `json:"descriptor,omitempty"`
	Commands     []*types.BuildCommand `json:"commands"`
	DispatchedAt time.Time             `json:"dispatchedAt"`
}

// Result is the outcome of waiting on a run
type Result struct {
	Commands []types.BuildCommand `json:"commands"`
	Complete bool                 `json:"complete"`
	Failed   []string             `json:"failed,omitempty"`
	Issues   []types.Issue        `json:"issues,omitempty"`
	Elapsed  time.Duration        `json:"elapsed"`
}

// Orchestrator turns checked platforms into build commands, hands them to
// the runner, and polls for completion.
type Orchestrator struct {
	config   types.BuildConfig
	rules    []types.TechLevelRule
	launcher Launcher
	fs       fsutil.FileSystem
	logger   logger.Logger
	now      func() time.Time
}

// New creates an orchestrator. A nil launcher uses ExecLauncher.
func New(cfg types.BuildConfig, rules []types.TechLevelRule, launcher Launcher, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if launcher == nil {
		launcher = NewExecLauncher(log)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{
		config:   cfg,
		rules:    rules,
		launcher: launcher,
		fs:       fsutil.NewOS(),
		logger:   log,
		now:      time.Now,
	}
}

// TechLevelTag returns the tag of the first rule whose substring occurs in
// the release version, or "" when none matches.
func TechLevelTag(rules []types.TechLevelRule, releaseVersion string) string {
	for _, r := range rules {
		if r.Contains != "" && strings.Contains(releaseVersion, r.Contains) {
			return r.Tag
		}
	}
	return ""
}

// Commands builds one PENDING command per platform
func (o *Orchestrator) Commands(platforms []types.Platform, opts *config.Options, releaseVersion string) ([]*types.BuildCommand, error) {
	if len(platforms) == 0 {
		return nil, nil
	}
	if opts == nil {
		return nil, fmt.Errorf("no build options loaded")
	}

	tag := TechLevelTag(o.rules, releaseVersion)
	cmds := make([]*types.BuildCommand, 0, len(platforms))
	seen := make(map[string]bool)
	for _, p := range platforms {
		if seen[p.Name] {
			return nil, fmt.Errorf("platform %s checked twice", p.Name)
		}
		seen[p.Name] = true

		command := strings.TrimSpace(opts.CommandFor(p.Bits))
		if command == "" {
			return nil, fmt.Errorf("no %d-bit build command configured for platform %s", p.Bits, p.Name)
		}
		if strings.ContainsAny(command, "\t\n") {
			return nil, fmt.Errorf("build command for platform %s contains a tab or newline", p.Name)
		}

		cmd := &types.BuildCommand{
			Platform:   p.Name,
			Bits:       p.Bits,
			Command:    command,
			LogFile:    filepath.Join(o.config.WorkDir, p.Name+".log"),
			StatusFile: filepath.Join(o.config.WorkDir, p.Name+".status"),
			State:      types.BuildStatePending,
		}
		if p.TechLevel {
			cmd.TechLevel = tag
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Dispatch writes the command descriptor and launches the runner once.
// Zero platforms yields an empty run and writes nothing.
func (o *Orchestrator) Dispatch(ctx context.Context, platforms []types.Platform, opts *config.Options, releaseVersion string) (*Run, error) {
	log := logger.WithContext(ctx, o.logger)
	run := &Run{ID: uuid.New().String(), DispatchedAt: o.now()}

	if len(platforms) == 0 {
		log.Info("No platforms checked, nothing to build")
		return run, nil
	}

	cmds, err := o.Commands(platforms, opts, releaseVersion)
	if err != nil {
		return nil, err
	}
	run.Commands = cmds

	if err := fsutil.EnsureDirectory(o.config.WorkDir); err != nil {
		return run, fmt.Errorf("%w: %v", types.ErrDispatchFailure, err)
	}
	for _, c := range cmds {
		if err := o.fs.RemoveIfExists(c.LogFile); err != nil {
			return run, fmt.Errorf("%w: %v", types.ErrDispatchFailure, err)
		}
		if err := o.fs.RemoveIfExists(c.StatusFile); err != nil {
			return run, fmt.Errorf("%w: %v", types.ErrDispatchFailure, err)
		}
	}

	run.Descriptor = filepath.Join(o.config.WorkDir, o.config.Descriptor)
	if err := o.fs.WriteFileAtomic(run.Descriptor, FormatDescriptor(cmds), 0644); err != nil {
		return run, fmt.Errorf("%w: failed to write descriptor: %v", types.ErrDispatchFailure, err)
	}

	if err := o.launcher.Launch(ctx, o.config.Runner, run.Descriptor, o.config.WorkDir); err != nil {
		return run, fmt.Errorf("%w: %v", types.ErrDispatchFailure, err)
	}

	now := o.now()
	for _, c := range cmds {
		c.State = types.BuildStateRunning
		c.UpdatedAt = now
	}
	log.Info("Build commands dispatched",
		logger.WithField("run", run.ID),
		logger.WithField("platforms", len(cmds)),
		logger.WithField("descriptor", run.Descriptor))
	return run, nil
}

// snapshot is one status-file observation handed from poller to coordinator
type snapshot struct {
	index   int
	state   types.BuildState
	machine string
	log     string
	err     error
}

// Wait polls status files until every command is done, the context is
// cancelled, or the configured timeout elapses. onUpdate is called from a
// single goroutine for every state transition. On cancellation the partial
// result is returned together with the context error.
func (o *Orchestrator) Wait(ctx context.Context, run *Run, onUpdate func(types.BuildCommand)) (*Result, error) {
	start := o.now()
	if run == nil || len(run.Commands) == 0 {
		return &Result{Complete: true}, nil
	}

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	log := logger.WithContext(ctx, o.logger)
	g, gctx := engine.NewSafeGroup(ctx, log)
	pollCtx, stopPolling := context.WithCancel(gctx)
	defer stopPolling()

	statusFiles := make([]string, len(run.Commands))
	for i, c := range run.Commands {
		statusFiles[i] = c.StatusFile
	}

	batches := make(chan []snapshot)

	g.Go("poller", func() error {
		defer close(batches)
		ticker := time.NewTicker(o.config.PollInterval)
		defer ticker.Stop()

		completed := make(map[int]bool)
		for {
			batch := o.poll(statusFiles, completed)
			select {
			case batches <- batch:
			case <-pollCtx.Done():
				return nil
			}
			select {
			case <-ticker.C:
			case <-pollCtx.Done():
				return nil
			}
		}
	})

	var (
		finished  bool
		issues    []types.Issue
		lastError = make(map[int]string)
	)
	g.Go("coordinator", func() error {
		defer stopPolling()
		for batch := range batches {
			for _, s := range batch {
				cmd := run.Commands[s.index]
				if s.err != nil {
					if lastError[s.index] != s.err.Error() {
						lastError[s.index] = s.err.Error()
						issues = append(issues, types.Issue{
							Kind:     types.IssueStatusRead,
							Platform: cmd.Platform,
							Path:     cmd.StatusFile,
							Message:  s.err.Error(),
						})
						log.Warn("Failed to read build status",
							logger.WithField("platform", cmd.Platform),
							logger.WithField("error", fmt.Errorf("%w: %v", types.ErrStatusReadFailure, s.err)))
					}
					continue
				}
				delete(lastError, s.index)
				if s.state == cmd.State && s.machine == cmd.Machine && (s.log == "" || s.log == cmd.LogFile) {
					continue
				}
				cmd.State = s.state
				cmd.Machine = s.machine
				if s.log != "" {
					cmd.LogFile = s.log
				}
				cmd.UpdatedAt = o.now()
				log.Info("Build state changed",
					logger.WithField("platform", cmd.Platform),
					logger.WithField("state", cmd.State.String()),
					logger.WithField("machine", cmd.Machine))
				if onUpdate != nil {
					onUpdate(*cmd)
				}
			}
			if o.done(run.Commands) {
				finished = true
				return nil
			}
		}
		return nil
	})

	waitErr := g.Wait()
	result := o.result(run, issues, o.now().Sub(start))
	if waitErr != nil {
		return result, waitErr
	}
	if !finished {
		if err := ctx.Err(); err != nil {
			log.Warn("Stopped waiting for builds",
				logger.WithField("error", err),
				logger.WithField("elapsed", result.Elapsed.String()))
			return result, err
		}
		return result, errors.New("polling stopped before builds finished")
	}
	return result, nil
}

// poll reads every status file not yet seen COMPLETE. Missing and empty
// files produce no observation.
func (o *Orchestrator) poll(statusFiles []string, completed map[int]bool) []snapshot {
	var batch []snapshot
	for i, path := range statusFiles {
		if completed[i] {
			continue
		}
		report, state, err := ReadStatus(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			batch = append(batch, snapshot{index: i, err: err})
			continue
		case report == nil:
			continue
		}
		if state == types.BuildStateComplete {
			completed[i] = true
		}
		batch = append(batch, snapshot{index: i, state: state, machine: report.Machine, log: report.Log})
	}
	return batch
}

func (o *Orchestrator) done(cmds []*types.BuildCommand) bool {
	for _, c := range cmds {
		if c.State == types.BuildStateComplete {
			continue
		}
		if o.config.StopOnFailure && c.State == types.BuildStateFailed {
			continue
		}
		return false
	}
	return true
}

func (o *Orchestrator) result(run *Run, issues []types.Issue, elapsed time.Duration) *Result {
	res := &Result{Complete: true, Issues: issues, Elapsed: elapsed}
	for _, c := range run.Commands {
		res.Commands = append(res.Commands, *c)
		if c.State != types.BuildStateComplete {
			res.Complete = false
		}
		if c.State == types.BuildStateFailed {
			res.Failed = append(res.Failed, c.Platform)
		}
	}
	return res
}
