package patch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/injector/injector/internal/state"
	"github.com/injector/injector/pkg/config"
	injctx "github.com/injector/injector/pkg/context"
	"github.com/injector/injector/pkg/events"
	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/ledger"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/notifier"
	"github.com/injector/injector/pkg/orchestrator"
	"github.com/injector/injector/pkg/planner"
	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// Dependencies are the collaborators a session works with. Registry is
// required; every other field has a default.
type Dependencies struct {
	Config    *types.InjectorConfig
	Registry  tracking.Registry
	Extractor tracking.Extractor
	Launcher  orchestrator.Launcher
	Notifier  notifier.Notifier
	Publisher events.Publisher
	States    *state.StateManager
	FS        fsutil.FileSystem
	Logger    logger.Logger
}

// CompletionResult reports what Complete did
type CompletionResult struct {
	Appended int           `json:"appended"`
	State    string        `json:"state"`
	Issues   []types.Issue `json:"issues,omitempty"`
}

// Session is the operator's working context for one patch. It is not safe
// for concurrent use.
type Session struct {
	config       *types.InjectorConfig
	registry     tracking.Registry
	resolver     *resolver.Resolver
	planner      *planner.Planner
	executor     *planner.Executor
	ledger       *ledger.Ledger
	orchestrator *orchestrator.Orchestrator
	notifier     notifier.Notifier
	publisher    events.Publisher
	states       *state.StateManager
	logger       logger.Logger
	now          func() time.Time

	options func() (*config.Options, error)
	reload  *config.ReloadManager

	patch *types.Patch
	run   *orchestrator.Run
}

// NewSession wires a session from its dependencies
func NewSession(deps Dependencies) (*Session, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("session needs a configuration")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("session needs a change-tracking registry")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.FS == nil {
		deps.FS = fsutil.NewOS()
	}
	if deps.Extractor == nil {
		if x, ok := deps.Registry.(tracking.Extractor); ok {
			deps.Extractor = x
		}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.New(deps.Config.Notifications, deps.Logger)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}

	cfg := deps.Config
	s := &Session{
		config:       cfg,
		registry:     deps.Registry,
		resolver:     resolver.New(deps.FS, cfg.SourceTrees, deps.Logger),
		planner:      planner.New(deps.FS, deps.Logger),
		executor:     planner.NewExecutor(deps.FS, deps.Extractor, deps.Logger),
		ledger:       ledger.New(cfg.Ledger),
		orchestrator: orchestrator.New(cfg.Build, cfg.TechLevelRules, deps.Launcher, deps.Logger),
		notifier:     deps.Notifier,
		publisher:    deps.Publisher,
		states:       deps.States,
		logger:       deps.Logger,
		now:          time.Now,
	}
	s.options = s.readOptions
	return s, nil
}

// Patch returns the open patch, or nil
func (s *Session) Patch() *types.Patch {
	return s.patch
}

// LastRun returns the most recent build run, or nil
func (s *Session) LastRun() *orchestrator.Run {
	return s.run
}

// Open loads a patch for a change record. A saved session for the record
// is resumed, keeping manual edits; otherwise the patch is built from the
// record. Tracks are (re)fetched either way.
func (s *Session) Open(ctx context.Context, recordID string) (_ *types.Patch, err error) {
	ctx = injctx.StartOperation(ctx, "open")
	log := logger.WithContext(ctx, s.logger)

	var p *types.Patch
	if s.states != nil {
		st, acqErr := s.states.Acquire(recordID)
		if acqErr != nil {
			return nil, acqErr
		}
		defer func() {
			if err == nil {
				return
			}
			s.patch = nil
			if relErr := s.states.Release(recordID); relErr != nil {
				log.Warn("Failed to release session", logger.WithField("error", relErr))
			}
		}()
		p = st.Patch
		s.run = st.LastRun
	}

	if p == nil {
		record, err := s.registry.FetchRecord(ctx, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch record %s: %w", recordID, err)
		}
		if p, err = New(record); err != nil {
			return nil, err
		}
	}

	report, err := s.resolver.FetchTracks(ctx, s.registry, p)
	if err != nil {
		return nil, err
	}
	for _, issue := range report.Issues() {
		log.Warn(issue.String())
	}

	s.patch = p
	s.refreshDuplicates()
	log.Info("Patch opened",
		logger.WithField("record", recordID),
		logger.WithField("requests", len(p.Order)),
		logger.WithField("state", string(p.State)))
	return p, s.save(nil)
}

// Close releases the session. The saved state is kept for the next Open.
func (s *Session) Close() error {
	if s.reload != nil {
		s.reload.Stop()
		s.reload = nil
	}
	if s.states == nil || s.patch == nil {
		return nil
	}
	return s.states.Release(s.patch.RecordID)
}

// SetLocation points the patch at a configured location
func (s *Session) SetLocation(name string) error {
	p, err := s.open()
	if err != nil {
		return err
	}
	if _, err := s.config.Location(name); err != nil {
		return err
	}
	p.Location = name
	return s.save(nil)
}

// Resolve maps every tracked file to a source. Direct-extraction
// locations always resolve natively.
func (s *Session) Resolve(mode resolver.LocationMode, hint string) (*types.ResolutionReport, error) {
	p, err := s.open()
	if err != nil {
		return nil, err
	}

	if loc, err := s.config.Location(p.Location); err == nil {
		mode = resolver.EffectiveMode(loc, mode)
	}

	report, err := s.resolver.Resolve(p, mode, hint)
	if err != nil {
		return nil, err
	}
	s.refreshDuplicates()
	return report, s.save(nil)
}

// AddFile adds a file to a request by hand
func (s *Session) AddFile(requestID, targetPath, src, developer string) (*types.SourceFile, error) {
	p, err := s.open()
	if err != nil {
		return nil, err
	}
	f, err := s.resolver.AddFile(p, requestID, targetPath, src, developer)
	if err != nil {
		return nil, err
	}
	s.refreshDuplicates()
	return f, s.save(nil)
}

// RemoveFile removes a manually added file
func (s *Session) RemoveFile(requestID, targetPath string) error {
	return s.edit(func(p *types.Patch) error {
		return s.resolver.RemoveFile(p, requestID, targetPath)
	})
}

// SetActive includes or excludes a file
func (s *Session) SetActive(requestID, targetPath string, active bool) error {
	return s.edit(func(p *types.Patch) error {
		return s.resolver.SetActive(p, requestID, targetPath, active)
	})
}

// Relocate points a file at another source
func (s *Session) Relocate(requestID, targetPath, src string) error {
	return s.edit(func(p *types.Patch) error {
		return s.resolver.Relocate(p, requestID, targetPath, src)
	})
}

// Plan builds the action plan for the selected requests (all when empty)
func (s *Session) Plan(selected []string) (*planner.Plan, error) {
	p, err := s.open()
	if err != nil {
		return nil, err
	}
	loc, err := s.config.Location(p.Location)
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return s.planner.Plan(p, selected, loc, ledger.ForLocation(history, loc.Name))
}

// Apply executes a reviewed plan
func (s *Session) Apply(ctx context.Context, plan *planner.Plan, confirm bool) (*planner.ApplyResult, error) {
	ctx = injctx.StartOperation(ctx, "apply")
	if _, err := s.open(); err != nil {
		return nil, err
	}
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	return s.executor.Apply(ctx, plan, planner.ApplyOptions{Confirm: confirm, Options: opts})
}

// WatchOptions keeps the options file current for the rest of the session
func (s *Session) WatchOptions(ctx context.Context) error {
	if s.config.Options == "" {
		return fmt.Errorf("no options file configured")
	}
	rm := config.NewReloadManager(s.config.Options, s.logger)
	rm.AddCallback(func(opts *config.Options, err error) {
		if err != nil {
			s.logger.Warn("Options reload failed", logger.WithField("error", err))
			return
		}
		s.logger.Info("Options reloaded", logger.WithField("file", s.config.Options))
	})
	if _, err := rm.Start(ctx); err != nil {
		return err
	}
	s.reload = rm
	s.options = func() (*config.Options, error) {
		if opts := rm.Current(); opts != nil {
			return opts, nil
		}
		return s.readOptions()
	}
	return nil
}

// Build dispatches the build commands for the checked platforms and waits
// for them. onUpdate sees every platform state transition.
func (s *Session) Build(ctx context.Context, platforms []string, onUpdate func(types.BuildCommand)) (*orchestrator.Result, error) {
	ctx = injctx.StartOperation(ctx, "build")
	log := logger.WithContext(ctx, s.logger)

	p, err := s.open()
	if err != nil {
		return nil, err
	}
	loc, err := s.config.Location(p.Location)
	if err != nil {
		return nil, err
	}
	selected, err := s.config.SelectPlatforms(platforms)
	if err != nil {
		return nil, err
	}

	var opts *config.Options
	if len(selected) > 0 {
		if opts, err = s.options(); err != nil {
			return nil, err
		}
	}

	run, err := s.orchestrator.Dispatch(ctx, selected, opts, loc.ReleaseVersion)
	if run != nil {
		s.run = run
		if saveErr := s.save(run); saveErr != nil {
			log.Warn("Failed to save session", logger.WithField("error", saveErr))
		}
	}
	if err != nil {
		return nil, err
	}
	if len(run.Commands) > 0 {
		names := make([]string, len(selected))
		for i, pl := range selected {
			names[i] = pl.Name
		}
		s.notifier.NotifyBuildStart(p.ID, names)
	}

	if s.states != nil {
		s.states.StartHeartbeat(ctx)
		defer s.states.StopHeartbeat()
	}

	result, err := s.orchestrator.Wait(ctx, run, func(cmd types.BuildCommand) {
		if pubErr := s.publisher.Publish(ctx, events.BuildPlatform(p.ID, cmd)); pubErr != nil {
			log.Warn("Failed to publish build event", logger.WithField("error", pubErr))
		}
		if cmd.State == types.BuildStateFailed {
			s.notifier.NotifyPlatformFailed(p.ID, cmd.Platform, cmd.Machine)
		}
		if onUpdate != nil {
			onUpdate(cmd)
		}
	})
	if saveErr := s.save(run); saveErr != nil {
		log.Warn("Failed to save session", logger.WithField("error", saveErr))
	}
	if err != nil {
		return result, err
	}

	if len(run.Commands) > 0 {
		s.notifier.NotifyBuildComplete(p.ID, result.Failed, result.Elapsed)
	}
	return result, nil
}

// Complete records the plan in the history ledger, moves the patch to
// BuildComplete and marks the record injected upstream. The ledger append
// happens first and is idempotent, so a retry after a failure is safe.
func (s *Session) Complete(ctx context.Context, plan *planner.Plan, confirm bool) (*CompletionResult, error) {
	ctx = injctx.StartOperation(ctx, "complete")
	log := logger.WithContext(ctx, s.logger)

	p, err := s.open()
	if err != nil {
		return nil, err
	}
	if _, err := s.config.Location(p.Location); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, fmt.Errorf("complete patch %s: %w", p.ID, types.ErrNotConfirmed)
	}
	if p.State != types.PatchStateReady {
		return nil, fmt.Errorf("%w: patch %s is %s", types.ErrInvalidState, p.ID, p.State)
	}
	if plan == nil || plan.Location != p.Location {
		return nil, fmt.Errorf("plan does not target location %s", p.Location)
	}

	appended, err := s.ledger.Append(plan.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to record history: %w", err)
	}

	p.State = types.PatchStateBuildComplete
	result := &CompletionResult{Appended: appended, State: string(p.State)}
	if err := s.save(nil); err != nil {
		log.Warn("Failed to save session", logger.WithField("error", err))
	}

	if err := s.registry.UpdateRecord(ctx, p.RecordID, tracking.StatusInjected); err != nil {
		issue := types.Issue{
			Kind:    types.IssueUpstreamUpdate,
			Message: fmt.Errorf("%w: %v", types.ErrUpstreamUpdateFailure, err).Error(),
		}
		result.Issues = append(result.Issues, issue)
		log.Warn(issue.String(), logger.WithField("record", p.RecordID))
	}

	event := events.PatchCompleted(p.ID, p.Location, plan.Entries, result.Issues, s.now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish completion event", logger.WithField("error", err))
	}
	s.notifier.NotifyPatchCompleted(p.ID, p.Location, len(plan.Targets()))

	log.Success("Patch completed",
		logger.WithField("location", p.Location),
		logger.WithField("appended", appended))
	return result, nil
}

// Private methods

func (s *Session) open() (*types.Patch, error) {
	if s.patch == nil {
		return nil, errors.New("no patch is open")
	}
	return s.patch, nil
}

func (s *Session) edit(fn func(p *types.Patch) error) error {
	p, err := s.open()
	if err != nil {
		return err
	}
	if err := fn(p); err != nil {
		return err
	}
	s.refreshDuplicates()
	return s.save(nil)
}

func (s *Session) refreshDuplicates() {
	s.patch.Duplicates = resolver.DetectDuplicates(s.patch.OrderedRequests())
	for _, issue := range resolver.DuplicateIssues(s.patch.Duplicates) {
		s.logger.Warn(issue.String())
	}
}

func (s *Session) save(run *orchestrator.Run) error {
	if s.states == nil {
		return nil
	}
	return s.states.Save(s.patch.RecordID, s.patch, run)
}

func (s *Session) readOptions() (*config.Options, error) {
	if s.config.Options == "" {
		return nil, nil
	}
	opts, err := config.ReadOptions(s.config.Options)
	if err != nil {
		return nil, err
	}
	for key := range opts.Unknown {
		s.logger.Warn("Unknown option ignored", logger.WithField("key", key))
	}
	return opts, nil
}
