package patch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/injector/injector/internal/state"
	"github.com/injector/injector/pkg/events"
	"github.com/injector/injector/pkg/ledger"
	"github.com/injector/injector/pkg/orchestrator"
	"github.com/injector/injector/pkg/patch"
	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

// completingLauncher plays the runner: every platform reports COMPLETE
type completingLauncher struct{}

func (completingLauncher) Launch(ctx context.Context, runner, descriptor, workDir string) error {
	f, err := os.Open(descriptor)
	if err != nil {
		return err
	}
	defer f.Close()
	cmds, err := orchestrator.ParseDescriptor(f)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		report := orchestrator.StatusReport{Machine: "bld-" + c.Platform, State: "COMPLETE", Log: c.LogFile}
		if err := orchestrator.WriteStatus(c.StatusFile, report); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingNotifier) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingNotifier) NotifyBuildStart(patchID string, platforms []string) {
	r.add("start:" + strings.Join(platforms, ","))
}
func (r *recordingNotifier) NotifyPlatformFailed(patchID, platform, machine string) {
	r.add("failed:" + platform)
}
func (r *recordingNotifier) NotifyBuildComplete(patchID string, failed []string, d time.Duration) {
	r.add("complete")
}
func (r *recordingNotifier) NotifyPatchCompleted(patchID, location string, files int) {
	r.add("patch")
}

type fixture struct {
	dir       string
	config    *types.InjectorConfig
	registry  *tracking.MemoryRegistry
	publisher *events.MemoryPublisher
	notifier  *recordingNotifier
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "src", "a.c"), "int a;\n")
	writeFile(t, filepath.Join(src, "src", "b.h"), "#define B 1\n")
	writeFile(t, filepath.Join(dir, "options.txt"), "HEADER#true\nBUILD_64#make -f build64.mk\n")

	reg := tracking.NewMemoryRegistry()
	reg.PutRecord(&types.ChangeRecord{
		ID:       "CR-1",
		Location: "release",
		Requests: []types.RequestRecord{
			{ID: "R1", Developer: "alice", Tracks: []string{"T1"}},
			{ID: "R2", Developer: "bob", Tracks: []string{"T2"}},
		},
	})
	reg.PutTrack(&types.ChangeTrack{ID: "T1", Description: "fix a", Files: map[string]types.FileRevision{
		"/src/a.c": {Revision: "1.1", Author: "alice"},
		"/src/b.h": {Revision: "1.4", Author: "alice"},
	}})
	reg.PutTrack(&types.ChangeTrack{ID: "T2", Description: "fix a again", Files: map[string]types.FileRevision{
		"/src/a.c": {Revision: "1.2", Author: "bob"},
	}})

	cfg := &types.InjectorConfig{
		Version:     "1",
		Locations:   []types.Location{{Name: "release", Root: filepath.Join(dir, "release"), ReleaseVersion: "7.2"}},
		SourceTrees: map[string]string{"default": src},
		Platforms:   []types.Platform{{Name: "aix64", Bits: 64}},
		Build: types.BuildConfig{
			WorkDir:      filepath.Join(dir, "build"),
			Descriptor:   "commands.txt",
			Runner:       "runner",
			PollInterval: 10 * time.Millisecond,
			Timeout:      5 * time.Second,
		},
		Ledger:  filepath.Join(dir, "history.txt"),
		Options: filepath.Join(dir, "options.txt"),
	}

	return &fixture{
		dir:       dir,
		config:    cfg,
		registry:  reg,
		publisher: events.NewMemoryPublisher(),
		notifier:  &recordingNotifier{},
	}
}

func (f *fixture) session(t *testing.T, states *state.StateManager) *patch.Session {
	t.Helper()
	s, err := patch.NewSession(patch.Dependencies{
		Config:    f.config,
		Registry:  f.registry,
		Launcher:  completingLauncher{},
		Notifier:  f.notifier,
		Publisher: f.publisher,
		States:    states,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func openResolved(t *testing.T, s *patch.Session) *types.Patch {
	t.Helper()
	p, err := s.Open(context.Background(), "CR-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.Resolve(resolver.ModeParse, ""); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return p
}

func TestNew_FromRecord(t *testing.T) {
	p, err := patch.New(&types.ChangeRecord{
		ID:       "CR-7",
		Location: "release",
		Status:   tracking.StatusInjected,
		Requests: []types.RequestRecord{{ID: "R1", Developer: "alice", Tracks: []string{"T1"}, SourceHint: "/ws/alice"}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.ID == "" || p.RecordID != "CR-7" || p.Location != "release" {
		t.Errorf("unexpected patch header: %+v", p)
	}
	if p.State != types.PatchStateBuildComplete {
		t.Errorf("injected record should start BuildComplete, got %s", p.State)
	}
	if r := p.Requests["R1"]; r == nil || r.SourceHint != "/ws/alice" || r.Files == nil {
		t.Errorf("request not built: %+v", r)
	}

	if _, err := patch.New(&types.ChangeRecord{ID: "CR-8", Requests: []types.RequestRecord{{ID: "R1"}, {ID: "R1"}}}); err == nil {
		t.Error("expected error for repeated request id")
	}
}

func TestSession_ResolveDetectsDuplicates(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)
	p := openResolved(t, s)

	want := map[string][]string{"/src/a.c": {"R1", "R2"}}
	if !reflect.DeepEqual(p.Duplicates, want) {
		t.Errorf("Duplicates = %v, want %v", p.Duplicates, want)
	}

	if err := s.SetActive("R2", "/src/a.c", false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if len(p.Duplicates) != 0 {
		t.Errorf("expected duplicates cleared, got %v", p.Duplicates)
	}
}

func TestSession_FullPromotion(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)
	p := openResolved(t, s)
	if err := s.SetActive("R2", "/src/a.c", false); err != nil {
		t.Fatal(err)
	}

	plan, err := s.Plan(nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if _, err := s.Apply(context.Background(), plan, false); !errors.Is(err, types.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	applied, err := s.Apply(context.Background(), plan, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(applied.Written) != 2 {
		t.Errorf("expected 2 files written, got %v", applied.Written)
	}
	root := f.config.Locations[0].Root
	if _, err := os.Stat(filepath.Join(root, "include", "b.h")); err != nil {
		t.Errorf("header not published: %v", err)
	}

	var updates []types.BuildCommand
	result, err := s.Build(context.Background(), []string{"aix64"}, func(c types.BuildCommand) {
		updates = append(updates, c)
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !result.Complete || len(updates) != 1 || updates[0].Machine != "bld-aix64" {
		t.Errorf("unexpected build result %+v, updates %+v", result, updates)
	}

	done, err := s.Complete(context.Background(), plan, true)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Appended != 2 || len(done.Issues) != 0 {
		t.Errorf("unexpected completion: %+v", done)
	}
	if p.State != types.PatchStateBuildComplete {
		t.Errorf("expected BuildComplete, got %s", p.State)
	}

	rec, _ := f.registry.FetchRecord(context.Background(), "CR-1")
	if rec.Status != tracking.StatusInjected {
		t.Errorf("expected record INJECTED, got %q", rec.Status)
	}
	history, err := ledger.New(f.config.Ledger).Load()
	if err != nil || len(history) != 2 {
		t.Errorf("expected 2 ledger entries, got %v, %v", history, err)
	}

	published := f.publisher.Events()
	if len(published) != 2 || published[0].Type != events.TypeBuildPlatform || published[1].Type != events.TypePatchCompleted {
		t.Errorf("unexpected events: %+v", published)
	}
	wantCalls := []string{"start:aix64", "complete", "patch"}
	if !reflect.DeepEqual(f.notifier.calls, wantCalls) {
		t.Errorf("notifications = %v, want %v", f.notifier.calls, wantCalls)
	}

	if _, err := s.Complete(context.Background(), plan, true); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("second completion should fail with ErrInvalidState, got %v", err)
	}
}

func TestSession_CompleteRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)
	p := openResolved(t, s)

	plan, err := s.Plan([]string{"R1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Complete(context.Background(), plan, false); !errors.Is(err, types.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if p.State != types.PatchStateReady {
		t.Errorf("state should stay Ready, got %s", p.State)
	}
	if _, err := os.Stat(f.config.Ledger); !os.IsNotExist(err) {
		t.Error("ledger should not be written without confirmation")
	}
}

func TestSession_CompleteUpstreamFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.registry.UpdateErr = errors.New("registry offline")
	s := f.session(t, nil)
	p := openResolved(t, s)

	plan, err := s.Plan([]string{"R1"})
	if err != nil {
		t.Fatal(err)
	}
	done, err := s.Complete(context.Background(), plan, true)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(done.Issues) != 1 || done.Issues[0].Kind != types.IssueUpstreamUpdate {
		t.Errorf("expected upstream-update issue, got %v", done.Issues)
	}
	if p.State != types.PatchStateBuildComplete {
		t.Errorf("state should advance despite upstream failure, got %s", p.State)
	}
	if done.Appended == 0 {
		t.Error("ledger entries should be appended")
	}
}

func TestSession_LocationUnset(t *testing.T) {
	f := newFixture(t)
	f.registry.PutRecord(&types.ChangeRecord{
		ID:       "CR-2",
		Requests: []types.RequestRecord{{ID: "R1", Developer: "alice", Tracks: []string{"T1"}}},
	})
	s := f.session(t, nil)
	if _, err := s.Open(context.Background(), "CR-2"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Plan(nil); !errors.Is(err, types.ErrLocationUnset) {
		t.Errorf("Plan: expected ErrLocationUnset, got %v", err)
	}
	if _, err := s.Complete(context.Background(), nil, true); !errors.Is(err, types.ErrLocationUnset) {
		t.Errorf("Complete: expected ErrLocationUnset, got %v", err)
	}

	if err := s.SetLocation("nightly"); err == nil {
		t.Error("expected error for unknown location")
	}
	if err := s.SetLocation("release"); err != nil {
		t.Fatalf("SetLocation failed: %v", err)
	}
	if _, err := s.Plan(nil); err != nil {
		t.Errorf("Plan after SetLocation failed: %v", err)
	}
}

func TestSession_BuildZeroPlatforms(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)
	openResolved(t, s)

	result, err := s.Build(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !result.Complete || len(result.Commands) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(f.config.Build.WorkDir, "commands.txt")); !os.IsNotExist(err) {
		t.Error("no descriptor should be written")
	}
	if len(f.notifier.calls) != 0 {
		t.Errorf("no notifications expected, got %v", f.notifier.calls)
	}
}

func TestSession_ResumesSavedState(t *testing.T) {
	f := newFixture(t)
	stateDir := filepath.Join(f.dir, "state")
	manual := filepath.Join(f.dir, "extra.c")
	writeFile(t, manual, "int extra;\n")

	s := f.session(t, state.NewStateManager(stateDir, nil))
	openResolved(t, s)
	if _, err := s.AddFile("R1", "src/extra.c", manual, "alice"); err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	resumed := f.session(t, state.NewStateManager(stateDir, nil))
	p, err := resumed.Open(context.Background(), "CR-1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer resumed.Close()

	got := p.Requests["R1"].Files["/src/extra.c"]
	if got == nil || got.Origin != types.OriginManual {
		t.Fatalf("manual file not restored: %+v", got)
	}
	if !p.Requests["R1"].HasTrack(resolver.ManualTrackID("R1")) {
		t.Error("manual track not restored")
	}
}

func TestSession_BuildNotifiesSelectedPlatforms(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)
	openResolved(t, s)

	if _, err := s.Build(context.Background(), []string{"aix64", "aix64"}, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"start:aix64", "complete"}
	if !reflect.DeepEqual(f.notifier.calls, want) {
		t.Errorf("notifications = %v, want %v", f.notifier.calls, want)
	}
}

func TestSession_RelocateToMissingSourceIsKept(t *testing.T) {
	f := newFixture(t)
	stateDir := filepath.Join(f.dir, "state")
	missing := filepath.Join(f.dir, "not-yet", "a.c")

	s := f.session(t, state.NewStateManager(stateDir, nil))
	openResolved(t, s)
	if err := s.Relocate("R1", "/src/a.c", missing); err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	resumed := f.session(t, state.NewStateManager(stateDir, nil))
	p, err := resumed.Open(context.Background(), "CR-1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer resumed.Close()

	got := p.Requests["R1"].Files["/src/a.c"]
	if got.SourcePath != missing || got.PathValid {
		t.Errorf("expected saved invalid relocation, got %+v", got)
	}
}

func TestSession_OpenFailureReleasesState(t *testing.T) {
	f := newFixture(t)
	sm := state.NewStateManager(filepath.Join(f.dir, "state"), nil)
	s := f.session(t, sm)

	if _, err := s.Open(context.Background(), "CR-404"); err == nil {
		t.Fatal("expected an error for an unknown record")
	}
	if s.Patch() != nil {
		t.Error("no patch should be open after a failed Open")
	}

	st, err := sm.ReadState("CR-404")
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if st.ProcessID != 0 {
		t.Errorf("session still held by pid %d", st.ProcessID)
	}
}

func TestNewSession_RequiresRegistry(t *testing.T) {
	if _, err := patch.NewSession(patch.Dependencies{Config: &types.InjectorConfig{}}); err == nil {
		t.Error("expected error without a registry")
	}
}
