package types_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/injector/injector/pkg/types"
)

func TestParseBuildState(t *testing.T) {
	tests := []struct {
		token   string
		want    types.BuildState
		wantErr bool
	}{
		{"COMPLETE", types.BuildStateComplete, false},
		{"complete", types.BuildStateComplete, false},
		{" RUNNING\n", types.BuildStateRunning, false},
		{"PENDING", types.BuildStatePending, false},
		{"FAILED", types.BuildStateFailed, false},
		{"DONE", types.BuildStatePending, true},
		{"", types.BuildStatePending, true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := types.ParseBuildState(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBuildState(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBuildState(%q) = %s, want %s", tt.token, got, tt.want)
			}
		})
	}
}

func TestBuildState_String(t *testing.T) {
	if types.BuildStateComplete.String() != "COMPLETE" {
		t.Errorf("expected COMPLETE, got %s", types.BuildStateComplete)
	}
	if !types.BuildStateFailed.IsTerminal() || types.BuildStateRunning.IsTerminal() {
		t.Error("unexpected terminal classification")
	}
}

func TestParsePatchState(t *testing.T) {
	if s, err := types.ParsePatchState("BuildComplete"); err != nil || s != types.PatchStateBuildComplete {
		t.Errorf("unexpected result %q, %v", s, err)
	}
	if _, err := types.ParsePatchState("Closed"); err == nil {
		t.Error("expected error for unknown patch state")
	}
}

func TestPatch_AddRequest(t *testing.T) {
	p := types.NewPatch("p1", "rec-1", "main")

	if err := p.AddRequest(&types.InjectionRequest{ID: "R2", Tracks: []string{"T2", "T1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.AddRequest(&types.InjectionRequest{ID: "R1", Tracks: []string{"T1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.AddRequest(&types.InjectionRequest{ID: "R1"}); err == nil {
		t.Error("expected error for duplicate request id")
	}

	ordered := p.OrderedRequests()
	if len(ordered) != 2 || ordered[0].ID != "R2" || ordered[1].ID != "R1" {
		t.Errorf("expected insertion order [R2 R1], got %v", p.Order)
	}

	ids := p.TrackIDs()
	if len(ids) != 2 || ids[0] != "T1" || ids[1] != "T2" {
		t.Errorf("expected tracks [T1 T2], got %v", ids)
	}

	if _, err := p.Request("R9"); !errors.Is(err, types.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestChangeTrack_Found(t *testing.T) {
	var missing *types.ChangeTrack
	if missing.Found() {
		t.Error("nil track must not be found")
	}
	if (&types.ChangeTrack{ID: "T1"}).Found() {
		t.Error("empty description means not found")
	}
	if !(&types.ChangeTrack{ID: "T1", Description: "fix"}).Found() {
		t.Error("expected track with description to be found")
	}
}

func TestInjectionRequest_ActiveFiles(t *testing.T) {
	r := &types.InjectionRequest{
		ID: "R1",
		Files: map[string]*types.SourceFile{
			"/src/b.c": {TargetPath: "/src/b.c", Active: true},
			"/src/a.c": {TargetPath: "/src/a.c", Active: true},
			"/src/c.c": {TargetPath: "/src/c.c", Active: false},
		},
	}

	files := r.ActiveFiles()
	if len(files) != 2 {
		t.Fatalf("expected 2 active files, got %d", len(files))
	}
	if files[0].TargetPath != "/src/a.c" || files[1].TargetPath != "/src/b.c" {
		t.Errorf("expected sorted active files, got %s, %s", files[0].TargetPath, files[1].TargetPath)
	}
}

func TestIssue_String(t *testing.T) {
	i := types.Issue{Kind: types.IssueTrackNotFound, Track: "T9", Message: "not in change-tracking system"}
	want := "track-not-found: not in change-tracking system (track=T9)"
	if i.String() != want {
		t.Errorf("got %q, want %q", i.String(), want)
	}
}

func TestBuildCommand_JSONUsesStateTokens(t *testing.T) {
	data, err := json.Marshal(types.BuildCommand{Platform: "aix64", State: types.BuildStateRunning})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"state":"RUNNING"`) {
		t.Errorf("expected state token in %s", data)
	}

	var decoded types.BuildCommand
	if err := json.Unmarshal([]byte(`{"platform":"aix64","state":"FAILED"}`), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.State != types.BuildStateFailed {
		t.Errorf("expected FAILED, got %s", decoded.State)
	}
	if err := json.Unmarshal([]byte(`{"state":"DONE"}`), &decoded); err == nil {
		t.Error("expected error for unknown state token")
	}
}
