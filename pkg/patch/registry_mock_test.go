package patch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/injector/injector/pkg/mocks"
	"github.com/injector/injector/pkg/patch"
	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/tracking"
	"github.com/injector/injector/pkg/types"
)

func TestSession_OpenPropagatesRegistryErrors(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)

	offline := errors.New("connection refused")
	reg.EXPECT().FetchRecord(gomock.Any(), "CR-1").Return(nil, offline)

	s, err := patch.NewSession(patch.Dependencies{Config: f.config, Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(context.Background(), "CR-1"); !errors.Is(err, offline) {
		t.Errorf("expected registry error, got %v", err)
	}
}

func TestSession_OpenReportsMissingTracks(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)

	reg.EXPECT().FetchRecord(gomock.Any(), "CR-1").Return(&types.ChangeRecord{
		ID:       "CR-1",
		Location: "release",
		Requests: []types.RequestRecord{{ID: "R1", Developer: "alice", Tracks: []string{"T1", "T9"}}},
	}, nil)
	reg.EXPECT().FetchTrack(gomock.Any(), "T1").Return(&types.ChangeTrack{
		ID:          "T1",
		Description: "fix a",
		Files:       map[string]types.FileRevision{"/src/a.c": {Revision: "1.1", Author: "alice"}},
	}, nil)
	reg.EXPECT().FetchTrack(gomock.Any(), "T9").Return(nil, types.ErrTrackNotFound)

	s, err := patch.NewSession(patch.Dependencies{Config: f.config, Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Open(context.Background(), "CR-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if p.Tracks["T9"].Found() {
		t.Error("T9 should be recorded as not found")
	}

	report, err := s.Resolve(resolver.ModeParse, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.MissingTracks) != 1 || report.MissingTracks[0].Track != "T9" {
		t.Errorf("expected T9 reported missing, got %v", report.MissingTracks)
	}
}

func TestSession_CompleteMarksRecordInjected(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)

	reg.EXPECT().FetchRecord(gomock.Any(), "CR-1").Return(&types.ChangeRecord{
		ID:       "CR-1",
		Location: "release",
		Requests: []types.RequestRecord{{ID: "R1", Developer: "alice", Tracks: []string{"T1"}}},
	}, nil)
	reg.EXPECT().FetchTrack(gomock.Any(), "T1").Return(&types.ChangeTrack{
		ID:          "T1",
		Description: "fix a",
		Files:       map[string]types.FileRevision{"/src/a.c": {Revision: "1.1", Author: "alice"}},
	}, nil)
	reg.EXPECT().UpdateRecord(gomock.Any(), "CR-1", tracking.StatusInjected).Return(nil).Times(1)

	s, err := patch.NewSession(patch.Dependencies{Config: f.config, Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(context.Background(), "CR-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(resolver.ModeParse, ""); err != nil {
		t.Fatal(err)
	}
	plan, err := s.Plan(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Complete(context.Background(), plan, true); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}
