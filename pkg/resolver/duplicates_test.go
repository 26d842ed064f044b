package resolver_test

import (
	"reflect"
	"testing"

	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/types"
)

func file(active bool) *types.SourceFile {
	return &types.SourceFile{Active: active}
}

func TestDetectDuplicates(t *testing.T) {
	tests := []struct {
		name     string
		requests []*types.InjectionRequest
		want     map[string][]string
	}{
		{
			name: "two requests share a file",
			requests: []*types.InjectionRequest{
				{ID: "R1", Files: map[string]*types.SourceFile{"/src/a.c": file(true)}},
				{ID: "R2", Files: map[string]*types.SourceFile{"/src/a.c": file(true)}},
			},
			want: map[string][]string{"/src/a.c": {"R1", "R2"}},
		},
		{
			name: "inactive copy is not a duplicate",
			requests: []*types.InjectionRequest{
				{ID: "R1", Files: map[string]*types.SourceFile{"/src/a.c": file(true)}},
				{ID: "R2", Files: map[string]*types.SourceFile{"/src/a.c": file(false)}},
			},
			want: map[string][]string{},
		},
		{
			name: "owners are sorted and complete",
			requests: []*types.InjectionRequest{
				{ID: "R3", Files: map[string]*types.SourceFile{"/x": file(true), "/y": file(true)}},
				{ID: "R1", Files: map[string]*types.SourceFile{"/x": file(true)}},
				{ID: "R2", Files: map[string]*types.SourceFile{"/x": file(true), "/z": file(true)}},
			},
			want: map[string][]string{"/x": {"R1", "R2", "R3"}},
		},
		{
			name:     "no requests",
			requests: nil,
			want:     map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.DetectDuplicates(tt.requests)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectDuplicates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectDuplicates_ResolvedScenario(t *testing.T) {
	p := newPatch(t)
	if _, err := resolver.New(nil, nil, nil).Resolve(p, resolver.ModeNative, ""); err != nil {
		t.Fatal(err)
	}

	got := resolver.DetectDuplicates(p.OrderedRequests())
	want := map[string][]string{"/src/a.c": {"R1", "R2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	issues := resolver.DuplicateIssues(got)
	if len(issues) != 1 || issues[0].Kind != types.IssueDuplicateFile || issues[0].Path != "/src/a.c" {
		t.Errorf("unexpected issues: %+v", issues)
	}
}
