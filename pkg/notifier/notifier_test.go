package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/injector/injector/pkg/types"
)

type sent struct {
	title, message, sound string
}

func newRecordingNotifier(enabled bool) (*BuildNotifier, *[]sent) {
	var calls []sent
	n := New(types.NotificationConfig{Enabled: &enabled, SuccessSound: "Glass", FailureSound: "Basso"}, nil)
	n.send = func(title, message, sound string) {
		calls = append(calls, sent{title, message, sound})
	}
	return n, &calls
}

func TestNotifier_Disabled(t *testing.T) {
	n, calls := newRecordingNotifier(false)

	n.NotifyBuildStart("P1", []string{"aix64"})
	n.NotifyPlatformFailed("P1", "aix64", "")
	n.NotifyBuildComplete("P1", nil, time.Second)
	n.NotifyPatchCompleted("P1", "release", 3)

	if len(*calls) != 0 {
		t.Errorf("expected no notifications, got %v", *calls)
	}
}

func TestNotifier_Messages(t *testing.T) {
	tests := []struct {
		name      string
		notify    func(n *BuildNotifier)
		wantTitle string
		wantMsg   string
		wantSound string
	}{
		{
			name:      "build start",
			notify:    func(n *BuildNotifier) { n.NotifyBuildStart("P1", []string{"aix64", "linux32"}) },
			wantTitle: "Injector",
			wantMsg:   "Building P1 on aix64, linux32...",
		},
		{
			name:      "platform failed",
			notify:    func(n *BuildNotifier) { n.NotifyPlatformFailed("P1", "aix64", "aixbld01") },
			wantTitle: "Build Failed",
			wantMsg:   "P1 failed on aix64 (aixbld01)",
			wantSound: "Basso",
		},
		{
			name:      "build complete",
			notify:    func(n *BuildNotifier) { n.NotifyBuildComplete("P1", nil, 1500*time.Millisecond) },
			wantTitle: "Build Succeeded",
			wantMsg:   "P1 built in 1.5s",
			wantSound: "Glass",
		},
		{
			name:      "build complete with failures",
			notify:    func(n *BuildNotifier) { n.NotifyBuildComplete("P1", []string{"aix64"}, 2*time.Minute) },
			wantTitle: "Failures",
			wantMsg:   "aix64 failed after 2m0s",
			wantSound: "Basso",
		},
		{
			name:      "patch completed",
			notify:    func(n *BuildNotifier) { n.NotifyPatchCompleted("P1", "release", 4) },
			wantTitle: "Patch Completed",
			wantMsg:   "P1 promoted to release (4 files)",
			wantSound: "Glass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, calls := newRecordingNotifier(true)
			tt.notify(n)
			if len(*calls) != 1 {
				t.Fatalf("expected 1 notification, got %d", len(*calls))
			}
			got := (*calls)[0]
			if !strings.Contains(got.title, tt.wantTitle) {
				t.Errorf("title %q does not contain %q", got.title, tt.wantTitle)
			}
			if !strings.Contains(got.message, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", got.message, tt.wantMsg)
			}
			if got.sound != tt.wantSound {
				t.Errorf("sound = %q, want %q", got.sound, tt.wantSound)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
