// Package notifier provides desktop notifications for builds and promotions
package notifier

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/types"
)

// Notifier is what a session reports milestones to
type Notifier interface {
	NotifyBuildStart(patchID string, platforms []string)
	NotifyPlatformFailed(patchID, platform, machine string)
	NotifyBuildComplete(patchID string, failed []string, duration time.Duration)
	NotifyPatchCompleted(patchID, location string, files int)
}

// BuildNotifier sends notifications through beeep
type BuildNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger

	// send delivers one notification; replaced in tests
	send func(title, message, soundName string)
}

// New creates a new build notifier
func New(config types.NotificationConfig, log logger.Logger) *BuildNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	n := &BuildNotifier{
		enabled:      config.IsEnabled(),
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
	n.send = n.sendNotification
	return n
}

// NotifyBuildStart notifies that build commands were dispatched
func (n *BuildNotifier) NotifyBuildStart(patchID string, platforms []string) {
	if !n.enabled {
		return
	}

	title := "🔧 Injector"
	message := fmt.Sprintf("Building %s on %s...", patchID, strings.Join(platforms, ", "))

	n.send(title, message, "")
}

// NotifyPlatformFailed notifies that one platform reported FAILED
func (n *BuildNotifier) NotifyPlatformFailed(patchID, platform, machine string) {
	if !n.enabled {
		return
	}

	title := "❌ Build Failed"
	message := fmt.Sprintf("%s failed on %s", patchID, platform)
	if machine != "" {
		message += fmt.Sprintf(" (%s)", machine)
	}

	n.send(title, message, n.failureSound)
}

// NotifyBuildComplete notifies that every platform has finished
func (n *BuildNotifier) NotifyBuildComplete(patchID string, failed []string, duration time.Duration) {
	if !n.enabled {
		return
	}

	if len(failed) > 0 {
		title := "⚠️ Build Finished With Failures"
		message := fmt.Sprintf("%s: %s failed after %s", patchID, strings.Join(failed, ", "), formatDuration(duration))
		n.send(title, message, n.failureSound)
		return
	}

	title := "✅ Build Succeeded"
	message := fmt.Sprintf("%s built in %s", patchID, formatDuration(duration))

	n.send(title, message, n.successSound)
}

// NotifyPatchCompleted notifies that a patch was promoted
func (n *BuildNotifier) NotifyPatchCompleted(patchID, location string, files int) {
	if !n.enabled {
		return
	}

	title := "📦 Patch Completed"
	message := fmt.Sprintf("%s promoted to %s (%d files)", patchID, location, files)

	n.send(title, message, n.successSound)
}

// Private methods

func (n *BuildNotifier) sendNotification(title, message, soundName string) {
	switch runtime.GOOS {
	case "darwin", "linux", "windows":
		if err := beeep.Notify(title, message, ""); err != nil {
			n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		}
	default:
		// Fallback to console
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
		return
	}

	if soundName != "" && runtime.GOOS == "darwin" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
