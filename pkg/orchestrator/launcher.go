package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/injector/injector/pkg/logger"
)

// Launcher starts the external build runner for a descriptor. It must not
// wait for the builds; completion is observed through status files.
type Launcher interface {
	Launch(ctx context.Context, runner, descriptor, workDir string) error
}

// ExecLauncher starts the runner as a detached child process in its own
// process group, so cancelling a session never signals it.
type ExecLauncher struct {
	logger logger.Logger
}

// NewExecLauncher creates an ExecLauncher
func NewExecLauncher(log logger.Logger) *ExecLauncher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ExecLauncher{logger: log}
}

// Launch runs `runner descriptor` in workDir. The runner string may carry
// arguments; its output goes to runner.log in workDir.
func (l *ExecLauncher) Launch(ctx context.Context, runner, descriptor, workDir string) error {
	parts := strings.Fields(runner)
	if len(parts) == 0 {
		return fmt.Errorf("no build runner configured")
	}

	out, err := os.OpenFile(filepath.Join(workDir, "runner.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open runner log: %w", err)
	}

	// Not CommandContext: the runner must outlive the session.
	cmd := exec.Command(parts[0], append(parts[1:], descriptor)...)
	cmd.Dir = workDir
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)

	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("failed to start runner %s: %w", parts[0], err)
	}

	l.logger.Info("Build runner started",
		logger.WithField("runner", parts[0]),
		logger.WithField("pid", cmd.Process.Pid))

	// Reap the child
	go func() {
		cmd.Wait()
		out.Close()
	}()
	return nil
}
