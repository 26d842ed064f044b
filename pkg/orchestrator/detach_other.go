//go:build !unix

package orchestrator

import "os/exec"

func detach(cmd *exec.Cmd) {}
