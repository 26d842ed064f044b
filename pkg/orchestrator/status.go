package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/types"
	"gopkg.in/yaml.v3"
)

// StatusReport is what a build machine writes to its status file:
//
//	machine: aixbld01
//	state: COMPLETE
//	log: /work/aix64.log
//
// The older single-line form `machine#STATE#log` is also accepted.
type StatusReport struct {
	Machine string `yaml:"machine"`
	State   string `yaml:"state"`
	Log     string `yaml:"log,omitempty"`
}

// ParseStatus parses status file content. Empty content returns a nil
// report: the runner has created the file but not reported yet.
func ParseStatus(data []byte) (*StatusReport, types.BuildState, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, types.BuildStatePending, nil
	}

	var report StatusReport
	if !strings.Contains(text, "\n") && !strings.Contains(text, ":") || isLegacy(text) {
		parts := strings.Split(text, "#")
		if len(parts) != 3 {
			return nil, types.BuildStatePending, fmt.Errorf("legacy status needs 3 fields, got %d", len(parts))
		}
		report = StatusReport{Machine: parts[0], State: parts[1], Log: parts[2]}
	} else if err := yaml.Unmarshal([]byte(text), &report); err != nil {
		return nil, types.BuildStatePending, fmt.Errorf("invalid status document: %w", err)
	}

	state, err := types.ParseBuildState(report.State)
	if err != nil {
		return nil, types.BuildStatePending, err
	}
	return &report, state, nil
}

// isLegacy detects `machine#STATE#log` lines whose log path contains ':'
func isLegacy(text string) bool {
	if strings.Contains(text, "\n") {
		return false
	}
	parts := strings.Split(text, "#")
	if len(parts) != 3 {
		return false
	}
	_, err := types.ParseBuildState(parts[1])
	return err == nil
}

// ReadStatus reads and parses a status file
func ReadStatus(path string) (*StatusReport, types.BuildState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.BuildStatePending, err
	}
	return ParseStatus(data)
}

// WriteStatus writes a status file atomically, the way runners are
// expected to.
func WriteStatus(path string, report StatusReport) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(report); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return fsutil.NewOS().WriteFileAtomic(path, buf.Bytes(), 0644)
}
