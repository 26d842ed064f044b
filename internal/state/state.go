// Package state persists patch sessions between injector invocations
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/orchestrator"
	"github.com/injector/injector/pkg/types"
)

// StaleAfter is how old a heartbeat may be before the owning process is
// considered gone
const StaleAfter = 30 * time.Second

// HeartbeatInterval is how often held sessions refresh their heartbeat
const HeartbeatInterval = 10 * time.Second

// SessionState is the persisted state of one patch session
type SessionState struct {
	RecordID  string            `json:"recordId"`
	Patch     *types.Patch      `json:"patch"`
	LastRun   *orchestrator.Run `json:"lastRun,omitempty"`
	ProcessID int               `json:"processId"`
	Heartbeat time.Time         `json:"heartbeat"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ErrLocked is returned when another live process holds a session
var ErrLocked = errors.New("patch session is held by another process")

// StateManager handles persistent session files
type StateManager struct {
	stateDir       string
	fs             fsutil.FileSystem
	logger         logger.Logger
	mu             sync.RWMutex
	states         map[string]*SessionState
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStateManager creates a state manager storing files in stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if err := fsutil.EnsureDirectory(stateDir); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &StateManager{
		stateDir: stateDir,
		fs:       fsutil.NewOS(),
		logger:   log,
		states:   make(map[string]*SessionState),
	}
}

// Acquire loads the saved session for a record, or starts an empty one,
// and marks it as held by this process. A session held by another live
// process yields ErrLocked.
func (sm *StateManager) Acquire(recordID string) (*SessionState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if st, ok := sm.states[recordID]; ok {
		return st, nil
	}

	st, err := sm.loadStateFile(recordID)
	switch {
	case errors.Is(err, os.ErrNotExist):
		st = &SessionState{RecordID: recordID}
	case err != nil:
		return nil, err
	case heldByOther(st):
		return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, recordID, st.ProcessID)
	}

	st.ProcessID = os.Getpid()
	st.Heartbeat = time.Now()
	if err := sm.saveStateFile(st); err != nil {
		return nil, fmt.Errorf("failed to save session state: %w", err)
	}
	sm.states[recordID] = st
	return st, nil
}

// ReadState reads a session without acquiring it
func (sm *StateManager) ReadState(recordID string) (*SessionState, error) {
	sm.mu.RLock()
	if st, ok := sm.states[recordID]; ok {
		sm.mu.RUnlock()
		return st, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(recordID)
}

// Save persists the patch and last run of a held session
func (sm *StateManager) Save(recordID string, patch *types.Patch, run *orchestrator.Run) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.states[recordID]
	if !ok {
		return fmt.Errorf("session %s is not held by this process", recordID)
	}
	st.Patch = patch
	if run != nil {
		st.LastRun = run
	}
	st.Heartbeat = time.Now()
	st.UpdatedAt = st.Heartbeat
	return sm.saveStateFile(st)
}

// Release gives up a held session, keeping its saved content
func (sm *StateManager) Release(recordID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.states[recordID]
	if !ok {
		return nil
	}
	delete(sm.states, recordID)
	st.ProcessID = 0
	return sm.saveStateFile(st)
}

// RemoveState discards a session entirely
func (sm *StateManager) RemoveState(recordID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, recordID)
	if err := sm.fs.RemoveIfExists(sm.getStateFilePath(recordID)); err != nil {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// IsLocked checks if a session is held by another live process
func (sm *StateManager) IsLocked(recordID string) (bool, error) {
	st, err := sm.loadStateFile(recordID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return heldByOther(st), nil
}

// DiscoverStates loads every saved session, sorted by record id
func (sm *StateManager) DiscoverStates() ([]*SessionState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []*SessionState
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		recordID := strings.TrimSuffix(file.Name(), ".json")
		st, err := sm.loadStateFile(recordID)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("record", recordID),
				logger.WithField("error", err))
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].RecordID < states[j].RecordID })
	return states, nil
}

// StartHeartbeat keeps held sessions fresh while a long operation runs
func (sm *StateManager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return
	}

	stop := make(chan struct{})
	timer := time.NewTicker(HeartbeatInterval)
	sm.heartbeatStop = stop
	sm.heartbeatTimer = timer

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-timer.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (sm *StateManager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}

	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup stops the heartbeat and releases every held session
func (sm *StateManager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.RLock()
	ids := make([]string, 0, len(sm.states))
	for id := range sm.states {
		ids = append(ids, id)
	}
	sm.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := sm.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Private methods

func (sm *StateManager) getStateFilePath(recordID string) string {
	return filepath.Join(sm.stateDir, recordID+".json")
}

func (sm *StateManager) loadStateFile(recordID string) (*SessionState, error) {
	data, err := os.ReadFile(sm.getStateFilePath(recordID))
	if err != nil {
		return nil, err
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

func (sm *StateManager) saveStateFile(st *SessionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return sm.fs.WriteFileAtomic(sm.getStateFilePath(st.RecordID), data, 0644)
}

func (sm *StateManager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, st := range sm.states {
		st.Heartbeat = now
		if err := sm.saveStateFile(st); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("record", st.RecordID),
				logger.WithField("error", err))
		}
	}
}

// heldByOther reports whether a live process other than this one owns st
func heldByOther(st *SessionState) bool {
	if st.ProcessID == 0 || st.ProcessID == os.Getpid() {
		return false
	}
	if time.Since(st.Heartbeat) > StaleAfter {
		return false
	}
	proc, err := os.FindProcess(st.ProcessID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
