// Package events publishes promotion events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/injector/injector/pkg/types"
)

// Event types
const (
	TypePatchCompleted = "patch.completed"
	TypeBuildPlatform  = "build.platform"
)

// Event is the JSON document published per occurrence
type Event struct {
	Type      string    `json:"type"`
	PatchID   string    `json:"patchId"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// patch.completed
	Entries []types.LedgerEntry `json:"entries,omitempty"`
	Issues  []types.Issue       `json:"issues,omitempty"`

	// build.platform
	Platform string `json:"platform,omitempty"`
	State    string `json:"state,omitempty"`
	Machine  string `json:"machine,omitempty"`
}

// Key partitions events by patch so a consumer sees them in order
func (e Event) Key() string {
	return e.PatchID
}

// PatchCompleted builds the event emitted when a patch reaches BuildComplete
func PatchCompleted(patchID, location string, entries []types.LedgerEntry, issues []types.Issue, now time.Time) Event {
	return Event{
		Type:      TypePatchCompleted,
		PatchID:   patchID,
		Location:  location,
		Timestamp: now.UTC(),
		Entries:   entries,
		Issues:    issues,
	}
}

// BuildPlatform builds the event emitted on a platform state transition
func BuildPlatform(patchID string, cmd types.BuildCommand) Event {
	return Event{
		Type:      TypeBuildPlatform,
		PatchID:   patchID,
		Timestamp: cmd.UpdatedAt.UTC(),
		Platform:  cmd.Platform,
		State:     cmd.State.String(),
		Machine:   cmd.Machine,
	}
}

// Publisher delivers events. Publishing is best effort from the caller's
// point of view: failures are reported, never fatal to a promotion.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New returns a KafkaPublisher when brokers are configured, otherwise a
// NopPublisher.
func New(cfg types.EventsConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return NopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

// MemoryPublisher records events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool

	// PublishErr, when set, is returned by Publish
	PublishErr error
}

// NewMemoryPublisher creates an empty MemoryPublisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("publisher is closed")
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of the published events
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Encode renders an event as JSON
func Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return data, nil
}
