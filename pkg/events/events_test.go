package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/injector/injector/pkg/types"
)

func TestNew_WithoutBrokersIsNop(t *testing.T) {
	pub, err := New(types.EventsConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := pub.(NopPublisher); !ok {
		t.Errorf("expected NopPublisher, got %T", pub)
	}
	if err := pub.Publish(context.Background(), Event{Type: TypePatchCompleted}); err != nil {
		t.Errorf("nop publish failed: %v", err)
	}
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Error("expected error without brokers")
	}
}

func TestKafkaPublisher_ClosedRejectsPublish(t *testing.T) {
	// Client creation does not dial, so no broker is needed here.
	pub, err := NewKafkaPublisher([]string{"localhost:19092"}, "")
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	if pub.topic != DefaultTopic {
		t.Errorf("expected default topic, got %q", pub.topic)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pub.Publish(context.Background(), Event{Type: TypeBuildPlatform}); err == nil {
		t.Error("expected error publishing on a closed publisher")
	}
}

func TestMemoryPublisher(t *testing.T) {
	pub := NewMemoryPublisher()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []types.LedgerEntry{{Path: "/src/a.c", Track: "T1", Developer: "alice", Timestamp: now, Location: "release"}}

	if err := pub.Publish(context.Background(), PatchCompleted("P1", "release", entries, nil, now)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got := pub.Events()
	if len(got) != 1 || got[0].Type != TypePatchCompleted || got[0].Key() != "P1" {
		t.Errorf("unexpected events: %+v", got)
	}

	pub.PublishErr = errors.New("broker down")
	if err := pub.Publish(context.Background(), Event{}); err == nil {
		t.Error("expected injected error")
	}
}

func TestEncode_BuildPlatform(t *testing.T) {
	cmd := types.BuildCommand{
		Platform:  "aix64",
		State:     types.BuildStateFailed,
		Machine:   "aixbld01",
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := Encode(BuildPlatform("P1", cmd))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["type"] != TypeBuildPlatform || decoded["state"] != "FAILED" || decoded["platform"] != "aix64" {
		t.Errorf("unexpected encoding: %s", data)
	}
	if _, ok := decoded["entries"]; ok {
		t.Error("platform events should omit entries")
	}
}
