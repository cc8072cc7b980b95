package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

func TestEventStore(t *testing.T) {
	dir := t.TempDir()
	store := NewEventStore(dir)
	ctx := context.Background()

	runID := types.NewRunID()

	for i, typ := range []string{types.EventUserMessage, types.EventToolCall, types.EventFinish} {
		event := &types.Event{
			ID:      types.NewEventID(),
			RunID:   runID,
			Seq:     0, // Will be auto-assigned
			Type:    typ,
			Source:  types.SourceRuntime,
			At:      time.Now(),
			Payload: json.RawMessage(`{"text":"hello"}`),
		}
		if err := store.Append(ctx, event); err != nil {
			t.Fatal(err)
		}
		if event.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, event.Seq)
		}
	}

	events, err := store.List(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Type != types.EventToolCall {
		t.Errorf("expected tool_call second, got %s", events[1].Type)
	}

	count, err := store.Count(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestEventStoreUnknownRun(t *testing.T) {
	store := NewEventStore(t.TempDir())
	events, err := store.List(context.Background(), types.NewRunID())
	if err != nil {
		t.Fatal(err)
	}
	if events != nil {
		t.Errorf("expected nil, got %d events", len(events))
	}
}

func TestEventStoreRequiresRunID(t *testing.T) {
	store := NewEventStore(t.TempDir())
	if err := store.Append(context.Background(), &types.Event{Type: types.EventFinish}); err == nil {
		t.Fatal("expected error for event without run id")
	}
}

func TestEventStoreResumesSequence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	runID := types.NewRunID()

	first := NewEventStore(dir)
	for range 2 {
		if err := first.Append(ctx, &types.Event{ID: types.NewEventID(), RunID: runID, Type: types.EventToolCall}); err != nil {
			t.Fatal(err)
		}
	}

	second := NewEventStore(dir)
	if n, err := second.Count(ctx, runID); err != nil || n != 2 {
		t.Fatalf("expected count 2 from disk, got %d (%v)", n, err)
	}
	ev := &types.Event{ID: types.NewEventID(), RunID: runID, Type: types.EventFinish}
	if err := second.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 3 {
		t.Errorf("expected seq 3 after reopening, got %d", ev.Seq)
	}
}

func TestEventStoreRejectsPathLikeRunID(t *testing.T) {
	dir := t.TempDir()
	store := NewEventStore(dir)
	ev := &types.Event{RunID: types.RunID("../escape"), Type: types.EventFinish}
	if err := store.Append(context.Background(), ev); err == nil {
		t.Fatal("expected error for path-like run id")
	}
	events, err := store.List(context.Background(), "../escape")
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v (%v)", events, err)
	}
}
