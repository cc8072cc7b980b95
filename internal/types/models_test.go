// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	event := Event{
		ID:      NewEventID(),
		RunID:   NewRunID(),
		Seq:     1,
		Type:    EventToolCall,
		Source:  SourceRuntime,
		At:      time.Now(),
		Payload: json.RawMessage(`{"tool":"search_tables","call_id":"call_0"}`),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Type != event.Type {
		t.Errorf("expected type %s, got %s", event.Type, decoded.Type)
	}
	if decoded.RunID != event.RunID {
		t.Errorf("expected run %s, got %s", event.RunID, decoded.RunID)
	}
}
