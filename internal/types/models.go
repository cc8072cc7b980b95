// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Event types recorded in a run transcript.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventNudge            = "nudge"
	EventFinish           = "finish"
)

// Sources of a run.
const (
	SourceAPI      = "api"
	SourceTelegram = "telegram"
	SourceRuntime  = "runtime"
)

type Event struct {
	ID      EventID         `json:"id"`
	RunID   RunID           `json:"run_id"`
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	RunID     RunID      `json:"run_id"`
	Tool      string     `json:"tool"`
	CallID    string     `json:"call_id,omitempty"`
	Tokens    int        `json:"tokens,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	MimeType  string     `json:"mime_type,omitempty"`
}
