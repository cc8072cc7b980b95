package types

import (
	"strings"

	"github.com/google/uuid"
)

// RunID names one conversation. Run ids are UUIDv7 so transcript
// directories sort by start time.
type RunID string

// EventID names one transcript record.
type EventID string

// ArtifactID names one stored tool result.
type ArtifactID string

func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		return RunID(uuid.NewString())
	}
	return RunID(id.String())
}

func NewEventID() EventID { return EventID(uuid.NewString()) }

func NewArtifactID() ArtifactID { return ArtifactID(uuid.NewString()) }

// Valid reports whether the id is a well-formed UUID. Ids arriving over
// HTTP are checked with it before they become path components.
func (id RunID) Valid() bool { return validUUID(string(id)) }

// Valid reports whether the id is a well-formed UUID.
func (id ArtifactID) Valid() bool { return validUUID(string(id)) }

func validUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NewCompletionID returns a chat completion id: "chatcmpl-" and eight hex
// characters.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
