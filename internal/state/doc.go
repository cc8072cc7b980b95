// Package state stores opt-in run transcripts on disk: one JSONL event log
// per run and one JSON file per oversized tool result.
package state

import "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"

var (
	_ types.EventStore    = (*EventStore)(nil)
	_ types.ArtifactStore = (*ArtifactStore)(nil)
)
