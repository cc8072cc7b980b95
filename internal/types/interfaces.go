package types

import "context"

// EventStore keeps the append-only transcript of each run. Append assigns
// Seq; List returns a run's events in Seq order and nil for an unknown run.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, runID RunID) ([]*Event, error)
	Count(ctx context.Context, runID RunID) (int64, error)
}

// ArtifactStore keeps full tool results whose copy in the conversation was
// cut to the token budget.
type ArtifactStore interface {
	Put(ctx context.Context, runID RunID, tool, callID, content string, tokens int) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) (string, error)
	GetMeta(ctx context.Context, id ArtifactID) (*ArtifactMeta, error)
	List(ctx context.Context, runID RunID) ([]*ArtifactMeta, error)
}
