package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one conversation from admission to its final chunk. The loop
// owns it while running; Info may be called from any goroutine.
type Run struct {
	ID           types.RunID
	CompletionID string
	Source       string
	Model        string
	CreatedAt    time.Time

	// Ctx is cancelled when the client goes away.
	Ctx context.Context

	mu           sync.Mutex
	status       RunStatus
	phase        string
	rounds       int
	finishReason string
	startedAt    *time.Time
	endedAt      *time.Time
	err          error
}

// NewRun creates a Run in the Queued state.
func NewRun(source, model string) *Run {
	return &Run{
		ID:           types.NewRunID(),
		CompletionID: types.NewCompletionID(),
		Source:       source,
		Model:        model,
		CreatedAt:    time.Now(),
		status:       RunStatusQueued,
	}
}

// Context returns Ctx, or Background when unset.
func (r *Run) Context() context.Context {
	if r.Ctx == nil {
		return context.Background()
	}
	return r.Ctx
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.startedAt = &now
	r.status = RunStatusRunning
}

// SetPhase records the loop state and the number of rounds started.
func (r *Run) SetPhase(phase string, rounds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.rounds = rounds
}

// Finish marks the run complete, or failed when err is non-nil.
func (r *Run) Finish(reason string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.endedAt = &now
	r.finishReason = reason
	r.err = err
	if err != nil {
		r.status = RunStatusFailed
	} else {
		r.status = RunStatusComplete
	}
}

// RunInfo is a point-in-time copy of a Run.
type RunInfo struct {
	ID           types.RunID `json:"id"`
	CompletionID string      `json:"completion_id"`
	Source       string      `json:"source"`
	Model        string      `json:"model"`
	Status       RunStatus   `json:"status"`
	Phase        string      `json:"phase,omitempty"`
	Rounds       int         `json:"rounds"`
	FinishReason string      `json:"finish_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Info returns a snapshot of the run.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RunInfo{
		ID:           r.ID,
		CompletionID: r.CompletionID,
		Source:       r.Source,
		Model:        r.Model,
		Status:       r.status,
		Phase:        r.phase,
		Rounds:       r.rounds,
		FinishReason: r.finishReason,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.startedAt,
		EndedAt:      r.endedAt,
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	return info
}
