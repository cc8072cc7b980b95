// Package gateway admits conversations, tracks their runs and holds the
// retry policy for model calls.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

// Gateway admits runs under a concurrency limit and keeps the set of runs
// currently in flight.
type Gateway struct {
	limiter *Limiter
	retry   *RetryPolicy

	mu   sync.RWMutex
	runs map[types.RunID]*Run
}

// New creates a Gateway allowing maxConcurrent runs at once. A nil retry
// selects DefaultRetryPolicy.
func New(maxConcurrent int64, retry *RetryPolicy) *Gateway {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Gateway{
		limiter: NewLimiter(maxConcurrent),
		retry:   retry,
		runs:    make(map[types.RunID]*Run),
	}
}

// Retry returns the model call retry policy.
func (g *Gateway) Retry() *RetryPolicy { return g.retry }

// Limiter returns the admission limiter.
func (g *Gateway) Limiter() *Limiter { return g.limiter }

// Admit waits for a free slot and marks run as running. The returned
// release function must be called once the run has finished.
func (g *Gateway) Admit(ctx context.Context, run *Run) (func(), error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("admit run: %w", err)
	}
	run.start()

	g.mu.Lock()
	g.runs[run.ID] = run
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.runs, run.ID)
			g.mu.Unlock()
			g.limiter.Release()
		})
	}, nil
}

// Active returns snapshots of the runs in flight, oldest first.
func (g *Gateway) Active() []RunInfo {
	g.mu.RLock()
	out := make([]RunInfo, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r.Info())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Drain waits up to timeout for in-flight runs to finish.
func (g *Gateway) Drain(timeout time.Duration) bool {
	return g.limiter.WaitIdle(timeout)
}
