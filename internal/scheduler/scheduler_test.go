package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, within time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New(nil)
	err := sched.Add(Job{Name: "every-second", Schedule: "* * * * * *", Run: func(context.Context) error {
		fires.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	if !waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 }) {
		t.Fatalf("job did not fire within 2.5s")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	sched := New(nil)
	if err := sched.Add(Job{Name: "bad", Schedule: "every tuesday", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if len(sched.Jobs()) != 0 {
		t.Error("invalid job should not be registered")
	}
	if err := Validate("@hourly"); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
}

func TestSchedulerStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool

	sched := New(nil)
	sched.Add(Job{Name: "slow", Schedule: "* * * * * *", Run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}})
	sched.Start()

	select {
	case <-started:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not start")
	}
	sched.Stop()
	if !cancelled.Load() {
		t.Error("Stop returned before the running job observed cancellation")
	}
}

func TestSchedulerJobErrorIsContained(t *testing.T) {
	var fires atomic.Int32
	sched := New(nil)
	sched.Add(Job{Name: "failing", Schedule: "* * * * * *", Run: func(context.Context) error {
		fires.Add(1)
		return errors.New("boom")
	}})
	sched.Start()
	defer sched.Stop()

	if !waitFor(t, 3500*time.Millisecond, func() bool { return fires.Load() >= 2 }) {
		t.Fatalf("failing job should keep firing, fires=%d", fires.Load())
	}
}

func TestReindexJob(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.sql", "CREATE TABLE A (id int)")

	ix := sqlindex.NewIndexer(nil)
	if _, _, err := ix.Load(context.Background(), dir, false); err != nil {
		t.Fatal(err)
	}
	write("b.sql", "CREATE TABLE B (id int)")

	job := ReindexJob(ix, dir, "@every 1h")
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(ix.Current().Objects); n != 2 {
		t.Errorf("expected forced rebuild to pick up new file, got %d objects", n)
	}
}
