// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
)

// Job is a named function fired on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires registered jobs. A job still running when its next tick
// arrives is skipped for that tick.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []Job
}

// New creates an idle Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Validate reports whether schedule is a valid cron expression.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Add registers a job. It may be called before or after Start.
func (s *Scheduler) Add(job Job) error {
	if err := Validate(job.Schedule); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		s.logger.Info("cron firing job", "name", job.Name)
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "name", job.Name, "error", err)
			return
		}
		s.logger.Info("scheduled job finished", "name", job.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	s.logger.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// ReindexJob rebuilds the index of root on every tick, replacing the
// current snapshot.
func ReindexJob(ix *sqlindex.Indexer, root, schedule string) Job {
	return Job{
		Name:     "reindex",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, _, err := ix.Load(ctx, root, true)
			return err
		},
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
