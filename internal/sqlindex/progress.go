package sqlindex

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/briandowns/spinner"
)

// Progress receives build progress. Implementations must never write to the
// primary output stream of the process.
type Progress interface {
	Start(root string, total int)
	Advance(path string)
	Fail(path string, err error)
	Finish(stats Stats)
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Start(string, int)  {}
func (NopProgress) Advance(string)     {}
func (NopProgress) Fail(string, error) {}
func (NopProgress) Finish(Stats)       {}

// LogProgress reports progress through slog, logging every Every files.
type LogProgress struct {
	Logger *slog.Logger
	Every  int

	done  int
	total int
}

func (p *LogProgress) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *LogProgress) Start(root string, total int) {
	p.done, p.total = 0, total
	p.logger().Info("indexing sql files", "root", root, "files", total)
}

func (p *LogProgress) Advance(string) {
	p.done++
	if p.Every > 0 && p.done%p.Every == 0 {
		p.logger().Info("indexing progress", "done", p.done, "total", p.total)
	}
}

func (p *LogProgress) Fail(path string, err error) {
	p.logger().Warn("failed to index file", "path", path, "error", err)
}

func (p *LogProgress) Finish(stats Stats) {
	p.logger().Info("indexing complete",
		"objects", stats.TotalObjects,
		"tables", stats.Tables,
		"views", stats.Views,
		"procedures", stats.Procedures,
		"functions", stats.Functions,
		"failed", stats.FailedFiles,
		"elapsed", stats.Elapsed.Round(time.Millisecond),
	)
}

// SpinnerProgress draws a terminal spinner on w, normally os.Stderr.
type SpinnerProgress struct {
	s     *spinner.Spinner
	w     io.Writer
	done  int
	total int
}

// NewSpinnerProgress creates a spinner that writes to w.
func NewSpinnerProgress(w io.Writer) *SpinnerProgress {
	return &SpinnerProgress{
		s: spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(w)),
		w: w,
	}
}

func (p *SpinnerProgress) Start(root string, total int) {
	p.done, p.total = 0, total
	p.s.Suffix = fmt.Sprintf(" Indexing %d SQL files in %s", total, root)
	p.s.Start()
}

func (p *SpinnerProgress) Advance(string) {
	p.done++
	p.s.Lock()
	p.s.Suffix = fmt.Sprintf(" Indexing SQL files %d/%d", p.done, p.total)
	p.s.Unlock()
}

func (p *SpinnerProgress) Fail(path string, err error) {
	p.s.Lock()
	fmt.Fprintf(p.w, "\rWarning: failed to index %s: %v\n", path, err)
	p.s.Unlock()
}

func (p *SpinnerProgress) Finish(stats Stats) {
	p.s.Stop()
	fmt.Fprintf(p.w, "Indexed %d objects from %d files in %s\n",
		stats.TotalObjects, stats.TotalFiles, stats.Elapsed.Round(time.Millisecond))
}
