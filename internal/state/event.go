package state

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

// maxLine bounds one JSONL record; tool results can be large.
const maxLine = 16 << 20

// EventStore writes one JSONL transcript per run at
// runs/<runID>/events.jsonl.
type EventStore struct {
	root string

	mu   sync.Mutex
	logs map[types.RunID]*runLog
}

// runLog serializes writers of one transcript. seq is the last sequence
// number written, or -1 until the file has been counted.
type runLog struct {
	mu  sync.Mutex
	seq int64
}

func NewEventStore(root string) *EventStore {
	return &EventStore{root: root, logs: make(map[types.RunID]*runLog)}
}

func (e *EventStore) log(runID types.RunID) *runLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[runID]
	if !ok {
		l = &runLog{seq: -1}
		e.logs[runID] = l
	}
	return l
}

func (e *EventStore) path(runID types.RunID) string {
	return filepath.Join(e.root, "runs", string(runID), "events.jsonl")
}

// Append writes event with the run's next sequence number.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	if !event.RunID.Valid() {
		return fmt.Errorf("append event: invalid run id %q", event.RunID)
	}
	l := e.log(event.RunID)
	l.mu.Lock()
	defer l.mu.Unlock()

	path := e.path(event.RunID)
	if l.seq < 0 {
		n, err := countLines(path)
		if err != nil {
			return err
		}
		l.seq = n
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	event.Seq = l.seq + 1
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	l.seq = event.Seq
	return nil
}

// List returns every event of a run in order. An unknown run yields nil.
func (e *EventStore) List(_ context.Context, runID types.RunID) ([]*types.Event, error) {
	if !runID.Valid() {
		return nil, nil
	}
	l := e.log(runID)
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(e.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		ev := new(types.Event)
		if err := json.Unmarshal(sc.Bytes(), ev); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// Count returns the number of events recorded for a run without decoding
// them.
func (e *EventStore) Count(_ context.Context, runID types.RunID) (int64, error) {
	if !runID.Valid() {
		return 0, nil
	}
	l := e.log(runID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq >= 0 {
		return l.seq, nil
	}
	return countLines(e.path(runID))
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var n int64
	buf := make([]byte, 32*1024)
	for {
		k, err := f.Read(buf)
		n += int64(bytes.Count(buf[:k], []byte{'\n'}))
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("count events: %w", err)
		}
	}
}
