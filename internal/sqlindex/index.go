package sqlindex

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "optimus",
		Subsystem: "sqlindex",
		Name:      "builds_total",
		Help:      "Index builds by outcome.",
	}, []string{"status"})

	indexedObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "optimus",
		Subsystem: "sqlindex",
		Name:      "objects",
		Help:      "Objects in the current index generation.",
	})
)

// LoadStatus reports what Indexer.Load did.
type LoadStatus string

const (
	LoadBuilt  LoadStatus = "success"
	LoadCached LoadStatus = "already_indexed"
)

// Snapshot is one immutable index generation.
type Snapshot struct {
	Root    string
	Objects []*Object
	Stats   Stats
	BuiltAt time.Time
}

// Indexer owns the current index generation. A rebuild replaces the whole
// snapshot; readers holding an older snapshot are unaffected.
type Indexer struct {
	progress Progress

	buildMu sync.Mutex
	mu      sync.RWMutex
	current *Snapshot
}

// NewIndexer creates an empty Indexer. progress may be nil.
func NewIndexer(progress Progress) *Indexer {
	return &Indexer{progress: progress}
}

// Current returns the current snapshot, or nil before the first build.
func (ix *Indexer) Current() *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.current
}

// Load indexes root. When root is the path of the current non-empty snapshot
// and force is false, the snapshot is returned without touching the disk.
func (ix *Indexer) Load(ctx context.Context, root string, force bool) (*Snapshot, LoadStatus, error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	if cur := ix.Current(); !force && cur != nil && cur.Root == root && len(cur.Objects) > 0 {
		return cur, LoadCached, nil
	}

	objects, stats, err := Build(ctx, root, ix.progress)
	if err != nil {
		indexBuilds.WithLabelValues("error").Inc()
		return nil, "", err
	}
	snap := &Snapshot{Root: root, Objects: objects, Stats: stats, BuiltAt: time.Now()}

	ix.mu.Lock()
	ix.current = snap
	ix.mu.Unlock()

	indexBuilds.WithLabelValues("success").Inc()
	indexedObjects.Set(float64(len(objects)))
	return snap, LoadBuilt, nil
}

// Search ranks the snapshot's objects against query.
func (s *Snapshot) Search(query string, limit int, kinds ...Kind) []Result {
	return Search(s.Objects, query, limit, kinds...)
}

// List returns up to limit objects of the given kind (any when empty) whose
// name contains pattern case-insensitively.
func (s *Snapshot) List(kind Kind, pattern string, limit int) []*Object {
	pattern = strings.ToLower(pattern)
	var out []*Object
	for _, obj := range s.Objects {
		if kind != "" && obj.Kind != kind {
			continue
		}
		if pattern != "" && !strings.Contains(strings.ToLower(obj.Name), pattern) {
			continue
		}
		out = append(out, obj)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// ByPath returns the object indexed from path.
func (s *Snapshot) ByPath(path string) (*Object, bool) {
	for _, obj := range s.Objects {
		if obj.Path == path {
			return obj, true
		}
	}
	return nil, false
}

// Find returns the first object named name (case-insensitive), optionally
// restricted to kind.
func (s *Snapshot) Find(name string, kind Kind) (*Object, bool) {
	for _, obj := range s.Objects {
		if kind != "" && obj.Kind != kind {
			continue
		}
		if strings.EqualFold(obj.Name, name) {
			return obj, true
		}
	}
	return nil, false
}

// Dependents returns every object whose dependencies name target exactly.
func (s *Snapshot) Dependents(target *Object) []*Object {
	var out []*Object
	for _, obj := range s.Objects {
		for _, dep := range obj.Dependencies {
			if dep == target.Name {
				out = append(out, obj)
				break
			}
		}
	}
	return out
}
