package state

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

// artifactFile is the on-disk form of one artifact.
type artifactFile struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data string              `json:"data"`
}

// ArtifactStore keeps each artifact as runs/<runID>/artifacts/<id>.json.
// Artifacts written by this process are located through an in-memory
// index; older ones are found by scanning the run directories.
type ArtifactStore struct {
	root string

	mu    sync.RWMutex
	owner map[types.ArtifactID]types.RunID
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root, owner: make(map[types.ArtifactID]types.RunID)}
}

func (a *ArtifactStore) dir(runID types.RunID) string {
	return filepath.Join(a.root, "runs", string(runID), "artifacts")
}

// Put writes content atomically and returns the new artifact's id.
func (a *ArtifactStore) Put(_ context.Context, runID types.RunID, tool, callID, content string, tokens int) (types.ArtifactID, error) {
	if !runID.Valid() {
		return "", fmt.Errorf("put artifact: invalid run id %q", runID)
	}
	id := types.NewArtifactID()
	data, err := json.MarshalIndent(artifactFile{
		Meta: &types.ArtifactMeta{
			ID:        id,
			RunID:     runID,
			Tool:      tool,
			CallID:    callID,
			Tokens:    tokens,
			CreatedAt: time.Now(),
			MimeType:  "application/json",
		},
		Data: content,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	dir := a.dir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	target := filepath.Join(dir, string(id)+".json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename artifact: %w", err)
	}

	a.mu.Lock()
	a.owner[id] = runID
	a.mu.Unlock()
	return id, nil
}

// locate returns the file holding id.
func (a *ArtifactStore) locate(id types.ArtifactID) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("invalid artifact id: %q", id)
	}
	a.mu.RLock()
	runID, ok := a.owner[id]
	a.mu.RUnlock()
	if ok {
		return filepath.Join(a.dir(runID), string(id)+".json"), nil
	}

	matches, err := filepath.Glob(filepath.Join(a.root, "runs", "*", "artifacts", string(id)+".json"))
	if err != nil {
		return "", fmt.Errorf("find artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("artifact not found: %s", id)
	}
	return matches[0], nil
}

func readArtifact(path string) (*artifactFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

func (a *ArtifactStore) load(id types.ArtifactID) (*artifactFile, error) {
	path, err := a.locate(id)
	if err != nil {
		return nil, err
	}
	return readArtifact(path)
}

// Get returns the stored content of an artifact.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (string, error) {
	f, err := a.load(id)
	if err != nil {
		return "", err
	}
	return f.Data, nil
}

func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	f, err := a.load(id)
	if err != nil {
		return nil, err
	}
	return f.Meta, nil
}

// List returns the metadata of every artifact of a run, oldest first.
func (a *ArtifactStore) List(_ context.Context, runID types.RunID) ([]*types.ArtifactMeta, error) {
	if !runID.Valid() {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(a.dir(runID), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	metas := make([]*types.ArtifactMeta, 0, len(paths))
	for _, p := range paths {
		f, err := readArtifact(p)
		if err != nil {
			return nil, err
		}
		metas = append(metas, f.Meta)
	}
	slices.SortStableFunc(metas, func(x, y *types.ArtifactMeta) int {
		return cmp.Compare(x.CreatedAt.UnixNano(), y.CreatedAt.UnixNano())
	})
	return metas, nil
}
