package scheduler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const snapshotVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("scheduler snapshot is corrupted")
	ErrIncompatibleVersion = errors.New("scheduler snapshot version is incompatible")
)

// TaskRecord is the persisted scheduling metadata of one task. Handlers are
// never persisted.
type TaskRecord struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	NextRunAt time.Time `json:"next_run_at"`
	LastRunAt time.Time `json:"last_run_at"`
	Enabled   bool      `json:"enabled"`
	State     TaskState `json:"state"`
}

type Snapshot struct {
	Version int            `json:"version"`
	Name    string         `json:"name"`
	SavedAt time.Time      `json:"saved_at"`
	Tasks   []TaskRecord   `json:"tasks"`
	Context map[string]any `json:"context"`
}

// SnapshotStore reads and atomically replaces the snapshot file.
type SnapshotStore struct {
	path string
	mu   sync.Mutex
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Path() string { return s.path }

// Write serializes snap to a temp file next to the target and renames it over
// the target, so readers never observe a partial file.
func (s *SnapshotStore) Write(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = snapshotVersion
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. ok is false when no file exists yet.
// Numbers inside the context are decoded as json.Number.
func (s *SnapshotStore) Load() (snap Snapshot, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return Snapshot{}, false, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, snap.Version, snapshotVersion)
	}
	if snap.Context == nil {
		snap.Context = map[string]any{}
	}
	return snap, true, nil
}
