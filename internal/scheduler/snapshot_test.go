package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewSnapshotStore(path)
	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Write(Snapshot{
		Name: "arbflow",
		Tasks: []TaskRecord{
			{ID: "acceptor", Kind: KindInterval, NextRunAt: next, Enabled: true, State: TaskIdle},
			{ID: "seed", Kind: KindOneTime, LastRunAt: next, Enabled: true, State: TaskSucceeded},
		},
		Context: map[string]any{"counter": 7, "manual_mode": true, "label": "x"},
	}))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	snap, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshotVersion, snap.Version)
	require.Len(t, snap.Tasks, 2)
	assert.True(t, snap.Tasks[0].NextRunAt.Equal(next))
	assert.Equal(t, TaskSucceeded, snap.Tasks[1].State)

	sh := NewShared(snap.Context)
	assert.Equal(t, int64(7), sh.Int("counter"))
	assert.True(t, sh.Bool("manual_mode"))
	assert.Equal(t, "x", sh.String("label"))
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	_, ok, err := NewSnapshotStore(filepath.Join(t.TempDir(), "none.json")).Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"version":`), 0o644))
	_, _, err := NewSnapshotStore(corrupt).Load()
	assert.ErrorIs(t, err, ErrCorruptedSnapshot)

	old := filepath.Join(dir, "old.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"version":0,"tasks":[]}`), 0o644))
	_, _, err = NewSnapshotStore(old).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
