package retention

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRotate_KeepsOnlyNewestNFiles(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"snapshot_1_1.jpg",
		"snapshot_2_1.jpg",
		"snapshot_3_1.jpg",
		"snapshot_4_1.jpg",
		"snapshot_5_1.jpg",
		"snapshot_6_1.jpg",
		"snapshot_7_1.jpg",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o640), "seed file %s", n)
	}

	w := NewSnapshotWriter(nil, t.TempDir(), nil, testLogger())
	w.rotate(nil, dir, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "read dir")
	require.Len(t, entries, w.keep, "expected files remaining after rotate")

	// lexicographic sort of these names matches numeric order; the newest 5
	// (3..7) must survive, the oldest 2 (1,2) must be gone.
	remaining := map[string]bool{}
	for _, e := range entries {
		remaining[e.Name()] = true
	}
	for _, stale := range []string{"snapshot_1_1.jpg", "snapshot_2_1.jpg"} {
		assert.False(t, remaining[stale], "expected stale file %s removed by rotate", stale)
	}
	for _, fresh := range []string{"snapshot_3_1.jpg", "snapshot_7_1.jpg"} {
		assert.True(t, remaining[fresh], "expected fresh file %s kept by rotate", fresh)
	}
}

func TestRotate_NoopWhenUnderKeepLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot_1_1.jpg"), []byte("x"), 0o640), "seed file")

	w := NewSnapshotWriter(nil, t.TempDir(), nil, testLogger())
	w.rotate(nil, dir, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "read dir")
	assert.Len(t, entries, 1, "expected single file untouched")
}
