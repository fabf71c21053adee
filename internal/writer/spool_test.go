package writer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpool_WriteAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	s := newSpool(dir, testLogger())

	require.NoError(t, s.write(EmployeeSeen(1, 2, time.Now(), 0.5)))
	require.NoError(t, s.write(EmployeeTimeout(3, time.Now())))

	data, err := os.ReadFile(filepath.Join(dir, "writer_spool.jsonl"))
	require.NoError(t, err, "read spool file")

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines, "expected 2 spooled lines")
}

func TestSpool_ReplayDrainsIntoChannelAndRemovesFile(t *testing.T) {
	dir := t.TempDir()
	s := newSpool(dir, testLogger())

	require.NoError(t, s.write(EmployeeSeen(1, 2, time.Now(), 0.5)))
	require.NoError(t, s.write(EmployeeTimeout(3, time.Now())))

	ch := make(chan Intent, 8)
	s.replay(ch)

	require.Len(t, ch, 2, "expected 2 replayed intents")
	first := <-ch
	assert.Equal(t, KindEmployeeSeen, first.Kind, "expected first replayed intent to preserve enqueue order")

	_, err := os.Stat(s.path())
	assert.True(t, os.IsNotExist(err), "expected spool file removed after replay")
}

func TestSpool_ReplayNoopWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	s := newSpool(dir, testLogger())

	ch := make(chan Intent, 8)
	s.replay(ch) // no file written yet; must not panic or create one

	assert.Empty(t, ch, "expected no replayed intents from empty spool")
}

func TestSpool_ReplayDropsIntentsWhenChannelFull(t *testing.T) {
	dir := t.TempDir()
	s := newSpool(dir, testLogger())

	require.NoError(t, s.write(EmployeeSeen(1, 2, time.Now(), 0.5)))
	require.NoError(t, s.write(EmployeeTimeout(3, time.Now())))

	ch := make(chan Intent) // unbuffered, always full for a non-blocking send
	s.replay(ch)            // must not block or panic; both entries dropped

	_, err := os.Stat(s.path())
	assert.True(t, os.IsNotExist(err), "expected spool file removed even when replay drops intents")
}
