package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendanced/attendanced/internal/schedule"
)

func TestMarkTargetFor_DerivesFromWorkHoursEndMinusOffset(t *testing.T) {
	dir := t.TempDir()
	sched := schedule.New(filepath.Join(dir, "tracking_mode.json"), testLogger())
	require.NoError(t, sched.SetWorkHours("08:00-17:30"))

	d := NewDailyDaemon(nil, sched, testLogger(), dir, 30, true, 0)
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, jakartaLocation())

	target, ok := d.markTargetFor(local)
	require.True(t, ok, "expected markTargetFor to derive a target from a well-formed work_hours window")
	assert.Equal(t, 17, target.Hour())
	assert.Equal(t, 30, target.Minute())
}

func TestMarkTargetFor_SubtractsConfiguredOffset(t *testing.T) {
	dir := t.TempDir()
	sched := schedule.New(filepath.Join(dir, "tracking_mode.json"), testLogger())
	require.NoError(t, sched.SetWorkHours("08:00-17:30"))

	d := NewDailyDaemon(nil, sched, testLogger(), dir, 30, true, 15*time.Minute)
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, jakartaLocation())

	target, ok := d.markTargetFor(local)
	require.True(t, ok, "expected a target")
	assert.Equal(t, 17, target.Hour())
	assert.Equal(t, 15, target.Minute())
}

func TestMarkTargetFor_MalformedWorkHoursReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	sched := schedule.New(filepath.Join(dir, "tracking_mode.json"), testLogger())
	require.NoError(t, sched.SetWorkHours("garbage"))
	d := NewDailyDaemon(nil, sched, testLogger(), dir, 30, true, 0)

	local := time.Date(2026, 3, 1, 12, 0, 0, 0, jakartaLocation())
	_, ok := d.markTargetFor(local)
	assert.False(t, ok, "expected malformed work_hours to yield ok=false")
}

func TestMarkTargetFor_DefaultScheduleYieldsValidTarget(t *testing.T) {
	dir := t.TempDir()
	sched := schedule.New(filepath.Join(dir, "tracking_mode.json"), testLogger())
	d := NewDailyDaemon(nil, sched, testLogger(), dir, 30, true, 0)

	local := time.Date(2026, 3, 1, 12, 0, 0, 0, jakartaLocation())
	_, ok := d.markTargetFor(local)
	assert.True(t, ok, "expected default schedule state to produce a valid target")
}

func TestPurgeOldCaptureDirs_RemovesOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, jakartaLocation())

	keep := today.AddDate(0, 0, -1).Format("2006-01-02")   // within retention
	stale := today.AddDate(0, 0, -10).Format("2006-01-02") // past retention

	for _, name := range []string{keep, stale} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o750), "seed dir %s", name)
	}

	d := &DailyDaemon{log: testLogger(), attendanceCaptureDir: dir, retentionDays: 5}
	d.purgeOldCaptureDirs(today)

	_, err := os.Stat(filepath.Join(dir, keep))
	assert.NoError(t, err, "expected dir within retention window kept")

	_, err = os.Stat(filepath.Join(dir, stale))
	assert.True(t, os.IsNotExist(err), "expected dir past retention window removed")
}

func TestPurgeOldCaptureDirs_ZeroRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, jakartaLocation())
	stale := today.AddDate(0, 0, -100).Format("2006-01-02")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, stale), 0o750), "seed dir")

	d := &DailyDaemon{log: testLogger(), attendanceCaptureDir: dir, retentionDays: 0}
	d.purgeOldCaptureDirs(today)

	_, err := os.Stat(filepath.Join(dir, stale))
	assert.NoError(t, err, "expected retention_days=0 to disable purging entirely")
}
