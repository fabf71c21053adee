package schedule

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

func TestWithinWindow(t *testing.T) {
	cases := []struct {
		name   string
		now    string
		window string
		want   bool
	}{
		{"inside plain window", "10:00", "08:00-17:00", true},
		{"before plain window", "07:59", "08:00-17:00", false},
		{"at window end is exclusive", "17:00", "08:00-17:00", false},
		{"at window start is inclusive", "08:00", "08:00-17:00", true},
		{"wraps midnight, inside late half", "23:30", "22:00-06:00", true},
		{"wraps midnight, inside early half", "02:00", "22:00-06:00", true},
		{"wraps midnight, outside", "12:00", "22:00-06:00", false},
		{"malformed window", "10:00", "garbage", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hm, err := time.Parse("15:04", tc.now)
			require.NoError(t, err, "parse fixture time")

			now := time.Date(2026, 1, 15, hm.Hour(), hm.Minute(), 0, 0, jakarta)
			assert.Equal(t, tc.want, withinWindow(now, tc.window))
		})
	}
}

func TestEvaluateLocked_AutoScheduleDerivesFromWindows(t *testing.T) {
	c := &Controller{log: testLogger(), st: defaultState()}
	noon := time.Date(2026, 1, 15, 12, 30, 0, 0, jakarta)

	c.evaluateLocked(noon)

	assert.True(t, c.st.TrackingActive, "expected tracking_active true during work hours")
	assert.True(t, c.st.SuppressAlerts, "expected suppress_alerts true during lunch break")
}

func TestEvaluateLocked_OutsideWorkHours(t *testing.T) {
	c := &Controller{log: testLogger(), st: defaultState()}
	night := time.Date(2026, 1, 15, 22, 0, 0, 0, jakarta)

	c.evaluateLocked(night)

	assert.False(t, c.st.TrackingActive, "expected tracking_active false outside work hours")
	assert.False(t, c.st.SuppressAlerts, "expected suppress_alerts false outside lunch break")
}

func TestEvaluateLocked_LunchPauseForcesTrackingOnAlertsOff(t *testing.T) {
	c := &Controller{log: testLogger(), st: defaultState()}
	until := time.Date(2026, 1, 15, 13, 0, 0, 0, jakarta)
	c.st.PauseKind = PauseLunch
	c.st.PauseUntil = &until

	now := time.Date(2026, 1, 15, 12, 15, 0, 0, jakarta)
	c.evaluateLocked(now)

	assert.True(t, c.st.TrackingActive, "lunch pause should keep tracking active")
	assert.True(t, c.st.SuppressAlerts, "lunch pause should suppress alerts")
}

func TestEvaluateLocked_OffHoursPauseStopsTracking(t *testing.T) {
	c := &Controller{log: testLogger(), st: defaultState()}
	until := time.Date(2026, 1, 15, 18, 0, 0, 0, jakarta)
	c.st.PauseKind = PauseOffHours
	c.st.PauseUntil = &until

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, jakarta)
	c.evaluateLocked(now)

	assert.False(t, c.st.TrackingActive, "offhours pause should stop tracking")
	assert.False(t, c.st.SuppressAlerts, "offhours pause should not itself suppress_alerts (tracking is already off)")
}

func TestEvaluateLocked_PauseExpiresAndFallsBackToAuto(t *testing.T) {
	c := &Controller{log: testLogger(), st: defaultState()}
	expired := time.Date(2026, 1, 15, 9, 0, 0, 0, jakarta)
	c.st.PauseKind = PauseOffHours
	c.st.PauseUntil = &expired

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, jakarta) // after PauseUntil
	c.evaluateLocked(now)

	assert.Equal(t, PauseNone, c.st.PauseKind, "expected pause cleared after expiry")
	assert.True(t, c.st.TrackingActive, "expected auto-schedule to resume tracking once pause expired")
}

func TestAlertsAllowed(t *testing.T) {
	c := &Controller{log: testLogger(), st: State{TrackingActive: true, SuppressAlerts: false}}
	assert.True(t, c.AlertsAllowed(), "expected alerts allowed")

	c.st.SuppressAlerts = true
	assert.False(t, c.AlertsAllowed(), "expected alerts suppressed during lunch")

	c.st.SuppressAlerts = false
	c.st.TrackingActive = false
	assert.False(t, c.AlertsAllowed(), "expected alerts disallowed when tracking inactive")
}

func TestNew_CorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking_mode.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600), "seed corrupt file")

	c := New(path, testLogger())
	st := c.Snapshot()
	assert.Equal(t, defaultState().WorkHours, st.WorkHours, "expected default work hours on corrupt file")
}

func TestNew_LoadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking_mode.json")
	c1 := New(path, testLogger())
	require.NoError(t, c1.SetWorkHours("09:00-18:00"))

	c2 := New(path, testLogger())
	assert.Equal(t, "09:00-18:00", c2.Snapshot().WorkHours, "expected reloaded work hours")
}

func TestPauseAndResume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking_mode.json")
	c := New(path, testLogger())

	until := time.Now().Add(time.Hour)
	require.NoError(t, c.Pause(PauseOffHours, until))
	require.Equal(t, PauseOffHours, c.Snapshot().PauseKind, "expected pause kind offhours after Pause")

	require.NoError(t, c.Resume())
	assert.Equal(t, PauseNone, c.Snapshot().PauseKind, "expected pause cleared after Resume")
}
