package presence

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/schedule"
	"github.com/attendanced/attendanced/internal/writer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAttendanceChecker lets tests control whether maybeWelcome treats an
// employee as never-before-attended, without a real Postgres store.
type fakeAttendanceChecker struct {
	hasAttendance map[int]bool
}

func (f *fakeAttendanceChecker) HasAnyAttendance(ctx context.Context, employeeID int) (bool, error) {
	return f.hasAttendance[employeeID], nil
}

// fakeBroadcaster records every transition pushed to the UI's WebSocket hub.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastCall
}

type broadcastCall struct {
	employeeID, cameraID int
	status               models.PresenceStatus
	alertType            *models.AlertType
}

func (b *fakeBroadcaster) Broadcast(employeeID, cameraID int, status models.PresenceStatus, ts time.Time, alertType *models.AlertType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastCall{employeeID, cameraID, status, alertType})
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// fakeEvidence records ENTER/EXIT calls without touching disk.
type fakeEvidence struct {
	mu     sync.Mutex
	enters int
	exits  int
}

func (f *fakeEvidence) OnEnter(employeeID, cameraID int, ts time.Time) {
	f.mu.Lock()
	f.enters++
	f.mu.Unlock()
}

func (f *fakeEvidence) OnExit(employeeID, cameraID int, ts time.Time) {
	f.mu.Lock()
	f.exits++
	f.mu.Unlock()
}

func newTestMachine(t *testing.T, hasAttendance map[int]bool) (*Machine, *fakeBroadcaster, *fakeEvidence) {
	t.Helper()
	dir := t.TempDir()
	sched := schedule.New(dir+"/tracking_mode.json", testLogger())
	wr := writer.New(nil, testLogger(), nil, 64, 32, dir)

	m := New(&fakeAttendanceChecker{hasAttendance: hasAttendance}, sched, wr, nil, testLogger(), config.PresenceConfig{
		PresenceTimeout:  2 * time.Second,
		AlertMinInterval: time.Minute,
	})

	bc := &fakeBroadcaster{}
	ev := &fakeEvidence{}
	m.SetBroadcaster(bc)
	m.SetEvidenceHook(ev)
	return m, bc, ev
}

func TestMachine_SeenFirstTimeTransitionsToAvailableAndBroadcastsEnter(t *testing.T) {
	m, bc, ev := newTestMachine(t, map[int]bool{})

	now := time.Now()
	m.Seen(1, 5, now, 0.95)

	require.Equal(t, models.PresenceAvailable, m.entries[1].status, "expected employee 1 available after Seen")
	require.Equal(t, 1, bc.count(), "expected exactly one broadcast for the first ENTER")
	assert.Equal(t, 1, ev.enters, "expected evidence hook OnEnter called once")
}

func TestMachine_SeenAgainWhileAlreadyAvailableDoesNotReenter(t *testing.T) {
	m, bc, ev := newTestMachine(t, map[int]bool{})

	now := time.Now()
	m.Seen(1, 5, now, 0.95)
	m.Seen(1, 5, now.Add(time.Second), 0.95)

	require.Equal(t, 1, bc.count(), "expected only the first Seen to broadcast an ENTER")
	assert.Equal(t, 1, ev.enters, "expected OnEnter called only once")
}

func TestMachine_TickTimesOutStaleEmployeeAndBroadcastsExit(t *testing.T) {
	m, bc, ev := newTestMachine(t, map[int]bool{1: true})

	start := time.Now()
	m.Seen(1, 5, start, 0.95)

	// not yet past presence_timeout (2s)
	m.Tick(start.Add(time.Second))
	require.Equal(t, models.PresenceAvailable, m.entries[1].status, "expected employee still available before timeout elapses")

	// now past presence_timeout
	m.Tick(start.Add(3 * time.Second))
	require.Equal(t, models.PresenceOff, m.entries[1].status, "expected employee off after presence_timeout elapses")
	require.Equal(t, 2, bc.count(), "expected 2 broadcasts (enter+exit)")
	assert.Equal(t, 1, ev.exits, "expected OnExit called once")
}

func TestMachine_ReentryAfterTimeoutBroadcastsEnterAgain(t *testing.T) {
	m, bc, _ := newTestMachine(t, map[int]bool{1: true})

	start := time.Now()
	m.Seen(1, 5, start, 0.9)
	m.Tick(start.Add(3 * time.Second)) // times out -> off

	m.Seen(1, 5, start.Add(4*time.Second), 0.9) // re-enters
	assert.Equal(t, 3, bc.count(), "expected enter, exit, enter (3 broadcasts)")
}

func TestMachine_AlertDebounceSuppressesRepeatWithinWindow(t *testing.T) {
	dir := t.TempDir()
	sched := schedule.New(dir+"/tracking_mode.json", testLogger())
	wr := writer.New(nil, testLogger(), nil, 64, 32, dir)
	m := New(&fakeAttendanceChecker{}, sched, wr, nil, testLogger(), config.PresenceConfig{
		PresenceTimeout:  time.Second,
		AlertMinInterval: time.Hour, // long debounce window
	})

	// force AlertsAllowed() to be true regardless of wall-clock time: an
	// all-day work window with a zero-length (never active) lunch window.
	require.NoError(t, sched.SetWorkHours("00:00-23:59"))
	require.NoError(t, sched.SetLunchBreak("00:00-00:00"))

	now := time.Now()
	m.emitAlert(1, 5, now, models.AlertEnter, "first")
	firstStamp, ok := m.alertDebounce.Get("1|ENTER")
	require.True(t, ok, "expected first emitAlert to record a debounce entry")

	m.emitAlert(1, 5, now.Add(time.Second), models.AlertEnter, "second")
	secondStamp, _ := m.alertDebounce.Get("1|ENTER")

	assert.True(t, secondStamp.Equal(firstStamp), "expected debounce to suppress the second alert within alert_min_interval (stamp should stay %v, got %v)", firstStamp, secondStamp)
}

func TestMachine_WelcomeDebouncePreventsDuplicateNotifyWithin24h(t *testing.T) {
	m, _, _ := newTestMachine(t, map[int]bool{})

	now := time.Now()
	m.Seen(1, 5, now, 0.9)
	_, seen := m.welcomeDebounce.Get(1)
	require.True(t, seen, "expected welcome debounce to record employee 1 after first Seen")

	// a second, independent entry (simulating a timeout then re-seen) must
	// not re-trigger the welcome path within the 24h debounce window.
	m.Tick(now.Add(3 * time.Second))
	m.Seen(1, 5, now.Add(4*time.Second), 0.9)
	_, seen = m.welcomeDebounce.Get(1)
	assert.True(t, seen, "expected welcome debounce entry to persist across re-entry")
}
