// Package presence implements C7, the Presence State Machine: per-employee
// available<->off transitions, debounced alert/new-employee emission, and
// the fan-out of attendance/alert intents to C8. Grounded on
// original_source/module_AI.py's _update_tracks_with_dets/_on_employee_seen/
// _update_timeouts/_should_emit_alert, translated from the Python's
// GIL-protected dict state into an explicit Go type holding a
// mutex-guarded map.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/notify"
	"github.com/attendanced/attendanced/internal/observability"
	"github.com/attendanced/attendanced/internal/schedule"
	"github.com/attendanced/attendanced/internal/writer"
)

// attendanceChecker is the one storage query maybeWelcome needs; narrowed to
// an interface (rather than *storage.PostgresStore directly) so the state
// machine's transition logic can be exercised against a fake in tests.
type attendanceChecker interface {
	HasAnyAttendance(ctx context.Context, employeeID int) (bool, error)
}

type entry struct {
	status       models.PresenceStatus
	lastSeen     time.Time
	lastCameraID int
}

// EvidenceHook lets C10 react synchronously to ENTER/EXIT transitions
// without presence importing the retention package (which would create an
// import cycle back through capture); see internal/retention for the
// concrete implementation.
type EvidenceHook interface {
	OnEnter(employeeID, cameraID int, ts time.Time)
	OnExit(employeeID, cameraID int, ts time.Time)
}

// Machine is C7. Status starts at "off" for every employee at process
// start, per spec.md §4.7: "the persisted status from storage is used as
// the initial snapshot but last_seen is always replayed from incoming
// signals" — this implementation simply starts empty and lets the first
// seen() populate an entry, which is equivalent since any employee with no
// entry is implicitly "off".
type Machine struct {
	mu      sync.Mutex
	entries map[int]*entry

	db       attendanceChecker
	sched    *schedule.Controller
	wr       *writer.Writer
	notifier *notify.Publisher
	log         *slog.Logger
	evidence    EvidenceHook
	broadcaster Broadcaster

	presenceTimeout time.Duration
	alertMinInterval time.Duration

	alertDebounce   *expirable.LRU[string, time.Time]
	welcomeDebounce *expirable.LRU[int, struct{}]
}

func New(db attendanceChecker, sched *schedule.Controller, wr *writer.Writer, notifier *notify.Publisher,
	log *slog.Logger, cfg config.PresenceConfig) *Machine {
	return &Machine{
		entries:          make(map[int]*entry),
		db:               db,
		sched:            sched,
		wr:               wr,
		notifier:         notifier,
		log:              log.With("component", "presence"),
		presenceTimeout:  cfg.PresenceTimeout,
		alertMinInterval: cfg.AlertMinInterval,
		alertDebounce:    expirable.NewLRU[string, time.Time](4096, nil, cfg.AlertMinInterval),
		welcomeDebounce:  expirable.NewLRU[int, struct{}](4096, nil, 24*time.Hour),
	}
}

// SetEvidenceHook wires C10's evidence writer; optional.
func (m *Machine) SetEvidenceHook(h EvidenceHook) {
	m.evidence = h
}

// Broadcaster lets the WebSocket hub (internal/api/ws) observe presence
// transitions without presence importing gin/gorilla; optional.
type Broadcaster interface {
	Broadcast(employeeID, cameraID int, status models.PresenceStatus, ts time.Time, alertType *models.AlertType)
}

// SetBroadcaster wires the UI's live-update channel; optional.
func (m *Machine) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// Run consumes seen signals from every camera's tracker and ticks the
// timeout sweep every presence_timeout/4 (bounded between 1s and 15s),
// until ctx is cancelled. Also owns the 24h welcome-debounce reset ticker
// (SPEC_FULL.md §9.1).
func (m *Machine) Run(ctx context.Context, seenCh <-chan SeenEvent) {
	tickInterval := m.presenceTimeout / 4
	if tickInterval < time.Second {
		tickInterval = time.Second
	}
	if tickInterval > 15*time.Second {
		tickInterval = 15 * time.Second
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	welcomeReset := time.NewTicker(24 * time.Hour)
	defer welcomeReset.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-seenCh:
			if !ok {
				return
			}
			m.Seen(ev.EmployeeID, ev.CameraID, ev.Timestamp, ev.Similarity)
		case now := <-ticker.C:
			m.Tick(now)
		case <-welcomeReset.C:
			m.welcomeDebounce.Purge()
		}
	}
}

// SeenEvent adapts vision.SeenSignal for presence's consumption boundary.
type SeenEvent struct {
	EmployeeID int
	CameraID   int
	Timestamp  time.Time
	Similarity float64
}

// Seen implements transitions 1 and 2 of spec.md §4.7.
func (m *Machine) Seen(employeeID, cameraID int, ts time.Time, similarity float64) {
	m.mu.Lock()
	e, existed := m.entries[employeeID]
	wasAvailable := existed && e.status == models.PresenceAvailable
	if !existed {
		e = &entry{}
		m.entries[employeeID] = e
	}
	e.status = models.PresenceAvailable
	e.lastSeen = ts
	e.lastCameraID = cameraID
	m.mu.Unlock()

	m.wr.Enqueue(writer.EmployeeSeen(employeeID, cameraID, ts, similarity))

	if !wasAvailable {
		observability.PresenceTransitions.WithLabelValues("enter").Inc()
		alertType := models.AlertEnter
		if m.broadcaster != nil {
			m.broadcaster.Broadcast(employeeID, cameraID, models.PresenceAvailable, ts, &alertType)
		}
		m.emitAlert(employeeID, cameraID, ts, models.AlertEnter, fmt.Sprintf("employee %d entered", employeeID))
		if m.evidence != nil {
			m.evidence.OnEnter(employeeID, cameraID, ts)
		}
		m.maybeWelcome(employeeID, cameraID, ts)
	}
}

// Tick implements transition 3: a periodic sweep for employees whose
// last-seen has aged past presence_timeout_sec.
func (m *Machine) Tick(now time.Time) {
	var timedOut []struct {
		employeeID, cameraID int
	}

	m.mu.Lock()
	for id, e := range m.entries {
		if e.status == models.PresenceAvailable && now.Sub(e.lastSeen) > m.presenceTimeout {
			e.status = models.PresenceOff
			timedOut = append(timedOut, struct{ employeeID, cameraID int }{id, e.lastCameraID})
		}
	}
	m.mu.Unlock()

	for _, t := range timedOut {
		observability.PresenceTransitions.WithLabelValues("exit").Inc()
		m.wr.Enqueue(writer.EmployeeTimeout(t.employeeID, now))
		alertType := models.AlertExit
		if m.broadcaster != nil {
			m.broadcaster.Broadcast(t.employeeID, t.cameraID, models.PresenceOff, now, &alertType)
		}
		m.emitAlert(t.employeeID, t.cameraID, now, models.AlertExit, fmt.Sprintf("employee %d exited", t.employeeID))
		if m.evidence != nil {
			m.evidence.OnExit(t.employeeID, t.cameraID, now)
		}
	}
}

// emitAlert applies schedule gating and the per-(employee,alert_type)
// debounce before enqueuing an AlertEmit intent.
func (m *Machine) emitAlert(employeeID, cameraID int, ts time.Time, alertType models.AlertType, message string) {
	if !m.sched.AlertsAllowed() {
		return
	}

	key := fmt.Sprintf("%d|%s", employeeID, alertType)
	if last, ok := m.alertDebounce.Get(key); ok && ts.Sub(last) < m.alertMinInterval {
		return
	}
	m.alertDebounce.Add(key, ts)

	workHours, lunchBreak, isManualPause, trackingActive := m.sched.ToAlertSnapshot()
	empID := employeeID
	camID := cameraID
	m.wr.Enqueue(writer.AlertEmit(&empID, &camID, ts, alertType, message, models.ScheduleSnapshot{
		WorkHours: workHours, LunchBreak: lunchBreak, IsManualPause: isManualPause, TrackingActive: trackingActive,
	}))
}

// maybeWelcome emits a NewEmployeeSeen notification at most once per 24h per
// employee, and only the first time this employee has ever had attendance
// recorded (spec.md §4.7's "no prior attendance for this employee has ever
// been written").
func (m *Machine) maybeWelcome(employeeID, cameraID int, ts time.Time) {
	if _, seen := m.welcomeDebounce.Get(employeeID); seen {
		return
	}
	hasAttendance, err := m.db.HasAnyAttendance(context.Background(), employeeID)
	if err != nil {
		m.log.Warn("welcome check failed", "employee_id", employeeID, "error", err)
		return
	}
	if hasAttendance {
		m.welcomeDebounce.Add(employeeID, struct{}{})
		return
	}
	m.welcomeDebounce.Add(employeeID, struct{}{})

	if m.notifier != nil {
		if err := m.notifier.PublishNewEmployeeSeen(notify.NewEmployeeSeen{
			EmployeeID: employeeID, CameraID: cameraID, Timestamp: ts,
		}); err != nil {
			m.log.Warn("new employee notify publish failed", "error", err)
		}
	}
}
