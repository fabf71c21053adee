// Package schedule implements C9, the Schedule Controller: derives
// {tracking_active, suppress_alerts} from work-hour/lunch ranges and manual
// pauses, persisted atomically and re-evaluated on a ticker. Grounded on
// original_source/module_AI.py's _now_wib/_alerts_allowed/_load_config
// schedule-state handling, restructured per the Design Notes into an
// explicit object (no module-level singleton) with a time.Ticker driving
// re-evaluation — the ticker+periodic-reconcile shape is grounded on
// ts-vms-v1.0/internal/health/scheduler.go.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/attendanced/attendanced/internal/config"
)

// PauseKind distinguishes the two manual-pause flavors spec.md §4.9 names.
type PauseKind string

const (
	PauseNone     PauseKind = "none"
	PauseLunch    PauseKind = "lunch"
	PauseOffHours PauseKind = "offhours"
)

var jakarta = mustLoadLocation("Asia/Jakarta")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

// State is C9's persisted record, written atomically to
// config/tracking_mode.json on every mutation.
type State struct {
	AutoSchedule   bool       `json:"auto_schedule"`
	WorkHours      string     `json:"work_hours"`
	LunchBreak     string     `json:"lunch_break"`
	PauseUntil     *time.Time `json:"pause_until,omitempty"`
	PauseKind      PauseKind  `json:"pause_kind"`
	TrackingActive bool       `json:"tracking_active"`
	SuppressAlerts bool       `json:"suppress_alerts"`
}

func defaultState() State {
	return State{
		AutoSchedule: true,
		WorkHours:    "08:00-17:00",
		LunchBreak:   "12:00-13:00",
		PauseKind:    PauseNone,
	}
}

// Controller owns the schedule state and its persistence; no component
// outside this package ever mutates the file directly.
type Controller struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
	st   State
}

// New loads the persisted state from path, substituting defaults on any
// corruption (the file is rewritten on the next change) per spec.md §7's "Schedule file
// corruption: on load, defaults are substituted and the file is rewritten
// on next change."
func New(path string, log *slog.Logger) *Controller {
	c := &Controller{path: path, log: log.With("component", "schedule"), st: defaultState()}

	if data, err := readFileIfExists(path); err == nil && data != nil {
		if st, parseErr := parseState(data); parseErr == nil {
			c.st = st
		} else {
			log.Warn("tracking_mode.json corrupt, using defaults", "error", parseErr)
		}
	}

	c.evaluate(time.Now())
	return c
}

// Run re-evaluates the schedule every 15s until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			changed := c.evaluateLocked(time.Now())
			st := c.st
			c.mu.Unlock()
			if changed {
				c.persist(st)
			}
		}
	}
}

// Snapshot returns the current derived state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// AlertsAllowed implements alerts_allowed() = tracking_active ∧ ¬suppress_alerts.
func (c *Controller) AlertsAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.TrackingActive && !c.st.SuppressAlerts
}

// ToAlertSnapshot captures the schedule state to embed in an AlertLog row,
// per Invariant 5 ("each alert log row is tagged with the schedule state at
// the moment of emission").
func (c *Controller) ToAlertSnapshot() (workHours, lunchBreak string, isManualPause, trackingActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.WorkHours, c.st.LunchBreak, c.st.PauseKind != PauseNone, c.st.TrackingActive
}

// SetWorkHours/SetLunchBreak/SetAutoSchedule let an operator mutate the
// schedule; each persists immediately and re-evaluates.
func (c *Controller) SetWorkHours(v string) error { return c.mutate(func(s *State) { s.WorkHours = v }) }
func (c *Controller) SetLunchBreak(v string) error { return c.mutate(func(s *State) { s.LunchBreak = v }) }
func (c *Controller) SetAutoSchedule(v bool) error { return c.mutate(func(s *State) { s.AutoSchedule = v }) }

// Pause sets a manual pause until the given time, of the given kind.
func (c *Controller) Pause(kind PauseKind, until time.Time) error {
	return c.mutate(func(s *State) {
		s.PauseKind = kind
		s.PauseUntil = &until
	})
}

// Resume clears any manual pause.
func (c *Controller) Resume() error {
	return c.mutate(func(s *State) {
		s.PauseKind = PauseNone
		s.PauseUntil = nil
	})
}

func (c *Controller) mutate(fn func(*State)) error {
	c.mu.Lock()
	fn(&c.st)
	c.evaluateLocked(time.Now())
	st := c.st
	c.mu.Unlock()
	return c.writeAtomic(st)
}

func (c *Controller) evaluate(now time.Time) {
	c.mu.Lock()
	changed := c.evaluateLocked(now)
	st := c.st
	c.mu.Unlock()
	if changed {
		c.persist(st)
	}
}

// evaluateLocked applies the three derivation rules from spec.md §4.9 and
// reports whether TrackingActive or SuppressAlerts changed.
func (c *Controller) evaluateLocked(now time.Time) bool {
	before := c.st.TrackingActive
	beforeSuppress := c.st.SuppressAlerts

	nowLocal := now.In(jakarta)

	if c.st.PauseUntil != nil {
		if nowLocal.After(c.st.PauseUntil.In(jakarta)) {
			c.st.PauseKind = PauseNone
			c.st.PauseUntil = nil
		} else {
			switch c.st.PauseKind {
			case PauseLunch:
				c.st.TrackingActive = true
				c.st.SuppressAlerts = true
			case PauseOffHours:
				c.st.TrackingActive = false
				c.st.SuppressAlerts = false
			}
			return c.st.TrackingActive != before || c.st.SuppressAlerts != beforeSuppress
		}
	}

	if c.st.AutoSchedule {
		c.st.TrackingActive = withinWindow(nowLocal, c.st.WorkHours)
		c.st.SuppressAlerts = withinWindow(nowLocal, c.st.LunchBreak)
	}

	return c.st.TrackingActive != before || c.st.SuppressAlerts != beforeSuppress
}

func (c *Controller) persist(st State) {
	if err := c.writeAtomic(st); err != nil {
		c.log.Error("persist schedule state failed", "error", err)
	}
}

func (c *Controller) writeAtomic(st State) error {
	data, err := marshalState(st)
	if err != nil {
		return err
	}
	return config.WriteAtomic(c.path, data)
}

// withinWindow reports whether now's HH:MM falls within a "HH:MM-HH:MM"
// window; windows that wrap midnight (end < start) are treated as spanning
// to the next day.
func withinWindow(now time.Time, window string) bool {
	start, end, err := parseWindow(window)
	if err != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	if end >= start {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

func parseWindow(window string) (startMin, endMin int, err error) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid window %q", window)
	}
	startMin, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, err
	}
	endMin, err = parseHHMM(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return startMin, endMin, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
