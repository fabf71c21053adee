// Package writer implements C8, the Async DB Writer: a single consumer
// goroutine draining a buffered channel of state-change intents, applying
// each inside its own pgx.Tx, rolling back and moving on when one fails.
// Grounded byte-for-byte on original_source/module_AI.py's
// _database_writer_loop (a single consumer thread over a Python
// queue.Queue, one intent applied per transaction).
package writer

import (
	"time"

	"github.com/attendanced/attendanced/internal/models"
)

type IntentKind string

const (
	KindEmployeeSeen    IntentKind = "employee_seen"
	KindEmployeeTimeout IntentKind = "employee_timeout"
	KindAlertEmit       IntentKind = "alert_emit"
)

// Intent is the enum-tagged record spec.md §4.8 describes; exactly one of
// the three payload fields is set, matching Kind.
type Intent struct {
	Kind IntentKind

	EmployeeSeen    *EmployeeSeenIntent
	EmployeeTimeout *EmployeeTimeoutIntent
	AlertEmit       *AlertEmitIntent
}

type EmployeeSeenIntent struct {
	EmployeeID int
	CameraID   int
	Timestamp  time.Time
	Similarity float64
}

type EmployeeTimeoutIntent struct {
	EmployeeID int
	Timestamp  time.Time
}

type AlertEmitIntent struct {
	EmployeeID *int
	CameraID   *int
	Timestamp  time.Time
	AlertType  models.AlertType
	Message    string
	NotifiedTo string
	Schedule   models.ScheduleSnapshot
}

func EmployeeSeen(employeeID, cameraID int, ts time.Time, similarity float64) Intent {
	return Intent{Kind: KindEmployeeSeen, EmployeeSeen: &EmployeeSeenIntent{
		EmployeeID: employeeID, CameraID: cameraID, Timestamp: ts, Similarity: similarity,
	}}
}

func EmployeeTimeout(employeeID int, ts time.Time) Intent {
	return Intent{Kind: KindEmployeeTimeout, EmployeeTimeout: &EmployeeTimeoutIntent{
		EmployeeID: employeeID, Timestamp: ts,
	}}
}

func AlertEmit(employeeID, cameraID *int, ts time.Time, alertType models.AlertType, message string, schedule models.ScheduleSnapshot) Intent {
	return Intent{Kind: KindAlertEmit, AlertEmit: &AlertEmitIntent{
		EmployeeID: employeeID, CameraID: cameraID, Timestamp: ts,
		AlertType: alertType, Message: message, Schedule: schedule,
	}}
}
