// Package notify publishes the two cross-cutting events the Design Notes
// call out as a "coroutine/callback" smell in the original system: the
// "new employee" hook from C7 to an external notifier, and alert emission.
// Replacing a stored function pointer, both are modeled as a typed record
// published over a plain NATS subject for an out-of-scope external
// subscriber (Telegram bot, notifier service) to consume — grounded on the
// reference stack's internal/queue/producer.go connection setup, narrowed
// from JetStream (work-queue semantics for frame tasks) to plain pub/sub
// (fire-and-forget notification fan-out) since notify has no consumer
// inside this module to acknowledge delivery.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/attendanced/attendanced/internal/models"
)

const (
	SubjectNewEmployeeSeen = "attendance.new_employee_seen"
	SubjectAlertEmit       = "attendance.alert_emit"
)

// NewEmployeeSeen mirrors spec.md §9's "typed channel of
// NewEmployeeSeen{employee_id, camera_id, ts} consumed by an external
// subscriber".
type NewEmployeeSeen struct {
	EmployeeID int       `json:"employee_id"`
	CameraID   int       `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertPublished mirrors an AlertLog row at the moment it is emitted, for
// subscribers that want to react to ENTER/EXIT alerts without polling
// get_state.
type AlertPublished struct {
	EmployeeID *int             `json:"employee_id,omitempty"`
	CameraID   *int             `json:"camera_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	AlertType  models.AlertType `json:"alert_type"`
	Message    string           `json:"message"`
}

type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

func (p *Publisher) PublishNewEmployeeSeen(ev NewEmployeeSeen) error {
	return p.publish(SubjectNewEmployeeSeen, ev)
}

func (p *Publisher) PublishAlert(ev AlertPublished) error {
	return p.publish(SubjectAlertEmit, ev)
}

func (p *Publisher) publish(subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) Close() {
	p.nc.Close()
}
