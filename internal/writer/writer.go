package writer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/notify"
	"github.com/attendanced/attendanced/internal/observability"
	"github.com/attendanced/attendanced/internal/storage"
)

// Writer is C8. Exactly one goroutine runs Run; everything else only ever
// sends on Enqueue, so upserts to the same employee are always applied in
// enqueue order (spec.md §5's "intents from any camera are serialized by
// enqueue order ... applied in that order").
type Writer struct {
	db        *storage.PostgresStore
	log       *slog.Logger
	notifier  *notify.Publisher
	ch        chan Intent
	spool     *spool
	softWatermark int
}

// New constructs the writer. chanCapacity bounds the in-memory channel;
// spec.md calls the queue "unbounded in principle" but §7 recommends a soft
// high-water mark — crossing it starts spilling to disk (see spool.go)
// rather than growing the channel without limit.
func New(db *storage.PostgresStore, log *slog.Logger, notifier *notify.Publisher, chanCapacity, softWatermark int, spoolDir string) *Writer {
	return &Writer{
		db:            db,
		log:           log.With("component", "writer"),
		notifier:      notifier,
		ch:            make(chan Intent, chanCapacity),
		spool:         newSpool(spoolDir, log),
		softWatermark: softWatermark,
	}
}

// Enqueue never blocks the producer for long: under watermark pressure it
// spills to the disk spool instead of waiting on a full channel.
func (w *Writer) Enqueue(i Intent) {
	observability.WriterQueueDepth.Set(float64(len(w.ch)))
	if len(w.ch) >= w.softWatermark {
		w.log.Warn("writer queue over soft high-water mark, spilling to disk spool", "depth", len(w.ch))
		if err := w.spool.write(i); err != nil {
			w.log.Error("spool write failed, intent dropped", "error", err)
		}
		observability.WriterSpoolDepth.Inc()
		return
	}
	select {
	case w.ch <- i:
	default:
		if err := w.spool.write(i); err != nil {
			w.log.Error("spool write failed, intent dropped", "error", err)
		}
		observability.WriterSpoolDepth.Inc()
	}
}

// Run is the sole consumer loop. It exits when ctx is cancelled; remaining
// queued intents are dropped, per spec.md §5's "queue drain on shutdown is
// best-effort".
func (w *Writer) Run(ctx context.Context) {
	w.spool.startReplayer(ctx, w.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-w.ch:
			observability.WriterQueueDepth.Set(float64(len(w.ch)))
			w.apply(ctx, intent)
		}
	}
}

func (w *Writer) apply(ctx context.Context, intent Intent) {
	tx, err := w.db.BeginTx(ctx)
	if err != nil {
		w.log.Error("begin tx failed, dropping intent", "error", err)
		return
	}

	var applyErr error
	switch intent.Kind {
	case KindEmployeeSeen:
		applyErr = w.applyEmployeeSeen(ctx, tx, intent.EmployeeSeen)
	case KindEmployeeTimeout:
		applyErr = w.applyEmployeeTimeout(ctx, tx, intent.EmployeeTimeout)
	case KindAlertEmit:
		applyErr = w.applyAlertEmit(ctx, tx, intent.AlertEmit)
	}

	if applyErr != nil {
		_ = tx.Rollback(ctx)
		w.log.Error("writer intent failed, rolled back", "kind", intent.Kind, "error", applyErr)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		w.log.Error("writer commit failed", "kind", intent.Kind, "error", err)
	}
}

func (w *Writer) applyEmployeeSeen(ctx context.Context, tx pgx.Tx, in *EmployeeSeenIntent) error {
	emp, err := w.db.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return err
	}
	if emp == nil {
		return nil
	}

	today := in.Timestamp.Truncate(24 * time.Hour)

	if !emp.IsActive {
		existing, err := w.db.GetAttendance(ctx, tx, in.EmployeeID, today)
		if err != nil {
			return err
		}
		if existing == nil {
			return w.db.InsertAttendance(ctx, tx, models.Attendance{
				EmployeeID: in.EmployeeID, Date: today,
				Status: models.AttendanceAbsent, EntryType: models.EntryAuto,
			})
		}
		return nil
	}

	if err := w.db.InsertEvent(ctx, tx, models.Event{
		EmployeeID: &in.EmployeeID, CameraID: in.CameraID, Timestamp: in.Timestamp, Similarity: in.Similarity,
	}); err != nil {
		return err
	}
	observability.FacesRecognized.WithLabelValues(camIDLabel(in.CameraID)).Inc()

	if err := w.db.UpsertPresence(ctx, tx, models.Presence{
		EmployeeID: in.EmployeeID, Status: models.PresenceAvailable,
		LastSeenTS: &in.Timestamp, LastCameraID: &in.CameraID,
	}); err != nil {
		return err
	}

	existing, err := w.db.GetAttendance(ctx, tx, in.EmployeeID, today)
	if err != nil {
		return err
	}
	if existing == nil {
		ts := in.Timestamp
		observability.AttendanceMarked.WithLabelValues(string(models.EntryAuto)).Inc()
		return w.db.InsertAttendance(ctx, tx, models.Attendance{
			EmployeeID: in.EmployeeID, Date: today,
			FirstInTS: &ts, Status: models.AttendancePresent, EntryType: models.EntryAuto,
		})
	}

	if existing.EntryType == models.EntryManual {
		return nil
	}

	if existing.FirstInTS == nil {
		ts := in.Timestamp
		existing.FirstInTS = &ts
	}
	existing.Status = models.AttendancePresent
	existing.EntryType = models.EntryAuto
	return w.db.UpdateAttendance(ctx, tx, *existing)
}

func (w *Writer) applyEmployeeTimeout(ctx context.Context, tx pgx.Tx, in *EmployeeTimeoutIntent) error {
	presence, err := w.db.GetPresence(ctx, in.EmployeeID)
	if err != nil {
		return err
	}
	if presence != nil && presence.Status != models.PresenceOff {
		if err := w.db.UpsertPresence(ctx, tx, models.Presence{
			EmployeeID: in.EmployeeID, Status: models.PresenceOff,
			LastSeenTS: presence.LastSeenTS, LastCameraID: presence.LastCameraID,
		}); err != nil {
			return err
		}
	}

	today := in.Timestamp.Truncate(24 * time.Hour)
	existing, err := w.db.GetAttendance(ctx, tx, in.EmployeeID, today)
	if err != nil {
		return err
	}
	if existing == nil {
		ts := in.Timestamp
		return w.db.InsertAttendance(ctx, tx, models.Attendance{
			EmployeeID: in.EmployeeID, Date: today,
			LastOutTS: &ts, Status: models.AttendancePresent, EntryType: models.EntryAuto,
		})
	}
	if existing.EntryType == models.EntryManual {
		return nil
	}
	ts := in.Timestamp
	existing.LastOutTS = &ts
	return w.db.UpdateAttendance(ctx, tx, *existing)
}

func (w *Writer) applyAlertEmit(ctx context.Context, tx pgx.Tx, in *AlertEmitIntent) error {
	if err := w.db.InsertAlert(ctx, tx, models.AlertLog{
		EmployeeID: in.EmployeeID, CameraID: in.CameraID, Timestamp: in.Timestamp,
		AlertType: in.AlertType, Message: in.Message, NotifiedTo: in.NotifiedTo,
		NotifiedExternal: w.notifier != nil, Schedule: in.Schedule,
	}); err != nil {
		return err
	}
	observability.AlertsEmitted.WithLabelValues(string(in.AlertType)).Inc()

	if w.notifier != nil {
		if err := w.notifier.PublishAlert(notify.AlertPublished{
			EmployeeID: in.EmployeeID, CameraID: in.CameraID, Timestamp: in.Timestamp,
			AlertType: in.AlertType, Message: in.Message,
		}); err != nil {
			w.log.Warn("alert notify publish failed", "error", err)
		}
	}
	return nil
}

func camIDLabel(id int) string {
	return strconv.Itoa(id)
}
