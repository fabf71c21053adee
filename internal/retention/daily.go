package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/schedule"
	"github.com/attendanced/attendanced/internal/storage"
)

// DailyDaemon owns the midnight purge and the SYSTEM-ABSENT marker, both
// driven off a 1-minute ticker that checks Jakarta local time against its
// target, rather than a cron library, matching the teacher's ticker-driven
// background daemon shape (ts-vms-v1.0/internal/health/scheduler.go).
type DailyDaemon struct {
	db    *storage.PostgresStore
	sched *schedule.Controller
	log   *slog.Logger

	attendanceCaptureDir   string
	retentionDays          int
	markAbsentEnabled      bool
	markAbsentOffset       time.Duration

	lastPurgeDate string
	lastMarkDate  string
}

func NewDailyDaemon(db *storage.PostgresStore, sched *schedule.Controller, log *slog.Logger,
	attendanceCaptureDir string, retentionDays int, markAbsentEnabled bool, markAbsentOffset time.Duration) *DailyDaemon {
	return &DailyDaemon{
		db:                   db,
		sched:                sched,
		log:                  log.With("component", "retention_daily"),
		attendanceCaptureDir: attendanceCaptureDir,
		retentionDays:        retentionDays,
		markAbsentEnabled:    markAbsentEnabled,
		markAbsentOffset:     markAbsentOffset,
	}
}

func (d *DailyDaemon) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.maybePurge(ctx, now)
			if d.markAbsentEnabled {
				d.maybeMarkAbsent(ctx, now)
			}
		}
	}
}

func (d *DailyDaemon) maybePurge(ctx context.Context, now time.Time) {
	local := now.In(jakartaLocation())
	if local.Hour() != 0 || local.Minute() != 0 {
		return
	}
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	dateKey := today.Format("2006-01-02")
	if d.lastPurgeDate == dateKey {
		return
	}
	d.lastPurgeDate = dateKey

	if n, err := d.db.PurgeOldEvents(ctx, today); err != nil {
		d.log.Error("purge events failed", "error", err)
	} else if n > 0 {
		d.log.Info("purged old events", "count", n)
	}
	if n, err := d.db.PurgeOldAlerts(ctx, today); err != nil {
		d.log.Error("purge alerts failed", "error", err)
	} else if n > 0 {
		d.log.Info("purged old alerts", "count", n)
	}

	d.purgeOldCaptureDirs(today)
}

// purgeOldCaptureDirs removes attendance_captures/<date>/ directories older
// than retention_days, per spec.md §4.10.
func (d *DailyDaemon) purgeOldCaptureDirs(today time.Time) {
	if d.retentionDays <= 0 {
		return
	}
	entries, err := os.ReadDir(d.attendanceCaptureDir)
	if err != nil {
		return
	}
	cutoff := today.AddDate(0, 0, -d.retentionDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", e.Name(), jakartaLocation())
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			path := filepath.Join(d.attendanceCaptureDir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				d.log.Error("purge capture dir failed", "path", path, "error", err)
			}
		}
	}
}

// maybeMarkAbsent fires once per day at workHoursEnd - markAbsentOffset,
// marking every active employee without today's Attendance row ABSENT with
// entry_type SYSTEM. MANUAL rows are never touched (they already have a row
// and so are skipped by the "no row" check).
func (d *DailyDaemon) maybeMarkAbsent(ctx context.Context, now time.Time) {
	local := now.In(jakartaLocation())
	target, ok := d.markTargetFor(local)
	if !ok {
		return
	}
	if local.Hour() != target.Hour() || local.Minute() != target.Minute() {
		return
	}

	today := local.Truncate(24 * time.Hour)
	dateKey := today.Format("2006-01-02")
	if d.lastMarkDate == dateKey {
		return
	}
	d.lastMarkDate = dateKey

	employees, err := d.db.ListActiveEmployees(ctx)
	if err != nil {
		d.log.Error("list active employees for absent marking failed", "error", err)
		return
	}

	for _, emp := range employees {
		if err := d.markOneAbsent(ctx, emp.ID, today); err != nil {
			d.log.Error("mark absent failed", "employee_id", emp.ID, "error", err)
		}
	}
}

func (d *DailyDaemon) markOneAbsent(ctx context.Context, employeeID int, today time.Time) error {
	tx, err := d.db.BeginTx(ctx)
	if err != nil {
		return err
	}

	existing, err := d.db.GetAttendance(ctx, tx, employeeID, today)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if existing != nil {
		_ = tx.Rollback(ctx)
		return nil
	}

	if err := d.db.InsertAttendance(ctx, tx, models.Attendance{
		EmployeeID: employeeID, Date: today,
		Status: models.AttendanceAbsent, EntryType: models.EntrySystem,
	}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// markTargetFor derives today's SYSTEM-ABSENT marking time from the
// schedule's configured work-hours end minus the configured offset.
func (d *DailyDaemon) markTargetFor(local time.Time) (time.Time, bool) {
	st := d.sched.Snapshot()
	parts := strings.SplitN(st.WorkHours, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	hm := strings.SplitN(strings.TrimSpace(parts[1]), ":", 2)
	if len(hm) != 2 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(hm[0])
	m, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, false
	}
	end := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, local.Location())
	target := end.Add(-d.markAbsentOffset)
	return target, true
}

func jakartaLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}
