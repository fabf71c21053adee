package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/models"
)

// PostgresStore wraps a pgxpool.Pool, adapted from the reference vision
// pipeline's face/person/stream store (internal/storage/postgres.go in the
// reference stack) to the employee/camera/attendance domain. It is also the
// Tx-capable home for internal/writer's per-intent transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// --- Employees ---

func (s *PostgresStore) GetEmployee(ctx context.Context, id int) (*models.Employee, error) {
	e := &models.Employee{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, employee_code, name, department, position, phone_number, is_active, supervisor_id
		 FROM employees WHERE id = $1`, id,
	).Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.Department, &e.Position, &e.PhoneNumber, &e.IsActive, &e.SupervisorID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListActiveEmployees(ctx context.Context) ([]models.Employee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, employee_code, name, department, position, phone_number, is_active, supervisor_id
		 FROM employees WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}
	defer rows.Close()

	var out []models.Employee
	for rows.Next() {
		var e models.Employee
		if err := rows.Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.Department, &e.Position, &e.PhoneNumber, &e.IsActive, &e.SupervisorID); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// HasAnyAttendance reports whether the employee has ever had an attendance
// row written, used by the presence machine's one-per-24h new-employee gate.
func (s *PostgresStore) HasAnyAttendance(ctx context.Context, employeeID int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM attendances WHERE employee_id = $1)`, employeeID,
	).Scan(&exists)
	return exists, err
}

// --- Cameras ---

func (s *PostgresStore) UpsertCamera(ctx context.Context, c models.Camera) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cameras (id, name, area, source_url, stream_enabled, ai_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET name = $2, area = $3, source_url = $4, stream_enabled = $5, ai_enabled = $6`,
		c.ID, c.Name, c.Area, c.SourceURL, c.StreamEnabled, c.AIEnabled)
	return err
}

func (s *PostgresStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, area, source_url, stream_enabled, ai_enabled FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var out []models.Camera
	for rows.Next() {
		var c models.Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.Area, &c.SourceURL, &c.StreamEnabled, &c.AIEnabled); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) GetCamera(ctx context.Context, id int) (*models.Camera, error) {
	c := &models.Camera{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, area, source_url, stream_enabled, ai_enabled FROM cameras WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Area, &c.SourceURL, &c.StreamEnabled, &c.AIEnabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return c, nil
}

// --- Face templates (the embedding store's cold path) ---

type EmployeeEmbedding struct {
	EmployeeID int
	Name       string
	Department string
	Embedding  []float32
}

// LoadAllEmbeddings returns every reference embedding joined with its owning
// employee, used to (re)build the in-process Embedding Store snapshot.
func (s *PostgresStore) LoadAllEmbeddings(ctx context.Context) ([]EmployeeEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ft.employee_id, e.name, e.department, ft.embedding
		 FROM face_templates ft JOIN employees e ON e.id = ft.employee_id`)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var out []EmployeeEmbedding
	for rows.Next() {
		var ee EmployeeEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&ee.EmployeeID, &ee.Name, &ee.Department, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		ee.Embedding = vec.Slice()
		out = append(out, ee)
	}
	return out, nil
}

// SearchFaces is the cold/administrative nearest-match path, grounded
// directly on the reference pipeline's pgvector `<=>` cosine-distance query;
// the hot per-frame path lives in internal/vision.Store instead.
func (s *PostgresStore) SearchFaces(ctx context.Context, embedding []float32, threshold float64, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx, `
		SELECT ft.employee_id, e.name, 1 - (ft.embedding <=> $1) AS score
		FROM face_templates ft
		JOIN employees e ON e.id = ft.employee_id
		WHERE 1 - (ft.embedding <=> $1) >= $2
		ORDER BY ft.embedding <=> $1
		LIMIT $3`, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var m SearchMatch
		if err := rows.Scan(&m.EmployeeID, &m.Name, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type SearchMatch struct {
	EmployeeID int     `json:"employee_id"`
	Name       string  `json:"name"`
	Score      float32 `json:"score"`
}

// --- Events ---

func (s *PostgresStore) InsertEvent(ctx context.Context, tx pgx.Tx, ev models.Event) error {
	q := s.execer(tx)
	_, err := q.Exec(ctx,
		`INSERT INTO events (employee_id, camera_id, timestamp, similarity, track_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.EmployeeID, ev.CameraID, ev.Timestamp, ev.Similarity, ev.TrackID)
	return err
}

// PurgeOldEvents deletes every Event row whose date is not today, per
// Invariant/P8 and Open Question (a) (kept strictly unconditional).
func (s *PostgresStore) PurgeOldEvents(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE timestamp::date <> $1::date`, today)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PurgeOldAlerts(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_log WHERE timestamp::date <> $1::date`, today)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Presence ---

func (s *PostgresStore) UpsertPresence(ctx context.Context, tx pgx.Tx, p models.Presence) error {
	q := s.execer(tx)
	_, err := q.Exec(ctx, `
		INSERT INTO presence (employee_id, status, last_seen_ts, last_camera_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id) DO UPDATE SET status = $2, last_seen_ts = $3, last_camera_id = $4`,
		p.EmployeeID, p.Status, p.LastSeenTS, p.LastCameraID)
	return err
}

func (s *PostgresStore) GetPresence(ctx context.Context, employeeID int) (*models.Presence, error) {
	p := &models.Presence{}
	err := s.pool.QueryRow(ctx,
		`SELECT employee_id, status, last_seen_ts, last_camera_id FROM presence WHERE employee_id = $1`,
		employeeID,
	).Scan(&p.EmployeeID, &p.Status, &p.LastSeenTS, &p.LastCameraID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get presence: %w", err)
	}
	return p, nil
}

// ListPresenceWithEmployee mirrors the reference get_state's joinedload query:
// presence rows joined with their active employee and camera name, in one
// round trip.
type PresenceView struct {
	EmployeeID   int
	Name         string
	Department   string
	Status       models.PresenceStatus
	LastSeenTS   *time.Time
	LastCameraID *int
	CameraName   *string
}

func (s *PostgresStore) ListPresenceWithEmployee(ctx context.Context) ([]PresenceView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.employee_id, e.name, e.department, p.status, p.last_seen_ts, p.last_camera_id, c.name
		FROM presence p
		JOIN employees e ON e.id = p.employee_id
		LEFT JOIN cameras c ON c.id = p.last_camera_id
		WHERE e.is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	var out []PresenceView
	for rows.Next() {
		var v PresenceView
		if err := rows.Scan(&v.EmployeeID, &v.Name, &v.Department, &v.Status, &v.LastSeenTS, &v.LastCameraID, &v.CameraName); err != nil {
			return nil, fmt.Errorf("scan presence view: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// --- Attendance ---

func (s *PostgresStore) GetAttendance(ctx context.Context, tx pgx.Tx, employeeID int, date time.Time) (*models.Attendance, error) {
	q := s.queryRower(tx)
	a := &models.Attendance{}
	err := q.QueryRow(ctx,
		`SELECT id, employee_id, date, first_in_ts, last_out_ts, status, entry_type
		 FROM attendances WHERE employee_id = $1 AND date = $2`, employeeID, date,
	).Scan(&a.ID, &a.EmployeeID, &a.Date, &a.FirstInTS, &a.LastOutTS, &a.Status, &a.EntryType)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, tx pgx.Tx, a models.Attendance) error {
	q := s.execer(tx)
	_, err := q.Exec(ctx, `
		INSERT INTO attendances (employee_id, date, first_in_ts, last_out_ts, status, entry_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.EmployeeID, a.Date, a.FirstInTS, a.LastOutTS, a.Status, a.EntryType)
	return err
}

func (s *PostgresStore) UpdateAttendance(ctx context.Context, tx pgx.Tx, a models.Attendance) error {
	q := s.execer(tx)
	_, err := q.Exec(ctx, `
		UPDATE attendances SET first_in_ts = $1, last_out_ts = $2, status = $3, entry_type = $4
		WHERE id = $5`,
		a.FirstInTS, a.LastOutTS, a.Status, a.EntryType, a.ID)
	return err
}

// --- Alert log ---

func (s *PostgresStore) InsertAlert(ctx context.Context, tx pgx.Tx, a models.AlertLog) error {
	q := s.execer(tx)
	_, err := q.Exec(ctx, `
		INSERT INTO alert_log (employee_id, camera_id, timestamp, alert_type, message, notified_to, notified_external,
		                        snap_work_hours, snap_lunch_break, snap_is_manual_pause, snap_tracking_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.EmployeeID, a.CameraID, a.Timestamp, a.AlertType, a.Message, a.NotifiedTo, a.NotifiedExternal,
		a.Schedule.WorkHours, a.Schedule.LunchBreak, a.Schedule.IsManualPause, a.Schedule.TrackingActive)
	return err
}

// --- Transaction helper ---

// BeginTx starts a new transaction for the async writer to apply one intent
// atomically, rolling back on any failure without blocking the producer.
func (s *PostgresStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, the same DBTX-style
// seam the reference stack's raw-SQL repositories use so a single method
// body can run either inside the writer's per-intent transaction or
// directly against the pool for administrative reads.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *PostgresStore) execer(tx pgx.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) queryRower(tx pgx.Tx) dbtx {
	return s.execer(tx)
}
