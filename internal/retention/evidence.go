package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/storage"
)

// meta.json is merged (not overwritten) across the first_in and last_out
// writes, since they happen at different times and may hit different
// cameras.
type evidenceMeta struct {
	EmployeeID         int        `json:"employee_id"`
	Date               string     `json:"date"`
	FirstInTS          *time.Time `json:"first_in_ts,omitempty"`
	FirstInCam         *int       `json:"first_in_camera_id,omitempty"`
	FirstInCameraName  string     `json:"first_in_camera_name,omitempty"`
	FirstInCameraArea  string     `json:"first_in_camera_area,omitempty"`
	LastOutTS          *time.Time `json:"last_out_ts,omitempty"`
	LastOutCam         *int       `json:"last_out_camera_id,omitempty"`
	LastOutCameraName  string     `json:"last_out_camera_name,omitempty"`
	LastOutCameraArea  string     `json:"last_out_camera_area,omitempty"`
}

// EvidenceWriter implements presence.EvidenceHook: it persists a write-once
// first_in.jpg on ENTER and a delayed last_out.jpg on EXIT, per spec.md
// §4.10, mirroring both to MinIO.
type EvidenceWriter struct {
	loopsByCamera map[int]*capture.CameraLoop
	dir           string
	minio         *storage.MinIOStore
	log           *slog.Logger

	overwriteFirstIn bool
	lastOutDelay     time.Duration

	mu sync.Mutex
}

func NewEvidenceWriter(loops []*capture.CameraLoop, dir string, overwriteFirstIn bool, lastOutDelay time.Duration,
	minio *storage.MinIOStore, log *slog.Logger) *EvidenceWriter {
	byCam := make(map[int]*capture.CameraLoop, len(loops))
	for _, l := range loops {
		byCam[l.Camera().ID] = l
	}
	return &EvidenceWriter{
		loopsByCamera:    byCam,
		dir:              dir,
		minio:            minio,
		log:              log.With("component", "retention_evidence"),
		overwriteFirstIn: overwriteFirstIn,
		lastOutDelay:     lastOutDelay,
	}
}

// OnEnter implements presence.EvidenceHook. It writes first_in.jpg
// synchronously: write-once unless attendance_first_in_overwrite_enabled is
// set, per spec.md §4.10.
func (w *EvidenceWriter) OnEnter(employeeID, cameraID int, ts time.Time) {
	dir := w.employeeDir(employeeID, ts)
	path := filepath.Join(dir, "first_in.jpg")

	if !w.overwriteFirstIn {
		if _, err := os.Stat(path); err == nil {
			return
		}
	}

	data, ok := w.captureJPEG(cameraID)
	if !ok {
		return
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		w.log.Error("evidence mkdir failed", "employee_id", employeeID, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		w.log.Error("first_in write failed", "employee_id", employeeID, "error", err)
		return
	}
	w.mirror(context.Background(), employeeID, ts, "first_in.jpg", data)
	camName, camArea := w.cameraInfo(cameraID)
	w.mergeMeta(dir, employeeID, ts, func(m *evidenceMeta) {
		tsCopy := ts
		camCopy := cameraID
		m.FirstInTS = &tsCopy
		m.FirstInCam = &camCopy
		m.FirstInCameraName = camName
		m.FirstInCameraArea = camArea
	})
}

// OnExit implements presence.EvidenceHook. The last_out capture is delayed
// by attendance_last_out_delay_sec so the camera isn't photographed mid-exit.
func (w *EvidenceWriter) OnExit(employeeID, cameraID int, ts time.Time) {
	delay := w.lastOutDelay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		dir := w.employeeDir(employeeID, ts)
		data, ok := w.captureJPEG(cameraID)
		if !ok {
			return
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			w.log.Error("evidence mkdir failed", "employee_id", employeeID, "error", err)
			return
		}
		path := filepath.Join(dir, "last_out.jpg")
		if err := os.WriteFile(path, data, 0o640); err != nil {
			w.log.Error("last_out write failed", "employee_id", employeeID, "error", err)
			return
		}
		w.mirror(context.Background(), employeeID, ts, "last_out.jpg", data)
		camName, camArea := w.cameraInfo(cameraID)
		w.mergeMeta(dir, employeeID, ts, func(m *evidenceMeta) {
			tsCopy := ts
			camCopy := cameraID
			m.LastOutTS = &tsCopy
			m.LastOutCam = &camCopy
			m.LastOutCameraName = camName
			m.LastOutCameraArea = camArea
		})
	}()
}

func (w *EvidenceWriter) captureJPEG(cameraID int) ([]byte, bool) {
	loop, ok := w.loopsByCamera[cameraID]
	if !ok {
		return nil, false
	}
	img, _ := loop.LatestFrame()
	if img == nil {
		return nil, false
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// cameraInfo resolves a camera's name/area for meta.json, per spec.md §4.10's
// {ts, camera_id, camera_name, camera_area} capture record. An unknown
// camera id (should not happen in practice) yields empty strings rather
// than failing the capture.
func (w *EvidenceWriter) cameraInfo(cameraID int) (name, area string) {
	loop, ok := w.loopsByCamera[cameraID]
	if !ok {
		return "", ""
	}
	cam := loop.Camera()
	return cam.Name, cam.Area
}

func (w *EvidenceWriter) employeeDir(employeeID int, ts time.Time) string {
	date := ts.Format("2006-01-02")
	return filepath.Join(w.dir, date, strconv.Itoa(employeeID))
}

func (w *EvidenceWriter) mirror(ctx context.Context, employeeID int, ts time.Time, name string, data []byte) {
	if w.minio == nil {
		return
	}
	key := fmt.Sprintf("attendance_captures/%s/%d/%s", ts.Format("2006-01-02"), employeeID, name)
	if err := w.minio.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		w.log.Warn("evidence minio mirror failed", "employee_id", employeeID, "error", err)
	}
}

func (w *EvidenceWriter) mergeMeta(dir string, employeeID int, ts time.Time, apply func(*evidenceMeta)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(dir, "meta.json")
	meta := evidenceMeta{EmployeeID: employeeID, Date: ts.Format("2006-01-02")}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	apply(&meta)

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		w.log.Error("meta marshal failed", "employee_id", employeeID, "error", err)
		return
	}
	if err := os.WriteFile(path, out, 0o640); err != nil {
		w.log.Error("meta write failed", "employee_id", employeeID, "error", err)
	}
}
