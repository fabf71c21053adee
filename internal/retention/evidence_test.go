package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/vision"
)

func TestEvidenceWriter_OnEnterSkipsWhenFirstInAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	empDir := filepath.Join(dir, "2026-03-01", "7")
	require.NoError(t, os.MkdirAll(empDir, 0o750), "seed employee dir")
	existingPath := filepath.Join(empDir, "first_in.jpg")
	require.NoError(t, os.WriteFile(existingPath, []byte("already here"), 0o640), "seed existing first_in.jpg")

	// no loops registered: if OnEnter tried to capture a frame it would find
	// nothing and return early anyway, but overwriteFirstIn=false must short
	// circuit on the Stat check before ever reaching captureJPEG.
	w := NewEvidenceWriter(nil, dir, false, 0, nil, testLogger())
	w.OnEnter(7, 1, ts)

	data, err := os.ReadFile(existingPath)
	require.NoError(t, err, "read first_in.jpg")
	assert.Equal(t, "already here", string(data), "expected write-once first_in.jpg left untouched")
}

func TestEvidenceWriter_OnEnterNoopWhenNoFrameAvailable(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	w := NewEvidenceWriter(nil, dir, true, 0, nil, testLogger())
	w.OnEnter(7, 1, ts) // overwrite allowed, but no camera loop registered -> captureJPEG fails

	empDir := filepath.Join(dir, "2026-03-01", "7")
	_, err := os.Stat(empDir)
	assert.True(t, os.IsNotExist(err), "expected no employee dir created when no frame is available")
}

func TestEvidenceWriter_MergeMetaMergesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	w := NewEvidenceWriter(nil, dir, false, 0, nil, testLogger())

	empDir := t.TempDir()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	w.mergeMeta(empDir, 7, ts, func(m *evidenceMeta) {
		tsCopy := ts
		cam := 1
		m.FirstInTS = &tsCopy
		m.FirstInCam = &cam
		m.FirstInCameraName = "lobby"
		m.FirstInCameraArea = "entrance"
	})

	lastOutTS := ts.Add(8 * time.Hour)
	w.mergeMeta(empDir, 7, lastOutTS, func(m *evidenceMeta) {
		tsCopy := lastOutTS
		cam := 2
		m.LastOutTS = &tsCopy
		m.LastOutCam = &cam
		m.LastOutCameraName = "dock"
		m.LastOutCameraArea = "warehouse"
	})

	data, err := os.ReadFile(filepath.Join(empDir, "meta.json"))
	require.NoError(t, err, "read meta.json")
	content := string(data)
	for _, want := range []string{
		`"employee_id": 7`, `"first_in_camera_id": 1`, `"last_out_camera_id": 2`,
		`"first_in_camera_name": "lobby"`, `"first_in_camera_area": "entrance"`,
		`"last_out_camera_name": "dock"`, `"last_out_camera_area": "warehouse"`,
	} {
		assert.Contains(t, content, want)
	}
}

func TestEvidenceWriter_CameraInfoPopulatesNameAndAreaFromLoop(t *testing.T) {
	log := testLogger()
	cam := models.Camera{ID: 3, Name: "rear-gate", Area: "yard"}
	loop := capture.NewCameraLoop(cam, log, nil, nil, nil, vision.QualityThresholds{}, 1, 1, 0.4, 0.5)

	w := NewEvidenceWriter([]*capture.CameraLoop{loop}, t.TempDir(), false, 0, nil, log)
	name, area := w.cameraInfo(3)
	assert.Equal(t, "rear-gate", name)
	assert.Equal(t, "yard", area)

	name, area = w.cameraInfo(404)
	assert.Empty(t, name, "expected empty name for an unknown camera")
	assert.Empty(t, area, "expected empty area for an unknown camera")
}

func TestEvidenceWriter_EmployeeDirIsDatePartitioned(t *testing.T) {
	w := NewEvidenceWriter(nil, "/base", false, 0, nil, testLogger())
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	got := w.employeeDir(7, ts)
	want := filepath.Join("/base", "2026-03-01", "7")
	assert.Equal(t, want, got)
}
