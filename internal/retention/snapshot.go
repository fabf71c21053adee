// Package retention implements C10: periodic per-camera snapshotting,
// attendance evidence capture reacting to presence ENTER/EXIT, and the
// midnight purge + 17:30 SYSTEM-ABSENT marking daemons. Grounded on
// original_source/module_AI.py's retention-adjacent behavior and
// original_source/app.py's daily-boundary scheduling, with the
// worker-pool+ticker+jittered-schedule shape grounded on
// ts-vms-v1.0/internal/health/scheduler.go.
package retention

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/storage"
)

// SnapshotWriter keeps the newest 5 JPEG snapshots per camera on disk (and
// mirrored to MinIO), sampled every 5s, per spec.md §4.10.
type SnapshotWriter struct {
	loops   []*capture.CameraLoop
	dir     string
	minio   *storage.MinIOStore
	log     *slog.Logger
	keep    int
	period  time.Duration
}

func NewSnapshotWriter(loops []*capture.CameraLoop, dir string, minio *storage.MinIOStore, log *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		loops:  loops,
		dir:    dir,
		minio:  minio,
		log:    log.With("component", "retention_snapshot"),
		keep:   5,
		period: 5 * time.Second,
	}
}

func (w *SnapshotWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, loop := range w.loops {
				w.snapshotOne(ctx, loop, now)
			}
		}
	}
}

func (w *SnapshotWriter) snapshotOne(ctx context.Context, loop *capture.CameraLoop, now time.Time) {
	img, seq := loop.LatestFrame()
	if img == nil {
		return
	}

	camDir := filepath.Join(w.dir, strconv.Itoa(loop.Camera().ID))
	if err := os.MkdirAll(camDir, 0o750); err != nil {
		w.log.Error("snapshot mkdir failed", "camera_id", loop.Camera().ID, "error", err)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		w.log.Error("snapshot encode failed", "camera_id", loop.Camera().ID, "error", err)
		return
	}

	name := fmt.Sprintf("snapshot_%d_%d.jpg", now.UnixNano(), seq)
	path := filepath.Join(camDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		w.log.Error("snapshot write failed", "camera_id", loop.Camera().ID, "error", err)
		return
	}

	if w.minio != nil {
		key := fmt.Sprintf("snapshots/%d/%s", loop.Camera().ID, name)
		if err := w.minio.PutObject(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
			w.log.Warn("snapshot minio mirror failed", "camera_id", loop.Camera().ID, "error", err)
		}
	}

	w.rotate(ctx, camDir, loop.Camera().ID)
}

// rotate keeps only the newest w.keep snapshots in camDir, deleting the rest
// locally and from MinIO.
func (w *SnapshotWriter) rotate(ctx context.Context, camDir string, cameraID int) {
	entries, err := os.ReadDir(camDir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if len(entries) <= w.keep {
		return
	}
	stale := entries[:len(entries)-w.keep]
	var minioKeys []string
	for _, e := range stale {
		_ = os.Remove(filepath.Join(camDir, e.Name()))
		minioKeys = append(minioKeys, fmt.Sprintf("snapshots/%d/%s", cameraID, e.Name()))
	}
	if w.minio != nil && len(minioKeys) > 0 {
		if err := w.minio.DeleteObjects(ctx, minioKeys); err != nil {
			w.log.Warn("snapshot minio cleanup failed", "camera_id", cameraID, "error", err)
		}
	}
}
