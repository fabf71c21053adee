package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/observability"
	"github.com/attendanced/attendanced/internal/vision"
)

// CameraLoop is C4+C5: one capture goroutine and one inference goroutine per
// camera, sharing a single-slot FrameBuffer. Grounded on the reference
// stack's internal/ingest/manager.go startStream (bounded 2s/4s/8s backoff
// retry loop), generalized from "ingest one stream to NATS" to "keep exactly
// one decoded image.Image hot per camera and run C1->C3->C2->C6 on it".
type CameraLoop struct {
	camera models.Camera
	log    *slog.Logger
	buf    FrameBuffer

	fps            int
	annotateStride int

	engine  *vision.FaceEngine
	store   *vision.Store
	quality vision.QualityThresholds
	tracker *vision.Tracker

	embeddingSimilarityThreshold float64
	minQualityScore              float64

	stop context.CancelFunc
}

// NewCameraLoop wires one camera's capture+inference pair. fps/annotateStride
// come from config.VisionConfig; the tracker must already be constructed
// with this camera's SeenSignal channel.
func NewCameraLoop(cam models.Camera, log *slog.Logger, engine *vision.FaceEngine, store *vision.Store,
	tracker *vision.Tracker, quality vision.QualityThresholds, fps, annotateStride int,
	embeddingSimilarityThreshold, minQualityScore float64) *CameraLoop {
	return &CameraLoop{
		camera:                       cam,
		log:                          log.With("component", "capture", "camera_id", cam.ID),
		fps:                          fps,
		annotateStride:               annotateStride,
		engine:                       engine,
		store:                        store,
		quality:                      quality,
		tracker:                      tracker,
		embeddingSimilarityThreshold: embeddingSimilarityThreshold,
		minQualityScore:              minQualityScore,
	}
}

// Start launches the capture and inference goroutines; Stop cancels both
// cooperatively.
func (c *CameraLoop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel

	go c.runCapture(ctx)
	go c.runInference(ctx)
}

// Stop signals both goroutines to exit; it does not block.
func (c *CameraLoop) Stop() {
	if c.stop != nil {
		c.stop()
	}
}

// LatestFrame returns a copy-free reference to the most recently captured
// frame, used by C10's snapshot writer and the UI's annotate_frame path.
func (c *CameraLoop) LatestFrame() (image.Image, uint64) {
	return c.buf.Latest()
}

// Camera exposes the loop's camera record (read-only) for callers that need
// its name/area without a separate DB round trip.
func (c *CameraLoop) Camera() models.Camera {
	return c.camera
}

func (c *CameraLoop) runCapture(ctx context.Context) {
	parsed, err := ParseSourceURL(c.camera.SourceURL)
	if err != nil {
		c.log.Error("unparseable camera source, capture loop exiting", "error", err)
		return
	}
	if parsed.Kind != SourceRTSP {
		c.runWebcamCapture(ctx, parsed.DeviceIndex)
		return
	}

	failStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		extractor := newFFmpegExtractor(c.log)
		err := extractor.start(ctx, parsed.URL, c.fps, 960, func(frameData []byte) error {
			img, decErr := jpeg.Decode(bytes.NewReader(frameData))
			if decErr != nil {
				return decErr
			}
			c.buf.Set(img)
			failStreak = 0
			return nil
		})

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failStreak++
			observability.CaptureReconnects.WithLabelValues(camIDLabel(c.camera.ID)).Inc()
			c.log.Warn("capture stream failed, reconnecting", "error", err, "fail_streak", failStreak)
		}

		delay := backoffFor(failStreak)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runWebcamCapture is the local-device counterpart of runCapture's ffmpeg
// subprocess loop: SourceDeviceIndex ("webcam:<int>" or a bare integer,
// spec.md §6) has no ffmpeg stdout stream to scan, so it opens the device
// directly via gocv.VideoCapture (the same backoff/retry shape, gated
// behind a cgo build tag since gocv's VideoCapture needs OpenCV's C++
// bindings). openWebcam is provided by webcam_cgo.go (cgo builds) or
// webcam_stub.go (non-cgo builds, always returns an error).
func (c *CameraLoop) runWebcamCapture(ctx context.Context, deviceIndex int) {
	failStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.openWebcam(ctx, deviceIndex)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failStreak++
			observability.CaptureReconnects.WithLabelValues(camIDLabel(c.camera.ID)).Inc()
			c.log.Warn("webcam capture failed, reconnecting", "error", err, "fail_streak", failStreak)
		} else {
			failStreak = 0
		}

		delay := backoffFor(failStreak)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func backoffFor(failStreak int) time.Duration {
	switch {
	case failStreak <= 0:
		return 0
	case failStreak == 1:
		return 2 * time.Second
	case failStreak == 2:
		return 4 * time.Second
	default:
		return 8 * time.Second
	}
}
