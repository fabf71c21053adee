// Command attendanced is the single daemon that wires every component
// together: camera capture+inference, presence tracking, the async DB
// writer, the schedule controller, retention, and the read-only UI surface.
// Grounded on the teacher's cmd/worker/main.go + cmd/api/main.go graceful-
// shutdown block, merged into one process since spec.md describes a single
// cohesive daemon rather than a split worker/API deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/attendanced/attendanced/internal/api"
	"github.com/attendanced/attendanced/internal/api/ws"
	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/logging"
	"github.com/attendanced/attendanced/internal/models"
	"github.com/attendanced/attendanced/internal/notify"
	"github.com/attendanced/attendanced/internal/presence"
	"github.com/attendanced/attendanced/internal/retention"
	"github.com/attendanced/attendanced/internal/schedule"
	"github.com/attendanced/attendanced/internal/storage"
	"github.com/attendanced/attendanced/internal/vision"
	"github.com/attendanced/attendanced/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if pc, err := config.LoadParameterConfig("config/parameter_config.json"); err == nil {
		config.ApplyParameterConfig(cfg, pc)
	}

	log := logging.Setup(cfg.Logging)
	slog.SetDefault(log)

	log.Info("starting attendanced", "cpu_cores", runtime.NumCPU())

	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		log.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		log.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		log.Warn("ensure minio bucket", "error", err)
	}

	var notifier *notify.Publisher
	if cfg.NATS.URL != "" {
		notifier, err = notify.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Warn("connect to nats, notifications disabled", "error", err)
			notifier = nil
		} else {
			defer notifier.Close()
		}
	}

	seedCameraConfigs(ctx, db, log)

	engine := vision.NewFaceEngine(log, cfg.Vision)
	defer engine.Close()

	store := vision.NewStore(db, log, cfg.Vision.EmbeddingReloadInterval)
	if err := store.Load(ctx, true); err != nil {
		log.Warn("initial embedding load failed", "error", err)
	}
	go runEmbeddingReload(ctx, store, cfg.Vision.EmbeddingReloadInterval)

	sched := schedule.New("config/tracking_mode.json", log)
	go sched.Run(ctx)

	wr := writer.New(db, log, notifier, 4096, 2048, "writer_spool")
	go wr.Run(ctx)

	visionSeenCh := make(chan vision.SeenSignal, 256)
	presenceSeenCh := make(chan presence.SeenEvent, 256)
	go bridgeSeenSignals(ctx, visionSeenCh, presenceSeenCh)

	pm := presence.New(db, sched, wr, notifier, log, cfg.Presence)

	hub := ws.NewHub()
	go hub.Run()
	pm.SetBroadcaster(&hubBroadcaster{hub: hub})

	cameras, err := db.ListCameras(ctx)
	if err != nil {
		log.Error("list cameras", "error", err)
		os.Exit(1)
	}

	trackers := make(map[int]*vision.Tracker, len(cameras))
	var trackersMu sync.Mutex
	quality := vision.QualityThresholds{
		MinBlurVar:      cfg.Vision.QualityMinBlurVar,
		MinBrightness:   cfg.Vision.QualityMinBrightness,
		MaxBrightness:   cfg.Vision.QualityMaxBrightness,
		MinFaceAreaFrac: cfg.Vision.QualityMinFaceAreaFrac,
	}
	trackerCfg := vision.TrackerConfig{
		IoUMatchThreshold: float32(cfg.Tracking.IoUMatchThreshold),
		MaxTrackMisses:    cfg.Tracking.MaxTrackMisses,
		SmoothingWindow:   cfg.Tracking.SmoothingWindow,
		SmoothingMinVotes: cfg.Tracking.SmoothingMinVotes,
	}
	for _, cam := range cameras {
		trackers[cam.ID] = vision.NewTracker(cam.ID, trackerCfg, visionSeenCh)
	}

	// newLoop is the Supervisor's camera-loop factory: it reuses each
	// camera's tracker across restarts (lazily creating one for a camera
	// started after startup) rather than losing vote history every time an
	// operator stops and restarts a single camera.
	newLoop := func(cam models.Camera) *capture.CameraLoop {
		trackersMu.Lock()
		tr, ok := trackers[cam.ID]
		if !ok {
			tr = vision.NewTracker(cam.ID, trackerCfg, visionSeenCh)
			trackers[cam.ID] = tr
		}
		trackersMu.Unlock()
		return capture.NewCameraLoop(cam, log, engine, store, tr, quality,
			cfg.Vision.FPSTarget, cfg.Vision.AnnotationStride,
			cfg.Vision.EmbeddingSimilarityThreshold, cfg.Vision.MinQualityScore)
	}

	supervisor := capture.NewSupervisor(db, log, newLoop)
	if err := supervisor.Start(ctx, nil); err != nil {
		log.Error("start camera loops", "error", err)
		os.Exit(1)
	}
	loops := supervisor.Loops()

	loopSlice := make([]*capture.CameraLoop, 0, len(loops))
	for _, l := range loops {
		loopSlice = append(loopSlice, l)
	}

	evidence := retention.NewEvidenceWriter(loopSlice, cfg.Storage.AttendanceCaptureDir,
		cfg.Storage.AttendanceFirstInOverwrite, cfg.Storage.AttendanceLastOutDelay, minioStore, log)
	pm.SetEvidenceHook(evidence)

	go pm.Run(ctx, presenceSeenCh)

	snapshotWriter := retention.NewSnapshotWriter(loopSlice, cfg.Storage.CaptureDir, minioStore, log)
	go snapshotWriter.Run(ctx)

	dailyDaemon := retention.NewDailyDaemon(db, sched, log, cfg.Storage.AttendanceCaptureDir,
		cfg.Storage.AttendanceCapturesRetentionDays, cfg.Storage.MarkAbsentEnabled, cfg.Storage.MarkAbsentOffsetBeforeEnd)
	go dailyDaemon.Run(ctx)

	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		DB:          db,
		MinIO:       minioStore,
		Hub:         hub,
		Loops:       loops,
		Trackers:    trackers,
		Store:       store,
		StreamPrefs: cfg.Vision,
		Supervisor:  supervisor,
	})

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Server.Port), Handler: router}
	go func() {
		log.Info("http server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down attendanced...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	supervisor.Stop()
	time.Sleep(2 * time.Second)
	log.Info("attendanced stopped")
}

// seedCameraConfigs reconciles camera_configs/<dir>/config.json files into
// the cameras table, grounded on original_source/database_models.py's
// seed_cameras_from_configs.
func seedCameraConfigs(ctx context.Context, db *storage.PostgresStore, log *slog.Logger) {
	files, err := config.LoadCameraConfigs("camera_configs")
	if err != nil {
		log.Warn("load camera configs", "error", err)
		return
	}
	for _, cf := range files {
		if !cf.Enabled {
			continue
		}
		if err := db.UpsertCamera(ctx, models.Camera{
			ID: cf.ID, Name: cf.Name, Area: cf.Area,
			SourceURL: cf.RTSPURL, StreamEnabled: cf.StreamEnabled, AIEnabled: cf.Enabled,
		}); err != nil {
			log.Error("upsert camera from config", "camera_id", cf.ID, "error", err)
		}
	}
}

// bridgeSeenSignals adapts the Tracker's vision-domain SeenSignal onto
// presence's consumption boundary, keeping internal/vision and
// internal/presence decoupled from each other's types.
func bridgeSeenSignals(ctx context.Context, in <-chan vision.SeenSignal, out chan<- presence.SeenEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-in:
			select {
			case out <- presence.SeenEvent{
				EmployeeID: sig.EmployeeID, CameraID: sig.CameraID,
				Timestamp: sig.Timestamp, Similarity: sig.Similarity,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func runEmbeddingReload(ctx context.Context, store *vision.Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = store.Load(ctx, false)
		}
	}
}

// hubBroadcaster adapts the WebSocket hub to presence.Broadcaster without
// internal/presence importing gin/gorilla.
type hubBroadcaster struct {
	hub *ws.Hub
}

func (b *hubBroadcaster) Broadcast(employeeID, cameraID int, status models.PresenceStatus, ts time.Time, alertType *models.AlertType) {
	b.hub.BroadcastPresence(ws.PresenceEvent{
		EmployeeID: employeeID, CameraID: cameraID, Status: status, Timestamp: ts, AlertType: alertType,
	})
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
