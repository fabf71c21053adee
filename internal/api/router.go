package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendanced/attendanced/internal/api/handlers"
	"github.com/attendanced/attendanced/internal/api/ws"
	"github.com/attendanced/attendanced/internal/auth"
	"github.com/attendanced/attendanced/internal/capture"
	"github.com/attendanced/attendanced/internal/config"
	"github.com/attendanced/attendanced/internal/storage"
	"github.com/attendanced/attendanced/internal/vision"
)

// RouterConfig wires every dependency the read-only UI surface (spec.md §6)
// needs: one composition root builds this once and calls NewRouter.
type RouterConfig struct {
	APIKey      string
	DB          *storage.PostgresStore
	MinIO       *storage.MinIOStore
	Hub         *ws.Hub
	Loops       map[int]*capture.CameraLoop
	Trackers    map[int]*vision.Tracker
	Store       *vision.Store
	StreamPrefs config.VisionConfig
	Supervisor  *capture.Supervisor
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	stateH := handlers.NewStateHandler(cfg.DB)
	v1.GET("/state", stateH.Get)

	cameraH := handlers.NewCameraHandler(cfg.Loops, cfg.Trackers, cfg.Store, cfg.StreamPrefs)
	v1.GET("/cameras/:id/snapshot", cameraH.Snapshot)
	v1.GET("/stream-prefs", cameraH.StreamPrefs)

	attendanceH := handlers.NewAttendanceHandler(cfg.DB)
	v1.POST("/attendance/override", attendanceH.Override)
	v1.POST("/attendance/reset", attendanceH.Reset)

	if cfg.Supervisor != nil {
		adminH := handlers.NewAdminHandler(cfg.Supervisor)
		v1.GET("/admin/cameras/status", adminH.Status)
		v1.POST("/admin/cameras/:id/start", adminH.StartCamera)
		v1.POST("/admin/cameras/:id/stop", adminH.StopCamera)
	}

	return r
}
