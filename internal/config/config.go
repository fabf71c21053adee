package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable record built once at startup per the Design Notes:
// no module-level singleton holds runtime parameters, only this struct,
// threaded explicitly through every component's constructor. Mutable runtime
// parameters that the original system rewrote on disk (schedule, thresholds)
// live in ParameterConfig (read once at startup and overlaid onto this
// struct) and in schedule.State, owned by the schedule controller.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Presence PresenceConfig `yaml:"presence"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NATSConfig carries the connection used solely by internal/notify to publish
// NewEmployeeSeen / AlertEmit events for out-of-scope collaborators (Telegram
// bot, external notifiers); the vision pipeline itself no longer queues
// frames through NATS the way the teacher's worker/api split did.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type VisionConfig struct {
	ModelsDir  string `yaml:"models_dir"`
	DetectSize [2]int `yaml:"detection_size"`

	// Both thresholds are loaded for config-format fidelity with
	// config/parameter_config.json; only EmbeddingSimilarityThreshold is
	// enforced downstream (see DESIGN.md, Open Question (b)).
	RecognitionThreshold         float64 `yaml:"recognition_threshold"`
	EmbeddingSimilarityThreshold float64 `yaml:"embedding_similarity_threshold"`

	MinQualityScore        float64 `yaml:"quality_min_score"`
	QualityMinBlurVar       float64 `yaml:"quality_min_blur_var"`
	QualityMinFaceAreaFrac  float64 `yaml:"quality_min_face_area_frac"`
	QualityMinBrightness    float64 `yaml:"quality_min_brightness"`
	QualityMaxBrightness    float64 `yaml:"quality_max_brightness"`

	FPSTarget         int `yaml:"fps_target"`
	StreamMaxWidth    int `yaml:"stream_max_width"`
	JPEGQuality       int `yaml:"jpeg_quality"`
	AnnotationStride  int `yaml:"annotation_stride"`

	EmbeddingReloadInterval time.Duration `yaml:"embedding_reload_interval"`
}

type TrackingConfig struct {
	IoUMatchThreshold  float64       `yaml:"tracker_iou_threshold"`
	MaxTrackMisses     int           `yaml:"tracker_max_misses"`
	SmoothingWindow    int           `yaml:"smoothing_window"`
	SmoothingMinVotes  int           `yaml:"smoothing_min_votes"`
	MinHits            int           `yaml:"min_hits"`
}

type PresenceConfig struct {
	PresenceTimeout     time.Duration `yaml:"presence_timeout_sec"`
	EventMinInterval    time.Duration `yaml:"event_min_interval_sec"`
	AlertMinInterval    time.Duration `yaml:"alert_min_interval_sec"`
}

type StorageConfig struct {
	CaptureDir                    string        `yaml:"capture_dir"`
	AttendanceCaptureDir          string        `yaml:"attendance_capture_dir"`
	AttendanceCapturesRetentionDays int         `yaml:"attendance_captures_retention_days"`
	AttendanceFirstInOverwrite    bool          `yaml:"attendance_first_in_overwrite_enabled"`
	AttendanceLastOutDelay        time.Duration `yaml:"attendance_last_out_delay_sec"`
	MarkAbsentEnabled             bool          `yaml:"mark_absent_enabled"`
	MarkAbsentOffsetBeforeEnd     time.Duration `yaml:"mark_absent_offset_minutes_before_end"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides,
// exactly the teacher's Load(path) -> yaml.Unmarshal -> applyEnvOverrides ->
// setDefaults pipeline (internal/config/config.go in the reference stack).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectSize == [2]int{} {
		cfg.Vision.DetectSize = [2]int{640, 640}
	}
	if cfg.Vision.RecognitionThreshold == 0 {
		cfg.Vision.RecognitionThreshold = 0.45
	}
	if cfg.Vision.EmbeddingSimilarityThreshold == 0 {
		cfg.Vision.EmbeddingSimilarityThreshold = 0.65
	}
	if cfg.Vision.MinQualityScore == 0 {
		cfg.Vision.MinQualityScore = 0.5
	}
	if cfg.Vision.QualityMinBlurVar == 0 {
		cfg.Vision.QualityMinBlurVar = 80.0
	}
	if cfg.Vision.QualityMinFaceAreaFrac == 0 {
		cfg.Vision.QualityMinFaceAreaFrac = 0.02
	}
	if cfg.Vision.QualityMinBrightness == 0 {
		cfg.Vision.QualityMinBrightness = 0.2
	}
	if cfg.Vision.QualityMaxBrightness == 0 {
		cfg.Vision.QualityMaxBrightness = 0.9
	}
	if cfg.Vision.FPSTarget == 0 {
		cfg.Vision.FPSTarget = 10
	}
	if cfg.Vision.StreamMaxWidth == 0 {
		cfg.Vision.StreamMaxWidth = 960
	}
	if cfg.Vision.JPEGQuality == 0 {
		cfg.Vision.JPEGQuality = 70
	}
	if cfg.Vision.AnnotationStride == 0 {
		cfg.Vision.AnnotationStride = 3
	}
	if cfg.Vision.EmbeddingReloadInterval == 0 {
		cfg.Vision.EmbeddingReloadInterval = 60 * time.Second
	}
	if cfg.Tracking.IoUMatchThreshold == 0 {
		cfg.Tracking.IoUMatchThreshold = 0.3
	}
	if cfg.Tracking.MaxTrackMisses == 0 {
		cfg.Tracking.MaxTrackMisses = 15
	}
	if cfg.Tracking.SmoothingWindow == 0 {
		cfg.Tracking.SmoothingWindow = 8
	}
	if cfg.Tracking.SmoothingMinVotes == 0 {
		cfg.Tracking.SmoothingMinVotes = 3
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 1
	}
	if cfg.Presence.PresenceTimeout == 0 {
		cfg.Presence.PresenceTimeout = 60 * time.Second
	}
	if cfg.Presence.EventMinInterval == 0 {
		cfg.Presence.EventMinInterval = 2 * time.Second
	}
	if cfg.Presence.AlertMinInterval == 0 {
		cfg.Presence.AlertMinInterval = 30 * time.Second
	}
	if cfg.Storage.CaptureDir == "" {
		cfg.Storage.CaptureDir = "captures"
	}
	if cfg.Storage.AttendanceCaptureDir == "" {
		cfg.Storage.AttendanceCaptureDir = "attendance_captures"
	}
	if cfg.Storage.AttendanceCapturesRetentionDays == 0 {
		cfg.Storage.AttendanceCapturesRetentionDays = 30
	}
	if cfg.Storage.AttendanceLastOutDelay == 0 {
		cfg.Storage.AttendanceLastOutDelay = 5 * time.Second
	}
	if cfg.Storage.MarkAbsentOffsetBeforeEnd == 0 {
		cfg.Storage.MarkAbsentOffsetBeforeEnd = 90 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATTEND_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATTEND_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ATTEND_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATTEND_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATTEND_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATTEND_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATTEND_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATTEND_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATTEND_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATTEND_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATTEND_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ATTEND_CAPTURE_DIR"); v != "" {
		cfg.Storage.CaptureDir = v
	}
}
