package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CameraFile is the shape of camera_configs/<dir>/config.json, grounded on
// original_source/database_models.py's seed_cameras_from_configs.
type CameraFile struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	RTSPURL        string `json:"rtsp_url"`
	Enabled        bool   `json:"enabled"`
	StreamEnabled  bool   `json:"stream_enabled"`
	Area           string `json:"area"`
}

// LoadCameraConfigs walks camera_configs/<dir>/config.json files and returns
// one CameraFile per readable directory, each carrying the integer id from
// its file. A directory missing or containing a malformed config.json is
// skipped silently rather than aborting the whole walk, matching spec.md
// §7's "never propagate a single source's failure" policy.
func LoadCameraConfigs(dir string) ([]CameraFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read camera_configs dir: %w", err)
	}

	var out []CameraFile
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name(), "config.json")
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var cf CameraFile
		if err := json.Unmarshal(data, &cf); err != nil {
			continue
		}
		out = append(out, cf)
	}
	return out, nil
}

// ParameterConfig is config/parameter_config.json, the recognized-keys runtime
// parameter file from spec.md §6. It is read once at startup to seed Config
// fields that an operator is allowed to override without a redeploy.
type ParameterConfig struct {
	DetectionSize                    [2]int  `json:"detection_size"`
	RecognitionThreshold              float64 `json:"recognition_threshold"`
	EmbeddingSimilarityThreshold      float64 `json:"embedding_similarity_threshold"`
	PresenceTimeoutSec                float64 `json:"presence_timeout_sec"`
	TrackingTimeout                   float64 `json:"tracking_timeout"`
	FPSTarget                         int     `json:"fps_target"`
	StreamMaxWidth                    int     `json:"stream_max_width"`
	JPEGQuality                       int     `json:"jpeg_quality"`
	AnnotationStride                  int     `json:"annotation_stride"`
	SmoothingWindow                   int     `json:"smoothing_window"`
	SmoothingMinVotes                 int     `json:"smoothing_min_votes"`
	TrackerIoUThreshold                float64 `json:"tracker_iou_threshold"`
	TrackerMaxMisses                  int     `json:"tracker_max_misses"`
	EventMinIntervalSec                float64 `json:"event_min_interval_sec"`
	AlertMinIntervalSec                float64 `json:"alert_min_interval_sec"`
	QualityMinBlurVar                  float64 `json:"quality_min_blur_var"`
	QualityMinFaceAreaFrac             float64 `json:"quality_min_face_area_frac"`
	QualityMinBrightness               float64 `json:"quality_min_brightness"`
	QualityMaxBrightness               float64 `json:"quality_max_brightness"`
	QualityMinScore                    float64 `json:"quality_min_score"`
	MarkAbsentEnabled                  bool    `json:"mark_absent_enabled"`
	MarkAbsentOffsetMinutesBeforeEnd   float64 `json:"mark_absent_offset_minutes_before_end"`
	AttendanceCapturesRetentionDays    int     `json:"attendance_captures_retention_days"`
	AttendanceFirstInOverwriteEnabled  bool    `json:"attendance_first_in_overwrite_enabled"`
	AttendanceLastOutDelaySec          float64 `json:"attendance_last_out_delay_sec"`
}

// LoadParameterConfig reads config/parameter_config.json. On file-not-found
// or parse failure it returns a zero-value ParameterConfig and no error: the
// caller applies its own defaults, matching spec.md §7's "schedule file
// corruption: on load, defaults are substituted" policy extended to this file.
func LoadParameterConfig(path string) (ParameterConfig, error) {
	var pc ParameterConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pc, nil
		}
		return pc, fmt.Errorf("read parameter config: %w", err)
	}
	if err := json.Unmarshal(data, &pc); err != nil {
		return ParameterConfig{}, nil
	}
	return pc, nil
}

// ApplyParameterConfig overlays non-zero ParameterConfig fields onto cfg,
// letting the JSON side-channel override YAML/env defaults the way the
// original system layered parameter_config.json over hardcoded constants.
func ApplyParameterConfig(cfg *Config, pc ParameterConfig) {
	if pc.DetectionSize != [2]int{} {
		cfg.Vision.DetectSize = pc.DetectionSize
	}
	if pc.RecognitionThreshold != 0 {
		cfg.Vision.RecognitionThreshold = pc.RecognitionThreshold
	}
	if pc.EmbeddingSimilarityThreshold != 0 {
		cfg.Vision.EmbeddingSimilarityThreshold = pc.EmbeddingSimilarityThreshold
	}
	if pc.PresenceTimeoutSec != 0 {
		cfg.Presence.PresenceTimeout = secondsToDuration(pc.PresenceTimeoutSec)
	} else if pc.TrackingTimeout != 0 {
		cfg.Presence.PresenceTimeout = secondsToDuration(pc.TrackingTimeout)
	}
	if pc.FPSTarget != 0 {
		cfg.Vision.FPSTarget = pc.FPSTarget
	}
	if pc.StreamMaxWidth != 0 {
		cfg.Vision.StreamMaxWidth = pc.StreamMaxWidth
	}
	if pc.JPEGQuality != 0 {
		cfg.Vision.JPEGQuality = pc.JPEGQuality
	}
	if pc.AnnotationStride != 0 {
		cfg.Vision.AnnotationStride = pc.AnnotationStride
	}
	if pc.SmoothingWindow != 0 {
		cfg.Tracking.SmoothingWindow = pc.SmoothingWindow
	}
	if pc.SmoothingMinVotes != 0 {
		cfg.Tracking.SmoothingMinVotes = pc.SmoothingMinVotes
	}
	if pc.TrackerIoUThreshold != 0 {
		cfg.Tracking.IoUMatchThreshold = pc.TrackerIoUThreshold
	}
	if pc.TrackerMaxMisses != 0 {
		cfg.Tracking.MaxTrackMisses = pc.TrackerMaxMisses
	}
	if pc.EventMinIntervalSec != 0 {
		cfg.Presence.EventMinInterval = secondsToDuration(pc.EventMinIntervalSec)
	}
	if pc.AlertMinIntervalSec != 0 {
		cfg.Presence.AlertMinInterval = secondsToDuration(pc.AlertMinIntervalSec)
	}
	if pc.QualityMinBlurVar != 0 {
		cfg.Vision.QualityMinBlurVar = pc.QualityMinBlurVar
	}
	if pc.QualityMinFaceAreaFrac != 0 {
		cfg.Vision.QualityMinFaceAreaFrac = pc.QualityMinFaceAreaFrac
	}
	if pc.QualityMinBrightness != 0 {
		cfg.Vision.QualityMinBrightness = pc.QualityMinBrightness
	}
	if pc.QualityMaxBrightness != 0 {
		cfg.Vision.QualityMaxBrightness = pc.QualityMaxBrightness
	}
	if pc.QualityMinScore != 0 {
		cfg.Vision.MinQualityScore = pc.QualityMinScore
	}
	if pc.MarkAbsentEnabled {
		cfg.Storage.MarkAbsentEnabled = true
	}
	if pc.MarkAbsentOffsetMinutesBeforeEnd != 0 {
		cfg.Storage.MarkAbsentOffsetBeforeEnd = secondsToDuration(pc.MarkAbsentOffsetMinutesBeforeEnd * 60)
	}
	if pc.AttendanceCapturesRetentionDays != 0 {
		cfg.Storage.AttendanceCapturesRetentionDays = pc.AttendanceCapturesRetentionDays
	}
	if pc.AttendanceFirstInOverwriteEnabled {
		cfg.Storage.AttendanceFirstInOverwrite = true
	}
	if pc.AttendanceLastOutDelaySec != 0 {
		cfg.Storage.AttendanceLastOutDelay = secondsToDuration(pc.AttendanceLastOutDelaySec)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WriteAtomic writes data to path via a temp-file-then-rename, the same
// technique the teacher's failover/schedule persistence counterparts use to
// avoid torn writes on crash.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
