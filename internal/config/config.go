// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrMissingSetting is returned when a required environment variable is not set.
	ErrMissingSetting = errors.New("config: required setting is missing")
	// ErrInvalidSetting is returned when a setting fails validation.
	ErrInvalidSetting = errors.New("config: invalid setting")
)

// Diarizer backends.
const (
	DiarizerHTTP = "http"
	DiarizerRTTM = "rttm"
)

// Config holds all configuration for the application.
type Config struct {
	// Segment policy
	MinSegmentLen   float64 `env:"MIN_SEGMENT_LEN, required" json:"min_segment_len" validate:"gt=0"`
	MaxSegmentLen   float64 `env:"MAX_SEGMENT_LEN, required" json:"max_segment_len" validate:"gtefield=MinSegmentLen"`
	ChunkSegmentLen float64 `env:"CHUNK_SEGMENT_LEN" json:"chunk_segment_len,omitempty" validate:"gte=0"`
	VoiceThreshold  float64 `env:"VOICE_THRESHOLD, required" json:"voice_threshold" validate:"gte=0,lte=1"`
	ExportVideo     bool    `env:"EXPORT_VIDEO_FLAG, required" json:"export_video"`

	// Directory roots
	DataFolder        string `env:"DATA_FOLDER, required" json:"data_folder" validate:"required"`
	VideoFolder       string `env:"VIDEO_FOLDER, required" json:"video_folder" validate:"required"`
	DiarizationFolder string `env:"DIARIZATION_FOLDER, required" json:"diarization_folder" validate:"required"`
	RefAudioDir       string `env:"REF_AUDIO_DIR, required" json:"ref_audio_dir" validate:"required"`
	RefImagesDir      string `env:"REF_IMAGES_DIR, required" json:"ref_images_dir" validate:"required"`
	TmpFolder         string `env:"TMP_FOLDER, required" json:"tmp_folder" validate:"required"`
	POIFolder         string `env:"POI_FOLDER" json:"poi_folder,omitempty"`

	// Model services
	DiarizerBackend  string        `env:"DIARIZER_BACKEND, default=http" json:"diarizer_backend" validate:"oneof=http rttm"`
	DiarizerURL      string        `env:"DIARIZER_URL" json:"diarizer_url,omitempty" validate:"required_if=DiarizerBackend http,omitempty,url"`
	RTTMFolder       string        `env:"RTTM_FOLDER" json:"rttm_folder,omitempty" validate:"required_if=DiarizerBackend rttm"`
	VoiceURL         string        `env:"VOICE_URL" json:"voice_url" validate:"required,url"`
	FaceURL          string        `env:"FACE_URL" json:"face_url" validate:"required,url"`
	OracleAPIKey     string        `env:"ORACLE_API_KEY" json:"-"` // Masked in JSON
	OracleTimeout    time.Duration `env:"ORACLE_TIMEOUT, default=10m" json:"oracle_timeout" validate:"gte=0"`
	OracleMaxRetries int           `env:"ORACLE_MAX_RETRIES, default=0" json:"oracle_max_retries" validate:"gte=0,lte=10"`

	// Face model, fixed per deployment
	FaceModelName       string `env:"FACE_MODEL_NAME, default=Facenet512" json:"face_model_name" validate:"required"`
	FaceDistanceMetric  string `env:"FACE_DISTANCE_METRIC, default=euclidean_l2" json:"face_distance_metric" validate:"required"`
	FaceDetectorBackend string `env:"FACE_DETECTOR_BACKEND, default=dlib" json:"face_detector_backend" validate:"required"`

	// Processing
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	Workers    int    `env:"WORKERS, default=1" json:"workers" validate:"gte=1"`

	// Optional S3 mirror of committed clips
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`                               // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ChunkLen returns the length in seconds of the chunks an over-long
// accepted segment is re-sliced into.
func (c *Config) ChunkLen() float64 {
	if c.ChunkSegmentLen > 0 {
		return c.ChunkSegmentLen
	}
	return c.MaxSegmentLen
}

// RecordingsDir is the folder holding one sub-folder of source recordings per POI.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.DataFolder, c.VideoFolder)
}

// OutputDir is the folder holding one output folder per POI.
func (c *Config) OutputDir() string {
	return filepath.Join(c.DataFolder, c.DiarizationFolder)
}

// RosterPath resolves a roster file name against POI_FOLDER.
// Absolute paths and an unset POI_FOLDER leave the name untouched.
func (c *Config) RosterPath(name string) string {
	if c.POIFolder == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.POIFolder, name)
}

// Load reads configuration from environment variables using go-envconfig
// and validates it. A missing required variable yields ErrMissingSetting.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "missing required value") {
			return nil, fmt.Errorf("%w: %v", ErrMissingSetting, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MinSegmentLen: %g, MaxSegmentLen: %g, ChunkLen: %g, VoiceThreshold: %g, ExportVideo: %t, DataFolder: %s, DiarizerBackend: %s, Workers: %d, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.MinSegmentLen,
		c.MaxSegmentLen,
		c.ChunkLen(),
		c.VoiceThreshold,
		c.ExportVideo,
		c.DataFolder,
		c.DiarizerBackend,
		c.Workers,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
