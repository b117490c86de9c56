package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/pkg/log"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :8080, PORT overrides the port)
// - ADMIN_TOKEN: bearer token for the admin reset endpoint (empty disables it)
//
// Storage:
// - DATA_DIR: directory holding the job database (default: /app/data)
// - DB_PATH: job database file (default: DATA_DIR/storyclip.db)
// - OUTPUT_DIR: directory receiving produced clips (default: /app/public/outputs)
// - SCRATCH_DIR: root of per-job scratch dirs (default: OS temp dir)
//
// Pipeline:
// - MAX_SEGMENT_SECONDS: longest planned segment (default: 60)
// - PROGRESS_INTERVAL: minimum gap between progress writes (default: 500ms)
// - TRANSCODE_PROFILE_FILE: YAML file overriding the default encode profile
// - YT_DLP_PATH, FFMPEG_PATH, FFPROBE_PATH: tool binaries (default: from PATH)
// - YOUTUBE_API_KEY: enables the metadata lookup before the yt-dlp fallback
//
// Queue:
// - QUEUE_WORKERS: concurrent jobs (default: 2)
// - QUEUE_MAX_RETRIES: whole-job retries after the first attempt (default: 3)
// - QUEUE_RETRY_DELAY: delay before a retry (default: 5s)
//
// Maintenance:
// - SCRATCH_SWEEP_CRON: schedule of the stale scratch sweep (default: @hourly)
// - SCRATCH_MAX_AGE: age after which a scratch dir is stale (default: 6h)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - LOG_FILE: also append log entries to this file (default: none)
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	Pipeline PipelineConfig `json:"pipeline"`
	Tools    ToolsConfig    `json:"tools"`
	YouTube  YouTubeConfig  `json:"youtube"`
	Queue    QueueConfig    `json:"queue"`
	Sweep    SweepConfig    `json:"sweep"`
	LogLevel string         `json:"log_level"`
	LogFile  string         `json:"log_file"`
}

type HTTPConfig struct {
	Addr       string `json:"addr"`
	AdminToken string `json:"-"`
}

type StorageConfig struct {
	DataDir    string `json:"data_dir"`
	DBPath     string `json:"db_path"`
	OutputDir  string `json:"output_dir"`
	ScratchDir string `json:"scratch_dir"`
}

type PipelineConfig struct {
	MaxSegmentSec    float64       `json:"max_segment_sec"`
	ProgressInterval time.Duration `json:"progress_interval"`
	ProfileFile      string        `json:"profile_file"`
	Profile          jobs.Profile  `json:"profile"`
}

type ToolsConfig struct {
	YtDlp   string `json:"yt_dlp"`
	FFmpeg  string `json:"ffmpeg"`
	FFprobe string `json:"ffprobe"`
}

type YouTubeConfig struct {
	APIKey  string        `json:"-"`
	APIURL  string        `json:"api_url"`
	Timeout time.Duration `json:"timeout"`
}

// Enabled reports whether the metadata lookup should be tried before yt-dlp.
func (c YouTubeConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type QueueConfig struct {
	Workers    int           `json:"workers"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

type SweepConfig struct {
	Cron   string        `json:"cron"`
	MaxAge time.Duration `json:"max_age"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.Storage.DBPath = path
	}
}

func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.Storage.OutputDir = dir
	}
}

func WithProfile(profile jobs.Profile) Option {
	return func(c *Config) {
		c.Pipeline.Profile = profile
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "/app/data")
	config := &Config{
		HTTP: HTTPConfig{
			Addr:       httpAddr(),
			AdminToken: getEnvString("ADMIN_TOKEN", ""),
		},
		Storage: StorageConfig{
			DataDir:    dataDir,
			DBPath:     getEnvString("DB_PATH", filepath.Join(dataDir, "storyclip.db")),
			OutputDir:  getEnvString("OUTPUT_DIR", "/app/public/outputs"),
			ScratchDir: getEnvString("SCRATCH_DIR", os.TempDir()),
		},
		Pipeline: PipelineConfig{
			MaxSegmentSec:    getEnvFloat("MAX_SEGMENT_SECONDS", jobs.DefaultMaxSegmentSeconds),
			ProgressInterval: getEnvDuration("PROGRESS_INTERVAL", 500*time.Millisecond),
			ProfileFile:      getEnvString("TRANSCODE_PROFILE_FILE", ""),
			Profile:          jobs.DefaultProfile(),
		},
		Tools: ToolsConfig{
			YtDlp:   getEnvString("YT_DLP_PATH", "yt-dlp"),
			FFmpeg:  getEnvString("FFMPEG_PATH", "ffmpeg"),
			FFprobe: getEnvString("FFPROBE_PATH", "ffprobe"),
		},
		YouTube: YouTubeConfig{
			APIKey:  getEnvString("YOUTUBE_API_KEY", ""),
			APIURL:  getEnvString("YOUTUBE_API_URL", "https://www.googleapis.com/youtube/v3"),
			Timeout: getEnvDuration("YOUTUBE_TIMEOUT", 5*time.Second),
		},
		Queue: QueueConfig{
			Workers:    getEnvInt("QUEUE_WORKERS", 2),
			MaxRetries: getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryDelay: getEnvDuration("QUEUE_RETRY_DELAY", 5*time.Second),
		},
		Sweep: SweepConfig{
			Cron:   getEnvString("SCRATCH_SWEEP_CRON", "@hourly"),
			MaxAge: getEnvDuration("SCRATCH_MAX_AGE", 6*time.Hour),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  getEnvString("LOG_FILE", ""),
	}

	if config.Pipeline.ProfileFile != "" {
		profile, err := LoadProfileFile(config.Pipeline.ProfileFile)
		if err != nil {
			return nil, err
		}
		config.Pipeline.Profile = jobs.DefaultProfile().Merge(&profile)
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.Pipeline.MaxSegmentSec <= 0 {
		return fmt.Errorf("MAX_SEGMENT_SECONDS must be positive")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must not be negative")
	}
	if err := c.Pipeline.Profile.Validate(); err != nil {
		return fmt.Errorf("invalid transcode profile: %w", err)
	}
	if _, err := cron.ParseStandard(c.Sweep.Cron); err != nil {
		return fmt.Errorf("invalid SCRATCH_SWEEP_CRON: %w", err)
	}
	return nil
}

func httpAddr() string {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return ":" + port
	}
	return getEnvString("HTTP_ADDR", ":8080")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
