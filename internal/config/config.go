// Package config loads configuration from environment variables, optionally
// layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("required setting missing")

// Source backends.
const (
	SourceDrive = "drive"
	SourceS3    = "s3"
	SourceLocal = "local"
)

// Config holds all gallerysync configuration.
type Config struct {
	// Remote source
	SourceBackend string `yaml:"source_backend"`

	// Google Drive
	GoogleAPIKey   string `yaml:"google_api_key"`
	DriveFolderID  string `yaml:"drive_folder_id"`
	DriveAPIURL    string `yaml:"drive_api_url"`
	DriveUserAgent string `yaml:"drive_user_agent"`
	DriveRPM       int    `yaml:"drive_requests_per_minute"`

	// S3 source
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Region    string `yaml:"s3_region"`
	S3Prefix    string `yaml:"s3_prefix"`

	// Local directory source
	LocalSourcePath string        `yaml:"local_source_path"`
	WatchSource     bool          `yaml:"watch_source"`
	WatchDebounce   time.Duration `yaml:"watch_debounce"`

	// Outputs
	MirrorRoot   string `yaml:"mirror_root"`
	WebPrefix    string `yaml:"web_prefix"`
	ManifestPath string `yaml:"manifest_path"`
	PreviewRoot  string `yaml:"preview_root"`

	PreviewMaxSize int `yaml:"preview_max_size"`

	// Sync behavior
	SortOrder    string        `yaml:"sort_order"`
	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Interval     time.Duration `yaml:"interval"`
	DryRun       bool          `yaml:"dry_run"`

	// Observability
	MetricsAddr     string `yaml:"metrics_addr"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	LogFile         string `yaml:"log_file"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		SourceBackend:  SourceDrive,
		DriveAPIURL:    "https://www.googleapis.com/drive/v3",
		S3Endpoint:     "http://localhost:9000",
		S3Region:       "us-east-1",
		MirrorRoot:     "public/images",
		WebPrefix:      "/images",
		ManifestPath:   "src/data/projects.json",
		SortOrder:      "newest",
		Workers:        4,
		DriveRPM:       600,
		PreviewMaxSize: 1200,
		FetchTimeout:   2 * time.Minute,
		WatchDebounce:  2 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads configuration. If path is non-empty the YAML file is applied
// over the defaults first; environment variables always win.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.SourceBackend = envOr("SOURCE_BACKEND", c.SourceBackend)
	c.GoogleAPIKey = envOr("GOOGLE_API_KEY", c.GoogleAPIKey)
	c.DriveFolderID = envOr("GOOGLE_DRIVE_FOLDER_ID", c.DriveFolderID)
	c.DriveAPIURL = envOr("DRIVE_API_URL", c.DriveAPIURL)
	c.DriveUserAgent = envOr("DRIVE_USER_AGENT", c.DriveUserAgent)
	c.DriveRPM = envInt("DRIVE_REQUESTS_PER_MINUTE", c.DriveRPM)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = envOr("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envOr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = envOr("S3_REGION", c.S3Region)
	c.S3Prefix = envOr("S3_PREFIX", c.S3Prefix)
	c.LocalSourcePath = envOr("LOCAL_SOURCE_PATH", c.LocalSourcePath)
	c.WatchSource = envBool("WATCH_SOURCE", c.WatchSource)
	c.WatchDebounce = envDuration("WATCH_DEBOUNCE", c.WatchDebounce)
	c.MirrorRoot = envOr("MIRROR_ROOT", c.MirrorRoot)
	c.WebPrefix = envOr("WEB_PREFIX", c.WebPrefix)
	c.ManifestPath = envOr("MANIFEST_PATH", c.ManifestPath)
	c.PreviewRoot = envOr("PREVIEW_ROOT", c.PreviewRoot)
	c.PreviewMaxSize = envInt("PREVIEW_MAX_SIZE", c.PreviewMaxSize)
	c.SortOrder = envOr("SORT_ORDER", c.SortOrder)
	c.Workers = envInt("SYNC_WORKERS", c.Workers)
	c.FetchTimeout = envDuration("FETCH_TIMEOUT", c.FetchTimeout)
	c.Interval = envDuration("SYNC_INTERVAL", c.Interval)
	c.DryRun = envBool("DRY_RUN", c.DryRun)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.MetricsTextfile = envOr("METRICS_TEXTFILE", c.MetricsTextfile)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.LogFile = envOr("LOG_FILE", c.LogFile)
}

// Validate checks that the settings required by the selected source are
// present and that enumerated values are known.
func (c *Config) Validate() error {
	switch c.SourceBackend {
	case SourceDrive:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY: %w", ErrMissing)
		}
		if c.DriveFolderID == "" {
			return fmt.Errorf("GOOGLE_DRIVE_FOLDER_ID: %w", ErrMissing)
		}
	case SourceS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET: %w", ErrMissing)
		}
	case SourceLocal:
		if c.LocalSourcePath == "" {
			return fmt.Errorf("LOCAL_SOURCE_PATH: %w", ErrMissing)
		}
	default:
		return fmt.Errorf("unknown SOURCE_BACKEND %q", c.SourceBackend)
	}

	if c.MirrorRoot == "" {
		return fmt.Errorf("MIRROR_ROOT: %w", ErrMissing)
	}
	if c.ManifestPath == "" {
		return fmt.Errorf("MANIFEST_PATH: %w", ErrMissing)
	}
	if within(c.ManifestPath, c.MirrorRoot) {
		return fmt.Errorf("MANIFEST_PATH %s must not be inside MIRROR_ROOT %s", c.ManifestPath, c.MirrorRoot)
	}
	if c.PreviewRoot != "" && (within(c.PreviewRoot, c.MirrorRoot) || within(c.MirrorRoot, c.PreviewRoot)) {
		return fmt.Errorf("PREVIEW_ROOT %s and MIRROR_ROOT %s must not overlap", c.PreviewRoot, c.MirrorRoot)
	}
	if c.PreviewRoot != "" && within(c.ManifestPath, c.PreviewRoot) {
		return fmt.Errorf("MANIFEST_PATH %s must not be inside PREVIEW_ROOT %s", c.ManifestPath, c.PreviewRoot)
	}
	if c.SortOrder != "newest" && c.SortOrder != "oldest" {
		return fmt.Errorf("SORT_ORDER must be newest or oldest, got %q", c.SortOrder)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return nil
}

// RootID returns the identifier of the remote root folder for the selected
// source.
func (c *Config) RootID() string {
	switch c.SourceBackend {
	case SourceS3:
		return c.S3Prefix
	case SourceLocal:
		return ""
	default:
		return c.DriveFolderID
	}
}

// within reports whether path is dir or lies below it. Both are resolved
// against the working directory first.
func within(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
