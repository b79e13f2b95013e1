// Package config provides configuration management for hemoscan.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkerPort is the default port for the worker HTTP API.
	DefaultWorkerPort = 38215

	// DefaultQualityThreshold is the minimum quality score below which a
	// selection requires explicit low-quality confirmation.
	DefaultQualityThreshold = 60

	// DefaultAssessTimeout bounds a single quality assessment call.
	DefaultAssessTimeout = 10 * time.Second

	// DefaultAnalysisTimeout bounds a single Analysis Service call.
	DefaultAnalysisTimeout = 60 * time.Second
)

// Config holds runtime settings, loaded from the YAML settings file with
// environment overrides applied on top.
type Config struct {
	WorkerPort       int           `yaml:"worker_port"`
	DatabaseURL      string        `yaml:"database_url"` // postgres DSN; empty selects device-local SQLite
	MaxConns         int           `yaml:"max_conns"`
	CaptureDir       string        `yaml:"capture_dir"`
	AnalysisURL      string        `yaml:"analysis_url"` // empty selects the built-in simulator
	QualityThreshold int           `yaml:"quality_threshold"`
	AssessTimeout    time.Duration `yaml:"assess_timeout"`
	AnalysisTimeout  time.Duration `yaml:"analysis_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerPort:       DefaultWorkerPort,
		MaxConns:         4,
		CaptureDir:       filepath.Join(DataDir(), "captures"),
		QualityThreshold: DefaultQualityThreshold,
		AssessTimeout:    DefaultAssessTimeout,
		AnalysisTimeout:  DefaultAnalysisTimeout,
	}
}

// DataDir returns the hemoscan data directory (~/.hemoscan).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".hemoscan")
}

// DBPath returns the device-local SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "hemoscan.db")
}

// SettingsPath returns the YAML settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// SessionBlobPath returns the path of the sealed session blob.
func SessionBlobPath() string {
	return filepath.Join(DataDir(), "session.bin")
}

// EnsureDataDir creates the data directory and capture directory if missing.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.MkdirAll(filepath.Join(DataDir(), "captures"), 0o700)
}

// Load reads the settings file and applies environment overrides.
// A missing settings file is not an error; defaults are used.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.WorkerPort <= 0 {
		cfg.WorkerPort = DefaultWorkerPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.QualityThreshold <= 0 || cfg.QualityThreshold > 100 {
		cfg.QualityThreshold = DefaultQualityThreshold
	}
	if cfg.AssessTimeout <= 0 {
		cfg.AssessTimeout = DefaultAssessTimeout
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = filepath.Join(DataDir(), "captures")
	}

	return cfg, nil
}

// applyEnvOverrides overlays HEMOSCAN_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEMOSCAN_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.WorkerPort = port
		}
	}
	if v := os.Getenv("HEMOSCAN_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("HEMOSCAN_CAPTURE_DIR"); v != "" {
		cfg.CaptureDir = v
	}
	if v := os.Getenv("HEMOSCAN_ANALYSIS_URL"); v != "" {
		cfg.AnalysisURL = v
	}
	if v := os.Getenv("HEMOSCAN_QUALITY_THRESHOLD"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 && t <= 100 {
			cfg.QualityThreshold = t
		}
	}
}

// Save writes the configuration back to the settings file.
func Save(cfg *Config) error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(SettingsPath(), data, 0o600)
}
