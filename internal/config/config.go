// Package config loads client configuration from an optional YAML file and
// the environment. Environment variables win over file values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Backend endpoints
	APIBaseURL string
	WSBaseURL  string // derived from APIBaseURL when empty

	// Timing
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors the YAML config file layout.
type fileConfig struct {
	APIURL            string `yaml:"api_url"`
	WSURL             string `yaml:"ws_url"`
	RequestTimeout    string `yaml:"request_timeout"`
	PollInterval      string `yaml:"poll_interval"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	LogFile           string `yaml:"log_file"`
	LogLevel          string `yaml:"log_level"`
}

// Load reads the optional config file, then applies environment overrides.
func Load() Config {
	cfg := Config{
		APIBaseURL:        "http://localhost:8000",
		RequestTimeout:    30 * time.Second,
		PollInterval:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		LogFile:           "/tmp/roadmapctl.log",
		LogLevel:          slog.LevelInfo,
	}

	if fc, err := loadFile(configPath()); err == nil && fc != nil {
		applyFile(&cfg, fc)
	}

	cfg.APIBaseURL = getEnv("ROADMAP_API_URL", cfg.APIBaseURL)
	cfg.WSBaseURL = getEnv("ROADMAP_WS_URL", cfg.WSBaseURL)
	cfg.RequestTimeout = getEnvDuration("ROADMAP_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.PollInterval = getEnvDuration("ROADMAP_POLL_INTERVAL", cfg.PollInterval)
	cfg.HeartbeatInterval = getEnvDuration("ROADMAP_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.LogFile = getEnv("ROADMAP_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("ROADMAP_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = ParseLogLevel(lvl)
	}

	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = DeriveWSURL(cfg.APIBaseURL)
	}
	return cfg
}

// DeriveWSURL converts an HTTP base URL into the matching websocket URL.
func DeriveWSURL(apiURL string) string {
	ws := strings.Replace(apiURL, "http://", "ws://", 1)
	return strings.Replace(ws, "https://", "wss://", 1)
}

// configPath returns $ROADMAP_CONFIG or the default per-user location.
func configPath() string {
	if p := os.Getenv("ROADMAP_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "roadmapctl", "config.yaml")
}

func loadFile(path string) (*fileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.APIURL != "" {
		cfg.APIBaseURL = fc.APIURL
	}
	if fc.WSURL != "" {
		cfg.WSBaseURL = fc.WSURL
	}
	if fc.RequestTimeout != "" {
		if d, err := time.ParseDuration(fc.RequestTimeout); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if fc.PollInterval != "" {
		if d, err := time.ParseDuration(fc.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}
	if fc.HeartbeatInterval != "" {
		if d, err := time.ParseDuration(fc.HeartbeatInterval); err == nil {
			cfg.HeartbeatInterval = d
		}
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = ParseLogLevel(fc.LogLevel)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
