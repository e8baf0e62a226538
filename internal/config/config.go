package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Foursquare FoursquareConfig `yaml:"foursquare"`
	Import     ImportConfig     `yaml:"import"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FoursquareConfig configures the check-in API client.
type FoursquareConfig struct {
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
	PageSize   int    `yaml:"page_size"`
}

// ImportConfig configures normalization.
type ImportConfig struct {
	// NullColumns is "always" or "omit".
	NullColumns string `yaml:"null_columns"`
}

// ScheduleConfig configures the sync interval.
type ScheduleConfig struct {
	SyncInterval string `yaml:"sync_interval"`
}

// ParseSyncInterval returns the sync interval as time.Duration.
func (s ScheduleConfig) ParseSyncInterval() time.Duration {
	d, err := time.ParseDuration(s.SyncInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./swarm.db"},
		Foursquare: FoursquareConfig{
			BaseURL:    "https://api.foursquare.com/v2",
			APIVersion: "20190101",
			PageSize:   250,
		},
		Import:   ImportConfig{NullColumns: "always"},
		Schedule: ScheduleConfig{SyncInterval: "1h"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWARM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FOURSQUARE_TOKEN"); v != "" {
		cfg.Foursquare.Token = v
	}
	if v := os.Getenv("SWARM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
