package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"skymosaic/internal/fetch"
)

const (
	defaultConfigPath = "~/.config/skymosaic/config.json"
	defaultOrder      = 8
	defaultCropSize   = 1200
)

// Config holds user-editable settings for mosaic assembly.
type Config struct {
	Mosaic  Mosaic         `json:"mosaic"`
	Fetch   Fetch          `json:"fetch"`
	Cache   CacheConfig    `json:"cache"`
	Logging Logging        `json:"logging"`
	Paths   Paths          `json:"paths"`
	Server  Server         `json:"server"`
	Surveys []fetch.Survey `json:"surveys"`
}

// Mosaic captures assembly preferences.
type Mosaic struct {
	Order         int    `json:"order"`
	CropSize      int    `json:"crop_size"`
	DefaultSurvey string `json:"default_survey"`
	Annotate      bool   `json:"annotate"`
}

// Fetch controls the tile downloader.
type Fetch struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// CacheConfig controls the tile cache.
type CacheConfig struct {
	Dir         string `json:"dir"`
	MaxAgeHours int    `json:"max_age_hours"` // 0 disables age-based eviction
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	OutputDir    string `json:"output_dir"`
	DatabasePath string `json:"database_path"`
	WatchDir     string `json:"watch_dir"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The config file location can be overridden with SKYMOSAIC_CONFIG.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("SKYMOSAIC_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Surveys) == 0 {
		cfg.Surveys = fetch.DefaultSurveys()
	}
	return cfg, nil
}

func defaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".local", "share", "skymosaic")

	return &Config{
		Mosaic: Mosaic{
			Order:         defaultOrder,
			CropSize:      defaultCropSize,
			DefaultSurvey: "DSS2 Color",
			Annotate:      true,
		},
		Fetch: Fetch{
			TimeoutSeconds: 15,
		},
		Cache: CacheConfig{
			Dir:         filepath.Join(base, "cache"),
			MaxAgeHours: 0,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			OutputDir:    "./output",
			DatabasePath: filepath.Join(base, "skymosaic.db"),
			WatchDir:     "./targets",
		},
		Server: Server{
			Addr: ":8480",
		},
		Surveys: fetch.DefaultSurveys(),
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
