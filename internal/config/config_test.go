package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("SKYMOSAIC_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mosaic.Order != 8 || cfg.Mosaic.CropSize != 1200 {
		t.Fatalf("unexpected mosaic defaults: %+v", cfg.Mosaic)
	}
	if cfg.Mosaic.DefaultSurvey != "DSS2 Color" {
		t.Fatalf("default survey %q", cfg.Mosaic.DefaultSurvey)
	}
	if cfg.Fetch.TimeoutSeconds != 15 {
		t.Fatalf("default timeout %d", cfg.Fetch.TimeoutSeconds)
	}
	if len(cfg.Surveys) == 0 {
		t.Fatalf("no surveys in defaults")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"mosaic": {"order": 6, "crop_size": 600, "default_survey": "2MASS Color"},
		"fetch": {"timeout_seconds": 5}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SKYMOSAIC_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mosaic.Order != 6 || cfg.Mosaic.CropSize != 600 {
		t.Fatalf("file values not applied: %+v", cfg.Mosaic)
	}
	if cfg.Fetch.TimeoutSeconds != 5 {
		t.Fatalf("timeout not applied: %d", cfg.Fetch.TimeoutSeconds)
	}
	// Surveys absent from the file fall back to the built-in list.
	if len(cfg.Surveys) == 0 {
		t.Fatalf("surveys not defaulted")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SKYMOSAIC_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("malformed config accepted")
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := expandUser("~/.config/skymosaic/config.json")
	if err != nil {
		t.Fatalf("expandUser: %v", err)
	}
	if got != filepath.Join(home, ".config", "skymosaic", "config.json") {
		t.Fatalf("expandUser gave %q", got)
	}
	if got, _ := expandUser("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path rewritten: %q", got)
	}
}
