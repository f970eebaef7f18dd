package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ttg-tools/timegrid/internal/config"
)

func TestLoadMissingFileWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != config.DefaultListen {
		t.Errorf("Listen = %q, want default", cfg.Server.Listen)
	}
	if cfg.Pipeline.MinBillableMinutes != 15 {
		t.Errorf("MinBillableMinutes = %d, want 15", cfg.Pipeline.MinBillableMinutes)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected template written: %v", err)
	}

	// The written template itself must load cleanly.
	cfg2, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of written template: %v", err)
	}
	if cfg2.Calendar.Transport != "exec" {
		t.Errorf("Transport = %q, want exec", cfg2.Calendar.Transport)
	}
}

func TestLoadStripsCommentsAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `// a comment
{
  // another comment
  "tracker": {"base_url": "https://tracker.example.com"},
  "pipeline": {"timezone": "Europe/Paris"}
}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracker.BaseURL != "https://tracker.example.com" {
		t.Errorf("BaseURL = %q", cfg.Tracker.BaseURL)
	}
	if cfg.Pipeline.Timezone != "Europe/Paris" {
		t.Errorf("Timezone = %q", cfg.Pipeline.Timezone)
	}
	if cfg.Pipeline.DayStartHour != 8 {
		t.Errorf("DayStartHour = %d, want backfilled 8", cfg.Pipeline.DayStartHour)
	}
	if cfg.Pipeline.CacheTTLSeconds != 600 {
		t.Errorf("CacheTTLSeconds = %d, want backfilled 600", cfg.Pipeline.CacheTTLSeconds)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
