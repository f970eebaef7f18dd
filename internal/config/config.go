package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration for timegrid, stored in
// ~/.timegrid/config.json. The file supports single-line // comments for
// documentation purposes. Credentials never appear here; they are forwarded
// per request by the caller.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Tracker  TrackerConfig  `json:"tracker"`
	BIExport BIExportConfig `json:"biexport"`
	Calendar CalendarConfig `json:"calendar"`
	Pipeline PipelineConfig `json:"pipeline"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// Listen is the address the API binds to, e.g. ":8099".
	Listen string `json:"listen"`
}

// TrackerConfig holds the issue-tracker REST settings.
type TrackerConfig struct {
	// BaseURL is the tracker's REST root, e.g. "https://tracker.example.com".
	BaseURL string `json:"base_url"`
}

// BIExportConfig holds the BI export tool settings.
type BIExportConfig struct {
	// BaseURL is the export tool's query endpoint root.
	BaseURL string `json:"base_url"`
	// TokenURL is the OAuth2 token endpoint used with the per-request user
	// credentials (resource-owner password grant; nothing is stored).
	TokenURL string `json:"token_url"`
	// ClientID identifies this application at the token endpoint.
	ClientID string `json:"client_id"`
	// System selects which backing ticketing system queries target. It is
	// also appended to aggregation cache keys so per-system views do not
	// collide.
	System string `json:"system"`
}

// CalendarConfig holds the mail/calendar export settings.
type CalendarConfig struct {
	// Transport selects how events are fetched: "exec" runs the export
	// helper program, "ics" fetches an ICS URL.
	Transport string `json:"transport"`
	// Command is the export helper executable (exec transport).
	Command string `json:"command"`
	// Server is the mail server hostname passed to the helper.
	Server string `json:"server"`
	// ICSURL is the calendar export URL (ics transport). The placeholder
	// {user} is replaced with the requesting user's login.
	ICSURL string `json:"ics_url"`
}

// PipelineConfig tunes entry normalization.
type PipelineConfig struct {
	// Timezone is the IANA timezone entries are anchored in. Empty = UTC.
	Timezone string `json:"timezone"`
	// DayStartHour anchors entries that carry no start time (default 8).
	DayStartHour int `json:"day_start_hour"`
	// MinBillableMinutes is the consolidation/rounding threshold (default 15).
	MinBillableMinutes int `json:"min_billable_minutes"`
	// CacheTTLSeconds bounds how long aggregated days are served from cache
	// (default 600).
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

const (
	DefaultListen             = ":8099"
	DefaultDayStartHour       = 8
	DefaultMinBillableMinutes = 15
	DefaultCacheTTLSeconds    = 600
)

// defaultConfig returns a Config pre-filled with sensible defaults.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{Listen: DefaultListen},
		Calendar: CalendarConfig{
			Transport: "exec",
			Command:   "calendar-exchange",
		},
		Pipeline: PipelineConfig{
			DayStartHour:       DefaultDayStartHour,
			MinBillableMinutes: DefaultMinBillableMinutes,
			CacheTTLSeconds:    DefaultCacheTTLSeconds,
		},
		LogLevel: "info",
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON
// parsing, allowing human-readable documentation inside the file.
const configTemplate = `// timegrid configuration – ~/.timegrid/config.json
//
// Endpoints for the aggregated sources. User credentials are never stored
// here; the API forwards them per request.
{
  "server": {
    // Address the HTTP API listens on.
    "listen": ":8099"
  },

  // ── Issue tracker (worklogs) ─────────────────────────────────────────────
  "tracker": {
    // REST root of the tracker, e.g. "https://tracker.example.com".
    "base_url": ""
  },

  // ── BI export tool (ticketing systems) ───────────────────────────────────
  "biexport": {
    "base_url": "",
    // OAuth2 token endpoint; the user's login/password are exchanged per
    // request (password grant) and never persisted.
    "token_url": "",
    "client_id": "timegrid",
    // Backing ticketing system to query, e.g. "jira" or "otrs".
    "system": ""
  },

  // ── Mail/calendar server export ──────────────────────────────────────────
  "calendar": {
    // "exec" runs the export helper; "ics" fetches the ics_url.
    "transport": "exec",
    "command": "calendar-exchange",
    "server": "",
    // Used by the ics transport; {user} is replaced with the login.
    "ics_url": ""
  },

  "pipeline": {
    // IANA timezone for anchoring entries, e.g. "Europe/Paris". Empty = UTC.
    "timezone": "",
    "day_start_hour": 8,
    "min_billable_minutes": 15,
    "cache_ttl_seconds": 600
  },

  "log_level": "info"
}
`

// defaultPath returns the path to ~/.timegrid/config.json.
func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".timegrid", "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not
// stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the config file at path (or ~/.timegrid/config.json when path
// is empty), creating it with annotated defaults on first run. Lines
// starting with // are treated as comments and stripped before JSON parsing.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := defaultPath()
		if err != nil {
			return defaultConfig(), err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cleaned := stripLineComments(data)
	var cfg Config
	if err := json.Unmarshal(cleaned, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}

	// Fill zero-value fields with built-in defaults so callers always get
	// a usable Config even if the user only partially fills in the file.
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Calendar.Transport == "" {
		cfg.Calendar.Transport = "exec"
	}
	if cfg.Pipeline.DayStartHour == 0 {
		cfg.Pipeline.DayStartHour = DefaultDayStartHour
	}
	if cfg.Pipeline.MinBillableMinutes == 0 {
		cfg.Pipeline.MinBillableMinutes = DefaultMinBillableMinutes
	}
	if cfg.Pipeline.CacheTTLSeconds == 0 {
		cfg.Pipeline.CacheTTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
