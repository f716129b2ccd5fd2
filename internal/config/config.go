package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `yaml:"addr"`
	// DatabasePath points at the sqlite file backing session records.
	DatabasePath string `yaml:"database_path"`
	// MasterSecret signs API tokens.
	MasterSecret   string   `yaml:"master_secret"`
	Debug          bool     `yaml:"debug"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StorageRoot is the directory holding one credential folder per session.
	StorageRoot string `yaml:"storage_root"`
	// DefaultWebhookURL receives event deliveries for sessions without a
	// session-specific target.
	DefaultWebhookURL string `yaml:"default_webhook_url"`
	// EnabledEvents lists the event categories forwarded to sinks. Resolved
	// once per session at setup time.
	EnabledEvents []string `yaml:"enabled_events"`

	// BrowserPath optionally overrides the Chromium executable.
	BrowserPath string `yaml:"browser_path"`
	// BrowserArgs are extra flags passed to the browser process.
	BrowserArgs []string `yaml:"browser_args"`
	Headless    bool     `yaml:"headless"`

	// ReleaseStaleLock removes a leftover browser singleton lock before the
	// first initialization of a session.
	ReleaseStaleLock bool `yaml:"release_stale_lock"`
	// RecoverOnCrash re-runs setup when a registered session's browser
	// surface terminates abnormally.
	RecoverOnCrash bool `yaml:"recover_on_crash"`

	// MarkSeen sends a delayed read acknowledgment for inbound messages.
	MarkSeen bool `yaml:"mark_seen"`
	// AttachmentMaxBytes caps inbound attachment fetches; zero disables them.
	AttachmentMaxBytes int64 `yaml:"attachment_max_bytes"`
}

// Overrides optionally overrides values from the environment.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr              *string
	DatabasePath      *string
	MasterSecret      *string
	StorageRoot       *string
	DefaultWebhookURL *string
	Debug             *bool
}

// Load loads configuration from an optional YAML file (WAGATE_CONFIG),
// environment variables, and explicit overrides, in increasing precedence.
func Load(overrides Overrides) (*Config, error) {
	cfg := &Config{
		Addr:               ":3010",
		DatabasePath:       "./wagate.db",
		AllowedOrigins:     []string{"*"},
		StorageRoot:        "./sessions",
		EnabledEvents:      []string{"qr", "ready", "authenticated", "disconnected", "message"},
		Headless:           true,
		ReleaseStaleLock:   true,
		RecoverOnCrash:     true,
		AttachmentMaxBytes: 10 << 20,
	}

	if path := os.Getenv("WAGATE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("WAGATE_MASTER_SECRET"); v != "" {
		cfg.MasterSecret = v
	}
	if v := os.Getenv("WAGATE_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("WAGATE_WEBHOOK_URL"); v != "" {
		cfg.DefaultWebhookURL = v
	}
	if v := os.Getenv("WAGATE_ENABLED_EVENTS"); v != "" {
		cfg.EnabledEvents = splitList(v)
	}
	if v := os.Getenv("WAGATE_BROWSER_PATH"); v != "" {
		cfg.BrowserPath = v
	}
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v, ok := boolEnv("WAGATE_RELEASE_STALE_LOCK"); ok {
		cfg.ReleaseStaleLock = v
	}
	if v, ok := boolEnv("WAGATE_RECOVER_ON_CRASH"); ok {
		cfg.RecoverOnCrash = v
	}
	if v, ok := boolEnv("WAGATE_MARK_SEEN"); ok {
		cfg.MarkSeen = v
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.MasterSecret != nil {
		cfg.MasterSecret = *overrides.MasterSecret
	}
	if overrides.StorageRoot != nil {
		cfg.StorageRoot = *overrides.StorageRoot
	}
	if overrides.DefaultWebhookURL != nil {
		cfg.DefaultWebhookURL = *overrides.DefaultWebhookURL
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}

	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("WAGATE_MASTER_SECRET environment variable is required")
	}

	return cfg, nil
}

func boolEnv(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	return v == "true" || v == "1", true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
