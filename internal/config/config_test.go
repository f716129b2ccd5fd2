package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresMasterSecret(t *testing.T) {
	_, err := Load(Overrides{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "WAGATE_MASTER_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WAGATE_MASTER_SECRET", "secret")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":3010", cfg.Addr)
	require.Equal(t, "./sessions", cfg.StorageRoot)
	require.True(t, cfg.Headless)
	require.True(t, cfg.ReleaseStaleLock)
	require.True(t, cfg.RecoverOnCrash)
	require.False(t, cfg.MarkSeen)
	require.Equal(t, int64(10<<20), cfg.AttachmentMaxBytes)
	require.Contains(t, cfg.EnabledEvents, "qr")
}

func TestLoad_EnvironmentWinsOverDefaults(t *testing.T) {
	t.Setenv("WAGATE_MASTER_SECRET", "secret")
	t.Setenv("PORT", "4020")
	t.Setenv("WAGATE_STORAGE_ROOT", "/var/lib/wagate/sessions")
	t.Setenv("WAGATE_ENABLED_EVENTS", "message, message_ack")
	t.Setenv("WAGATE_RECOVER_ON_CRASH", "false")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":4020", cfg.Addr)
	require.Equal(t, "/var/lib/wagate/sessions", cfg.StorageRoot)
	require.Equal(t, []string{"message", "message_ack"}, cfg.EnabledEvents)
	require.False(t, cfg.RecoverOnCrash)
}

func TestLoad_YAMLFileThenEnvThenOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wagate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":5000"
master_secret: from-yaml
storage_root: /from/yaml
default_webhook_url: https://hooks.example.com/yaml
`), 0o644))
	t.Setenv("WAGATE_CONFIG", path)
	t.Setenv("WAGATE_STORAGE_ROOT", "/from/env")

	addr := ":6000"
	cfg, err := Load(Overrides{Addr: &addr})
	require.NoError(t, err)

	require.Equal(t, ":6000", cfg.Addr)
	require.Equal(t, "from-yaml", cfg.MasterSecret)
	require.Equal(t, "/from/env", cfg.StorageRoot)
	require.Equal(t, "https://hooks.example.com/yaml", cfg.DefaultWebhookURL)
}

func TestLoad_RejectsUnreadableConfigFile(t *testing.T) {
	t.Setenv("WAGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WAGATE_MASTER_SECRET", "secret")

	_, err := Load(Overrides{})
	require.Error(t, err)
}
