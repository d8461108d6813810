package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, "./public", cfg.HTTP.PublicDir)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, int64(500<<20), cfg.HTTP.MaxUploadBytes())

	assert.Equal(t, StoreFile, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join("data", "transcriptions"), filepath.Clean(cfg.Storage.RecordsDir()))
	assert.Equal(t, filepath.Join("data", "transcriptions.db"), filepath.Clean(cfg.Storage.DBPath()))

	assert.Equal(t, "python3", cfg.Engine.Command)
	assert.Equal(t, "script.py", cfg.Engine.Script)
	assert.Empty(t, cfg.Engine.Model)

	assert.Equal(t, DispatchLocal, cfg.Dispatch.Backend)
	assert.Equal(t, 0, cfg.Dispatch.WorkerCount)
	assert.Equal(t, "0 * * * *", cfg.Sweep.CronExpr)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.MaxAge)
	assert.True(t, cfg.Sweep.Enabled())
	assert.Equal(t, ModeAll, cfg.Mode)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("DATA_DIR", "/tmp/ts-data")
	t.Setenv("ENGINE_COMMAND", "/usr/bin/whisper-cli")
	t.Setenv("ENGINE_SCRIPT", "")
	t.Setenv("ENGINE_MODEL", "small")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("SWEEP_CRON", "")
	t.Setenv("SWEEP_MAX_AGE", "3600")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("UI_ENABLED", "false")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, StoreSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/ts-data/transcriptions.db", cfg.Storage.DBPath())
	assert.Equal(t, "/usr/bin/whisper-cli", cfg.Engine.Command)
	assert.Empty(t, cfg.Engine.Script)
	assert.Equal(t, "small", cfg.Engine.Model)
	assert.Equal(t, 4, cfg.Dispatch.WorkerCount)
	assert.False(t, cfg.Sweep.Enabled())
	assert.Equal(t, time.Hour, cfg.Sweep.MaxAge)
}

func TestNewFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "store backend", env: map[string]string{"STORE_BACKEND": "postgres"}},
		{name: "dispatch backend", env: map[string]string{"DISPATCH_BACKEND": "kafka"}},
		{name: "mode", env: map[string]string{"APP_MODE": "cli"}},
		{name: "api without queue", env: map[string]string{"APP_MODE": "api"}},
		{name: "worker with memory store", env: map[string]string{"APP_MODE": "worker", "DISPATCH_BACKEND": "asynq", "STORE_BACKEND": "memory"}},
		{name: "cron", env: map[string]string{"SWEEP_CRON": "every hour"}},
		{name: "workers", env: map[string]string{"WORKER_COUNT": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestNewFromEnv_WorkerMode(t *testing.T) {
	t.Setenv("APP_MODE", "worker")
	t.Setenv("DISPATCH_BACKEND", "asynq")
	t.Setenv("STORE_BACKEND", "redis")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeWorker, cfg.Mode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TS_DOTENV_VALUE=from-file\nTS_DOTENV_KEEP=from-file\n"), 0o600))

	t.Setenv("TS_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("TS_DOTENV_VALUE") })

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from-file", os.Getenv("TS_DOTENV_VALUE"))
	assert.Equal(t, "from-env", os.Getenv("TS_DOTENV_KEEP"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestRuntimeSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine_model":"medium","sweep_cron":"*/5 * * * *","sweep_max_age":"2h"}`), 0o600))

	settings, err := LoadRuntimeSettingsFile(path)
	require.NoError(t, err)

	cfg, err := NewFromEnv(WithRuntimeSettings(settings))
	require.NoError(t, err)
	assert.Equal(t, "medium", cfg.Engine.Model)
	assert.Equal(t, "*/5 * * * *", cfg.Sweep.CronExpr)
	assert.Equal(t, 2*time.Hour, cfg.Sweep.MaxAge)
}

func TestRuntimeSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sweep_cron":"nope"}`), 0o600))
	_, err := LoadRuntimeSettingsFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = LoadRuntimeSettingsFile(path)
	assert.Error(t, err)
}
