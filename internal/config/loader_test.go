package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps discovery away from the developer's real config files.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	SetConfigFile("")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.Equal(t, BackendMemory, cfg.ResolvedBackend())
		assert.NotEmpty(t, cfg.Backend.DataDir)
		assert.Equal(t, "mysql", cfg.BoincDB.Driver)
		assert.Equal(t, "127.0.0.1", cfg.BoincDB.Host)
		assert.Equal(t, 3306, cfg.BoincDB.Port)
		assert.Equal(t, "boinc", cfg.BoincDB.User)
		assert.Equal(t, "boinc", cfg.BoincDB.Database)
		assert.Equal(t, 10*time.Second, cfg.BoincDB.QueryTimeout)

		assert.Equal(t, 2000, cfg.Limits.ListChunks)
		assert.Equal(t, 20000, cfg.Limits.JobChunks)
		assert.Equal(t, 2000, cfg.Limits.Hosts)
		assert.Equal(t, TracingNone, cfg.Tracing.Exporter)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("BATCHLENS_PORT", "3000")
		t.Setenv("BATCHLENS_LOG_LEVEL", "warn")
		t.Setenv("BATCHLENS_RATELIMIT_ENABLED", "true")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.True(t, cfg.RateLimit.Enabled)
	})

	t.Run("LegacyEnv", func(t *testing.T) {
		isolate(t)
		t.Setenv("AI_GENIE_PORT", "8181")
		t.Setenv("BOINC_DB_ENABLED", "yes")
		t.Setenv("BOINC_DB_HOST", "db.internal")
		t.Setenv("BOINC_DB_PASS", "s3cret")
		t.Setenv("BOINC_DB_NAME", "project")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 8181, cfg.Server.Port)
		assert.True(t, cfg.BoincDB.Enabled)
		assert.Equal(t, BackendBoincDB, cfg.ResolvedBackend())
		assert.Equal(t, "db.internal", cfg.BoincDB.Host)
		assert.Equal(t, "s3cret", cfg.BoincDB.Password)
		assert.Equal(t, "project", cfg.BoincDB.Database)
	})

	t.Run("PrefixedEnvBeatsLegacy", func(t *testing.T) {
		isolate(t)
		t.Setenv("AI_GENIE_PORT", "8181")
		t.Setenv("BATCHLENS_PORT", "8282")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8282, cfg.Server.Port)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("BATCHLENS_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile("batchlens.yaml", []byte(`
server:
  port: 7070
backend:
  kind: boincdb
boincdb:
  driver: sqlite
  path: /tmp/snapshot.db
  query_timeout: 3s
`), 0o600))
		t.Setenv("BATCHLENS_PORT", "7171")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7171, cfg.Server.Port, "env beats file")
		assert.Equal(t, BackendBoincDB, cfg.ResolvedBackend())
		assert.Equal(t, "sqlite", cfg.BoincDB.Driver)
		assert.Equal(t, "/tmp/snapshot.db", cfg.BoincDB.Path)
		assert.Equal(t, 3*time.Second, cfg.BoincDB.QueryTimeout)
	})

	t.Run("ExplicitConfigFileMissing", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		overrides map[string]any
		contains  string
	}{
		{"backend", map[string]any{"backend": map[string]any{"kind": "postgres"}}, "backend.kind"},
		{"driver", map[string]any{"boincdb": map[string]any{"driver": "oracle"}}, "boincdb.driver"},
		{"profile", map[string]any{"logging": map[string]any{"profile": "pretty"}}, "logging.profile"},
		{"exporter", map[string]any{"tracing": map[string]any{"exporter": "jaeger"}}, "tracing.exporter"},
		{"rps", map[string]any{"ratelimit": map[string]any{"enabled": true, "rps": 0}}, "ratelimit.rps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLimitsAreClamped(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{
		"limits": map[string]any{"list_chunks": 0, "job_chunks": 999999, "hosts": -5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Limits.ListChunks)
	assert.Equal(t, 50000, cfg.Limits.JobChunks)
	assert.Equal(t, 1, cfg.Limits.Hosts)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": initialPort + 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("BATCHLENS_READ_TIMEOUT", "45s")
	t.Setenv("BATCHLENS_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Name] = true
		assert.Contains(t, spec.Name, "BATCHLENS_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
	assert.True(t, names["BATCHLENS_LOG_LEVEL"])
	assert.True(t, names["BATCHLENS_PORT"])
	assert.True(t, names["BATCHLENS_HOST"])
	assert.True(t, names["BATCHLENS_DB_ENABLED"])
}

func TestNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		isolate(t)
		_, _ = Load(context.Background())
	}()

	assert.Empty(t, getEnvSpecs())
	assert.Empty(t, getUserConfigPaths())
	assert.Nil(t, GetConfig())
}

var (
	reflectString = reflect.TypeOf("")
	reflectBool   = reflect.TypeOf(true)
)

func TestFlagHook(t *testing.T) {
	hook := flagHookFunc()
	for _, in := range []string{"1", "yes", "ON", " true "} {
		out, err := hook(reflectString, reflectBool, in)
		require.NoError(t, err)
		assert.Equal(t, true, out, in)
	}
	for _, in := range []string{"0", "no", "off", ""} {
		out, err := hook(reflectString, reflectBool, in)
		require.NoError(t, err)
		assert.Equal(t, false, out, in)
	}
	out, err := hook(reflectString, reflectBool, "maybe")
	require.NoError(t, err)
	assert.Equal(t, "maybe", out)
}
