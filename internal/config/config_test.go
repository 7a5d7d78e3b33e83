package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads so the host environment cannot leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "PG_DSN", "PGDATABASE", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGSSLMODE",
		"CONFIG_FILE", "CHANNEL_BACKEND", "NATS_URL", "NATS_STREAM_NAME", "NATS_DURABLE_PREFIX", "NATS_MAX_DELIVER",
		"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DATABASE", "BREADCRUMB_SUBJECT", "STOP_EVENT_SUBJECT",
		"DRAIN_IDLE_TIMEOUT_SEC", "PUBLISH_MAX_PENDING", "SPOOL_DIR", "VEHICLE_IDS_FILE", "BREADCRUMB_URL",
		"STOP_EVENT_URL", "HTTP_TIMEOUT_SEC", "TRIP_TABLE", "BREADCRUMB_TABLE", "STOP_EVENT_TABLE",
		"METRICS_ADDR", "LOG_FORMAT", "LOG_LEVEL", "TZ",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u@localhost/trimet")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.ChannelBackend)
	assert.Equal(t, "trimet.breadcrumbs", cfg.BreadcrumbSubject)
	assert.Equal(t, 60*time.Second, cfg.DrainIdleTimeout)
	assert.Equal(t, "trip", cfg.TripTable)
	assert.Equal(t, "stop_events", cfg.StopEventTable)
}

func TestLoadMissingDatabase(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingDatabase)
}

func TestLoadBuildsDSNFromPGVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGDATABASE", "trimet")
	t.Setenv("PGUSER", "etl")
	t.Setenv("PGPASSWORD", "p@ss")
	t.Setenv("PGHOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://etl:p%40ss@db:5432/trimet?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
databaseURL: postgres://file@localhost/trimet
tripTable: file_trip
breadcrumbTable: file_breadcrumb
channelBackend: redis
drainIdleTimeoutSec: 5
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TRIP_TABLE", "env_trip")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file@localhost/trimet", cfg.DatabaseURL)
	assert.Equal(t, "env_trip", cfg.TripTable)
	assert.Equal(t, "file_breadcrumb", cfg.BreadcrumbTable)
	assert.Equal(t, "redis", cfg.ChannelBackend)
	assert.Equal(t, 5*time.Second, cfg.DrainIdleTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"backend":     {"CHANNEL_BACKEND", "kafka"},
		"idle":        {"DRAIN_IDLE_TIMEOUT_SEC", "0"},
		"max pending": {"PUBLISH_MAX_PENDING", "zero"},
		"log format":  {"LOG_FORMAT", "xml"},
		"tz":          {"TZ", "Mars/Olympus"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "postgres://u@localhost/trimet")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRequireVehicleIDs(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.RequireVehicleIDs(), ErrMissingVehicleIDs)

	cfg.VehicleIDsFile = filepath.Join(t.TempDir(), "missing.csv")
	assert.ErrorIs(t, cfg.RequireVehicleIDs(), ErrMissingVehicleIDs)

	path := filepath.Join(t.TempDir(), "vehicle_ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("3401\n"), 0o644))
	cfg.VehicleIDsFile = path
	assert.NoError(t, cfg.RequireVehicleIDs())
}
