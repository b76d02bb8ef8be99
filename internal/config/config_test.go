package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "data/lendyield.db", cfg.Database.SQLitePath)
	assert.Equal(t, "0 * * * *", cfg.Schedule.HourCron)
	assert.Equal(t, 10.0, cfg.Safety.MaxAPY)
	assert.Equal(t, 5*time.Minute, cfg.Safety.CircuitResetDelay)
	assert.Zero(t, cfg.TicksPerYear, "annualization override defaults to unset")
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9000"
database:
  sqlite_path: /tmp/custom.db
ticks_per_year: 100
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	t.Setenv("PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port, "environment wins over file")
	assert.Equal(t, "/tmp/custom.db", cfg.Database.SQLitePath)
	assert.Equal(t, 100.0, cfg.TicksPerYear)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "1.5")
	t.Setenv("TEST_DURATION", "30s")
	t.Setenv("TEST_BROKEN", "not-a-number")

	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 0))
	assert.Equal(t, 1.5, GetEnvAsFloat("TEST_FLOAT", 0))
	assert.Equal(t, 30*time.Second, GetEnvAsDuration("TEST_DURATION", 0))
	assert.Equal(t, 7, GetEnvAsInt("TEST_BROKEN", 7), "unparseable values fall back to the default")
	assert.Equal(t, "fallback", GetEnvOrDefault("TEST_UNSET_KEY", "fallback"))
}
