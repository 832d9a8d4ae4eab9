package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/config"
)

var keys = []string{
	"PORT", "DB_DRIVER", "DATABASE_URL", "TX_MAX_ATTEMPTS", "LOG_LEVEL", "LOG_FORMAT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "SWEEP_INTERVAL", "RESERVATION_TTL", "LOAN_PERIOD", "PROLONG_DAYS",
	"AUTH_RATE_LIMIT",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func Test_Load_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Empty(t, cfg.OTLPMetricsEndpoint)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 72*time.Hour, cfg.ReservationTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod)
	assert.Equal(t, 7, cfg.ProlongDays)
	assert.Equal(t, 5, cfg.AuthRateLimit)
}

func Test_Load_Reads_Env_File_Without_Overriding_Environment(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=9000\nSWEEP_INTERVAL=30s\nDB_DRIVER=sqlite3\n"), 0o600))
	t.Setenv("PORT", "9100")

	cfg, err := config.Load(file)

	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
}

func Test_Load_Reports_Every_Invalid_Variable(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWEEP_INTERVAL", "often")
	t.Setenv("PROLONG_DAYS", "0")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	require.Error(t, err)
	assert.ErrorContains(t, err, "SWEEP_INTERVAL")
	assert.ErrorContains(t, err, "PROLONG_DAYS")
	assert.ErrorContains(t, err, "LOG_FORMAT")
}
