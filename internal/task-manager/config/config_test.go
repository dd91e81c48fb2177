package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_ADDR", "DB_TYPE", "EXECUTION_TIMEOUT", "SCAN_INTERVAL", "GENERATOR_RATE_PER_MINUTE", "KAFKA_BROKERS", "EVENTS_TOPIC"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 5*time.Minute, cfg.ExecutionTimeout)
	assert.Equal(t, 5*time.Second, cfg.ScanInterval)
	assert.Equal(t, 15, cfg.GeneratorRatePerMinute)
	assert.Equal(t, "scheduled_task_events", cfg.EventsTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("EXECUTION_TIMEOUT", "90s")
	t.Setenv("EXPECTED_RUN_DURATION", "20s")
	t.Setenv("GENERATOR_RATE_PER_MINUTE", "60")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, 90*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, 20*time.Second, cfg.ExpectedRunDuration)
	assert.Equal(t, 60, cfg.GeneratorRatePerMinute)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "SCAN_INTERVAL")

	t.Setenv("SCAN_INTERVAL", "")
	t.Setenv("GENERATOR_RATE_PER_MINUTE", "-1")
	_, err = Load()
	assert.ErrorContains(t, err, "GENERATOR_RATE_PER_MINUTE")
}
