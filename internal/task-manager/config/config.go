// Package config reads the task manager's settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"automation-engine-service/internal/task-manager/generator"
	taskKafka "automation-engine-service/internal/task-manager/kafka"
	"automation-engine-service/internal/task-manager/runner"
	"automation-engine-service/internal/task-manager/services"
)

const (
	DefaultServerAddr = ":8080"
	DefaultDBType     = "sqlite"
)

type Config struct {
	ServerAddr string
	GRPCAddr   string

	DBType string
	DBDSN  string

	GeminiAPIKey           string
	GeminiModel            string
	GeminiBaseURL          string
	GeneratorTimeout       time.Duration
	GeneratorRatePerMinute int

	RunnerURL           string
	ExecutionTimeout    time.Duration
	ExpectedRunDuration time.Duration
	ScanInterval        time.Duration
	StaleRunningGrace   time.Duration

	KafkaBrokers string
	EventsTopic  string

	JWTSecret string
}

// Load reads every setting, falling back to the package defaults for unset
// keys. Malformed durations and numbers are errors rather than silent defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:    getenv("SERVER_ADDR", DefaultServerAddr),
		GRPCAddr:      os.Getenv("GRPC_ADDR"),
		DBType:        getenv("DB_TYPE", DefaultDBType),
		DBDSN:         os.Getenv("DB_DSN"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getenv("GEMINI_MODEL", generator.DefaultGeminiModel),
		GeminiBaseURL: getenv("GEMINI_BASE_URL", generator.DefaultGeminiBaseURL),
		RunnerURL:     getenv("RUNNER_URL", runner.DefaultRunnerURL),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		EventsTopic:   getenv("EVENTS_TOPIC", taskKafka.DefaultEventsTopic),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"GENERATOR_TIMEOUT", generator.DefaultTimeout, &cfg.GeneratorTimeout},
		{"EXECUTION_TIMEOUT", services.DefaultExecutionTimeout, &cfg.ExecutionTimeout},
		{"EXPECTED_RUN_DURATION", services.DefaultExpectedRunDuration, &cfg.ExpectedRunDuration},
		{"SCAN_INTERVAL", services.DefaultScanInterval, &cfg.ScanInterval},
		{"STALE_RUNNING_GRACE", services.DefaultStaleRunningGrace, &cfg.StaleRunningGrace},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.GeneratorRatePerMinute, err = intEnv("GENERATOR_RATE_PER_MINUTE", generator.DefaultRatePerMinute); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 30s", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}
