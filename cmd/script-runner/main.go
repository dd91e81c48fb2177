package main

import (
	stdlog "log"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"

	"automation-engine-service/internal/script-runner/api"
	"automation-engine-service/internal/script-runner/executors"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	stdlog.Println("Script Runner Service starting...")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		stdlog.Printf("Warning: could not load .env: %v", err)
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	addr := getEnv("RUNNER_ADDR", ":8890")
	defaultExecutor := getEnv("RUNNER_EXECUTOR", executors.ExecutorTypeNode)
	timeout, err := time.ParseDuration(getEnv("RUNNER_SCRIPT_TIMEOUT", executors.DefaultScriptTimeout.String()))
	if err != nil {
		stdlog.Fatalf("Invalid RUNNER_SCRIPT_TIMEOUT: %v", err)
	}

	registry := executors.NewDefaultRegistry(timeout)
	if _, err := registry.Get(defaultExecutor); err != nil {
		stdlog.Fatalf("Invalid RUNNER_EXECUTOR: %v", err)
	}

	h := server.Default(server.WithHostPorts(addr), server.WithExitWaitTime(5*time.Second))
	api.Register(h.Engine, api.NewExecuteHandler(registry, defaultExecutor))

	hlog.Infof("Script Runner listening on %s (default executor %s, script timeout %s)", addr, defaultExecutor, timeout)
	h.Spin()

	stdlog.Println("Script Runner Service has been shut down.")
}
