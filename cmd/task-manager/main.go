package main

import (
	"context"
	stdlog "log"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"automation-engine-service/internal/task-manager/api"
	"automation-engine-service/internal/task-manager/config"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/events"
	"automation-engine-service/internal/task-manager/generator"
	"automation-engine-service/internal/task-manager/health"
	tmKafka "automation-engine-service/internal/task-manager/kafka"
	"automation-engine-service/internal/task-manager/runner"
	"automation-engine-service/internal/task-manager/services"
	"automation-engine-service/internal/task-manager/store"
	gorm_db "automation-engine-service/pkg/db"
)

func main() {
	stdlog.Println("Task Manager Service starting...")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		stdlog.Printf("Warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	gormDB, err := gorm_db.NewGormDB(gorm_db.Config{Type: cfg.DBType, DSN: cfg.DBDSN})
	if err != nil {
		stdlog.Fatalf("Failed to initialize database: %v", err)
	}
	if err := gorm_db.AutoMigrate(gormDB, &taskDB.Task{}, &taskDB.ScheduledTask{}); err != nil {
		stdlog.Fatalf("Failed to migrate database: %v", err)
	}

	tasks := store.NewGormTaskStore(gormDB)
	entries := store.NewGormScheduledTaskStore(gormDB)

	gen, err := generator.NewGeminiClient(generator.GeminiConfig{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeminiModel,
		BaseURL:       cfg.GeminiBaseURL,
		Timeout:       cfg.GeneratorTimeout,
		RatePerMinute: cfg.GeneratorRatePerMinute,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create script generator: %v", err)
	}
	if cfg.GeminiAPIKey == "" {
		hlog.Warnf("GEMINI_API_KEY is not set, script generation requests will fail")
	}

	runnerClient, err := runner.NewHTTPClient(cfg.RunnerURL)
	if err != nil {
		stdlog.Fatalf("Failed to create runner client: %v", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	kafkaProducer := tmKafka.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	if kafkaProducer != nil {
		publisher = events.NewKafkaPublisher(kafkaProducer)
	}

	schedulerService, err := services.NewSchedulerService(appCtx, entries, runnerClient, publisher, services.SchedulerConfig{
		ScanInterval:      cfg.ScanInterval,
		ExecutionTimeout:  cfg.ExecutionTimeout,
		StaleRunningGrace: cfg.StaleRunningGrace,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create scheduler service: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		stdlog.Fatalf("Failed to start scheduler service: %v", err)
	}
	automation := services.NewAutomationService(tasks, entries, gen, schedulerService, cfg.ExpectedRunDuration)

	var healthServer *health.Server
	if cfg.GRPCAddr != "" {
		healthServer, err = health.Listen(cfg.GRPCAddr)
		if err != nil {
			stdlog.Fatalf("Failed to start health server: %v", err)
		}
		go healthServer.Serve()
		healthServer.SetServing(true)
	}

	h := server.Default(server.WithHostPorts(cfg.ServerAddr), server.WithExitWaitTime(5*time.Second))
	api.Register(h.Engine, api.NewTaskHandler(tasks, automation), api.NewScheduleHandler(automation), cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		hlog.Warnf("JWT_SECRET is not set, trusting the X-User-ID header for caller identity")
	}

	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		if healthServer != nil {
			healthServer.SetServing(false)
		}
	})

	hlog.Infof("Task Manager Service fully initialized and starting Hertz server on %s...", cfg.ServerAddr)
	// Spin returns after the server has stopped on SIGINT/SIGTERM.
	h.Spin()
	hlog.Info("Hertz server stopped, draining scheduler...")

	drain(schedulerService, kafkaProducer, healthServer)
	appCancel()
	stdlog.Println("Task Manager Service has been shut down.")
}

// drain stops the scheduler, waiting until every in-flight run has written
// its terminal status, then closes the event producer and the health server.
func drain(scheduler *services.SchedulerService, producer *kafka.Writer, healthServer *health.Server) {
	scheduler.Stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			hlog.Errorf("Kafka producer close error: %v", err)
		} else {
			hlog.Info("Kafka producer closed.")
		}
	}
	if healthServer != nil {
		healthServer.Stop()
	}
}
