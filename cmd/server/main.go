package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/api/routes"
	"scrapekit/internal/background"
	"scrapekit/internal/config"
	"scrapekit/internal/grpc/server"
	"scrapekit/internal/logging"
	"scrapekit/internal/mux"
	"scrapekit/internal/pipeline"
	"scrapekit/internal/workers"
)

func main() {
	configPath := os.Getenv("SCRAPEKIT_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseLogging()

	logger := logging.GetGlobalLogger()
	logger.Info("Starting scrapekit server", map[string]interface{}{
		"config": configPath,
	})

	components, err := pipeline.Build(cfg)
	if err != nil {
		logger.Fatal("Failed to build capture pipeline", map[string]interface{}{"error": err.Error()})
	}
	defer components.Close()

	// Initialize worker pool
	poolManager := workers.NewPoolManager(cfg.Workers, components.Runner)
	if err := poolManager.Initialize(); err != nil {
		logger.Fatal("Failed to start worker pool", map[string]interface{}{"error": err.Error()})
	}

	// Initialize background task manager
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	taskManager := background.NewTaskManager(cfg.Workers, poolManager)
	if err := taskManager.Start(ctx); err != nil {
		logger.Fatal("Failed to start task manager", map[string]interface{}{"error": err.Error()})
	}

	e := echo.New()
	e.HideBanner = true
	routes.SetupRoutes(e, cfg, poolManager, taskManager, components)

	grpcServer := server.NewServer(nil)
	go grpcServer.WatchHealth(ctx, 10*time.Second, map[string]server.Probe{
		server.ServiceWorkers: poolManager.IsHealthy,
		server.ServiceTasks:   taskManager.IsHealthy,
	})

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	multiplexer := mux.NewMultiplexer(cfg.Server, e, grpcServer)
	if err := multiplexer.Start(address); err != nil {
		logger.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...", map[string]interface{}{})
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the queues behind them
	if err := multiplexer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping multiplexer", map[string]interface{}{"error": err.Error()})
	}
	if err := taskManager.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping task manager", map[string]interface{}{"error": err.Error()})
	}
	if err := poolManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping worker pool", map[string]interface{}{"error": err.Error()})
	}

	for method, m := range grpcServer.Metrics() {
		logger.Info("gRPC method metrics summary", map[string]interface{}{
			"method":           method,
			"request_count":    m.RequestCount,
			"error_count":      m.ErrorCount,
			"average_duration": m.AverageDuration.String(),
		})
	}
	logger.Info("Server shutdown complete", map[string]interface{}{})
}
