package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"scrapekit/internal/api/handlers"
	"scrapekit/internal/api/middleware"
	"scrapekit/internal/background"
	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/internal/pipeline"
	"scrapekit/internal/workers"
)

// Long-running endpoints get the worker timeout instead of the server read timeout
var longRunningPrefixes = []string{
	"/api/v1/capture",
	"/api/v1/captcha/solve",
	"/api/v1/proxy/verify",
}

// pinger is implemented by stores backed by a remote service
type pinger interface {
	Ping(ctx context.Context) error
}

// readinessChecks probes every dependency the server was built with
func readinessChecks(poolManager *workers.PoolManager, taskManager *background.TaskManager, comps *pipeline.Components) handlers.Checks {
	checks := handlers.Checks{
		"workers": func(context.Context) error {
			if !poolManager.IsHealthy() {
				return errors.New("worker pool not running")
			}
			return nil
		},
		"tasks": func(context.Context) error {
			if !taskManager.IsHealthy() {
				return errors.New("task manager not running")
			}
			return nil
		},
		"logging": func(context.Context) error {
			if l, ok := logging.GetGlobalLogger().(*logging.MultiLogger); ok {
				return l.Health()
			}
			return nil
		},
	}

	if p, ok := comps.Store.(pinger); ok {
		checks["fingerprint_store"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return p.Ping(ctx)
		}
	}
	if comps.Exporter != nil {
		checks["spaces"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if !comps.Exporter.IsHealthy(ctx) {
				return errors.New("bucket unreachable")
			}
			return nil
		}
	}
	return checks
}

// SetupRoutes configures all API routes
func SetupRoutes(e *echo.Echo, cfg *config.Config, poolManager *workers.PoolManager, taskManager *background.TaskManager, comps *pipeline.Components) {
	// Global middleware
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSConfig())
	e.Use(middleware.RequestValidation())
	e.Use(middleware.SelectiveTimeoutConfig(cfg.Server.ReadTimeout, cfg.Workers.Timeout+30*time.Second, longRunningPrefixes...))

	checks := readinessChecks(poolManager, taskManager, comps)

	// Health check routes
	health := e.Group("/health")
	{
		health.GET("", handlers.HealthHandler)
		health.GET("/ready", handlers.ReadinessHandler(checks))
		health.GET("/live", handlers.LivenessHandler)
		health.GET("/workers", handlers.WorkerHealthHandler(poolManager))
	}

	// Status route
	e.GET("/status", handlers.StatusHandler(checks))

	// API v1 routes
	v1 := e.Group("/api/v1")
	{
		v1.POST("/capture", handlers.CaptureHandler(poolManager))

		tasks := v1.Group("/tasks")
		{
			tasks.POST("/capture", handlers.CaptureAsyncHandler(taskManager))
			tasks.GET("", handlers.ListTasksHandler(taskManager))
			tasks.GET("/:processId", handlers.TaskStatusHandler(taskManager))
		}

		v1.GET("/fingerprint", handlers.FingerprintHandler(comps.Generator, fingerprintStore(comps)))

		proxyGroup := v1.Group("/proxy")
		{
			proxyGroup.GET("", handlers.ProxyHandler(comps.Runner.Rotator()))
			proxyGroup.POST("/verify", handlers.VerifyProxyHandler(cfg.Proxy, comps.Runner.Rotator()))
		}

		captchaGroup := v1.Group("/captcha")
		{
			captchaGroup.GET("/balance", handlers.CaptchaBalanceHandler(comps.Runner.Solver()))
			captchaGroup.POST("/solve", handlers.SolveCaptchaHandler(comps.Runner.Solver()))
			captchaGroup.POST("/detect", handlers.DetectCaptchaHandler())
			captchaGroup.GET("/domains", handlers.CaptchaDomainsHandler(comps.Runner.Domains()))
		}

		// Worker monitoring routes
		workerGroup := v1.Group("/workers")
		{
			workerGroup.GET("/stats", handlers.WorkerStatsHandler(poolManager))
		}

		// Domain-specific routes
		domains := v1.Group("/domains")
		{
			domains.GET("/:domain/stats", handlers.DomainStatsHandler(poolManager))
		}
	}

	// Root route
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "scrapekit",
			"version": handlers.Version,
			"status":  "running",
		})
	})
}

func fingerprintStore(comps *pipeline.Components) fingerprint.Store {
	if comps.Store != nil {
		return comps.Store
	}
	return fingerprint.NewEphemeralStore(comps.Generator)
}
