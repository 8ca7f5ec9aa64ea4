package workers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pipeline"
	"scrapekit/pkg/utils"
)

// PoolManager manages the worker pool lifecycle
type PoolManager struct {
	cfg         config.WorkersConfig
	runner      Runner
	pool        *WorkerPool
	logger      types.Logger
	mu          sync.RWMutex
	initialized bool
}

// PoolManagerStats is the monitoring view of the pool
type PoolManagerStats struct {
	Initialized      bool                   `json:"initialized"`
	PoolStats        PoolStats              `json:"pool_stats"`
	RateLimiterStats map[string]DomainStats `json:"rate_limiter_stats"`
	QueueCapacity    int                    `json:"queue_capacity"`
}

// NewPoolManager creates a new worker pool manager
func NewPoolManager(cfg config.WorkersConfig, runner Runner) *PoolManager {
	return &PoolManager{
		cfg:    cfg,
		runner: runner,
		logger: logging.GetGlobalLogger().WithField("component", "pool_manager"),
	}
}

// Initialize creates and starts the worker pool
func (pm *PoolManager) Initialize() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.initialized {
		return errors.New("worker pool already initialized")
	}

	pm.pool = NewWorkerPool(pm.cfg, pm.runner)
	if err := pm.pool.Start(); err != nil {
		pm.logger.Error("Worker pool start failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	pm.initialized = true
	pm.logger.Info("Worker pool initialized successfully", map[string]interface{}{})
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (pm *PoolManager) Shutdown(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.initialized || pm.pool == nil {
		return nil
	}

	pm.logger.Info("Shutting down worker pool", map[string]interface{}{})
	if err := pm.pool.Stop(ctx); err != nil {
		pm.logger.Error("Error stopping worker pool", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	pm.initialized = false
	pm.logger.Info("Worker pool shutdown complete", map[string]interface{}{})
	return nil
}

// Submit runs req on the pool and waits for the result
func (pm *PoolManager) Submit(ctx context.Context, req pipeline.Request) (*JobResult, error) {
	pm.mu.RLock()
	pool := pm.pool
	initialized := pm.initialized
	pm.mu.RUnlock()

	if !initialized || pool == nil {
		return nil, utils.NewUnavailableError("worker pool not initialized")
	}
	return pool.Submit(ctx, req)
}

// GetStats returns worker pool statistics
func (pm *PoolManager) GetStats() (*PoolManagerStats, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if !pm.initialized || pm.pool == nil {
		return nil, utils.NewUnavailableError("worker pool not initialized")
	}

	return &PoolManagerStats{
		Initialized:      pm.initialized,
		PoolStats:        pm.pool.GetStats(),
		RateLimiterStats: pm.pool.DomainStats(),
		QueueCapacity:    pm.pool.cfg.QueueSize,
	}, nil
}

// GetDomainStats returns the limiter and breaker snapshot for one domain
func (pm *PoolManager) GetDomainStats(domain string) (DomainStats, error) {
	stats, err := pm.GetStats()
	if err != nil {
		return DomainStats{}, err
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	ds, ok := stats.RateLimiterStats[domain]
	if !ok {
		return DomainStats{}, utils.NewNotFoundError("no captures recorded for domain: " + domain)
	}
	return ds, nil
}

// IsHealthy returns true if the worker pool is running
func (pm *PoolManager) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return pm.initialized && pm.pool != nil && pm.pool.IsRunning()
}
