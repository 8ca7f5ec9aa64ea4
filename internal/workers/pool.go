package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pipeline"
	"scrapekit/pkg/utils"
)

// Runner executes one capture cycle
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// JobResult represents the result of a capture job
type JobResult struct {
	Result    *pipeline.Result
	Error     error
	RequestID string
	Duration  time.Duration
}

// CaptureJob is a request waiting in the queue
type CaptureJob struct {
	ID         string
	Request    pipeline.Request
	Domain     string
	ResultChan chan JobResult
	Context    context.Context
	CreatedAt  time.Time
}

// PoolStats tracks worker pool statistics
type PoolStats struct {
	JobsQueued            int64         `json:"jobs_queued"`
	JobsProcessed         int64         `json:"jobs_processed"`
	JobsSuccessful        int64         `json:"jobs_successful"`
	JobsFailed            int64         `json:"jobs_failed"`
	QueueDepth            int           `json:"queue_depth"`
	Workers               int           `json:"workers"`
	TotalProcessingTime   time.Duration `json:"total_processing_time"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
}

// WorkerPool runs captures on a fixed number of goroutines, one browser session per job
type WorkerPool struct {
	cfg         config.WorkersConfig
	runner      Runner
	jobQueue    chan CaptureJob
	rateLimiter *RateLimiter
	logger      types.Logger
	wg          sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	statsMu     sync.Mutex
	stats       PoolStats

	enqueueTimeout time.Duration
}

// NewWorkerPool creates a new worker pool instance
func NewWorkerPool(cfg config.WorkersConfig, runner Runner) *WorkerPool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.RateLimit < 1 {
		cfg.RateLimit = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	pool := &WorkerPool{
		cfg:            cfg,
		runner:         runner,
		jobQueue:       make(chan CaptureJob, cfg.QueueSize),
		rateLimiter:    NewRateLimiter(cfg.RateLimit),
		logger:         logging.GetGlobalLogger().WithField("component", "worker_pool"),
		enqueueTimeout: 5 * time.Second,
	}

	pool.logger.Info("Worker pool initialized", map[string]interface{}{
		"pool_size":  cfg.PoolSize,
		"queue_size": cfg.QueueSize,
	})
	return pool
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return errors.New("worker pool is already running")
	}

	for i := 0; i < wp.cfg.PoolSize; i++ {
		wp.wg.Add(1)
		go wp.worker(i + 1)
	}

	wp.running = true
	wp.logger.Info("Worker pool started successfully", map[string]interface{}{
		"workers": wp.cfg.PoolSize,
	})
	return nil
}

// Stop closes the queue and waits for in-flight jobs to finish or ctx to end
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.logger.Info("Stopping worker pool", map[string]interface{}{})
	wp.rateLimiter.Stop()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("Worker pool stopped successfully", map[string]interface{}{})
		return nil
	case <-ctx.Done():
		wp.logger.Warn("Worker pool stop timed out with jobs in flight", map[string]interface{}{})
		return ctx.Err()
	}
}

// Submit queues req and waits for its result. The per-domain limiter and
// circuit breaker are checked before queuing.
func (wp *WorkerPool) Submit(ctx context.Context, req pipeline.Request) (*JobResult, error) {
	domain := utils.ExtractDomain(req.URL)
	if domain == "" {
		return nil, utils.NewValidationError("url is required")
	}
	if !wp.rateLimiter.Allow(domain) {
		return nil, utils.NewRateLimitError("rate limit exceeded for domain: " + domain)
	}

	job := CaptureJob{
		ID:         utils.GenerateRequestID(),
		Request:    req,
		Domain:     domain,
		ResultChan: make(chan JobResult, 1),
		Context:    ctx,
		CreatedAt:  time.Now(),
	}

	if err := wp.enqueue(ctx, job); err != nil {
		return nil, err
	}

	timeout := wp.cfg.Timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-job.ResultChan:
		return &result, nil
	case <-timer.C:
		return nil, utils.NewUnavailableError("job processing timed out after " + timeout.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (wp *WorkerPool) enqueue(ctx context.Context, job CaptureJob) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return utils.NewUnavailableError("worker pool is not running")
	}

	timer := time.NewTimer(wp.enqueueTimeout)
	defer timer.Stop()

	select {
	case wp.jobQueue <- job:
		wp.statsMu.Lock()
		wp.stats.JobsQueued++
		wp.statsMu.Unlock()
		wp.logger.Info("Job submitted to queue", map[string]interface{}{
			"job_id": job.ID,
			"url":    job.Request.URL,
		})
		return nil
	case <-timer.C:
		return utils.NewUnavailableError("job queue is full, request timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the worker pool is running
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// GetStats returns current pool statistics
func (wp *WorkerPool) GetStats() PoolStats {
	wp.statsMu.Lock()
	stats := wp.stats
	wp.statsMu.Unlock()

	stats.QueueDepth = len(wp.jobQueue)
	stats.Workers = wp.cfg.PoolSize
	if stats.JobsProcessed > 0 {
		stats.AverageProcessingTime = stats.TotalProcessingTime / time.Duration(stats.JobsProcessed)
	}
	return stats
}

// DomainStats returns the limiter and breaker state of every tracked domain
func (wp *WorkerPool) DomainStats() map[string]DomainStats {
	return wp.rateLimiter.GetAllStats()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	logger := wp.logger.WithField("worker_id", id)
	logger.Debug("Worker started", map[string]interface{}{})

	for job := range wp.jobQueue {
		wp.processJob(logger, job)
	}
	logger.Debug("Worker stopping", map[string]interface{}{})
}

func (wp *WorkerPool) processJob(logger types.Logger, job CaptureJob) {
	startTime := time.Now()
	result := JobResult{RequestID: job.ID}

	if err := job.Context.Err(); err != nil {
		result.Error = err
		job.ResultChan <- result
		return
	}

	ctx, cancel := context.WithTimeout(job.Context, wp.cfg.Timeout)
	defer cancel()

	res, err := wp.runner.Run(ctx, job.Request)
	result.Result = res
	result.Error = err
	result.Duration = time.Since(startTime)

	if err != nil {
		wp.rateLimiter.RecordFailure(job.Domain, err)
	} else {
		wp.rateLimiter.RecordSuccess(job.Domain)
	}

	wp.statsMu.Lock()
	wp.stats.JobsProcessed++
	wp.stats.TotalProcessingTime += result.Duration
	if err != nil {
		wp.stats.JobsFailed++
	} else {
		wp.stats.JobsSuccessful++
	}
	wp.statsMu.Unlock()

	fields := map[string]interface{}{
		"job_id":          job.ID,
		"url":             job.Request.URL,
		"processing_time": utils.FormatDuration(result.Duration),
		"success":         err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logger.Info("Job completed", fields)

	job.ResultChan <- result
}
