package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pipeline"
	"scrapekit/internal/workers"
	"scrapekit/pkg/utils"
)

// Task manager configuration constants
const (
	DefaultMaxWorkers   = 10
	DefaultMaxQueueSize = 100

	MinWorkers   = 1
	MinQueueSize = 1

	MaxWorkers   = 1000
	MaxQueueSize = 10000

	// results are kept for a day
	resultRetention = 24 * time.Hour
)

// Submitter runs a capture to completion, normally the worker pool manager
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*workers.JobResult, error)
}

// TaskManager runs captures asynchronously and keeps their results for polling
type TaskManager struct {
	store        TaskStore
	completion   *TaskCompletionLogger
	logger       types.Logger
	submitter    Submitter
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	running      bool
	taskChan     chan *TaskExecution
	maxWorkers   int
	maxQueueSize int
}

// TaskExecution represents a queued task
type TaskExecution struct {
	ProcessID string
	Type      TaskType
	Request   pipeline.Request
}

// validateTaskManagerConfig validates and returns safe configuration values
func validateTaskManagerConfig(cfg config.WorkersConfig) (maxWorkers, maxQueueSize int, err error) {
	maxWorkers = cfg.PoolSize
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	} else if maxWorkers > MaxWorkers {
		return 0, 0, fmt.Errorf("worker pool size (%d) exceeds maximum (%d)", maxWorkers, MaxWorkers)
	}

	maxQueueSize = cfg.QueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	} else if maxQueueSize > MaxQueueSize {
		return 0, 0, fmt.Errorf("queue size (%d) exceeds maximum (%d)", maxQueueSize, MaxQueueSize)
	}

	return maxWorkers, maxQueueSize, nil
}

// NewTaskManager creates a new task manager backed by an in-memory store
func NewTaskManager(cfg config.WorkersConfig, submitter Submitter) *TaskManager {
	logger := logging.GetGlobalLogger().WithField("component", "task_manager")

	maxWorkers, maxQueueSize, err := validateTaskManagerConfig(cfg)
	if err != nil {
		logger.Warn("Task manager configuration validation failed, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		maxWorkers = DefaultMaxWorkers
		maxQueueSize = DefaultMaxQueueSize
	}

	logger.Info("Task manager configuration initialized", map[string]interface{}{
		"max_workers":    maxWorkers,
		"max_queue_size": maxQueueSize,
		"using_defaults": err != nil,
	})

	return &TaskManager{
		store:        NewInMemoryTaskStore(),
		completion:   NewTaskCompletionLogger(),
		logger:       logger,
		submitter:    submitter,
		maxWorkers:   maxWorkers,
		maxQueueSize: maxQueueSize,
	}
}

// Start starts the task workers and the retention cleanup
func (tm *TaskManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.running {
		return errors.New("task manager already running")
	}

	tm.ctx, tm.cancel = context.WithCancel(ctx)
	tm.taskChan = make(chan *TaskExecution, tm.maxQueueSize)
	tm.running = true

	for i := 0; i < tm.maxWorkers; i++ {
		tm.wg.Add(1)
		go tm.worker(i)
	}

	tm.wg.Add(1)
	go tm.cleanupRoutine()

	tm.logger.Info("Task manager started", map[string]interface{}{
		"max_workers": tm.maxWorkers,
	})
	return nil
}

// Stop cancels running tasks and waits for the workers or ctx
func (tm *TaskManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	if !tm.running {
		tm.mu.Unlock()
		return nil
	}
	tm.running = false
	tm.cancel()
	close(tm.taskChan)
	tm.mu.Unlock()

	tm.logger.Info("Stopping task manager", map[string]interface{}{})

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		tm.logger.Info("Task manager stopped gracefully", map[string]interface{}{})
		return nil
	case <-ctx.Done():
		tm.logger.Warn("Task manager shutdown timed out", map[string]interface{}{})
		return ctx.Err()
	}
}

// SubmitCapture queues req and returns its process id immediately
func (tm *TaskManager) SubmitCapture(ctx context.Context, req pipeline.Request) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if !tm.running {
		return "", utils.NewUnavailableError("task manager is not running")
	}

	processID := utils.GenerateRequestID()
	result := &TaskResult{
		ProcessID: processID,
		Type:      TaskTypeCapture,
		Status:    TaskStatusAccepted,
		CreatedAt: time.Now(),
		Metadata: map[string]interface{}{
			"url": req.URL,
		},
	}
	if err := tm.store.Store(ctx, result); err != nil {
		return "", fmt.Errorf("failed to store task result: %w", err)
	}

	select {
	case tm.taskChan <- &TaskExecution{ProcessID: processID, Type: TaskTypeCapture, Request: req}:
		tm.completion.LogTaskAccepted(processID, TaskTypeCapture)
		return processID, nil
	default:
		_ = tm.store.Delete(ctx, processID)
		return "", utils.NewUnavailableError("task queue is full")
	}
}

// GetTaskResult retrieves the result of a task by process ID
func (tm *TaskManager) GetTaskResult(ctx context.Context, processID string) (*TaskResult, error) {
	return tm.store.Get(ctx, processID)
}

// GetTaskStatus retrieves the status of a task by process ID
func (tm *TaskManager) GetTaskStatus(ctx context.Context, processID string) (TaskStatus, error) {
	result, err := tm.store.Get(ctx, processID)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

// ListTasks lists all known tasks, newest first
func (tm *TaskManager) ListTasks(ctx context.Context) ([]*TaskResult, error) {
	return tm.store.List(ctx)
}

// IsHealthy checks if the task manager is accepting work
func (tm *TaskManager) IsHealthy() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running && tm.ctx.Err() == nil
}

func (tm *TaskManager) worker(workerID int) {
	defer tm.wg.Done()

	for task := range tm.taskChan {
		tm.processTask(workerID, task)
	}
}

func (tm *TaskManager) processTask(workerID int, task *TaskExecution) {
	startTime := time.Now()
	ctx := tm.ctx

	result, err := tm.store.Get(context.Background(), task.ProcessID)
	if err != nil {
		tm.logger.Error("Task vanished before processing", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      err.Error(),
		})
		return
	}

	result.Status = TaskStatusProcessing
	if err := tm.store.Update(context.Background(), result); err != nil {
		tm.logger.Error("Failed to update task status to processing", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      err.Error(),
		})
	}
	tm.completion.LogTaskStart(task.ProcessID, task.Type)

	jobResult, err := tm.submitter.Submit(ctx, task.Request)
	if err == nil {
		err = jobResult.Error
	}

	processingTime := time.Since(startTime)
	completedAt := time.Now()
	result.ProcessingTime = &processingTime
	result.CompletedAt = &completedAt

	if err != nil {
		result.Status = TaskStatusFailure
		result.Error = err.Error()
		result.ErrorKind = utils.KindOf(err)
		tm.completion.LogTaskError(task.ProcessID, task.Type, err)
	} else {
		result.Status = TaskStatusSuccess
		result.Data = jobResult.Result
	}

	tm.logger.Debug("Task processed", map[string]interface{}{
		"worker_id":       workerID,
		"process_id":      task.ProcessID,
		"processing_time": utils.FormatDuration(processingTime),
	})

	if err := tm.store.Update(context.Background(), result); err != nil {
		tm.logger.Error("Failed to store task result", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      err.Error(),
		})
	}
	if err := tm.completion.LogTaskCompletion(result); err != nil {
		tm.logger.Error("Failed to log task completion", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (tm *TaskManager) cleanupRoutine() {
	defer tm.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-tm.ctx.Done():
			return
		case <-ticker.C:
			if err := tm.store.Cleanup(context.Background(), resultRetention); err != nil {
				tm.logger.Error("Failed to cleanup old task results", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
