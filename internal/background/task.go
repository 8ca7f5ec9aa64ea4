package background

import (
	"context"
	"sort"
	"sync"
	"time"

	"scrapekit/internal/pipeline"
	"scrapekit/pkg/utils"
)

// TaskStatus represents the status of a background task
type TaskStatus string

const (
	TaskStatusAccepted   TaskStatus = "ACCEPTED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSuccess    TaskStatus = "SUCCESS"
	TaskStatusFailure    TaskStatus = "FAILURE"
)

// TaskType represents the type of background task
type TaskType string

const (
	TaskTypeCapture TaskType = "capture"
)

// TaskResult represents the result of a background task
type TaskResult struct {
	ProcessID      string                 `json:"processId"`
	Type           TaskType               `json:"type"`
	Status         TaskStatus             `json:"status"`
	Data           *pipeline.Result       `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      utils.ErrorKind        `json:"errorKind,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	ProcessingTime *time.Duration         `json:"processingTime,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func (r *TaskResult) clone() *TaskResult {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// TaskStore defines the interface for storing and retrieving task results
type TaskStore interface {
	// Store stores a task result
	Store(ctx context.Context, result *TaskResult) error

	// Get retrieves a task result by process ID
	Get(ctx context.Context, processID string) (*TaskResult, error)

	// Update updates a task result
	Update(ctx context.Context, result *TaskResult) error

	// Delete removes a task result
	Delete(ctx context.Context, processID string) error

	// Cleanup removes task results older than maxAge
	Cleanup(ctx context.Context, maxAge time.Duration) error

	// List returns all task results, newest first
	List(ctx context.Context) ([]*TaskResult, error)
}

// InMemoryTaskStore implements TaskStore using in-memory storage. Results are
// copied in and out so callers never share a value with the store.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskResult
}

// NewInMemoryTaskStore creates a new in-memory task store
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[string]*TaskResult),
	}
}

func (s *InMemoryTaskStore) Store(ctx context.Context, result *TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[result.ProcessID] = result.clone()
	return nil
}

func (s *InMemoryTaskStore) Get(ctx context.Context, processID string) (*TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, exists := s.tasks[processID]
	if !exists {
		return nil, ErrTaskNotFound
	}
	return result.clone(), nil
}

func (s *InMemoryTaskStore) Update(ctx context.Context, result *TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[result.ProcessID]; !exists {
		return ErrTaskNotFound
	}
	s.tasks[result.ProcessID] = result.clone()
	return nil
}

func (s *InMemoryTaskStore) Delete(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[processID]; !exists {
		return ErrTaskNotFound
	}
	delete(s.tasks, processID)
	return nil
}

func (s *InMemoryTaskStore) Cleanup(ctx context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for processID, result := range s.tasks {
		if result.CreatedAt.Before(cutoff) {
			delete(s.tasks, processID)
		}
	}
	return nil
}

func (s *InMemoryTaskStore) List(ctx context.Context) ([]*TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*TaskResult, 0, len(s.tasks))
	for _, result := range s.tasks {
		results = append(results, result.clone())
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// ErrTaskNotFound is returned for unknown process ids
var ErrTaskNotFound = utils.NewNotFoundError("task not found")
