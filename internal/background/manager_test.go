package background

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapekit/internal/config"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/pipeline"
	"scrapekit/internal/workers"
	"scrapekit/pkg/utils"
)

type fakeSubmitter struct {
	err     error
	release chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req pipeline.Request) (*workers.JobResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return &workers.JobResult{Error: f.err}, nil
	}
	return &workers.JobResult{Result: &pipeline.Result{
		URL:    req.URL,
		Bundle: &pagesaver.Bundle{Name: "page", RemoteURL: "https://cdn.example.com/page.html"},
	}}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startManager(t *testing.T, sub Submitter) (*TaskManager, *syncBuffer) {
	t.Helper()
	tm := NewTaskManager(config.WorkersConfig{PoolSize: 2, QueueSize: 4}, sub)
	out := &syncBuffer{}
	tm.completion.out = out
	require.NoError(t, tm.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tm.Stop(ctx)
	})
	return tm, out
}

func waitForStatus(t *testing.T, tm *TaskManager, id string, want TaskStatus) *TaskResult {
	t.Helper()
	var result *TaskResult
	require.Eventually(t, func() bool {
		r, err := tm.GetTaskResult(context.Background(), id)
		if err != nil {
			return false
		}
		result = r
		return r.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return result
}

func TestTaskManager_CaptureSuccess(t *testing.T) {
	tm, out := startManager(t, &fakeSubmitter{})
	assert.True(t, tm.IsHealthy())

	id, err := tm.SubmitCapture(context.Background(), pipeline.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	result := waitForStatus(t, tm, id, TaskStatusSuccess)
	require.NotNil(t, result.Data)
	assert.Equal(t, "https://example.com/", result.Data.URL)
	assert.NotNil(t, result.CompletedAt)
	assert.NotNil(t, result.ProcessingTime)
	assert.Equal(t, "https://example.com/", result.Metadata["url"])

	require.Eventually(t, func() bool { return out.String() != "" }, time.Second, 5*time.Millisecond)
	var line TaskCompletionLog
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out.String())), &line))
	assert.Equal(t, id, line.ProcessID)
	assert.Equal(t, "SUCCESS", line.Status)
	assert.Equal(t, "capture", line.Operation)
	assert.Equal(t, "https://cdn.example.com/page.html", line.BundleURL)
}

func TestTaskManager_CaptureFailure(t *testing.T) {
	tm, _ := startManager(t, &fakeSubmitter{err: utils.NewNavigationError("dns failure", nil)})

	id, err := tm.SubmitCapture(context.Background(), pipeline.Request{URL: "https://example.com/"})
	require.NoError(t, err)

	result := waitForStatus(t, tm, id, TaskStatusFailure)
	assert.Contains(t, result.Error, "dns failure")
	assert.Equal(t, utils.KindNavigation, result.ErrorKind)
	assert.Nil(t, result.Data)
}

func TestTaskManager_Processing(t *testing.T) {
	sub := &fakeSubmitter{release: make(chan struct{})}
	tm, _ := startManager(t, sub)

	id, err := tm.SubmitCapture(context.Background(), pipeline.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	waitForStatus(t, tm, id, TaskStatusProcessing)

	status, err := tm.GetTaskStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusProcessing, status)

	close(sub.release)
	waitForStatus(t, tm, id, TaskStatusSuccess)

	tasks, err := tm.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTaskManager_UnknownTask(t *testing.T) {
	tm, _ := startManager(t, &fakeSubmitter{})
	_, err := tm.GetTaskResult(context.Background(), "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestTaskManager_NotRunning(t *testing.T) {
	tm := NewTaskManager(config.WorkersConfig{}, &fakeSubmitter{})
	assert.Equal(t, DefaultMaxWorkers, tm.maxWorkers)
	assert.Equal(t, DefaultMaxQueueSize, tm.maxQueueSize)

	_, err := tm.SubmitCapture(context.Background(), pipeline.Request{URL: "https://example.com/"})
	assert.ErrorIs(t, err, utils.ErrUnavailable)

	require.NoError(t, tm.Start(context.Background()))
	assert.Error(t, tm.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tm.Stop(ctx))
	assert.False(t, tm.IsHealthy())
	require.NoError(t, tm.Stop(ctx))
}

func TestValidateTaskManagerConfig(t *testing.T) {
	_, _, err := validateTaskManagerConfig(config.WorkersConfig{PoolSize: MaxWorkers + 1, QueueSize: 1})
	assert.Error(t, err)
	_, _, err = validateTaskManagerConfig(config.WorkersConfig{PoolSize: 1, QueueSize: MaxQueueSize + 1})
	assert.Error(t, err)

	w, q, err := validateTaskManagerConfig(config.WorkersConfig{PoolSize: 3, QueueSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 7, q)
}

func TestInMemoryTaskStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryTaskStore()
	old := &TaskResult{ProcessID: "old", Status: TaskStatusSuccess, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &TaskResult{ProcessID: "fresh", Status: TaskStatusAccepted, CreatedAt: time.Now(), Metadata: map[string]interface{}{"url": "u"}}
	require.NoError(t, s.Store(ctx, old))
	require.NoError(t, s.Store(ctx, fresh))

	got, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	got.Status = TaskStatusFailure
	got.Metadata["url"] = "changed"
	again, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusAccepted, again.Status)
	assert.Equal(t, "u", again.Metadata["url"])

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fresh", list[0].ProcessID)

	require.NoError(t, s.Cleanup(ctx, 24*time.Hour))
	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, s.Update(ctx, &TaskResult{ProcessID: "nope"}), ErrTaskNotFound)
	require.NoError(t, s.Delete(ctx, "fresh"))
	assert.ErrorIs(t, s.Delete(ctx, "fresh"), ErrTaskNotFound)
}
