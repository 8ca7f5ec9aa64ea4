package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapekit/internal/config"
	"scrapekit/internal/pipeline"
	"scrapekit/pkg/utils"
)

type fakeRunner struct {
	mu    sync.Mutex
	err   error
	urls  []string
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, req.URL)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{URL: req.URL}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func testWorkersConfig() config.WorkersConfig {
	return config.WorkersConfig{PoolSize: 2, QueueSize: 10, RateLimit: 600, Timeout: 5 * time.Second}
}

func newTestLimiter(t *testing.T, perMinute int) (*RateLimiter, *clock) {
	t.Helper()
	c := newClock()
	rl := NewRateLimiter(perMinute)
	rl.now = c.now
	t.Cleanup(rl.Stop)
	return rl, c
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, c := newTestLimiter(t, 60)

	for i := 0; i < defaultBurst; i++ {
		assert.True(t, rl.Allow("Example.com"), "request %d", i)
	}
	assert.False(t, rl.Allow("example.com"))
	assert.True(t, rl.Allow("other.com"))

	c.advance(time.Second)
	assert.True(t, rl.Allow("example.com"))

	stats := rl.GetAllStats()
	require.Contains(t, stats, "example.com")
	assert.Equal(t, int64(defaultBurst+1), stats["example.com"].Requests)
	assert.Equal(t, defaultBurst, stats["example.com"].Burst)
	assert.Equal(t, "closed", stats["example.com"].CircuitState)
}

func TestRateLimiter_CircuitBreaker(t *testing.T) {
	rl, c := newTestLimiter(t, 600)
	boom := errors.New("navigation failed")

	for i := 0; i < defaultMaxFailures-1; i++ {
		rl.RecordFailure("flaky.com", boom)
	}
	assert.Equal(t, CircuitClosed, rl.CircuitState("flaky.com"))
	rl.RecordFailure("flaky.com", boom)
	assert.Equal(t, CircuitOpen, rl.CircuitState("flaky.com"))
	assert.False(t, rl.Allow("flaky.com"))

	c.advance(defaultResetTimeout + time.Second)
	assert.True(t, rl.Allow("flaky.com"))
	assert.Equal(t, CircuitHalfOpen, rl.CircuitState("flaky.com"))

	rl.RecordFailure("flaky.com", boom)
	assert.Equal(t, CircuitOpen, rl.CircuitState("flaky.com"))

	c.advance(defaultResetTimeout + time.Second)
	assert.True(t, rl.Allow("flaky.com"))
	rl.RecordSuccess("flaky.com")
	assert.Equal(t, CircuitClosed, rl.CircuitState("flaky.com"))
	assert.Equal(t, 0, rl.GetAllStats()["flaky.com"].FailureCount)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, c := newTestLimiter(t, 60)
	require.True(t, rl.Allow("idle.com"))

	c.advance(idleCutoff + time.Minute)
	require.True(t, rl.Allow("busy.com"))
	rl.cleanup()

	stats := rl.GetAllStats()
	assert.NotContains(t, stats, "idle.com")
	assert.Contains(t, stats, "busy.com")
}

func startPool(t *testing.T, cfg config.WorkersConfig, runner Runner) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(cfg, runner)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool
}

func TestWorkerPool_Submit(t *testing.T) {
	runner := &fakeRunner{}
	pool := startPool(t, testWorkersConfig(), runner)

	res, err := pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.NoError(t, res.Error)
	require.NotNil(t, res.Result)
	assert.Equal(t, "https://example.com/a", res.Result.URL)
	assert.NotEmpty(t, res.RequestID)

	runner.err = utils.NewNavigationError("boom", nil)
	res, err = pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/b"})
	require.NoError(t, err)
	assert.True(t, errors.Is(res.Error, utils.ErrNavigation))

	stats := pool.GetStats()
	assert.Equal(t, int64(2), stats.JobsQueued)
	assert.Equal(t, int64(2), stats.JobsProcessed)
	assert.Equal(t, int64(1), stats.JobsSuccessful)
	assert.Equal(t, int64(1), stats.JobsFailed)
	assert.Equal(t, 2, stats.Workers)

	domains := pool.DomainStats()
	assert.Equal(t, int64(1), domains["example.com"].Failures)
}

func TestWorkerPool_RateLimited(t *testing.T) {
	cfg := testWorkersConfig()
	cfg.RateLimit = 1
	pool := startPool(t, cfg, &fakeRunner{})

	for i := 0; i < defaultBurst; i++ {
		_, err := pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
		require.NoError(t, err)
	}
	_, err := pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
	assert.True(t, errors.Is(err, utils.ErrRateLimited))
	assert.Equal(t, 429, utils.StatusCode(err))
}

func TestWorkerPool_NotRunning(t *testing.T) {
	pool := NewWorkerPool(testWorkersConfig(), &fakeRunner{})
	t.Cleanup(pool.rateLimiter.Stop)

	_, err := pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
	assert.True(t, errors.Is(err, utils.ErrUnavailable))

	_, err = pool.Submit(context.Background(), pipeline.Request{})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestWorkerPool_CallerCancellation(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	pool := startPool(t, testWorkersConfig(), runner)
	defer close(runner.block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := pool.Submit(ctx, pipeline.Request{URL: "https://example.com/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_StopDrainsInFlight(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	pool := NewWorkerPool(testWorkersConfig(), runner)
	require.NoError(t, pool.Start())
	assert.Error(t, pool.Start())

	done := make(chan *JobResult, 1)
	go func() {
		res, _ := pool.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
		done <- res
	}()

	require.Eventually(t, func() bool { return pool.GetStats().JobsQueued == 1 }, time.Second, 5*time.Millisecond)
	close(runner.block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
	assert.False(t, pool.IsRunning())

	res := <-done
	require.NotNil(t, res)
	assert.NoError(t, res.Error)
}

func TestPoolManager_Lifecycle(t *testing.T) {
	pm := NewPoolManager(testWorkersConfig(), &fakeRunner{})

	_, err := pm.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
	assert.True(t, errors.Is(err, utils.ErrUnavailable))
	_, err = pm.GetStats()
	assert.Error(t, err)
	assert.False(t, pm.IsHealthy())

	require.NoError(t, pm.Initialize())
	assert.Error(t, pm.Initialize())
	assert.True(t, pm.IsHealthy())

	res, err := pm.Submit(context.Background(), pipeline.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.NoError(t, res.Error)

	stats, err := pm.GetStats()
	require.NoError(t, err)
	assert.True(t, stats.Initialized)
	assert.Equal(t, 10, stats.QueueCapacity)
	assert.Equal(t, int64(1), stats.PoolStats.JobsSuccessful)

	ds, err := pm.GetDomainStats("www.Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ds.Requests)
	_, err = pm.GetDomainStats("unknown.com")
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pm.Shutdown(ctx))
	assert.False(t, pm.IsHealthy())
	require.NoError(t, pm.Shutdown(ctx))
}
