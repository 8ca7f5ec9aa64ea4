package interceptors

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// MetricsData holds call counters for one gRPC method
type MetricsData struct {
	RequestCount    int64         `json:"request_count"`
	SuccessCount    int64         `json:"success_count"`
	ErrorCount      int64         `json:"error_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// MetricsCollector collects per-method gRPC metrics
type MetricsCollector struct {
	mu      sync.Mutex
	methods map[string]*MetricsData
}

var (
	globalMetricsCollector *MetricsCollector
	metricsOnce            sync.Once
)

// GetMetricsCollector returns the process-wide collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetricsCollector = NewMetricsCollector()
	})
	return globalMetricsCollector
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{methods: make(map[string]*MetricsData)}
}

// RecordMetrics records one finished call
func (c *MetricsCollector) RecordMetrics(method string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.methods[method]
	if !ok {
		m = &MetricsData{}
		c.methods[method] = m
	}

	m.RequestCount++
	m.TotalDuration += duration
	m.AverageDuration = m.TotalDuration / time.Duration(m.RequestCount)
	m.LastUpdated = time.Now()
	if err != nil {
		m.ErrorCount++
	} else {
		m.SuccessCount++
	}
}

// Snapshot returns a copy of every method's counters
func (c *MetricsCollector) Snapshot() map[string]MetricsData {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]MetricsData, len(c.methods))
	for method, m := range c.methods {
		out[method] = *m
	}
	return out
}

// MetricsInterceptor returns a gRPC unary interceptor that records into c
func MetricsInterceptor(c *MetricsCollector) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)
		c.RecordMetrics(info.FullMethod, time.Since(startTime), err)
		return resp, err
	}
}

// StreamMetricsInterceptor returns a gRPC streaming interceptor that records into c
func StreamMetricsInterceptor(c *MetricsCollector) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		startTime := time.Now()
		err := handler(srv, ss)
		c.RecordMetrics(info.FullMethod, time.Since(startTime), err)
		return err
	}
}
