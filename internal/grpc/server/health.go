package server

import (
	"context"
	"sort"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe reports whether one named service can take work
type Probe func() bool

// Health service names reported alongside the overall "" entry
const (
	ServiceWorkers = "scrapekit.Workers"
	ServiceTasks   = "scrapekit.Tasks"
)

// UpdateHealth sets each probed service and the overall status once
func (s *Server) UpdateHealth(probes map[string]Probe) {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		status := healthpb.HealthCheckResponse_SERVING
		if !probes[name]() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// WatchHealth refreshes the health service every interval until ctx ends
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration, probes map[string]Probe) {
	s.UpdateHealth(probes)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateHealth(probes)
		}
	}
}
