package proxy

import (
	"context"
	"fmt"
	"sync"

	"scrapekit/internal/config"
	"scrapekit/pkg/utils"
)

// Rotator supplies one endpoint per request cycle
type Rotator interface {
	GetProxy(ctx context.Context) (Endpoint, error)
	Name() string
}

// NewRotator builds the configured rotator. It returns nil when proxying is disabled.
func NewRotator(cfg config.ProxyConfig) (Rotator, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "static":
		endpoints := make([]Endpoint, 0, len(cfg.Static))
		for _, raw := range cfg.Static {
			ep, err := ParseEndpoint(raw)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
		}
		return NewStaticRotator(endpoints), nil
	default:
		vendor, ok := vendors[cfg.Provider]
		if !ok {
			return nil, utils.NewValidationError(fmt.Sprintf("unknown proxy provider %q", cfg.Provider))
		}
		return NewGatewayRotator(vendor, GatewayOptions{
			Username:         cfg.Username,
			Password:         cfg.Password,
			Host:             cfg.Host,
			Port:             cfg.Port,
			Country:          cfg.Country,
			RotationInterval: cfg.RotationInterval,
		})
	}
}

// StaticRotator cycles a caller-supplied list in order
type StaticRotator struct {
	mu        sync.Mutex
	endpoints []Endpoint
	next      int
}

func NewStaticRotator(endpoints []Endpoint) *StaticRotator {
	return &StaticRotator{endpoints: append([]Endpoint(nil), endpoints...)}
}

func (r *StaticRotator) Name() string { return "static" }

// GetProxy returns the endpoints in list order, wrapping after the last one
func (r *StaticRotator) GetProxy(ctx context.Context) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.endpoints) == 0 {
		return Endpoint{}, utils.NewNotFoundError("no proxies configured")
	}
	ep := r.endpoints[r.next%len(r.endpoints)]
	r.next = (r.next + 1) % len(r.endpoints)
	return ep, nil
}

// Add appends an endpoint to the end of the rotation
func (r *StaticRotator) Add(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, ep)
}

// Remove drops every endpoint with the given server address
func (r *StaticRotator) Remove(server string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.endpoints)
	kept := r.endpoints[:0]
	next := r.next
	for i, ep := range r.endpoints {
		if ep.Server() != server {
			kept = append(kept, ep)
		} else if i < r.next {
			next--
		}
	}
	r.endpoints = kept
	r.next = next
	if len(r.endpoints) == 0 || r.next >= len(r.endpoints) {
		r.next = 0
	}
	return len(kept) != total
}

func (r *StaticRotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}
