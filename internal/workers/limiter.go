package workers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
)

const (
	defaultBurst        = 5
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	idleCutoff          = 10 * time.Minute
)

// DomainLimiter represents rate limiting for a specific domain
type DomainLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	requests int64
	failures int64
}

// CircuitBreaker stops captures against a domain after repeated failures
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	failureCount int
	lastFailTime time.Time
	state        CircuitState
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns string representation of CircuitState
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// DomainStats is a snapshot of one domain's limiter and breaker
type DomainStats struct {
	Requests     int64     `json:"requests"`
	Failures     int64     `json:"failures"`
	LastSeen     time.Time `json:"last_seen"`
	Limit        float64   `json:"limit"`
	Burst        int       `json:"burst"`
	CircuitState string    `json:"circuit_state"`
	FailureCount int       `json:"failure_count"`
}

// RateLimiter manages rate limiting and circuit breaking per domain
type RateLimiter struct {
	perMinute       int
	domainLimiters  map[string]*DomainLimiter
	circuitBreakers map[string]*CircuitBreaker
	mu              sync.Mutex
	logger          types.Logger
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	now func() time.Time
}

// NewRateLimiter allows perMinute captures per domain with bursts of five
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		perMinute:       perMinute,
		domainLimiters:  make(map[string]*DomainLimiter),
		circuitBreakers: make(map[string]*CircuitBreaker),
		logger:          logging.GetGlobalLogger().WithField("component", "rate_limiter"),
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go rl.cleanupRoutine(5 * time.Minute)

	return rl
}

// Allow checks if a capture of the given domain is allowed
func (rl *RateLimiter) Allow(domain string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	domain = strings.ToLower(domain)

	if !rl.circuitAllows(domain) {
		rl.logger.Debug("Request rejected by circuit breaker", map[string]interface{}{
			"domain": domain,
		})
		return false
	}

	limiter := rl.getDomainLimiter(domain)
	now := rl.now()
	if !limiter.limiter.AllowN(now, 1) {
		rl.logger.Debug("Request rejected by rate limiter", map[string]interface{}{
			"domain": domain,
		})
		return false
	}

	limiter.requests++
	limiter.lastSeen = now
	return true
}

// RecordSuccess closes a half-open breaker
func (rl *RateLimiter) RecordSuccess(domain string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	domain = strings.ToLower(domain)

	if cb, exists := rl.circuitBreakers[domain]; exists {
		if cb.state == CircuitHalfOpen {
			rl.logger.Info("Circuit breaker closed after successful request", map[string]interface{}{
				"domain": domain,
			})
		}
		cb.state = CircuitClosed
		cb.failureCount = 0
	}
}

// RecordFailure counts a failed capture; the breaker opens after five in a row
// and a failed half-open probe reopens it
func (rl *RateLimiter) RecordFailure(domain string, err error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	domain = strings.ToLower(domain)

	if limiter, exists := rl.domainLimiters[domain]; exists {
		limiter.failures++
	}

	cb := rl.getCircuitBreaker(domain)
	cb.failureCount++
	cb.lastFailTime = rl.now()

	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.failureCount >= cb.maxFailures) {
		cb.state = CircuitOpen
		fields := map[string]interface{}{
			"domain":   domain,
			"failures": cb.failureCount,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		rl.logger.Warn("Circuit breaker opened due to failures", fields)
	}
}

func (rl *RateLimiter) getDomainLimiter(domain string) *DomainLimiter {
	if limiter, exists := rl.domainLimiters[domain]; exists {
		return limiter
	}

	// requests per minute converted to requests per second
	rps := rate.Limit(float64(rl.perMinute) / 60.0)
	limiter := &DomainLimiter{
		limiter:  rate.NewLimiter(rps, defaultBurst),
		lastSeen: rl.now(),
	}
	rl.domainLimiters[domain] = limiter

	rl.logger.Debug("Created new domain rate limiter", map[string]interface{}{
		"domain": domain,
		"rate":   float64(rps),
		"burst":  defaultBurst,
	})
	return limiter
}

func (rl *RateLimiter) getCircuitBreaker(domain string) *CircuitBreaker {
	if cb, exists := rl.circuitBreakers[domain]; exists {
		return cb
	}
	cb := &CircuitBreaker{
		maxFailures:  defaultMaxFailures,
		resetTimeout: defaultResetTimeout,
		state:        CircuitClosed,
	}
	rl.circuitBreakers[domain] = cb
	return cb
}

// circuitAllows moves an open breaker to half-open once the reset timeout has passed
func (rl *RateLimiter) circuitAllows(domain string) bool {
	cb, exists := rl.circuitBreakers[domain]
	if !exists {
		return true
	}

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if rl.now().Sub(cb.lastFailTime) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			rl.logger.Info("Circuit breaker transitioned to half-open", map[string]interface{}{
				"domain": domain,
			})
			return true
		}
		return false
	default:
		return false
	}
}

// CircuitState returns the breaker state for domain
func (rl *RateLimiter) CircuitState(domain string) CircuitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cb, exists := rl.circuitBreakers[strings.ToLower(domain)]; exists {
		return cb.state
	}
	return CircuitClosed
}

// GetAllStats returns statistics for all tracked domains
func (rl *RateLimiter) GetAllStats() map[string]DomainStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	all := make(map[string]DomainStats)
	for domain, limiter := range rl.domainLimiters {
		s := all[domain]
		s.Requests = limiter.requests
		s.Failures = limiter.failures
		s.LastSeen = limiter.lastSeen
		s.Limit = float64(limiter.limiter.Limit())
		s.Burst = limiter.limiter.Burst()
		s.CircuitState = CircuitClosed.String()
		all[domain] = s
	}
	for domain, cb := range rl.circuitBreakers {
		s := all[domain]
		s.CircuitState = cb.state.String()
		s.FailureCount = cb.failureCount
		all[domain] = s
	}
	return all
}

func (rl *RateLimiter) cleanupRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes limiters idle for ten minutes and closed breakers with no recent failures
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleCutoff)
	removedCount := 0

	for domain, limiter := range rl.domainLimiters {
		if limiter.lastSeen.Before(cutoff) {
			delete(rl.domainLimiters, domain)
			removedCount++
		}
	}
	for domain, cb := range rl.circuitBreakers {
		if cb.state == CircuitClosed && cb.lastFailTime.Before(cutoff) {
			delete(rl.circuitBreakers, domain)
		}
	}

	if removedCount > 0 {
		rl.logger.Info("Cleaned up unused rate limiters", map[string]interface{}{
			"removed_count": removedCount,
		})
	}
}

// Stop stops the cleanup routine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
