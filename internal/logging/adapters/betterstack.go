package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"scrapekit/internal/logging/types"
)

// BetterstackAdapter ships entries to the Betterstack HTTP ingestion API
type BetterstackAdapter struct {
	name          string
	config        BetterstackConfig
	httpClient    *http.Client
	mu            sync.Mutex
	lastError     error
	lastErrorTime time.Time
}

// BetterstackConfig represents configuration for the Betterstack adapter
type BetterstackConfig struct {
	SourceToken string            `yaml:"source_token"`
	Endpoint    string            `yaml:"endpoint"`
	MaxRetries  int               `yaml:"max_retries"`
	Timeout     time.Duration     `yaml:"timeout"`
	UserAgent   string            `yaml:"user_agent"`
	Headers     map[string]string `yaml:"headers"`
}

// betterstackRecord is the wire format accepted by the ingestion endpoint
type betterstackRecord struct {
	Timestamp time.Time              `json:"dt"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewBetterstackAdapter creates a new Betterstack adapter
func NewBetterstackAdapter(name string, config BetterstackConfig) (*BetterstackAdapter, error) {
	if config.SourceToken == "" {
		return nil, fmt.Errorf("source_token is required for Betterstack adapter")
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://in.logs.betterstack.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "scrapekit/1.0"
	}

	return &BetterstackAdapter{
		name:   name,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

func (a *BetterstackAdapter) Write(entry *types.LogEntry) error {
	fields := make(map[string]interface{}, len(entry.Fields))
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	payload, err := json.Marshal(betterstackRecord{
		Timestamp: entry.Timestamp,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		retryable, err := a.send(payload)
		if err == nil {
			a.lastError = nil
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	a.lastError = lastErr
	a.lastErrorTime = time.Now()
	return fmt.Errorf("failed to send log to Betterstack: %w", lastErr)
}

func (a *BetterstackAdapter) send(payload []byte) (bool, error) {
	req, err := http.NewRequest(http.MethodPost, a.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.SourceToken)
	req.Header.Set("User-Agent", a.config.UserAgent)
	for key, value := range a.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return false, fmt.Errorf("unauthorized: invalid source token")
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	default:
		return false, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body)
	}
}

func (a *BetterstackAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *BetterstackAdapter) Health() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastError != nil {
		return fmt.Errorf("adapter unhealthy: %v (last error at %v)", a.lastError, a.lastErrorTime)
	}
	return nil
}

func (a *BetterstackAdapter) Name() string {
	return a.name
}
