package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scrapekit/pkg/utils"
)

// VerifyResult describes one request made through a proxy
type VerifyResult struct {
	IP         string        `json:"ip"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
}

// Verify requests an IP echo service through ep and reports the exit address.
// It is a diagnostic and does not affect rotation.
func Verify(ctx context.Context, ep Endpoint, echoURL string, timeout time.Duration) (VerifyResult, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(ep.URL())},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return VerifyResult{}, utils.NewValidationError(fmt.Sprintf("invalid echo url: %v", err))
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return VerifyResult{}, utils.NewNavigationError("proxy request failed via "+ep.String(), err)
	}
	defer resp.Body.Close()

	result := VerifyResult{StatusCode: resp.StatusCode, Latency: time.Since(start)}
	if resp.StatusCode != http.StatusOK {
		return result, utils.NewNavigationError(fmt.Sprintf("echo service returned HTTP %d", resp.StatusCode), nil)
	}

	var body struct {
		IP string `json:"ip"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return result, utils.NewNavigationError("read echo response", err)
	}
	if err := json.Unmarshal(data, &body); err != nil || body.IP == "" {
		result.IP = "unknown"
		return result, nil
	}
	result.IP = body.IP
	return result, nil
}
