package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/pkg/utils"
)

const antiCaptchaBaseURL = "https://api.anti-captcha.com"

// AntiCaptchaSolver talks to the Anti-Captcha JSON API (createTask, then poll getTaskResult)
type AntiCaptchaSolver struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       types.Logger
}

func NewAntiCaptchaSolver(cfg config.CaptchaConfig) (*AntiCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, utils.NewValidationError("anti-captcha api key not configured")
	}
	baseURL := strings.TrimRight(utils.GetStringOrDefault(cfg.BaseURL, antiCaptchaBaseURL), "/")
	poll := cfg.PollingInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	return &AntiCaptchaSolver{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		timeout:      cfg.Timeout,
		pollInterval: poll,
		logger:       logging.GetGlobalLogger().WithField("component", "anticaptcha"),
	}, nil
}

func (s *AntiCaptchaSolver) Name() string { return "anticaptcha" }

type antiCaptchaResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           int64           `json:"taskId"`
	Status           string          `json:"status"`
	Balance          float64         `json:"balance"`
	Solution         json.RawMessage `json:"solution"`
}

type antiCaptchaSolution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
	Token              string `json:"token"`
	Text               string `json:"text"`
}

func (s *AntiCaptchaSolver) SolveRecaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	return s.solve(ctx, TypeRecaptcha, "RecaptchaV2TaskProxyless", websiteURL, websiteKey)
}

func (s *AntiCaptchaSolver) SolveHCaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	return s.solve(ctx, TypeHCaptcha, "HCaptchaTaskProxyless", websiteURL, websiteKey)
}

func (s *AntiCaptchaSolver) SolveTurnstile(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	return s.solve(ctx, TypeTurnstile, "TurnstileTaskProxyless", websiteURL, websiteKey)
}

func (s *AntiCaptchaSolver) solve(ctx context.Context, kind Type, taskType, websiteURL, websiteKey string) (Solution, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()

	created, err := s.call(ctx, "createTask", map[string]interface{}{
		"clientKey": s.apiKey,
		"task": map[string]interface{}{
			"type":       taskType,
			"websiteURL": websiteURL,
			"websiteKey": websiteKey,
		},
	})
	if err != nil {
		return Solution{}, err
	}
	taskID := strconv.FormatInt(created.TaskID, 10)

	s.logger.Info("Anti-Captcha task created", map[string]interface{}{
		"task_id":  taskID,
		"type":     string(kind),
		"page_url": websiteURL,
	})

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Solution{}, contextError(ctx, s.Name())
		case <-ticker.C:
		}

		result, err := s.call(ctx, "getTaskResult", map[string]interface{}{
			"clientKey": s.apiKey,
			"taskId":    created.TaskID,
		})
		if err != nil {
			return Solution{}, err
		}
		if result.Status != "ready" {
			continue
		}

		var sol antiCaptchaSolution
		if err := json.Unmarshal(result.Solution, &sol); err != nil {
			return Solution{}, utils.NewSolveRejectedError("unreadable anti-captcha solution", err)
		}
		token := sol.GRecaptchaResponse
		if token == "" {
			token = sol.Token
		}
		if token == "" {
			token = sol.Text
		}
		if token == "" {
			return Solution{}, utils.NewSolveRejectedError("anti-captcha returned an empty token", nil)
		}

		elapsed := time.Since(start)
		s.logger.Info("Captcha solved", map[string]interface{}{
			"task_id":      taskID,
			"type":         string(kind),
			"solving_time": elapsed.String(),
		})
		return Solution{Token: token, TaskID: taskID, Type: kind, Provider: s.Name(), Duration: elapsed}, nil
	}
}

func (s *AntiCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	resp, err := s.call(ctx, "getBalance", map[string]interface{}{"clientKey": s.apiKey})
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// ReportIncorrect flags a token the target site refused. Turnstile has no report endpoint.
func (s *AntiCaptchaSolver) ReportIncorrect(ctx context.Context, sol Solution) error {
	var method string
	switch sol.Type {
	case TypeRecaptcha:
		method = "reportIncorrectRecaptcha"
	case TypeHCaptcha:
		method = "reportIncorrectHcaptcha"
	default:
		return utils.NewValidationError(fmt.Sprintf("anti-captcha cannot report %s solutions", sol.Type))
	}
	taskID, err := strconv.ParseInt(sol.TaskID, 10, 64)
	if err != nil {
		return utils.NewValidationError(fmt.Sprintf("invalid task id %q", sol.TaskID))
	}

	if _, err := s.call(ctx, method, map[string]interface{}{
		"clientKey": s.apiKey,
		"taskId":    taskID,
	}); err != nil {
		return err
	}
	s.logger.Info("Reported incorrect captcha solution", map[string]interface{}{
		"task_id": sol.TaskID,
	})
	return nil
}

// call posts one API method and maps vendor errors to SolveRejectedError
func (s *AntiCaptchaSolver) call(ctx context.Context, method string, payload map[string]interface{}) (*antiCaptchaResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, s.Name())
		}
		return nil, utils.NewSolveRejectedError("anti-captcha "+method+" request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, utils.NewSolveRejectedError("read anti-captcha response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, utils.NewSolveRejectedError(fmt.Sprintf("anti-captcha %s returned HTTP %d", method, resp.StatusCode), nil)
	}

	var out antiCaptchaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, utils.NewSolveRejectedError("unreadable anti-captcha response", err)
	}
	if out.ErrorID != 0 {
		return nil, utils.NewSolveRejectedError(fmt.Sprintf("%s: %s", out.ErrorCode, out.ErrorDescription), nil)
	}
	return &out, nil
}
