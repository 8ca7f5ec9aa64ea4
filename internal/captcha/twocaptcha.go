package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/pkg/utils"
)

// twoCaptchaAPI is the part of the 2captcha-go client this solver uses
type twoCaptchaAPI interface {
	Solve(req api2captcha.Request) (string, string, error)
	GetBalance() (float64, error)
	Report(id string, correct bool) error
}

// TwoCaptchaSolver implements 2Captcha service integration using the official library
type TwoCaptchaSolver struct {
	client  twoCaptchaAPI
	timeout time.Duration
	logger  types.Logger
}

func NewTwoCaptchaSolver(cfg config.CaptchaConfig) (*TwoCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, utils.NewValidationError("2captcha api key not configured")
	}
	logger := logging.GetGlobalLogger().WithField("component", "2captcha")

	client := api2captcha.NewClient(cfg.APIKey)
	client.DefaultTimeout = int(cfg.Timeout.Seconds())
	client.RecaptchaTimeout = int(cfg.Timeout.Seconds())
	if cfg.PollingInterval > 0 {
		client.PollingInterval = int(cfg.PollingInterval.Seconds())
	}

	logger.Info("2Captcha client configured", map[string]interface{}{
		"default_timeout":  client.DefaultTimeout,
		"polling_interval": client.PollingInterval,
	})

	return &TwoCaptchaSolver{client: client, timeout: cfg.Timeout, logger: logger}, nil
}

func (s *TwoCaptchaSolver) Name() string { return "2captcha" }

func (s *TwoCaptchaSolver) SolveRecaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	req := api2captcha.ReCaptcha{SiteKey: websiteKey, Url: websiteURL}
	return s.solve(ctx, TypeRecaptcha, websiteURL, req.ToRequest())
}

func (s *TwoCaptchaSolver) SolveHCaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	req := api2captcha.HCaptcha{SiteKey: websiteKey, Url: websiteURL}
	return s.solve(ctx, TypeHCaptcha, websiteURL, req.ToRequest())
}

func (s *TwoCaptchaSolver) SolveTurnstile(ctx context.Context, websiteURL, websiteKey string) (Solution, error) {
	req := api2captcha.CloudflareTurnstile{SiteKey: websiteKey, Url: websiteURL}
	return s.solve(ctx, TypeTurnstile, websiteURL, req.ToRequest())
}

type solveResult struct {
	code string
	id   string
	err  error
}

// solve runs the blocking library call in a goroutine so ctx can end the wait
func (s *TwoCaptchaSolver) solve(ctx context.Context, kind Type, pageURL string, req api2captcha.Request) (Solution, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("Starting captcha solve", map[string]interface{}{
		"type":     string(kind),
		"page_url": pageURL,
	})
	start := time.Now()

	done := make(chan solveResult, 1)
	go func() {
		code, id, err := s.client.Solve(req)
		done <- solveResult{code: code, id: id, err: err}
	}()

	select {
	case <-ctx.Done():
		return Solution{}, contextError(ctx, s.Name())
	case res := <-done:
		if res.err != nil {
			s.logger.Error("Failed to solve captcha", map[string]interface{}{
				"type":       string(kind),
				"page_url":   pageURL,
				"captcha_id": res.id,
				"error":      res.err.Error(),
			})
			return Solution{}, classifyTwoCaptchaError(res.err)
		}
		if res.code == "" {
			return Solution{}, utils.NewSolveRejectedError("2captcha returned an empty token", nil)
		}

		elapsed := time.Since(start)
		s.logger.Info("Captcha solved", map[string]interface{}{
			"type":         string(kind),
			"captcha_id":   res.id,
			"solving_time": elapsed.String(),
		})
		return Solution{Token: res.code, TaskID: res.id, Type: kind, Provider: s.Name(), Duration: elapsed}, nil
	}
}

func classifyTwoCaptchaError(err error) error {
	if errors.Is(err, api2captcha.ErrTimeout) {
		return utils.NewSolveTimeoutError("2captcha timed out", err)
	}
	return utils.NewSolveRejectedError("2captcha rejected the task", err)
}

func (s *TwoCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	type balanceResult struct {
		balance float64
		err     error
	}
	done := make(chan balanceResult, 1)
	go func() {
		b, err := s.client.GetBalance()
		done <- balanceResult{balance: b, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, contextError(ctx, s.Name())
	case res := <-done:
		if res.err != nil {
			return 0, utils.NewSolveRejectedError("2captcha balance lookup failed", res.err)
		}
		return res.balance, nil
	}
}

func (s *TwoCaptchaSolver) ReportIncorrect(ctx context.Context, sol Solution) error {
	if sol.TaskID == "" {
		return utils.NewValidationError("solution has no task id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.Report(sol.TaskID, false); err != nil {
		return fmt.Errorf("report incorrect 2captcha solution: %w", err)
	}
	s.logger.Info("Reported incorrect captcha solution", map[string]interface{}{
		"captcha_id": sol.TaskID,
	})
	return nil
}
