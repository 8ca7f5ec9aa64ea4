package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scrapekit/internal/config"
	"scrapekit/pkg/utils"
)

// Type identifies the challenge vendor
type Type string

const (
	TypeRecaptcha Type = "recaptcha"
	TypeHCaptcha  Type = "hcaptcha"
	TypeTurnstile Type = "turnstile"
	TypeUnknown   Type = "unknown"
)

// Challenge is a CAPTCHA found on a loaded page
type Challenge struct {
	URL     string `json:"url"`
	SiteKey string `json:"site_key"`
	Type    Type   `json:"type"`
}

// Solution is a solved-challenge token; it is consumed by one submission
type Solution struct {
	Token    string        `json:"-"`
	TaskID   string        `json:"task_id"`
	Type     Type          `json:"type"`
	Provider string        `json:"provider"`
	Duration time.Duration `json:"duration"`
}

// Solver obtains tokens from a remote solving service
type Solver interface {
	SolveRecaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error)
	SolveHCaptcha(ctx context.Context, websiteURL, websiteKey string) (Solution, error)
	SolveTurnstile(ctx context.Context, websiteURL, websiteKey string) (Solution, error)
	Balance(ctx context.Context) (float64, error)
	ReportIncorrect(ctx context.Context, sol Solution) error
	Name() string
}

// NewSolver builds the configured solver. It returns nil when solving is disabled.
func NewSolver(cfg config.CaptchaConfig) (Solver, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anticaptcha":
		s, err := NewAntiCaptchaSolver(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "2captcha":
		s, err := NewTwoCaptchaSolver(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, utils.NewValidationError(fmt.Sprintf("unknown captcha provider %q", cfg.Provider))
	}
}

// Solve dispatches ch to the solver method for its type
func Solve(ctx context.Context, s Solver, ch Challenge) (Solution, error) {
	if ch.SiteKey == "" {
		return Solution{}, utils.NewValidationError("challenge has no site key")
	}
	switch ch.Type {
	case TypeRecaptcha:
		return s.SolveRecaptcha(ctx, ch.URL, ch.SiteKey)
	case TypeHCaptcha:
		return s.SolveHCaptcha(ctx, ch.URL, ch.SiteKey)
	case TypeTurnstile:
		return s.SolveTurnstile(ctx, ch.URL, ch.SiteKey)
	default:
		return Solution{}, utils.NewSolveRejectedError(fmt.Sprintf("unsupported challenge type %q", ch.Type), nil)
	}
}

// contextError maps a finished context to the solver error taxonomy
func contextError(ctx context.Context, provider string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return utils.NewSolveTimeoutError(provider+" did not return a solution in time", ctx.Err())
	}
	return utils.NewSolveRejectedError(provider+" solve cancelled", ctx.Err())
}
