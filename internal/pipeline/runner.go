package pipeline

import (
	"context"
	"errors"
	"time"

	"scrapekit/internal/browser"
	"scrapekit/internal/captcha"
	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/utils"
)

// Request describes one capture cycle
type Request struct {
	URL         string `json:"url" validate:"required,url"`
	Name        string `json:"name,omitempty" validate:"omitempty,max=100"`
	Screenshot  bool   `json:"screenshot,omitempty"`
	SkipCaptcha bool   `json:"skip_captcha,omitempty"`
}

// CaptchaOutcome reports what happened to a challenge found on the page
type CaptchaOutcome struct {
	Challenge captcha.Challenge `json:"challenge"`
	Solved    bool              `json:"solved"`
	Provider  string            `json:"provider,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	SolveTime time.Duration     `json:"solve_time,omitempty"`
}

// Result is everything a capture cycle produced
type Result struct {
	SessionID   string            `json:"session_id"`
	URL         string            `json:"url"`
	Proxy       string            `json:"proxy,omitempty"`
	Fingerprint map[string]string `json:"fingerprint"`
	Captcha     *CaptchaOutcome   `json:"captcha,omitempty"`
	Bundle      *pagesaver.Bundle `json:"bundle"`
	Screenshot  string            `json:"screenshot,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Runner drives one session per request:
// proxy -> fingerprint -> launch -> navigate -> captcha -> capture -> close.
// rotator and solver are optional.
type Runner struct {
	browserCfg config.BrowserConfig
	autoSolve  bool
	engine     browser.Engine
	saver      browser.Saver
	rotator    proxy.Rotator
	store      fingerprint.Store
	solver     captcha.Solver
	domains    *captcha.DomainRegistry
	logger     types.Logger

	lateWidgetWait time.Duration
	lateWidgetPoll time.Duration
}

// Deps are the collaborators of a Runner
type Deps struct {
	Engine  browser.Engine
	Saver   browser.Saver
	Rotator proxy.Rotator
	Store   fingerprint.Store
	Solver  captcha.Solver
	Domains *captcha.DomainRegistry
}

func NewRunner(browserCfg config.BrowserConfig, captchaCfg config.CaptchaConfig, deps Deps) *Runner {
	return &Runner{
		browserCfg: browserCfg,
		autoSolve:  captchaCfg.EnableAutoSolve,
		engine:     deps.Engine,
		saver:      deps.Saver,
		rotator:    deps.Rotator,
		store:      deps.Store,
		solver:     deps.Solver,
		domains:    deps.Domains,
		logger:     logging.GetGlobalLogger().WithField("component", "pipeline"),

		lateWidgetWait: 5 * time.Second,
		lateWidgetPoll: 500 * time.Millisecond,
	}
}

// Solver returns the configured solver or nil
func (r *Runner) Solver() captcha.Solver { return r.solver }

// Domains returns the captcha domain registry or nil
func (r *Runner) Domains() *captcha.DomainRegistry { return r.domains }

// Rotator returns the configured rotator or nil
func (r *Runner) Rotator() proxy.Rotator { return r.rotator }

// Run executes one capture cycle. The session is always closed before Run returns.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()

	if req.URL == "" {
		return nil, utils.NewValidationError("url is required")
	}

	var ep *proxy.Endpoint
	if r.rotator != nil {
		got, err := r.rotator.GetProxy(ctx)
		if err != nil {
			return nil, err
		}
		ep = &got
	}

	domain := utils.ExtractDomain(req.URL)
	if domain == "" {
		return nil, utils.NewValidationError("url has no host: " + req.URL)
	}
	profile, err := r.store.ForDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	session := browser.NewSession(r.browserCfg, r.engine, r.saver)
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("Failed to close browser session", map[string]interface{}{
				"session_id": session.ID(),
				"error":      err.Error(),
			})
		}
	}()

	logger := r.logger.WithFields(map[string]interface{}{
		"session_id": session.ID(),
		"url":        req.URL,
	})
	logger.Info("Starting capture", map[string]interface{}{
		"proxied": ep != nil,
	})

	result := &Result{
		SessionID:   session.ID(),
		URL:         req.URL,
		Fingerprint: profile.Signals(),
	}
	if ep != nil {
		result.Proxy = ep.String()
	}

	if err := session.Launch(ctx, profile, ep); err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, req.URL); err != nil {
		return nil, err
	}

	if !req.SkipCaptcha && r.hasCaptcha(ctx, session, domain) {
		r.rememberDomain(domain, logger)
		outcome, err := r.handleCaptcha(ctx, session, logger)
		if err != nil {
			return nil, err
		}
		result.Captcha = outcome
	}

	bundle, err := session.SaveComplete(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	result.Bundle = bundle

	if req.Screenshot {
		path, err := session.Screenshot(ctx, "")
		if err != nil {
			return nil, err
		}
		result.Screenshot = path
	}

	result.Duration = time.Since(startTime)
	logger.Info("Capture completed", map[string]interface{}{
		"bundle":          bundle.Root,
		"resources":       len(bundle.Resources),
		"processing_time": utils.FormatDuration(result.Duration),
	})
	return result, nil
}

// hasCaptcha checks the loaded page. Domains that served a challenge before
// are polled for a while since widgets are often injected after load.
func (r *Runner) hasCaptcha(ctx context.Context, session *browser.Session, domain string) bool {
	if session.HasCaptcha(ctx) {
		return true
	}
	if r.domains == nil || !r.domains.IsKnown(domain) {
		return false
	}

	ticker := time.NewTicker(r.lateWidgetPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(r.lateWidgetWait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if session.HasCaptcha(ctx) {
				return true
			}
		}
	}
}

func (r *Runner) rememberDomain(domain string, logger types.Logger) {
	if r.domains == nil {
		return
	}
	if _, err := r.domains.Add(domain); err != nil {
		logger.Warn("Failed to persist captcha domain", map[string]interface{}{
			"domain": domain,
			"error":  err.Error(),
		})
	}
}

// handleCaptcha solves and submits the pending challenge. Without a solver,
// or with a challenge that carries no site key, the page is captured as is.
func (r *Runner) handleCaptcha(ctx context.Context, session *browser.Session, logger types.Logger) (*CaptchaOutcome, error) {
	challenge, err := session.DetectChallenge(ctx)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			logger.Warn("CAPTCHA markers present but no site key found", map[string]interface{}{})
			return nil, nil
		}
		return nil, err
	}

	outcome := &CaptchaOutcome{Challenge: challenge}
	if r.solver == nil || !r.autoSolve {
		logger.Warn("CAPTCHA detected but auto-solve is disabled", map[string]interface{}{
			"captcha_type": string(challenge.Type),
		})
		return outcome, nil
	}

	logger.Info("Solving CAPTCHA", map[string]interface{}{
		"captcha_type": string(challenge.Type),
		"provider":     r.solver.Name(),
	})
	solution, err := captcha.Solve(ctx, r.solver, challenge)
	if err != nil {
		return nil, err
	}
	if err := session.SubmitCaptchaSolution(ctx, solution.Token); err != nil {
		return nil, err
	}

	outcome.Solved = true
	outcome.Provider = solution.Provider
	outcome.TaskID = solution.TaskID
	outcome.SolveTime = solution.Duration
	return outcome, nil
}
