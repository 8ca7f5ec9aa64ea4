package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scrapekit/internal/captcha"
	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/utils"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	headlessThreshold        = 0.3
)

// Session owns one browser process and walks it through
// created -> launched -> navigated -> (captcha pending <-> resolved) -> captured -> closed.
// Methods are safe for concurrent use but a session is meant for one caller.
type Session struct {
	mu      sync.Mutex
	id      string
	cfg     config.BrowserConfig
	engine  Engine
	saver   Saver
	logger  types.Logger
	state   State
	driver  Driver
	profile fingerprint.Profile
	proxy   *proxy.Endpoint
	pending *captcha.Challenge

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// HeadlessReport is the outcome of the headless probes
type HeadlessReport struct {
	Signals  map[string]bool `json:"signals"`
	Score    float64         `json:"score"`
	Detected bool            `json:"detected"`
}

// NewSession creates a session in the created state. saver may be nil if
// SaveComplete is never called.
func NewSession(cfg config.BrowserConfig, engine Engine, saver Saver) *Session {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	id := utils.GenerateRequestID()
	return &Session{
		id:     id,
		cfg:    cfg,
		engine: engine,
		saver:  saver,
		logger: logging.GetGlobalLogger().WithField("session_id", id),
		state:  StateCreated,
		sleep:  sleepContext,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns a copy of the fingerprint the session was launched with
func (s *Session) Profile() fingerprint.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

// Launch starts the browser with profile and an optional proxy
func (s *Session) Launch(ctx context.Context, profile fingerprint.Profile, ep *proxy.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCreated:
	case StateClosed:
		return utils.NewLaunchError("session is closed", nil)
	default:
		return utils.NewLaunchError("session already launched", nil)
	}

	fields := map[string]interface{}{
		"user_agent": profile.UserAgent,
		"viewport":   profile.Signals()["viewport"],
		"headless":   s.cfg.Headless,
	}
	if ep != nil {
		fields["proxy"] = ep.String()
	}
	s.logger.Info("Launching browser session", fields)

	driver, err := s.engine.Launch(ctx, profile.Clone(), ep)
	if err != nil {
		if errors.Is(err, utils.ErrLaunch) {
			return err
		}
		return utils.NewLaunchError("browser engine failed to start", err)
	}

	s.driver = driver
	s.profile = profile.Clone()
	if ep != nil {
		cp := *ep
		s.proxy = &cp
	}
	s.state = StateLaunched
	return nil
}

// Navigate loads target. Human-like delays and auto-scroll are applied when configured.
func (s *Session) Navigate(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return utils.NewValidationError(fmt.Sprintf("invalid url %q", target))
	}
	switch s.state {
	case StateCreated:
		return utils.NewNavigationError("session not launched", nil)
	case StateClosed:
		return utils.NewNavigationError("session is closed", nil)
	}

	if s.cfg.Humanize {
		if err := s.sleep(ctx, s.randomDelay(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
			return utils.NewNavigationError("navigation cancelled", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	if err := s.driver.Navigate(navCtx, target); err != nil {
		detail := "failed to navigate to " + target
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			detail = fmt.Sprintf("navigation to %s timed out after %s", target, s.cfg.NavigationTimeout)
		}
		s.logger.Error("Navigation failed", map[string]interface{}{
			"url":   target,
			"error": err.Error(),
		})
		return utils.NewNavigationError(detail, err)
	}

	if s.cfg.AutoScroll {
		if _, err := s.driver.Eval(navCtx, autoScrollJS); err != nil {
			s.logger.Warn("Auto-scroll failed", map[string]interface{}{
				"url":   target,
				"error": err.Error(),
			})
		}
	}

	s.state = StateNavigated
	s.pending = nil
	s.logger.Info("Navigated", map[string]interface{}{
		"url":      target,
		"duration": utils.FormatDuration(time.Since(start)),
	})
	return nil
}

// HasCaptcha reports whether the loaded document carries a challenge marker.
// It does not change the session state.
func (s *Session) HasCaptcha(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.detect(ctx)
	return ok
}

// DetectChallenge finds the challenge on the loaded page and marks it pending.
// It fails with NotFoundError when there is none or its site key is unknown.
func (s *Session) DetectChallenge(ctx context.Context) (captcha.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.detect(ctx)
	if !ok {
		return captcha.Challenge{}, utils.NewNotFoundError("no captcha on the current page")
	}
	if ch.SiteKey == "" {
		return captcha.Challenge{}, utils.NewNotFoundError(fmt.Sprintf("%s challenge has no site key", ch.Type))
	}

	s.pending = &ch
	s.state = StateCaptchaPending
	s.logger.Info("Captcha detected", map[string]interface{}{
		"type":     string(ch.Type),
		"site_key": ch.SiteKey,
		"url":      ch.URL,
	})
	return ch, nil
}

// CaptchaSiteKey returns the site key of the challenge on the loaded page
func (s *Session) CaptchaSiteKey(ctx context.Context) (string, error) {
	ch, err := s.DetectChallenge(ctx)
	if err != nil {
		return "", err
	}
	return ch.SiteKey, nil
}

func (s *Session) detect(ctx context.Context) (captcha.Challenge, bool) {
	if !s.state.loaded() {
		return captcha.Challenge{}, false
	}
	html, err := s.driver.HTML(ctx)
	if err != nil {
		s.logger.Warn("Failed to read page for captcha detection", map[string]interface{}{
			"error": err.Error(),
		})
		return captcha.Challenge{}, false
	}
	pageURL, _ := s.driver.URL(ctx)
	return captcha.Detect(html, pageURL)
}

// SubmitCaptchaSolution injects token into the pending challenge and triggers verification
func (s *Session) SubmitCaptchaSolution(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCaptchaPending || s.pending == nil {
		return utils.NewSubmissionError("no pending captcha challenge", nil)
	}
	if token == "" {
		return utils.NewValidationError("captcha token is empty")
	}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	res, err := s.driver.EvalAndWaitNavigation(subCtx, submitSolutionJS, token, string(s.pending.Type))
	if err != nil {
		return utils.NewSubmissionError("failed to inject captcha solution", err)
	}
	if res.Get("injected").Int() == 0 {
		return utils.NewSubmissionError("page has no captcha response field", nil)
	}

	s.logger.Info("Captcha solution submitted", map[string]interface{}{
		"type":      string(s.pending.Type),
		"submitted": res.Get("submitted").Str(),
	})
	s.pending = nil
	s.state = StateCaptchaResolved
	return nil
}

// SaveComplete writes the loaded page and its resources as a bundle
func (s *Session) SaveComplete(ctx context.Context, name string) (*pagesaver.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.loaded() {
		return nil, utils.NewValidationError("save requires a navigated session, state is " + s.state.String())
	}
	if s.saver == nil {
		return nil, utils.NewValidationError("session has no page saver")
	}

	bundle, err := s.saver.Capture(ctx, s.driver, name)
	if err != nil {
		return nil, err
	}
	s.state = StateCaptured
	return bundle, nil
}

// Screenshot writes a full-page PNG to target, or to
// <screenshot dir>/<domain>_<timestamp>.png when target is empty
func (s *Session) Screenshot(ctx context.Context, target string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.loaded() {
		return "", utils.NewValidationError("screenshot requires a navigated session")
	}

	data, err := s.driver.Screenshot(ctx)
	if err != nil {
		return "", utils.NewIOError("capture screenshot", err)
	}

	if target == "" {
		pageURL, _ := s.driver.URL(ctx)
		domain := pagesaver.SanitizeName(utils.ExtractDomain(pageURL))
		if domain == "" {
			domain = "page"
		}
		dir := utils.GetStringOrDefault(s.cfg.ScreenshotDir, "screenshots")
		target = filepath.Join(dir, fmt.Sprintf("%s_%s.png", domain, time.Now().Format("20060102_150405")))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", utils.NewIOError("create screenshot directory", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", utils.NewIOError("write screenshot", err)
	}

	s.logger.Info("Screenshot saved", map[string]interface{}{
		"path":  target,
		"bytes": len(data),
	})
	return target, nil
}

// HeadlessDetected runs the headless probes in the page. More than 30% of
// signals firing counts as detected.
func (s *Session) HeadlessDetected(ctx context.Context) (HeadlessReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCreated || s.state == StateClosed {
		return HeadlessReport{}, utils.NewValidationError("headless probe requires a launched session")
	}

	res, err := s.driver.Eval(ctx, headlessProbeJS)
	if err != nil {
		return HeadlessReport{}, utils.NewNavigationError("headless probe failed", err)
	}

	report := HeadlessReport{Signals: make(map[string]bool)}
	var hits int
	for name, value := range res.Map() {
		report.Signals[name] = value.Bool()
		if value.Bool() {
			hits++
		}
	}
	if len(report.Signals) > 0 {
		report.Score = float64(hits) / float64(len(report.Signals))
	}
	report.Detected = report.Score > headlessThreshold
	return report, nil
}

// Close releases the browser. It is safe to call repeatedly and from any state.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.pending = nil

	if s.driver == nil {
		return nil
	}
	driver := s.driver
	s.driver = nil
	if err := driver.Close(); err != nil {
		s.logger.Warn("Failed to close browser cleanly", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	s.logger.Debug("Browser session closed")
	return nil
}

func (s *Session) randomDelay(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
