package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"scrapekit/internal/browser"
	"scrapekit/internal/captcha"
	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/utils"
)

type fakeDriver struct {
	url        string
	html       string
	lateHTML   string
	lateAfter  int
	htmlCalls  int
	navErr     error
	submitArgs []interface{}
	screenshot []byte
	closed     int
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if d.navErr != nil {
		return d.navErr
	}
	d.url = url
	return nil
}

func (d *fakeDriver) URL(ctx context.Context) (string, error) { return d.url, nil }

// HTML switches to lateHTML once it has been read lateAfter times
func (d *fakeDriver) HTML(ctx context.Context) (string, error) {
	d.htmlCalls++
	if d.lateHTML != "" && d.htmlCalls > d.lateAfter {
		return d.lateHTML, nil
	}
	return d.html, nil
}

func (d *fakeDriver) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	return gson.New(nil), nil
}

func (d *fakeDriver) EvalAndWaitNavigation(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	d.submitArgs = args
	return gson.New(map[string]interface{}{"injected": 1.0, "submitted": "callback"}), nil
}

func (d *fakeDriver) Resource(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("HTTP 404")
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return d.screenshot, nil }

func (d *fakeDriver) Close() error {
	d.closed++
	return nil
}

type fakeEngine struct {
	driver  *fakeDriver
	err     error
	profile fingerprint.Profile
	proxy   *proxy.Endpoint
}

func (e *fakeEngine) Launch(ctx context.Context, profile fingerprint.Profile, ep *proxy.Endpoint) (browser.Driver, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.profile = profile
	e.proxy = ep
	return e.driver, nil
}

type fakeSolver struct {
	err   error
	calls []captcha.Challenge
}

func (f *fakeSolver) solve(kind captcha.Type, url, key string) (captcha.Solution, error) {
	f.calls = append(f.calls, captcha.Challenge{URL: url, SiteKey: key, Type: kind})
	if f.err != nil {
		return captcha.Solution{}, f.err
	}
	return captcha.Solution{Token: "solved-token", TaskID: "42", Type: kind, Provider: "fake", Duration: time.Second}, nil
}

func (f *fakeSolver) SolveRecaptcha(ctx context.Context, url, key string) (captcha.Solution, error) {
	return f.solve(captcha.TypeRecaptcha, url, key)
}

func (f *fakeSolver) SolveHCaptcha(ctx context.Context, url, key string) (captcha.Solution, error) {
	return f.solve(captcha.TypeHCaptcha, url, key)
}

func (f *fakeSolver) SolveTurnstile(ctx context.Context, url, key string) (captcha.Solution, error) {
	return f.solve(captcha.TypeTurnstile, url, key)
}

func (f *fakeSolver) Balance(ctx context.Context) (float64, error)                    { return 1, nil }
func (f *fakeSolver) ReportIncorrect(ctx context.Context, sol captcha.Solution) error { return nil }
func (f *fakeSolver) Name() string                                                    { return "fake" }

const (
	plainPage     = `<html><head><title>Plain</title></head><body><p>hello</p></body></html>`
	recaptchaPage = `<html><head><title>Login</title></head><body><form><div class="g-recaptcha" data-sitekey="6LcKEY" data-callback="onSolved"></div></form></body></html>`
)

type fixture struct {
	driver *fakeDriver
	engine *fakeEngine
	solver *fakeSolver
	runner *Runner
	dir    string
}

func newFixture(t *testing.T, html string, withProxy, withSolver bool) *fixture {
	t.Helper()
	gen, err := fingerprint.NewSeededGenerator(3)
	require.NoError(t, err)

	f := &fixture{
		driver: &fakeDriver{html: html, screenshot: []byte("png")},
		dir:    t.TempDir(),
	}
	f.engine = &fakeEngine{driver: f.driver}

	deps := Deps{
		Engine: f.engine,
		Saver:  pagesaver.New(config.CaptureConfig{Dir: f.dir}, nil),
		Store:  fingerprint.NewEphemeralStore(gen),
	}
	if withProxy {
		deps.Rotator = proxy.NewStaticRotator([]proxy.Endpoint{
			{Protocol: "http", Host: "10.0.0.1", Port: 3128},
			{Protocol: "http", Host: "10.0.0.2", Port: 3128},
		})
	}
	if withSolver {
		f.solver = &fakeSolver{}
		deps.Solver = f.solver
	}

	f.runner = NewRunner(
		config.BrowserConfig{NavigationTimeout: time.Second, ScreenshotDir: t.TempDir()},
		config.CaptchaConfig{EnableAutoSolve: true},
		deps,
	)
	return f
}

func TestRun_PlainPage(t *testing.T) {
	f := newFixture(t, plainPage, true, false)

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/", Name: "home"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "https://example.com/", res.URL)
	assert.Contains(t, res.Proxy, "10.0.0.1:3128")
	require.NotNil(t, f.engine.proxy)
	assert.Equal(t, "10.0.0.1", f.engine.proxy.Host)
	assert.Equal(t, f.engine.profile.Signals(), res.Fingerprint)
	assert.Nil(t, res.Captcha)
	require.NotNil(t, res.Bundle)
	assert.Equal(t, "home", res.Bundle.Name)
	assert.FileExists(t, res.Bundle.Root)
	assert.Empty(t, res.Screenshot)
	assert.Equal(t, 1, f.driver.closed)
}

func TestRun_SolvesCaptcha(t *testing.T) {
	f := newFixture(t, recaptchaPage, false, true)

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/login"})
	require.NoError(t, err)

	require.Len(t, f.solver.calls, 1)
	assert.Equal(t, captcha.Challenge{URL: "https://example.com/login", SiteKey: "6LcKEY", Type: captcha.TypeRecaptcha}, f.solver.calls[0])
	assert.Equal(t, []interface{}{"solved-token", "recaptcha"}, f.driver.submitArgs)

	require.NotNil(t, res.Captcha)
	assert.True(t, res.Captcha.Solved)
	assert.Equal(t, "fake", res.Captcha.Provider)
	assert.Equal(t, "42", res.Captcha.TaskID)
	assert.Equal(t, "Login", res.Bundle.Name)
	assert.Nil(t, f.engine.proxy)
	assert.Equal(t, 1, f.driver.closed)
}

func TestRun_CaptchaWithoutSolver(t *testing.T) {
	f := newFixture(t, recaptchaPage, false, false)

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/login"})
	require.NoError(t, err)
	require.NotNil(t, res.Captcha)
	assert.False(t, res.Captcha.Solved)
	assert.Equal(t, "6LcKEY", res.Captcha.Challenge.SiteKey)
	assert.Nil(t, f.driver.submitArgs)
	require.NotNil(t, res.Bundle)
}

func TestRun_RemembersCaptchaDomain(t *testing.T) {
	f := newFixture(t, recaptchaPage, false, false)
	domains, err := captcha.NewDomainRegistry("")
	require.NoError(t, err)
	f.runner.domains = domains

	_, err = f.runner.Run(context.Background(), Request{URL: "https://www.example.com/login"})
	require.NoError(t, err)
	assert.True(t, domains.IsKnown("example.com"))
	assert.Equal(t, 1, domains.Len())
}

func TestRun_LateWidgetOnKnownDomain(t *testing.T) {
	f := newFixture(t, plainPage, false, true)
	f.driver.lateHTML = recaptchaPage
	f.driver.lateAfter = 2
	domains, err := captcha.NewDomainRegistry("")
	require.NoError(t, err)
	_, err = domains.Add("example.com")
	require.NoError(t, err)
	f.runner.domains = domains
	f.runner.lateWidgetWait = time.Second
	f.runner.lateWidgetPoll = 5 * time.Millisecond

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/login"})
	require.NoError(t, err)
	require.NotNil(t, res.Captcha)
	assert.True(t, res.Captcha.Solved)
	require.Len(t, f.solver.calls, 1)
}

func TestRun_UnknownDomainIsNotPolled(t *testing.T) {
	f := newFixture(t, plainPage, false, true)
	f.driver.lateHTML = recaptchaPage
	f.driver.lateAfter = 1
	domains, err := captcha.NewDomainRegistry("")
	require.NoError(t, err)
	f.runner.domains = domains

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Nil(t, res.Captcha)
	assert.Empty(t, f.solver.calls)
	assert.Equal(t, 0, domains.Len())
}

func TestRun_SkipCaptcha(t *testing.T) {
	f := newFixture(t, recaptchaPage, false, true)

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/login", SkipCaptcha: true})
	require.NoError(t, err)
	assert.Nil(t, res.Captcha)
	assert.Empty(t, f.solver.calls)
}

func TestRun_SolveFailureSurfaces(t *testing.T) {
	f := newFixture(t, recaptchaPage, false, true)
	f.solver.err = utils.NewSolveTimeoutError("fake did not return a solution in time", nil)

	_, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/login"})
	assert.True(t, errors.Is(err, utils.ErrSolveTimeout))
	assert.Equal(t, 1, f.driver.closed)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Screenshot(t *testing.T) {
	f := newFixture(t, plainPage, false, false)

	res, err := f.runner.Run(context.Background(), Request{URL: "https://example.com/", Screenshot: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Screenshot)
	data, err := os.ReadFile(res.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestRun_Errors(t *testing.T) {
	f := newFixture(t, plainPage, false, false)
	_, err := f.runner.Run(context.Background(), Request{})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = f.runner.Run(context.Background(), Request{URL: "not a url"})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	f = newFixture(t, plainPage, false, false)
	f.engine.err = utils.NewLaunchError("no chrome", nil)
	_, err = f.runner.Run(context.Background(), Request{URL: "https://example.com/"})
	assert.True(t, errors.Is(err, utils.ErrLaunch))

	f = newFixture(t, plainPage, false, false)
	f.driver.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	_, err = f.runner.Run(context.Background(), Request{URL: "https://example.com/"})
	assert.True(t, errors.Is(err, utils.ErrNavigation))
	assert.Equal(t, 1, f.driver.closed)
}
