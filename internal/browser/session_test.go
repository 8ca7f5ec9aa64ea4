package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/utils"
)

type fakeDriver struct {
	url         string
	html        string
	navErr      error
	navigated   []string
	evalResult  gson.JSON
	evalCalls   int
	submitJS    string
	submitArgs  []interface{}
	submitValue gson.JSON
	screenshot  []byte
	closed      int
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if d.navErr != nil {
		return d.navErr
	}
	d.navigated = append(d.navigated, url)
	d.url = url
	return nil
}

func (d *fakeDriver) URL(ctx context.Context) (string, error)  { return d.url, nil }
func (d *fakeDriver) HTML(ctx context.Context) (string, error) { return d.html, nil }

func (d *fakeDriver) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	d.evalCalls++
	return d.evalResult, nil
}

func (d *fakeDriver) EvalAndWaitNavigation(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	d.submitJS = js
	d.submitArgs = args
	return d.submitValue, nil
}

func (d *fakeDriver) Resource(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("not cached")
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return d.screenshot, nil }

func (d *fakeDriver) Close() error {
	d.closed++
	return nil
}

type fakeEngine struct {
	driver   *fakeDriver
	err      error
	launches int
	profile  fingerprint.Profile
	proxy    *proxy.Endpoint
}

func (e *fakeEngine) Launch(ctx context.Context, profile fingerprint.Profile, ep *proxy.Endpoint) (Driver, error) {
	e.launches++
	if e.err != nil {
		return nil, e.err
	}
	e.profile = profile
	e.proxy = ep
	return e.driver, nil
}

type fakeSaver struct {
	names []string
}

func (f *fakeSaver) Capture(ctx context.Context, src pagesaver.Source, name string) (*pagesaver.Bundle, error) {
	f.names = append(f.names, name)
	u, _ := src.URL(ctx)
	return &pagesaver.Bundle{Name: name, SourceURL: u}, nil
}

const recaptchaPage = `<html><body><form action="/login"><div class="g-recaptcha" data-sitekey="6LcKEY"></div></form></body></html>`

func newTestSession(t *testing.T, driver *fakeDriver) (*Session, *fakeEngine, *fakeSaver) {
	t.Helper()
	engine := &fakeEngine{driver: driver}
	saver := &fakeSaver{}
	s := NewSession(config.BrowserConfig{NavigationTimeout: time.Second, ScreenshotDir: t.TempDir()}, engine, saver)
	return s, engine, saver
}

func testProfile(t *testing.T) fingerprint.Profile {
	t.Helper()
	gen, err := fingerprint.NewSeededGenerator(7)
	require.NoError(t, err)
	return gen.Generate()
}

func launched(t *testing.T, driver *fakeDriver) (*Session, *fakeEngine, *fakeSaver) {
	t.Helper()
	s, engine, saver := newTestSession(t, driver)
	require.NoError(t, s.Launch(context.Background(), testProfile(t), nil))
	return s, engine, saver
}

func TestSession_FullLifecycle(t *testing.T) {
	driver := &fakeDriver{
		html:        recaptchaPage,
		submitValue: gson.New(map[string]interface{}{"injected": 1.0, "submitted": "form"}),
	}
	s, engine, saver := newTestSession(t, driver)
	ctx := context.Background()
	assert.Equal(t, StateCreated, s.State())

	ep := proxy.Endpoint{Protocol: "http", Host: "10.0.0.1", Port: 8080}
	require.NoError(t, s.Launch(ctx, testProfile(t), &ep))
	assert.Equal(t, StateLaunched, s.State())
	require.NotNil(t, engine.proxy)
	assert.Equal(t, "10.0.0.1", engine.proxy.Host)

	require.NoError(t, s.Navigate(ctx, "https://example.com/login"))
	assert.Equal(t, StateNavigated, s.State())
	assert.True(t, s.HasCaptcha(ctx))
	assert.Equal(t, StateNavigated, s.State())

	key, err := s.CaptchaSiteKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6LcKEY", key)
	assert.Equal(t, StateCaptchaPending, s.State())

	require.NoError(t, s.SubmitCaptchaSolution(ctx, "token-1"))
	assert.Equal(t, StateCaptchaResolved, s.State())
	assert.Equal(t, []interface{}{"token-1", "recaptcha"}, driver.submitArgs)

	bundle, err := s.SaveComplete(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, "login", bundle.Name)
	assert.Equal(t, "https://example.com/login", bundle.SourceURL)
	assert.Equal(t, []string{"login"}, saver.names)
	assert.Equal(t, StateCaptured, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, driver.closed)
}

func TestSession_SiteKeyBeforeNavigate(t *testing.T) {
	s, _, _ := launched(t, &fakeDriver{html: recaptchaPage})
	_, err := s.CaptchaSiteKey(context.Background())
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	fresh, _, _ := newTestSession(t, &fakeDriver{html: recaptchaPage})
	_, err = fresh.CaptchaSiteKey(context.Background())
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestSession_SiteKeyWithoutCaptcha(t *testing.T) {
	s, _, _ := launched(t, &fakeDriver{html: `<html><body><main>ok</main></body></html>`})
	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))

	assert.False(t, s.HasCaptcha(context.Background()))
	_, err := s.CaptchaSiteKey(context.Background())
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	assert.Equal(t, StateNavigated, s.State())
}

func TestSession_SubmitWithoutPendingChallenge(t *testing.T) {
	s, _, _ := launched(t, &fakeDriver{html: recaptchaPage})
	err := s.SubmitCaptchaSolution(context.Background(), "tok")
	assert.True(t, errors.Is(err, utils.ErrSubmission))

	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))
	err = s.SubmitCaptchaSolution(context.Background(), "tok")
	assert.True(t, errors.Is(err, utils.ErrSubmission))
}

func TestSession_SubmitWithoutResponseField(t *testing.T) {
	driver := &fakeDriver{
		html:        recaptchaPage,
		submitValue: gson.New(map[string]interface{}{"injected": 0.0, "submitted": ""}),
	}
	s, _, _ := launched(t, driver)
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, "https://example.com"))
	_, err := s.CaptchaSiteKey(ctx)
	require.NoError(t, err)

	err = s.SubmitCaptchaSolution(ctx, "tok")
	assert.True(t, errors.Is(err, utils.ErrSubmission))
	assert.Equal(t, StateCaptchaPending, s.State())
}

func TestSession_SaveBeforeNavigate(t *testing.T) {
	s, _, saver := launched(t, &fakeDriver{})
	_, err := s.SaveComplete(context.Background(), "x")
	assert.True(t, errors.Is(err, utils.ErrValidation))
	assert.Empty(t, saver.names)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	driver := &fakeDriver{}
	s, _, _ := launched(t, driver)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, driver.closed)

	unlaunched, _, _ := newTestSession(t, &fakeDriver{})
	require.NoError(t, unlaunched.Close())
	require.NoError(t, unlaunched.Close())
}

func TestSession_LaunchErrors(t *testing.T) {
	s, engine, _ := launched(t, &fakeDriver{})
	err := s.Launch(context.Background(), testProfile(t), nil)
	assert.True(t, errors.Is(err, utils.ErrLaunch))
	assert.Equal(t, 1, engine.launches)

	failing, engine, _ := newTestSession(t, nil)
	engine.err = errors.New("chrome not found")
	err = failing.Launch(context.Background(), testProfile(t), nil)
	assert.True(t, errors.Is(err, utils.ErrLaunch))
	assert.Equal(t, StateCreated, failing.State())

	require.NoError(t, s.Close())
	err = s.Launch(context.Background(), testProfile(t), nil)
	assert.True(t, errors.Is(err, utils.ErrLaunch))
}

func TestSession_NavigateErrors(t *testing.T) {
	fresh, _, _ := newTestSession(t, &fakeDriver{})
	err := fresh.Navigate(context.Background(), "https://example.com")
	assert.True(t, errors.Is(err, utils.ErrNavigation))

	s, _, _ := launched(t, &fakeDriver{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")})
	err = s.Navigate(context.Background(), "https://nowhere.invalid")
	assert.True(t, errors.Is(err, utils.ErrNavigation))
	assert.Equal(t, StateLaunched, s.State())

	err = s.Navigate(context.Background(), "ftp://example.com")
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestSession_HumanizeAndAutoScroll(t *testing.T) {
	driver := &fakeDriver{}
	engine := &fakeEngine{driver: driver}
	s := NewSession(config.BrowserConfig{Humanize: true, AutoScroll: true}, engine, nil)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	require.NoError(t, s.Launch(context.Background(), testProfile(t), nil))
	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))

	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], 500*time.Millisecond)
	assert.Less(t, slept[0], 1500*time.Millisecond)
	assert.Equal(t, 1, driver.evalCalls)
}

func TestSession_Screenshot(t *testing.T) {
	driver := &fakeDriver{screenshot: []byte("\x89PNG")}
	s, _, _ := launched(t, driver)
	_, err := s.Screenshot(context.Background(), "")
	assert.True(t, errors.Is(err, utils.ErrValidation))

	require.NoError(t, s.Navigate(context.Background(), "https://www.example.com/a"))
	path, err := s.Screenshot(context.Background(), "")
	require.NoError(t, err)
	assert.Regexp(t, `example\.com_\d{8}_\d{6}\.png$`, filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)
}

func TestSession_HeadlessDetected(t *testing.T) {
	driver := &fakeDriver{evalResult: gson.New(map[string]interface{}{
		"webdriver":           true,
		"no_plugins":          true,
		"no_languages":        false,
		"missing_chrome":      false,
		"headless_user_agent": false,
		"zero_outer_size":     false,
	})}
	s, _, _ := launched(t, driver)

	report, err := s.HeadlessDetected(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0/6.0, report.Score, 0.001)
	assert.True(t, report.Detected)
	assert.True(t, report.Signals["webdriver"])

	driver.evalResult = gson.New(map[string]interface{}{"webdriver": false, "no_plugins": false, "no_languages": false, "missing_chrome": true})
	report, err = s.HeadlessDetected(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Detected)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "captcha_pending", StateCaptchaPending.String())
	assert.Equal(t, "closed", StateClosed.String())
}
