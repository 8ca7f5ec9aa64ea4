package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/pkg/utils"
)

func newAntiCaptchaServer(t *testing.T, handler func(method string, body map[string]interface{}) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-key", body["clientKey"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(r.URL.Path[1:], body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAntiCaptcha(t *testing.T, baseURL string, timeout time.Duration) *AntiCaptchaSolver {
	t.Helper()
	s, err := NewAntiCaptchaSolver(config.CaptchaConfig{
		Provider:        "anticaptcha",
		APIKey:          "test-key",
		BaseURL:         baseURL,
		Timeout:         timeout,
		PollingInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestAntiCaptcha_SolveRecaptchaPollsUntilReady(t *testing.T) {
	var polls int32
	srv := newAntiCaptchaServer(t, func(method string, body map[string]interface{}) interface{} {
		switch method {
		case "createTask":
			task := body["task"].(map[string]interface{})
			assert.Equal(t, "RecaptchaV2TaskProxyless", task["type"])
			assert.Equal(t, "https://example.com/login", task["websiteURL"])
			assert.Equal(t, "site-key", task["websiteKey"])
			return map[string]interface{}{"errorId": 0, "taskId": 7}
		case "getTaskResult":
			assert.EqualValues(t, 7, body["taskId"])
			if atomic.AddInt32(&polls, 1) < 3 {
				return map[string]interface{}{"errorId": 0, "status": "processing"}
			}
			return map[string]interface{}{
				"errorId":  0,
				"status":   "ready",
				"solution": map[string]interface{}{"gRecaptchaResponse": "token-123"},
			}
		}
		t.Errorf("unexpected method %s", method)
		return nil
	})

	s := newTestAntiCaptcha(t, srv.URL, 5*time.Second)
	sol, err := s.SolveRecaptcha(context.Background(), "https://example.com/login", "site-key")
	require.NoError(t, err)
	assert.Equal(t, "token-123", sol.Token)
	assert.Equal(t, "7", sol.TaskID)
	assert.Equal(t, TypeRecaptcha, sol.Type)
	assert.Equal(t, "anticaptcha", sol.Provider)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestAntiCaptcha_TurnstileTokenField(t *testing.T) {
	srv := newAntiCaptchaServer(t, func(method string, body map[string]interface{}) interface{} {
		if method == "createTask" {
			assert.Equal(t, "TurnstileTaskProxyless", body["task"].(map[string]interface{})["type"])
			return map[string]interface{}{"errorId": 0, "taskId": 1}
		}
		return map[string]interface{}{"errorId": 0, "status": "ready", "solution": map[string]interface{}{"token": "cf-token"}}
	})

	sol, err := newTestAntiCaptcha(t, srv.URL, time.Second).SolveTurnstile(context.Background(), "https://example.com", "0x4AAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "cf-token", sol.Token)
}

func TestAntiCaptcha_VendorErrorIsRejected(t *testing.T) {
	srv := newAntiCaptchaServer(t, func(method string, body map[string]interface{}) interface{} {
		if method == "createTask" {
			return map[string]interface{}{"errorId": 0, "taskId": 2}
		}
		return map[string]interface{}{
			"errorId":          12,
			"errorCode":        "ERROR_CAPTCHA_UNSOLVABLE",
			"errorDescription": "Captcha could not be solved by 5 different workers",
		}
	})

	_, err := newTestAntiCaptcha(t, srv.URL, time.Second).SolveHCaptcha(context.Background(), "https://example.com", "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSolveRejected))
	assert.Contains(t, err.Error(), "ERROR_CAPTCHA_UNSOLVABLE")
}

func TestAntiCaptcha_DeadlineIsTimeout(t *testing.T) {
	srv := newAntiCaptchaServer(t, func(method string, body map[string]interface{}) interface{} {
		if method == "createTask" {
			return map[string]interface{}{"errorId": 0, "taskId": 3}
		}
		return map[string]interface{}{"errorId": 0, "status": "processing"}
	})

	_, err := newTestAntiCaptcha(t, srv.URL, 80*time.Millisecond).SolveRecaptcha(context.Background(), "https://example.com", "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSolveTimeout))
}

func TestAntiCaptcha_BalanceAndReport(t *testing.T) {
	var reported string
	srv := newAntiCaptchaServer(t, func(method string, body map[string]interface{}) interface{} {
		switch method {
		case "getBalance":
			return map[string]interface{}{"errorId": 0, "balance": 4.25}
		case "reportIncorrectRecaptcha":
			reported = method
			assert.EqualValues(t, 42, body["taskId"])
			return map[string]interface{}{"errorId": 0, "status": "success"}
		}
		return map[string]interface{}{"errorId": 1, "errorCode": "ERROR_UNKNOWN"}
	})
	s := newTestAntiCaptcha(t, srv.URL, time.Second)

	balance, err := s.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.25, balance)

	require.NoError(t, s.ReportIncorrect(context.Background(), Solution{TaskID: "42", Type: TypeRecaptcha}))
	assert.Equal(t, "reportIncorrectRecaptcha", reported)

	err = s.ReportIncorrect(context.Background(), Solution{TaskID: "42", Type: TypeTurnstile})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestAntiCaptcha_RequiresKey(t *testing.T) {
	_, err := NewAntiCaptchaSolver(config.CaptchaConfig{Provider: "anticaptcha"})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

type fakeTwoCaptcha struct {
	code     string
	id       string
	err      error
	delay    time.Duration
	requests []api2captcha.Request
	reported []string
}

func (f *fakeTwoCaptcha) Solve(req api2captcha.Request) (string, string, error) {
	f.requests = append(f.requests, req)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.code, f.id, f.err
}

func (f *fakeTwoCaptcha) GetBalance() (float64, error) { return 1.5, nil }

func (f *fakeTwoCaptcha) Report(id string, correct bool) error {
	if !correct {
		f.reported = append(f.reported, id)
	}
	return nil
}

func newFakeTwoCaptchaSolver(f *fakeTwoCaptcha, timeout time.Duration) *TwoCaptchaSolver {
	return &TwoCaptchaSolver{client: f, timeout: timeout, logger: logging.GetGlobalLogger()}
}

func TestTwoCaptcha_Solve(t *testing.T) {
	f := &fakeTwoCaptcha{code: "tok", id: "99"}
	s := newFakeTwoCaptchaSolver(f, time.Second)

	sol, err := s.SolveRecaptcha(context.Background(), "https://example.com", "key")
	require.NoError(t, err)
	assert.Equal(t, "tok", sol.Token)
	assert.Equal(t, "99", sol.TaskID)
	assert.Equal(t, "2captcha", sol.Provider)
	require.Len(t, f.requests, 1)
	assert.Equal(t, "key", f.requests[0].Params["googlekey"])

	require.NoError(t, s.ReportIncorrect(context.Background(), sol))
	assert.Equal(t, []string{"99"}, f.reported)

	balance, err := s.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, balance)
}

func TestTwoCaptcha_ErrorMapping(t *testing.T) {
	s := newFakeTwoCaptchaSolver(&fakeTwoCaptcha{err: api2captcha.ErrTimeout}, time.Second)
	_, err := s.SolveTurnstile(context.Background(), "https://example.com", "key")
	assert.True(t, errors.Is(err, utils.ErrSolveTimeout))

	s = newFakeTwoCaptchaSolver(&fakeTwoCaptcha{err: api2captcha.ErrApi}, time.Second)
	_, err = s.SolveHCaptcha(context.Background(), "https://example.com", "key")
	assert.True(t, errors.Is(err, utils.ErrSolveRejected))

	s = newFakeTwoCaptchaSolver(&fakeTwoCaptcha{code: "late", delay: 200 * time.Millisecond}, 20*time.Millisecond)
	_, err = s.SolveRecaptcha(context.Background(), "https://example.com", "key")
	assert.True(t, errors.Is(err, utils.ErrSolveTimeout))
}

func TestNewSolver(t *testing.T) {
	s, err := NewSolver(config.CaptchaConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSolver(config.CaptchaConfig{Provider: "2captcha", APIKey: "k", Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "2captcha", s.Name())

	s, err = NewSolver(config.CaptchaConfig{Provider: "anticaptcha"})
	assert.Error(t, err)
	assert.Nil(t, s)

	_, err = NewSolver(config.CaptchaConfig{Provider: "deathbycaptcha", APIKey: "k"})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestSolve_Dispatch(t *testing.T) {
	f := &fakeTwoCaptcha{code: "tok", id: "1"}
	s := newFakeTwoCaptchaSolver(f, time.Second)

	_, err := Solve(context.Background(), s, Challenge{URL: "https://example.com", Type: TypeRecaptcha})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = Solve(context.Background(), s, Challenge{URL: "https://example.com", SiteKey: "k", Type: TypeUnknown})
	assert.True(t, errors.Is(err, utils.ErrSolveRejected))

	sol, err := Solve(context.Background(), s, Challenge{URL: "https://example.com", SiteKey: "k", Type: TypeHCaptcha})
	require.NoError(t, err)
	assert.Equal(t, TypeHCaptcha, sol.Type)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		found   bool
		kind    Type
		siteKey string
	}{
		{
			name:    "recaptcha widget",
			html:    `<html><body><form><div class="g-recaptcha" data-sitekey="6LcABC"></div></form></body></html>`,
			found:   true,
			kind:    TypeRecaptcha,
			siteKey: "6LcABC",
		},
		{
			name:    "hcaptcha widget",
			html:    `<html><body><div class="h-captcha" data-sitekey="10000000-ffff"></div></body></html>`,
			found:   true,
			kind:    TypeHCaptcha,
			siteKey: "10000000-ffff",
		},
		{
			name:    "turnstile widget",
			html:    `<html><body><div class="cf-turnstile" data-sitekey="0x4AAAAAAABkMYinukE8nzY"></div></body></html>`,
			found:   true,
			kind:    TypeTurnstile,
			siteKey: "0x4AAAAAAABkMYinukE8nzY",
		},
		{
			name:    "recaptcha key in render call",
			html:    `<html><head><script src="https://www.google.com/recaptcha/api.js"></script><script>grecaptcha.render('c', {"sitekey": "6LdXYZ"});</script></head><body></body></html>`,
			found:   true,
			kind:    TypeRecaptcha,
			siteKey: "6LdXYZ",
		},
		{
			name:  "cloudflare interstitial",
			html:  `<html><head><title>Just a moment...</title></head><body>Checking your browser before accessing</body></html>`,
			found: true,
			kind:  TypeTurnstile,
		},
		{
			name:  "keyword only",
			html:  `<html><body><p>Please complete the security check to continue.</p></body></html>`,
			found: true,
			kind:  TypeUnknown,
		},
		{
			name:  "clean page",
			html:  `<html><body><main><h1>Hello</h1></main></body></html>`,
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, ok := Detect(tt.html, "https://example.com")
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.found, HasCaptcha(tt.html))
			if !tt.found {
				return
			}
			assert.Equal(t, tt.kind, ch.Type)
			assert.Equal(t, tt.siteKey, ch.SiteKey)
			assert.Equal(t, "https://example.com", ch.URL)
		})
	}
}

func TestIsCloudflareResolved(t *testing.T) {
	assert.False(t, IsCloudflareResolved(`<html><body>Just a moment...</body></html>`))
	assert.True(t, IsCloudflareResolved(`<html><body><main><h1>Jobs</h1></main></body></html>`))
	assert.False(t, IsCloudflareResolved(`<html><body></body></html>`))
}
