package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"scrapekit/internal/config"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/utils"
)

// RodEngine launches Chrome through go-rod with go-rod/stealth pages
type RodEngine struct {
	cfg    config.BrowserConfig
	logger types.Logger
}

func NewRodEngine(cfg config.BrowserConfig) *RodEngine {
	return &RodEngine{
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "rod"),
	}
}

// Launch starts a dedicated browser process for one session
func (e *RodEngine) Launch(ctx context.Context, profile fingerprint.Profile, ep *proxy.Endpoint) (Driver, error) {
	l := launcher.New().
		Headless(e.cfg.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-dev-shm-usage").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("lang", profile.Locale).
		Set("window-size", fmt.Sprintf("%d,%d", profile.Viewport.Width, profile.Viewport.Height))

	if profile.WebRTC != fingerprint.WebRTCReal {
		l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")
	}
	if ep != nil {
		l = l.Proxy(ep.Server())
	}

	if chromePath := utils.GetStringOrDefault(e.cfg.BinPath, systemChromePath()); chromePath != "" {
		l = l.Bin(chromePath)
		e.logger.Debug("Using system Chrome browser", map[string]interface{}{
			"chrome_path": chromePath,
		})
	} else {
		e.logger.Warn("System Chrome not found, Rod will download browser", map[string]interface{}{})
	}

	if err := ctx.Err(); err != nil {
		return nil, utils.NewLaunchError("launch cancelled", err)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, utils.NewLaunchError("failed to launch browser", err)
	}

	browserCtx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(browserCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		l.Kill()
		return nil, utils.NewLaunchError("failed to connect to browser", err)
	}

	d := &rodDriver{launcher: l, browser: browser, cancel: cancel, logger: e.logger}

	if ep != nil && ep.Username != "" {
		// Chrome caches proxy credentials after the first challenge
		go func() {
			if err := browser.HandleAuth(ep.Username, ep.Password)(); err != nil {
				e.logger.Debug("Proxy auth handler stopped", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = d.Close()
		return nil, utils.NewLaunchError("failed to create stealth page", err)
	}
	d.page = page

	if err := applyProfile(page, profile); err != nil {
		_ = d.Close()
		return nil, utils.NewLaunchError("failed to apply fingerprint", err)
	}

	e.logger.Info("Browser launched", map[string]interface{}{
		"headless": e.cfg.Headless,
		"proxied":  ep != nil,
	})
	return d, nil
}

// applyProfile sets every fingerprint signal CDP can override and installs
// the injection script for later documents
func applyProfile(page *rod.Page, p fingerprint.Profile) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.AcceptLanguage,
		Platform:       p.Platform,
	}); err != nil {
		return fmt.Errorf("user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.Viewport.Width,
		Height:            p.Viewport.Height,
		DeviceScaleFactor: p.DeviceScaleFactor,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.TimezoneID}).Call(page); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: p.Locale}).Call(page); err != nil {
		return fmt.Errorf("locale: %w", err)
	}

	motion := "no-preference"
	if p.ReducedMotion {
		motion = "reduce"
	}
	if err := (proto.EmulationSetEmulatedMedia{Features: []*proto.EmulationMediaFeature{
		{Name: "prefers-color-scheme", Value: p.ColorScheme},
		{Name: "prefers-reduced-motion", Value: motion},
	}}).Call(page); err != nil {
		return fmt.Errorf("media features: %w", err)
	}

	if p.HasTouch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(page); err != nil {
			return fmt.Errorf("touch: %w", err)
		}
	}

	if _, err := page.EvalOnNewDocument(p.Script()); err != nil {
		return fmt.Errorf("injection script: %w", err)
	}
	return nil
}

type rodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cancel   context.CancelFunc
	logger   types.Logger
	once     sync.Once
	closeErr error
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (d *rodDriver) URL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	return d.page.Context(ctx).HTML()
}

func (d *rodDriver) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := d.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (d *rodDriver) EvalAndWaitNavigation(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	wait := d.page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	res, err := d.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	if res.Value.Get("submitted").Str() == "form" {
		wait()
	}
	return res.Value, nil
}

// Resource returns a subresource from the page's resource tree, falling back
// to an in-page fetch so cookies and the proxy still apply
func (d *rodDriver) Resource(ctx context.Context, url string) ([]byte, error) {
	p := d.page.Context(ctx)
	if data, err := p.GetResource(url); err == nil && len(data) > 0 {
		return data, nil
	}
	res, err := p.Eval(fetchResourceJS, url)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.Value.Str())
}

func (d *rodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (d *rodDriver) Close() error {
	d.once.Do(func() {
		if d.page != nil {
			_ = d.page.Close()
		}
		d.closeErr = d.browser.Close()
		d.cancel()
		d.launcher.Kill()
		d.launcher.Cleanup()
	})
	return d.closeErr
}

// systemChromePath finds an installed Chrome/Chromium so Rod does not download one
func systemChromePath() string {
	for _, env := range []string{"CHROME_BIN", "CHROME_PATH"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	commonPaths := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/opt/google/chrome/chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
		"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
