package pipeline

import (
	"scrapekit/internal/browser"
	"scrapekit/internal/captcha"
	"scrapekit/internal/config"
	"scrapekit/internal/exporter"
	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
)

// Components are the long-lived collaborators built from configuration
type Components struct {
	Runner    *Runner
	Generator *fingerprint.Generator
	Store     fingerprint.Store
	Exporter  *exporter.SpacesExporter
}

// Close releases the fingerprint store
func (c *Components) Close() error {
	return c.Store.Close()
}

// Build wires the rod engine, page saver, rotator, fingerprint store and
// solver selected by cfg
func Build(cfg *config.Config) (*Components, error) {
	logger := logging.GetGlobalLogger()

	gen, err := fingerprint.ParseSeed(cfg.Fingerprint.Seed)
	if err != nil {
		return nil, err
	}
	store, err := fingerprint.NewStore(cfg.Fingerprint, cfg.Redis, gen)
	if err != nil {
		return nil, err
	}

	rotator, err := proxy.NewRotator(cfg.Proxy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	solver, err := captcha.NewSolver(cfg.Captcha)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	domains, err := captcha.NewDomainRegistry(cfg.Captcha.DomainsFile)
	if err != nil {
		logger.Warn("Captcha domain registry unreadable, keeping it in memory", map[string]interface{}{
			"file":  cfg.Captcha.DomainsFile,
			"error": err.Error(),
		})
		domains, _ = captcha.NewDomainRegistry("")
	}

	c := &Components{Generator: gen, Store: store}

	var uploader pagesaver.Uploader
	if cfg.Capture.Upload {
		exp, err := exporter.NewSpacesExporter(cfg.Spaces)
		if err != nil {
			logger.Warn("Bundle upload disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			c.Exporter = exp
			uploader = exp
		}
	}

	c.Runner = NewRunner(cfg.Browser, cfg.Captcha, Deps{
		Engine:  browser.NewRodEngine(cfg.Browser),
		Saver:   pagesaver.New(cfg.Capture, uploader),
		Rotator: rotator,
		Store:   store,
		Solver:  solver,
		Domains: domains,
	})

	logger.Info("Capture pipeline initialized", map[string]interface{}{
		"proxy_provider":    cfg.Proxy.Provider,
		"captcha_provider":  cfg.Captcha.Provider,
		"fingerprint_store": cfg.Fingerprint.Store,
		"upload":            uploader != nil,
	})
	return c, nil
}
