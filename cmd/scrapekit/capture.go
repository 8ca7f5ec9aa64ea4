package main

import (
	"github.com/spf13/cobra"

	"scrapekit/internal/pipeline"
)

func newCaptureCmd(a *app) *cobra.Command {
	var (
		req    pipeline.Request
		headed bool
		dir    string
	)

	captureCmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Open a stealth session, solve any CAPTCHA and save the page bundle",
		Long: `Runs one capture cycle: rotate a proxy, pick the domain fingerprint, launch
the browser, navigate, solve a detected CAPTCHA when a solver is configured,
then save the page with all of its resources. The result is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if headed {
				cfg.Browser.Headless = false
			}
			if dir != "" {
				cfg.Capture.Dir = dir
			}

			components, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			defer components.Close()

			req.URL = args[0]
			result, err := components.Runner.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	captureCmd.Flags().StringVar(&req.Name, "name", "", "bundle name (defaults to the page title)")
	captureCmd.Flags().BoolVar(&req.Screenshot, "screenshot", false, "also take a full-page screenshot")
	captureCmd.Flags().BoolVar(&req.SkipCaptcha, "skip-captcha", false, "do not look for CAPTCHA challenges")
	captureCmd.Flags().BoolVar(&headed, "headed", false, "show the browser window")
	captureCmd.Flags().StringVar(&dir, "dir", "", "directory for saved bundles")

	return captureCmd
}
