package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
)

// app carries state shared by subcommands once the root pre-run has loaded it
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "scrapekit",
		Short:        "Stealth browser capture, fingerprints, proxies and CAPTCHA solving",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			// Logs go to stderr so command output can be piped
			cfg.Logging.Level = a.logLevel
			cfg.Logging.Format = "text"
			cfg.Logging.Output = "stderr"
			cfg.Logging.Adapters = nil
			if err := logging.InitializeLogging(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}

			a.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.CloseLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newCaptureCmd(a),
		newFingerprintCmd(a),
		newProxyCmd(a),
		newCaptchaCmd(a),
	)
	return rootCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
