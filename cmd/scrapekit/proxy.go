package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scrapekit/internal/proxy"
)

var errNoProxy = errors.New("no proxy provider configured")

func newProxyCmd(a *app) *cobra.Command {
	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Inspect the configured proxy rotation",
	}

	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next rotated endpoint with its password redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rotator, err := proxy.NewRotator(a.cfg.Proxy)
			if err != nil {
				return err
			}
			if rotator == nil {
				return errNoProxy
			}
			ep, err := rotator.GetProxy(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rotator.Name(), ep)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [proxy]",
		Short: "Request the IP echo service through a proxy and print the exit address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ep proxy.Endpoint
			if len(args) == 1 {
				parsed, err := proxy.ParseEndpoint(args[0])
				if err != nil {
					return err
				}
				ep = parsed
			} else {
				rotator, err := proxy.NewRotator(a.cfg.Proxy)
				if err != nil {
					return err
				}
				if rotator == nil {
					return errNoProxy
				}
				if ep, err = rotator.GetProxy(cmd.Context()); err != nil {
					return err
				}
			}

			result, err := proxy.Verify(cmd.Context(), ep, a.cfg.Proxy.VerifyURL, a.cfg.Proxy.VerifyTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exit_ip=%s latency=%s\n", ep, result.IP, result.Latency.Round(time.Millisecond))
			return nil
		},
	}

	proxyCmd.AddCommand(nextCmd, verifyCmd)
	return proxyCmd
}
