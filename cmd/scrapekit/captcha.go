package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"scrapekit/internal/captcha"
)

func newCaptchaCmd(a *app) *cobra.Command {
	captchaCmd := &cobra.Command{
		Use:   "captcha",
		Short: "Detect challenges in saved markup or query the solver account",
	}

	var pageURL string
	detectCmd := &cobra.Command{
		Use:   "detect <file|->",
		Short: "Report the CAPTCHA vendor and site key found in an HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			ch, found := captcha.Detect(string(data), pageURL)
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no captcha detected")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), ch)
		},
	}
	detectCmd.Flags().StringVar(&pageURL, "url", "", "page URL recorded on the challenge")

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Print the solver account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			solver, err := captcha.NewSolver(a.cfg.Captcha)
			if err != nil {
				return err
			}
			if solver == nil {
				return errors.New("no captcha provider configured")
			}
			balance, err := solver.Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %.4f\n", solver.Name(), balance)
			return nil
		},
	}

	captchaCmd.AddCommand(detectCmd, balanceCmd)
	return captchaCmd
}
