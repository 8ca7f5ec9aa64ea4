package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scrapekit/internal/fingerprint"
)

func newFingerprintCmd(a *app) *cobra.Command {
	var (
		domain  string
		seed    string
		signals bool
	)

	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Generate a browser fingerprint, or show the one stored for a domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed == "" {
				seed = a.cfg.Fingerprint.Seed
			}
			gen, err := fingerprint.ParseSeed(seed)
			if err != nil {
				return err
			}

			var profile fingerprint.Profile
			if domain == "" {
				profile = gen.Generate()
			} else {
				store, err := fingerprint.NewStore(a.cfg.Fingerprint, a.cfg.Redis, gen)
				if err != nil {
					return err
				}
				defer store.Close()

				profile, err = store.ForDomain(cmd.Context(), domain)
				if err != nil {
					return err
				}
			}

			if !signals {
				return printJSON(cmd.OutOrStdout(), profile)
			}

			sigs := profile.Signals()
			names := make([]string, 0, len(sigs))
			for name := range sigs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", name, sigs[name])
			}
			return nil
		},
	}

	fingerprintCmd.Flags().StringVar(&domain, "domain", "", "return the profile persisted for this domain")
	fingerprintCmd.Flags().StringVar(&seed, "seed", "", "deterministic seed (overrides config)")
	fingerprintCmd.Flags().BoolVar(&signals, "signals", false, "print the spoofed signal table instead of JSON")

	return fingerprintCmd
}
