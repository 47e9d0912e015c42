package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/sessionkit"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate --config and report risky settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %d embedded identities, signing method %s, key prefix %q\n",
				len(cfg.Embedded.Identities), cfg.Session.SigningMethod, cfg.Session.KeyPrefix)

			ws := cfg.Lint()
			for _, w := range ws {
				fmt.Fprintf(out, "%-5s %-28s %s\n", w.Severity, w.Code, w.Message)
			}
			if strict, _ := cmd.Flags().GetBool("strict"); strict {
				if n := len(ws.AtLeast(sessionkit.LintWarn)); n > 0 {
					return fmt.Errorf("%d lint warnings", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("strict", false, "fail when any warn-level finding is reported")
	return cmd
}
