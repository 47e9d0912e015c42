package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/sessionkit/password"
)

func newHashSecretCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the argon2id hash of a secret for embedded.identities[].secret_hash",
		Long: `hash-secret hashes its argument, or the first line of stdin when no
argument is given, with the password parameters from --config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret given on the command line or stdin")
				}
				secret = strings.TrimRight(line, "\r\n")
			}

			h, err := password.NewHasher(cfg.Password)
			if err != nil {
				return err
			}
			hash, err := h.Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
