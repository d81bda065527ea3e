package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctf-platform/ctf/internal/sshkey"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the SSH key used to reach instances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [FILE]",
		Short: "Register an SSH public key (.pub file)",
		Long: "Register an SSH public key. Without FILE, the IdentityFile configured for the platform host " +
			"in ~/.ssh/config is used, then ~/.ssh/id_ed25519.pub, id_ecdsa.pub and id_rsa.pub.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				found, err := sshkey.FindDefault(a.cfg.Host())
				if err != nil {
					return err
				}
				path = found
				printf(cmd.ErrOrStderr(), "Using %s\n", path)
			}

			key, err := sshkey.ReadFile(path)
			if err != nil {
				return err
			}
			if err := a.client.SetPublicKey(cmd.Context(), key.Authorized); err != nil {
				return fmt.Errorf("set public key failed: %w", err)
			}
			printf(cmd.OutOrStdout(), "Registered %s key %s", key.Type, key.Fingerprint)
			if key.Comment != "" {
				printf(cmd.OutOrStdout(), " (%s)", key.Comment)
			}
			printf(cmd.OutOrStdout(), "\n")
			return nil
		},
	})
	return cmd
}
