package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ctf-platform/ctf/internal/session"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, login state and platform reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			printf(out, "API:       %s\n", a.cfg.APIURL)
			printf(out, "Terminal:  %s\n", a.cfg.TerminalURL())
			printf(out, "State dir: %s\n", a.cfg.StateDir)

			token := a.session.Token()
			_, err := a.session.Require()
			switch {
			case token == "":
				printf(out, "Identity:  not logged in\n")
			case err != nil:
				printf(out, "Identity:  session expired, log in again\n")
			default:
				who := session.Subject(token)
				if who == "" {
					who = "unknown user"
				}
				if exp, ok := session.Expiry(token); ok {
					printf(out, "Identity:  %s (until %s)\n", who, exp.Local().Format(time.DateTime))
				} else {
					printf(out, "Identity:  %s\n", who)
				}
			}

			if err := a.client.Health(cmd.Context()); err != nil {
				printf(out, "Platform:  unreachable (%v)\n", err)
			} else {
				printf(out, "Platform:  ok\n")
			}
			return nil
		},
	}
}
