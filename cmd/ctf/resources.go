package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newChallengesCmd(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "List challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			challenges, err := a.client.ListChallenges(cmd.Context())
			if err != nil {
				return fmt.Errorf("list challenges failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(challenges) == 0 {
				printf(out, "No challenges available\n")
				return nil
			}

			if long {
				for i := range challenges {
					c := &challenges[i]
					printf(out, "%s\n  categories: %s\n  %s\n\n", c.Title(), c.CategoryList(), c.Description)
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tNAME\tCATEGORIES\n")
			for i := range challenges {
				c := &challenges[i]
				printf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.CategoryList())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "include descriptions")
	return cmd
}

func newInstancesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List your instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instances, err := a.client.ListInstances(cmd.Context())
			if err != nil {
				return fmt.Errorf("list instances failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(instances) == 0 {
				printf(out, "No instances\n")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tCHALLENGE\tSTATUS\tSSH\n")
			for i := range instances {
				inst := &instances[i]
				printf(tw, "%s\t%s\t%s\t%s\n", inst.ID, inst.ChallengeID, inst.Status, inst.SSHCommand())
			}
			return tw.Flush()
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start CHALLENGE",
		Short: "Start an instance of a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := a.client.StartInstance(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("start instance failed: %w", err)
			}
			out := cmd.OutOrStdout()
			printf(out, "Started %s (%s, %s)\n", inst.ID, inst.ChallengeID, inst.Status)
			printf(out, "  terminal: ctf terminal %s\n", inst.ID)
			printf(out, "  ssh:      %s\n", inst.SSHCommand())
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop INSTANCE",
		Short: "Stop an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.StopInstance(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("stop instance failed: %w", err)
			}
			printf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
			return nil
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit CHALLENGE FLAG",
		Short: "Submit a flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.client.SubmitFlag(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("submit flag failed: %w", err)
			}
			if result.Correct {
				printf(cmd.OutOrStdout(), "Correct! Flag accepted for %s\n", args[0])
			} else {
				printf(cmd.OutOrStdout(), "Incorrect flag for %s\n", args[0])
			}
			return nil
		},
	}
}
