package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent terminal sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.sessions.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list history failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				printf(out, "No terminal sessions yet\n")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tINSTANCE\tSTATE\tSTARTED\tDURATION\tIN\tOUT\tRECORDING\n")
			for _, s := range sessions {
				printf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					shortID(s.ID),
					s.InstanceID,
					s.State,
					s.StartedAt.Local().Format(time.DateTime),
					s.Duration().Round(time.Second),
					s.BytesIn,
					s.BytesOut,
					s.RecordingPath,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	cmd.AddCommand(newHistoryShowCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one terminal session and the last output it displayed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.sessions.GetByPrefix(ctx, args[0])
			if err != nil {
				return fmt.Errorf("show session failed: %w", err)
			}
			tail, err := a.sessions.Tail(ctx, s.ID)
			if err != nil {
				return fmt.Errorf("show session failed: %w", err)
			}

			out := cmd.OutOrStdout()
			printf(out, "Session:   %s\n", s.ID)
			printf(out, "Instance:  %s\n", s.InstanceID)
			printf(out, "State:     %s\n", s.State)
			printf(out, "Started:   %s\n", s.StartedAt.Local().Format(time.DateTime))
			printf(out, "Duration:  %s\n", s.Duration().Round(time.Second))
			printf(out, "Traffic:   %d bytes in, %d bytes out\n", s.BytesIn, s.BytesOut)
			if s.RecordingPath != "" {
				printf(out, "Recording: %s\n", s.RecordingPath)
			}
			if len(tail) > 0 {
				printf(out, "\n--- last output ---\n%s\n", tail)
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
