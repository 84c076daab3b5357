package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geoffrothman/smores/internal/app"
	"github.com/geoffrothman/smores/internal/pass"
)

var errPassFailures = errors.New("pass finished with failures")

func passCmd(in *instance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one pass now and print its summary",
	}
	for _, p := range []struct {
		kind  pass.Kind
		short string
	}{
		{pass.KindPairing, "Pair every eligible channel (conversation day only)"},
		{pass.KindResend, "Retry intros of partially sent or stale batches"},
		{pass.KindReminder, "Send midpoint reminders that are due"},
		{pass.KindSync, "Refresh cached channel members"},
	} {
		cmd.AddCommand(runPassCmd(in, string(p.kind), p.short, p.kind, nil))
	}

	var channelID string
	force := runPassCmd(in, "force", "Pair one channel now regardless of day and recurrence", pass.KindForce, &channelID)
	force.Flags().StringVar(&channelID, "channel", "", "channel id")
	_ = force.MarkFlagRequired("channel")
	cmd.AddCommand(force)
	return cmd
}

// runPassCmd builds a command running kind. channel is read at run time and
// may be nil.
func runPassCmd(in *instance, use, short string, kind pass.Kind, channel *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer func() { _ = in.app.Stop(cmd.Context(), app.StopCommandDone) }()
			var channelID string
			if channel != nil {
				channelID = *channel
			}
			sum, err := in.app.RunPass(cmd.Context(), kind, channelID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())
			if sum.Failed() {
				return errPassFailures
			}
			return nil
		},
	}
}
