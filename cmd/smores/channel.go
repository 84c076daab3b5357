package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoffrothman/smores/internal/model"
	"github.com/geoffrothman/smores/internal/storage"
	"github.com/geoffrothman/smores/pkg/logx"
)

func channelCmd(in *instance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage the channels that take part in pairing",
	}
	cmd.AddCommand(channelAddCmd(in), channelDeactivateCmd(in), channelListCmd(in))
	return cmd
}

func channelAddCmd(in *instance) *cobra.Command {
	var id, team, enterprise string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a channel, or reactivate it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer in.app.Close()
			ctx := cmd.Context()
			st := in.app.Store()

			id, team = strings.TrimSpace(id), strings.TrimSpace(team)
			ch, err := st.GetChannel(ctx, id)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				ch = model.Channel{ID: id, CreatedAt: time.Now().UTC()}
			case err != nil:
				return err
			}
			ch.TeamID = team
			ch.EnterpriseID = strings.TrimSpace(enterprise)
			ch.Active = true
			if err := st.SaveChannel(ctx, ch); err != nil {
				return err
			}
			in.app.Logger().Info("channel registered",
				logx.String("channel", ch.ID),
				logx.String("team", ch.TeamID),
				logx.String("enterprise", ch.EnterpriseID),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "channel %s active in team %s\n", ch.ID, ch.TeamID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "channel id")
	cmd.Flags().StringVar(&team, "team", "", "workspace (team) id")
	cmd.Flags().StringVar(&enterprise, "enterprise", "", "enterprise grid id")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func channelDeactivateCmd(in *instance) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Exclude a channel from future passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer in.app.Close()
			if err := in.app.Store().SetChannelActive(cmd.Context(), strings.TrimSpace(id), false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %s deactivated\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "channel id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func channelListCmd(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer in.app.Close()
			chs, err := in.app.Store().ListActiveChannels(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tTEAM\tLAST PAIRED\tCIRCLE")
			for _, ch := range chs {
				last := "never"
				if !ch.LastSentOn.IsZero() {
					last = model.DayString(ch.LastSentOn)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", ch.ID, ch.TeamID, last, len(ch.Circle))
			}
			return w.Flush()
		},
	}
}
