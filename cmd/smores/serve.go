package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/geoffrothman/smores/internal/app"
	"github.com/geoffrothman/smores/pkg/logx"
)

const stopTimeout = 15 * time.Second

func serveCmd(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled passes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := in.app
			ctx := cmd.Context()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			notifySystemd(a.Logger(), daemon.SdNotifyReady)

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			notifySystemd(a.Logger(), daemon.SdNotifyStopping)

			// Capture before Stop cancels the supervisor.
			fatal := a.Err()
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(stopCtx, reason)
			return fatal
		},
	}
}

// notifySystemd is a no-op outside a systemd unit with Type=notify.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
