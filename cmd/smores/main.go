package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geoffrothman/smores/internal/app"
)

// instance holds the app built by the persistent pre-run hook.
type instance struct {
	cfgPath string
	app     *app.App
}

func (in *instance) preRun(cmd *cobra.Command, _ []string) error {
	a, err := app.New(in.cfgPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", in.cfgPath, err)
	}
	in.app = a
	return nil
}

func newRootCmd() *cobra.Command {
	in := &instance{}
	root := &cobra.Command{
		Use:               "smores",
		Short:             "Pair channel members for recurring one-on-one conversations",
		SilenceUsage:      true,
		PersistentPreRunE: in.preRun,
	}
	root.PersistentFlags().StringVar(&in.cfgPath, "config", envOr("SMORES_CONFIG", "./config.yaml"), "path to the config file (json or yaml)")

	root.AddCommand(serveCmd(in))
	root.AddCommand(passCmd(in))
	root.AddCommand(channelCmd(in))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
