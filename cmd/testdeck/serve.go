package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/testdeck/internal/server"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for runs, progress and reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := app.svc.Scan(ctx, false); err != nil {
				return newCommandError("serve", "discovering modules", err, "Check that tests_dir exists and is readable.")
			}

			addr := app.cfg.Listen
			if listen != "" {
				addr = listen
			}
			if err := server.New(app.svc, app.log).ListenAndServe(ctx, addr); err != nil {
				return newCommandError("serve", "listening on "+addr, err, "Pick a free address with --listen.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override the listen address")

	return cmd
}
