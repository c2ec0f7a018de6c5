package main

import (
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/testdeck/internal/tui"
)

func newWatchCmd(root *rootFlags) *cobra.Command {
	var (
		addr       string
		interval   time.Duration
		exitOnDone bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live progress of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := root.settings()
				if err != nil {
					return newCommandError("watch", "loading settings", err, "Pass --addr to skip the settings file.")
				}
				addr = cfg.Listen
			}

			source := tui.NewHTTPSource(addr, &http.Client{Timeout: 5 * time.Second})
			model := tui.NewModel(source, tui.Options{Interval: interval, ExitOnDone: exitOnDone})

			program := tea.NewProgram(model,
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			final, err := program.Run()
			if err != nil {
				return err
			}
			if m, ok := final.(tui.Model); ok && m.IsFinished() && m.State().Error != "" {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server address (default: listen from settings)")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Poll interval")
	cmd.Flags().BoolVar(&exitOnDone, "exit-on-done", false, "Quit when the watched run finishes")

	return cmd
}
