package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autopilot/internal/monitor"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live view of the workflow",
		Long: `Show a live view of the workflow that refreshes whenever the state file
changes. With --server the view polls a running "autopilot serve" instead.

Examples:
  autopilot watch
  autopilot watch --server http://127.0.0.1:9191 --interval 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if serverURL != "" {
				if interval <= 0 {
					interval = 2 * time.Second
				}
				src := monitor.NewStatusClient(serverURL, a.projectRoot)
				return monitor.Run(ctx, monitor.NewModel(src, serverURL, nil, interval))
			}

			var changes <-chan struct{}
			if a.statePath != nil {
				path, err := a.statePath(a.projectRoot)
				if err != nil {
					return err
				}
				w, err := monitor.NewWatcher(path, a.log().Named("watch").Underlying())
				if err != nil {
					return err
				}
				defer w.Close()
				if err := w.Start(ctx); err != nil {
					return err
				}
				changes = w.Changes()
			}
			src := monitor.NewLocalSource(a.svc, a.projectRoot)
			return monitor.Run(ctx, monitor.NewModel(src, a.projectRoot, changes, interval))
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "watch a running autopilot server instead of the local state file")
	cmd.Flags().DurationVar(&interval, "interval", 0, "also refresh on this interval (0: only on change)")
	return cmd
}
