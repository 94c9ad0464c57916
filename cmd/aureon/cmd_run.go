package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sawpanic/aureon/internal/app"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scanner, executor and HTTP server",
		Long: `Starts every configured scan profile, the executor and the HTTP server under
the supervisor. Stops cleanly on SIGINT or SIGTERM.

Examples:
  aureon run
  aureon run --config config/aureon.yaml
  AUREON_EXECUTION_MODE=paper aureon run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, version)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}
