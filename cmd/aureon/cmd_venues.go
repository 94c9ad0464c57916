package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/aureon/internal/app"
)

type venuesOptions struct {
	timeout time.Duration
	json    bool
}

func newVenuesCmd(opts *rootOptions) *cobra.Command {
	vo := &venuesOptions{}
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "Ping every enabled venue",
		Long: `Pings each enabled venue through its rate limiter and circuit breaker and
prints reachability, breaker state, latency and the configured request
limits. Exits 1 when any venue fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			venues, err := app.NewVenues(cfg, nil)
			if err != nil {
				return err
			}

			health := venues.Registry.Ping(cmd.Context(), vo.timeout)
			out := cmd.OutOrStdout()
			if vo.json {
				if err := writeJSON(out, health); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "VENUE\tHEALTHY\tBREAKER\tLATENCY\tRPS\tBUDGET\tERROR")
				for _, name := range venues.Registry.Names() {
					h := health[name]
					vc := cfg.Venues[name]
					budget := "unlimited"
					if vc.DailyBudget > 0 {
						budget = fmt.Sprintf("%d/day", vc.DailyBudget)
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\t%dms\t%g\t%s\t%s\n",
						name, h.Healthy, h.Breaker, h.LatencyMS, vc.RPS, budget, h.Error)
				}
				tw.Flush()
			}

			for _, h := range health {
				if !h.Healthy {
					return errUnhealthy
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&vo.timeout, "timeout", 5*time.Second, "Per-venue ping timeout")
	addJSONFlag(cmd.Flags(), &vo.json, "results")
	return cmd
}
