package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/aureon/internal/infrastructure/db"
	"github.com/sawpanic/aureon/internal/persistence"
)

type tradesOptions struct {
	limit int
	json  bool
}

func newTradesCmd(opts *rootOptions) *cobra.Command {
	to := &tradesOptions{}
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recent executions from the store",
		Long: `Lists the newest executor decisions, traded or not, from Postgres. Without a
configured database the in-process store is empty and nothing is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to.limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dbm, err := db.NewManager(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer dbm.Close()

			execs, err := dbm.Repository().Executions.Latest(cmd.Context(), to.limit)
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}
			if execs == nil {
				execs = []persistence.Execution{}
			}

			out := cmd.OutOrStdout()
			if to.json {
				return writeJSON(out, execs)
			}
			if !dbm.IsEnabled() {
				fmt.Fprintln(out, "Database disabled; set PG_DSN to read persisted executions.")
			}
			printExecutions(out, execs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&to.limit, "limit", "n", 20, "Number of executions to show")
	addJSONFlag(cmd.Flags(), &to.json, "executions")
	return cmd
}

func printExecutions(w io.Writer, execs []persistence.Execution) {
	if len(execs) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVENUE\tSYMBOL\tSIDE\tQTY\tPRICE\tNOTIONAL\tSTATUS\tMODE\tDETAIL")
	for _, e := range execs {
		detail := e.VenueOrderID
		if e.Error != "" {
			detail = e.Error
		} else if len(e.Reasons) > 0 {
			detail = strings.Join(e.Reasons, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Venue, e.Symbol, e.Side,
			e.Quantity.String(), e.Price.String(), e.Notional.StringFixed(2),
			e.Status, e.Mode, detail)
	}
	tw.Flush()
}
