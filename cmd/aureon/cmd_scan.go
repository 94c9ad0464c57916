package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/aureon/internal/app"
	"github.com/sawpanic/aureon/internal/cache"
	applog "github.com/sawpanic/aureon/internal/log"
	"github.com/sawpanic/aureon/internal/scan"
)

type scanOptions struct {
	profile string
	json    bool
	timeout time.Duration
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	so := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan pass and print the opportunities",
		Long: `Runs every configured profile (or just --profile) once against its venues and
prints what cleared the threshold. Nothing is stored and no orders are sent.

Examples:
  aureon scan
  aureon scan --profile fast
  aureon scan --json | jq '.[].symbol'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, so)
		},
	}
	cmd.Flags().StringVarP(&so.profile, "profile", "p", "", "Only run the named profile")
	addJSONFlag(cmd.Flags(), &so.json, "opportunities")
	cmd.Flags().DurationVar(&so.timeout, "timeout", 2*time.Minute, "Overall scan timeout")
	return cmd
}

func runScan(cmd *cobra.Command, opts *rootOptions, so *scanOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	venues, err := app.NewVenues(cfg, nil)
	if err != nil {
		return err
	}
	scanner, err := scan.New(scan.Config{
		Profiles: cfg.Profiles,
		Venues:   venues.Registry,
		Ledger:   cache.NewMemory(),
	})
	if err != nil {
		return err
	}

	profiles := scanner.Profiles()
	if so.profile != "" {
		p, ok := scanner.Profile(so.profile)
		if !ok {
			return fmt.Errorf("unknown profile %q", so.profile)
		}
		profiles = []scan.Profile{p}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), so.timeout)
	defer cancel()

	progress := applog.NewProgress(cmd.ErrOrStderr(), "scan", len(profiles), !so.json && applog.IsTerminal(os.Stderr))
	found := []scan.Opportunity{}
	var errs []error
	for _, p := range profiles {
		progress.Step(p.Name)
		opps, err := scanner.RunOnce(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
		}
		found = append(found, opps...)
	}
	if len(errs) > 0 {
		progress.Fail(fmt.Sprintf("%d of %d profiles failed", len(errs), len(profiles)))
	} else {
		progress.Finish(fmt.Sprintf("%d opportunities", len(found)))
	}

	out := cmd.OutOrStdout()
	if so.json {
		if err := writeJSON(out, found); err != nil {
			return err
		}
	} else {
		printOpportunities(out, found)
	}
	return errors.Join(errs...)
}

func printOpportunities(w io.Writer, opps []scan.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(w, "No opportunities cleared the threshold.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tVENUE\tSYMBOL\tDIR\tCHANGE%\tWEIGHTED\tCONF\tPRICE\tDETECTED")
	for _, o := range opps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%+.2f\t%+.2f\t%.2f\t%s\t%s\n",
			o.Profile, o.Venue, o.Symbol, o.Direction, o.ChangePct, o.Weighted,
			o.Confidence, formatPrice(o.Price), o.DetectedAt.Local().Format(time.TimeOnly))
	}
	tw.Flush()
}

func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	default:
		return fmt.Sprintf("%.8f", p)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
