package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/sawpanic/aureon/internal/interfaces/http"
)

type healthOptions struct {
	addr    string
	json    bool
	timeout time.Duration
}

func newHealthCmd() *cobra.Command {
	ho := &healthOptions{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's health",
		Long: `Fetches /health from a running aureon and prints venue, store, cache and
service status. Exits 1 when the instance reports itself unhealthy or cannot
be reached.

Examples:
  aureon health
  aureon health --addr http://10.0.0.5:8080
  aureon health --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, ho)
		},
	}
	cmd.Flags().StringVar(&ho.addr, "addr", "http://localhost:8080", "Base URL of the instance")
	addJSONFlag(cmd.Flags(), &ho.json, "the raw health document")
	cmd.Flags().DurationVar(&ho.timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func runHealth(cmd *cobra.Command, ho *healthOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ho.timeout)
	defer cancel()

	health, err := fetchHealth(ctx, baseURL(ho.addr))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ho.json {
		if err := writeJSON(out, health); err != nil {
			return err
		}
	} else {
		printHealth(out, health)
	}
	if health.Status == apihttp.StatusUnhealthy {
		return errUnhealthy
	}
	return nil
}

// baseURL accepts ":8080", "host:8080" or a full URL.
func baseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

func fetchHealth(ctx context.Context, base string) (*apihttp.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	// 503 still carries the document
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("health returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var health apihttp.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

func printHealth(w io.Writer, h *apihttp.HealthResponse) {
	fmt.Fprintf(w, "Status:  %s\n", strings.ToUpper(h.Status))
	fmt.Fprintf(w, "Version: %s\n", h.Version)
	fmt.Fprintf(w, "Uptime:  %s\n", h.Uptime)
	fmt.Fprintf(w, "Venues:  %d/%d healthy\n\n", h.Summary.Healthy, h.Summary.Total)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(h.Venues) > 0 {
		fmt.Fprintln(tw, "VENUE\tHEALTHY\tBREAKER\tLATENCY\tERROR")
		for _, name := range sortedKeys(h.Venues) {
			v := h.Venues[name]
			fmt.Fprintf(tw, "%s\t%t\t%s\t%dms\t%s\n", name, v.Healthy, v.Breaker, v.LatencyMS, v.Error)
		}
		fmt.Fprintln(tw)
	}
	if len(h.Checks) > 0 {
		fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE")
		for _, name := range sortedKeys(h.Checks) {
			c := h.Checks[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, c.Status, c.Message)
		}
		fmt.Fprintln(tw)
	}
	if len(h.Services) > 0 {
		fmt.Fprintln(tw, "SERVICE\tSTATE\tRESTARTS\tLAST ERROR")
		for _, s := range h.Services {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.State, s.Restarts, s.LastError)
		}
		fmt.Fprintln(tw)
	}
	if h.Executor != nil {
		e := h.Executor
		fmt.Fprintf(tw, "EXECUTOR\t%s\thandled=%d approved=%d rejected=%d orders=%d failed=%d\n",
			e.Mode, e.Handled, e.Approved, e.Rejected, e.Orders, e.Failed)
	}
	if h.Scanner != nil {
		fmt.Fprintf(tw, "SCANNER\t%d profiles\temitted=%d dropped=%d\n", len(h.Scanner.Profiles), h.Scanner.Emitted, h.Scanner.Dropped)
	}
	tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
