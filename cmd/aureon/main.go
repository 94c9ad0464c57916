package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/aureon/internal/config"
	applog "github.com/sawpanic/aureon/internal/log"
)

const appName = "aureon"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.4.0-dev"

// errUnhealthy makes the process exit 1 without printing an error line; the
// command has already rendered why.
var errUnhealthy = errors.New("unhealthy")

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-venue momentum scanner with gated order execution",
		Version: version,
		Long: `Aureon polls Kraken, Binance, Alpaca and Capital.com for price bars, scores
short-horizon momentum per profile and hands qualifying moves to a gated
executor. Health, readiness, metrics and a live opportunity stream are
served over HTTP.

Run 'aureon run' for the full service, or 'aureon scan' for a single pass.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("AUREON_CONFIG"), "Path to the YAML config (env AUREON_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override the configured log format (auto|console|json)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newScanCmd(opts),
		newHealthCmd(),
		newVenuesCmd(opts),
		newTradesCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies the logging overrides.
// Commands other than run call it too, so the logger is set up here.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := applog.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addJSONFlag(fs *pflag.FlagSet, p *bool, what string) {
	fs.BoolVar(p, "json", false, "Print "+what+" as JSON")
}
