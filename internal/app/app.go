// Package app assembles the service from its configuration and runs it
// under the supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/cache"
	"github.com/sawpanic/aureon/internal/config"
	"github.com/sawpanic/aureon/internal/execution"
	"github.com/sawpanic/aureon/internal/gates"
	"github.com/sawpanic/aureon/internal/infrastructure/db"
	apihttp "github.com/sawpanic/aureon/internal/interfaces/http"
	applog "github.com/sawpanic/aureon/internal/log"
	"github.com/sawpanic/aureon/internal/metrics"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/supervisor"
)

// Service priorities; lower starts first.
const (
	PriorityHTTP     = 0
	PriorityExecutor = 10
	PriorityScanner  = 20
)

type App struct {
	Config     *config.Config
	Metrics    *metrics.Registry
	DB         *db.Manager
	Ledger     cache.Ledger
	Venues     *Venues
	Scanner    *scan.Scanner
	Executor   *execution.Executor
	Hub        *apihttp.Hub
	Server     *apihttp.Server
	Supervisor *supervisor.Supervisor
}

// New builds every component in dependency order: logger, metrics,
// persistence, cache, venues, scanner, executor and the HTTP server.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	if err := applog.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	log.Info().Str("component", "app").Interface("config", cfg.Summary()).Str("version", version).Msg("Starting aureon")

	a := &App{Config: cfg, Metrics: metrics.New()}

	dbm, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DB = dbm
	repos := dbm.Repository()

	a.Ledger = cache.New(cfg.Redis)
	if cfg.Redis.Addr != "" {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.Ledger.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("component", "app").Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, cooldowns fail open until it recovers")
		}
	}

	if a.Venues, err = NewVenues(cfg, a.Metrics); err != nil {
		a.Close()
		return nil, err
	}

	a.Scanner, err = scan.New(scan.Config{
		Profiles:  cfg.Profiles,
		Venues:    a.Venues.Registry,
		Ledger:    a.Ledger,
		Repo:      repos.Opportunities,
		Observer:  a.Metrics,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("scanner: %w", err)
	}

	steps, err := QtySteps(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	sizer := execution.NewSizer(
		decimal.NewFromFloat(cfg.Execution.OrderNotional),
		decimal.NewFromFloat(cfg.Execution.MaxOrderNotional),
		steps,
	)
	a.Executor, err = execution.NewExecutor(cfg.Execution, gates.NewEvaluator(cfg.Gating), sizer,
		a.Venues.Registry, repos.Executions, a.Metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("executor: %w", err)
	}

	a.Hub = apihttp.NewHub(16, a.Metrics.SetWSClients)
	a.Scanner.OnEmit(a.Hub.Publish)

	a.Supervisor = supervisor.New(supervisor.DefaultConfig())
	a.Server = apihttp.NewServer(apihttp.ServerConfig{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, apihttp.Deps{
		Version:   version,
		Venues:    a.Venues.Registry,
		Store:     repos,
		Database:  dbm.Health,
		Cache:     a.Ledger,
		Scanner:   a.Scanner,
		Executor:  a.Executor,
		Services:  a.Supervisor,
		Metrics:   a.Metrics,
		Hub:       a.Hub,
		HealthTTL: 15 * time.Second,
	})

	services := []supervisor.Service{
		{Name: "http", Priority: PriorityHTTP, Run: a.Server.Run},
		{Name: "executor", Priority: PriorityExecutor, Run: func(ctx context.Context) error {
			return a.Executor.Run(ctx, a.Scanner.Opportunities())
		}},
		{Name: "scanner", Priority: PriorityScanner, Run: a.Scanner.Run},
	}
	for _, svc := range services {
		if err := a.Supervisor.Add(svc); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Run blocks until ctx is cancelled, then stops every service and releases
// the store and cache.
func (a *App) Run(ctx context.Context) error {
	log.Info().
		Str("component", "app").
		Str("http", a.Config.HTTP.Addr).
		Str("execution", string(a.Executor.Mode())).
		Bool("gating", a.Config.Gating.Enabled).
		Strs("venues", a.Venues.Registry.Names()).
		Msg("Services starting")

	err := a.Supervisor.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	log.Info().Str("component", "app").Msg("Shutdown complete")
	return err
}

func (a *App) Close() error {
	var errs []error
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
