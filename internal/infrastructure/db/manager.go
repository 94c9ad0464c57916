package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/persistence/memory"
	"github.com/sawpanic/aureon/internal/persistence/postgres"
)

// Config holds database connection configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Migrate         bool          `yaml:"migrate"`
	// MemoryCapacity bounds the in-process store used when disabled.
	MemoryCapacity int `yaml:"memory_capacity"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    5 * time.Second,
		Migrate:         true,
		MemoryCapacity:  10000,
	}
}

// Manager owns the database connection and the repositories built on it.
// When disabled it serves an in-memory repository instead.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
}

// NewManager opens and pings the database when enabled.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if !config.Enabled {
		log.Info().Str("component", "db").Msg("Postgres disabled, using in-memory store")
		return &Manager{
			config: config,
			repos:  memory.New(config.MemoryCapacity).Repository(),
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info().Str("component", "db").Int("max_open_conns", config.MaxOpenConns).Msg("Postgres connected")
	return NewManagerWithDB(db, config), nil
}

// NewManagerWithDB wraps an already open connection.
func NewManagerWithDB(db *sqlx.DB, config Config) *Manager {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultConfig().QueryTimeout
	}
	m := &Manager{db: db, config: config}
	m.repos = &persistence.Repository{
		Opportunities: postgres.NewOpportunityRepo(db, config.QueryTimeout),
		Executions:    postgres.NewExecutionRepo(db, config.QueryTimeout),
		Ping:          m.Ping,
	}
	return m
}

// Repository returns the active repository collection; never nil.
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether Postgres persistence is active
func (m *Manager) IsEnabled() bool {
	return m.db != nil
}

func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Ping tests connectivity; a disabled manager always succeeds.
func (m *Manager) Ping(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	return m.db.PingContext(pingCtx)
}

// Health pings the database and reports pool statistics.
func (m *Manager) Health(ctx context.Context) persistence.HealthCheck {
	if m.db == nil {
		return persistence.HealthCheck{
			Healthy:   true,
			Errors:    []string{"database persistence disabled"},
			LastCheck: time.Now(),
		}
	}

	start := time.Now()
	check := persistence.HealthCheck{Enabled: true, Healthy: true}
	if err := m.Ping(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	}

	stats := m.db.Stats()
	check.ConnectionPool = map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}
	check.LastCheck = time.Now()
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}
