// Package config loads the service configuration from YAML, merges secrets
// from the environment and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/aureon/internal/cache"
	"github.com/sawpanic/aureon/internal/execution"
	"github.com/sawpanic/aureon/internal/gates"
	"github.com/sawpanic/aureon/internal/infrastructure/db"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/secrets"
)

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is auto, console or json; auto picks console on a terminal.
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// RequestTimeout bounds each API handler; websocket streams are exempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Config struct {
	Log       LogConfig              `yaml:"log"`
	HTTP      HTTPConfig             `yaml:"http"`
	Database  db.Config              `yaml:"database"`
	Redis     cache.Config           `yaml:"redis"`
	Venues    map[string]VenueConfig `yaml:"venues"`
	Profiles  []scan.Profile         `yaml:"profiles"`
	Gating    gates.Config           `yaml:"gating"`
	Execution execution.Config       `yaml:"execution"`
	// QueueSize bounds the scanner to executor channel.
	QueueSize int `yaml:"queue_size"`
}

// Default returns a configuration that scans Kraken and Binance with one
// profile and never places orders.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Database: db.DefaultConfig(),
		Redis:    cache.Config{Prefix: "aureon:"},
		Venues:   defaultVenues(),
		Profiles: []scan.Profile{{
			Name:         "default",
			Venues:       []string{Kraken, Binance},
			Symbols:      []string{"BTC-USD", "ETH-USD", "SOL-USD"},
			ThresholdPct: 2.0,
		}},
		Gating:    gates.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		QueueSize: 64,
	}
}

// Load reads path (optional) over the defaults, merges the dotenv file and
// environment overrides, and validates.
func Load(path string) (*Config, error) {
	env, err := secrets.LoadEnv()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(env)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	var raw struct {
		Venues   map[string]VenueConfig `yaml:"venues"`
		Profiles []scan.Profile         `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	// A venues section extends the built-in set instead of replacing it.
	venues := defaultVenues()
	for name, v := range raw.Venues {
		venues[strings.ToLower(name)] = v
	}
	c.Venues = venues
	if raw.Profiles != nil {
		c.Profiles = raw.Profiles
	}
	return nil
}

func (c *Config) applyDefaults() {
	for name, v := range c.Venues {
		c.Venues[name] = v.withDefaults(name)
	}
	for i, p := range c.Profiles {
		c.Profiles[i] = p.WithDefaults()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Database.MemoryCapacity <= 0 {
		c.Database.MemoryCapacity = db.DefaultConfig().MemoryCapacity
	}
}

// ApplyEnv copies secrets and DSNs from env. Environment values win over
// the file.
func (c *Config) ApplyEnv(env *secrets.Env) {
	venue := func(name string, fn func(v *VenueConfig)) {
		v := c.Venues[name]
		fn(&v)
		c.Venues[name] = v
	}
	venue(Binance, func(v *VenueConfig) {
		env.Override(&v.APIKey, "BINANCE_API_KEY")
		env.Override(&v.APISecret, "BINANCE_API_SECRET")
	})
	venue(Kraken, func(v *VenueConfig) {
		env.Override(&v.APIKey, "KRAKEN_API_KEY")
		env.Override(&v.APISecret, "KRAKEN_API_SECRET")
	})
	venue(Alpaca, func(v *VenueConfig) {
		env.Override(&v.APIKey, "ALPACA_API_KEY_ID")
		env.Override(&v.APISecret, "ALPACA_API_SECRET_KEY")
	})
	venue(Capital, func(v *VenueConfig) {
		env.Override(&v.APIKey, "CAPITAL_API_KEY")
		env.Override(&v.Identifier, "CAPITAL_IDENTIFIER")
		env.Override(&v.Password, "CAPITAL_PASSWORD")
	})

	if env.Override(&c.Database.DSN, "PG_DSN") {
		c.Database.Enabled = true
	}
	env.Override(&c.Redis.Addr, "REDIS_ADDR")
	env.Override(&c.Redis.Password, "REDIS_PASSWORD")
	env.Override(&c.Log.Level, "LOG_LEVEL")
	env.Override(&c.HTTP.Addr, "AUREON_HTTP_ADDR")
	if mode, ok := env.Lookup("AUREON_EXECUTION_MODE"); ok {
		c.Execution.Mode = execution.Mode(strings.ToLower(mode))
	}
}

// Validate checks every section and collects all problems.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level", err)
	}
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		add("log.format", fmt.Errorf("want auto, console or json, got %q", c.Log.Format))
	}
	if c.HTTP.Addr == "" {
		add("http.addr", errors.New("cannot be empty"))
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		add("database", errors.New("enabled without a dsn (set PG_DSN)"))
	}

	enabled := map[string]bool{}
	for _, name := range c.VenueNames() {
		v := c.Venues[name]
		add("venues."+name, v.Validate(name))
		if v.Enabled {
			enabled[name] = true
		}
	}
	if len(enabled) == 0 {
		add("venues", errors.New("no venue is enabled"))
	}

	if len(c.Profiles) == 0 {
		add("profiles", errors.New("at least one scan profile is required"))
	}
	seen := map[string]bool{}
	for _, p := range c.Profiles {
		if seen[p.Name] {
			add("profiles", fmt.Errorf("duplicate profile %q", p.Name))
		}
		seen[p.Name] = true
		add("profiles."+p.Name, p.Validate())
		for _, v := range p.Venues {
			if !enabled[strings.ToLower(v)] {
				add("profiles."+p.Name, fmt.Errorf("venue %q is not enabled", v))
			}
		}
	}

	add("gating", c.Gating.Validate())
	add("execution", c.Execution.Validate())
	if c.Execution.Mode == execution.ModeLive {
		live := false
		for name := range enabled {
			if c.Venues[name].TradingEnabled {
				live = true
			}
		}
		if !live {
			add("execution", errors.New("mode live needs at least one venue with trading_enabled"))
		}
	}
	return errors.Join(errs...)
}

// VenueNames returns the configured venue names in sorted order.
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary is a log-safe view of the configuration.
func (c *Config) Summary() map[string]interface{} {
	venues := map[string]interface{}{}
	for _, name := range c.VenueNames() {
		v := c.Venues[name]
		venues[name] = map[string]interface{}{
			"enabled": v.Enabled,
			"trading": v.TradingEnabled,
			"api_key": secrets.Mask(v.APIKey),
			"rps":     v.RPS,
		}
	}
	profiles := make([]string, len(c.Profiles))
	for i, p := range c.Profiles {
		profiles[i] = p.Name
	}
	return map[string]interface{}{
		"http_addr":      c.HTTP.Addr,
		"database":       c.Database.Enabled,
		"database_dsn":   secrets.RedactDSN(c.Database.DSN),
		"redis":          c.Redis.Addr,
		"venues":         venues,
		"profiles":       profiles,
		"gating":         c.Gating.Enabled,
		"execution_mode": string(c.Execution.Mode),
	}
}
