// Package cache holds short-lived claims used to suppress repeated signals
// and trades. Claims live in Redis when it is configured so that several
// instances share them, and in process memory otherwise.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Ledger records keys that expire after a TTL.
type Ledger interface {
	// Claim stores key for ttl and reports true, or reports false when the
	// key is already held.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects the backend; an empty Addr means in-memory.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func New(cfg Config) Ledger {
	if cfg.Addr == "" {
		return NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedis(client, cfg.Prefix)
}

type entry struct {
	exp time.Time
}

type memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewMemory() Ledger {
	return &memory{m: make(map[string]entry), now: time.Now}
}

func (c *memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.m[key]; ok && now.Before(e.exp) {
		return false, nil
	}
	c.m[key] = entry{exp: now.Add(ttl)}

	// opportunistic sweep keeps the map bounded by live keys
	if len(c.m) > 1024 {
		for k, e := range c.m {
			if !now.Before(e.exp) {
				delete(c.m, k)
			}
		}
	}
	return true, nil
}

func (c *memory) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func (c *memory) Ping(context.Context) error { return nil }
func (c *memory) Close() error               { return nil }

type redisLedger struct {
	r      *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) Ledger {
	if prefix == "" {
		prefix = "aureon:"
	}
	return &redisLedger{r: client, prefix: prefix}
}

func (l *redisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.r.SetNX(ctx, l.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (l *redisLedger) Release(ctx context.Context, key string) error {
	if err := l.r.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (l *redisLedger) Ping(ctx context.Context) error {
	return l.r.Ping(ctx).Err()
}

func (l *redisLedger) Close() error { return l.r.Close() }
