package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker("kraken", DefaultConfig(), nil)

	if b.State() != "closed" {
		t.Errorf("breaker should start closed, got %s", b.State())
	}
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	listener := func(name, from, to string) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+from+"->"+to)
	}

	cfg := DefaultConfig()
	cfg.OpenTimeout = time.Hour
	b := NewBreaker("alpaca", cfg, listener)

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, "open", b.State())
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke fn")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 1)
	assert.Equal(t, "alpaca:closed->open", transitions[0])
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 1
	cfg.OpenTimeout = 20 * time.Millisecond
	b := NewBreaker("capital", cfg, nil)

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_IgnoresContextErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Hour
	b := NewBreaker("kraken", cfg, nil)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return context.Canceled }), context.Canceled)
		assert.ErrorIs(t, b.Execute(func() error { return context.DeadlineExceeded }), context.DeadlineExceeded)
	}
	assert.Equal(t, "closed", b.State())

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, "open", b.State())
}

func TestBreaker_FailureRatio(t *testing.T) {
	cfg := Config{ConsecutiveFailures: 100, FailureRatio: 0.5, MinRequests: 4, OpenTimeout: time.Hour}
	b := NewBreaker("binance", cfg, nil)

	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, "closed", b.State(), "below MinRequests")

	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, "open", b.State())
}

func TestManager(t *testing.T) {
	m := NewManager(nil)
	m.Add("kraken", DefaultConfig())
	m.Add("alpaca", DefaultConfig())

	assert.Equal(t, "closed", m.State("kraken"))
	assert.Equal(t, "unknown", m.State("nope"))

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "alpaca", stats[0].Name)
	assert.True(t, stats[0].Healthy())
}
