package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTracker_ConsumeUntilExhausted(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	tracker := newTracker("kraken", 10, 0, 0.8, clock.now)

	for i := 0; i < 10; i++ {
		require.NoError(t, tracker.Consume(), "call %d", i)
	}

	err := tracker.Consume()
	if err == nil {
		t.Fatal("expected exhaustion after limit")
	}
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "kraken", exhausted.Venue)
	assert.Equal(t, int64(10), exhausted.Used)
	assert.True(t, errors.Is(err, ErrExhausted))

	stats := tracker.Stats()
	assert.Equal(t, int64(10), stats.Used, "blocked call must not be counted")
	assert.True(t, stats.Exhausted)
	assert.True(t, stats.Warning)
}

func TestTracker_WarningThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	tracker := newTracker("alpaca", 10, 0, 0.8, clock.now)

	for i := 0; i < 7; i++ {
		tracker.Consume()
	}
	assert.False(t, tracker.Stats().Warning)

	tracker.Consume()
	assert.True(t, tracker.Stats().Warning)
	assert.False(t, tracker.Stats().Exhausted)
}

func TestTracker_ResetsAtConfiguredHour(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)}
	tracker := newTracker("binance", 2, 12, 0.8, clock.now)

	require.NoError(t, tracker.Consume())
	require.NoError(t, tracker.Consume())
	require.Error(t, tracker.Consume())

	stats := tracker.Stats()
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), stats.NextReset)

	clock.t = time.Date(2026, 3, 2, 12, 0, 1, 0, time.UTC)
	assert.NoError(t, tracker.Consume())
	assert.Equal(t, int64(1), tracker.Stats().Used)
}

func TestTracker_UnlimitedWhenLimitZero(t *testing.T) {
	tracker := NewTracker("paper", 0, 0, 0.8)
	for i := 0; i < 1000; i++ {
		require.NoError(t, tracker.Consume())
	}
	assert.False(t, tracker.Stats().Exhausted)
}

func TestManager(t *testing.T) {
	m := NewManager()
	m.Add("kraken", 1, 0, 0.5)
	m.Add("alpaca", 5, 0, 0.5)

	assert.NoError(t, m.Consume("unknown"))
	assert.NoError(t, m.Consume("kraken"))
	assert.Error(t, m.Consume("kraken"))

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "alpaca", stats[0].Venue)
	assert.Equal(t, "kraken", stats[1].Venue)
	assert.True(t, stats[1].Exhausted)
}
