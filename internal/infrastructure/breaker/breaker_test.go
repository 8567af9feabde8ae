package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/shared"
)

var errSMTP = errors.New("smtp: connection refused")

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		WindowSize:     20,
		WindowDuration: time.Minute,
		MinCalls:       4,
		FailureRate:    0.5,
		SlowRate:       0.5,
		SlowThreshold:  50 * time.Millisecond,
		Cooldown:       100 * time.Millisecond,
		HalfOpenProbes: 2,
	}
}

func newTestBreaker(cfg config.BreakerConfig, clock shared.Clock) *MailBreaker {
	return NewMailBreaker(
		"smtp-test",
		cfg,
		metrics.NewCollector(prometheus.NewRegistry()),
		audit.NewLoggerWithSink(zerolog.Nop()),
		clock,
	)
}

func succeed(context.Context) error { return nil }

func fail(context.Context) error { return errSMTP }

func TestBreakerStaysClosedBelowMinCalls(t *testing.T) {
	b := newTestBreaker(testBreakerConfig(), nil)
	ctx := context.Background()

	// Three straight failures are still below the minimum sample size.
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errSMTP)
	}
	assert.False(t, b.Open())
	assert.NoError(t, b.Execute(ctx, succeed))
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	b := newTestBreaker(testBreakerConfig(), nil)
	ctx := context.Background()

	require.NoError(t, b.Execute(ctx, succeed))
	require.NoError(t, b.Execute(ctx, succeed))
	require.ErrorIs(t, b.Execute(ctx, fail), errSMTP)

	// Fourth call brings the window to 2/4 failures, at the threshold.
	require.ErrorIs(t, b.Execute(ctx, fail), errSMTP)
	assert.True(t, b.Open())

	// While open, callers fail fast with the sentinel, not the
	// transport error.
	err := b.Execute(ctx, fail)
	assert.ErrorIs(t, err, model.ErrCircuitOpen)
	assert.NotErrorIs(t, err, errSMTP)
}

// stoppedClock reports a fixed elapsed duration for every call so slow
// calls can be simulated without sleeping.
type stoppedClock struct {
	elapsed time.Duration
}

func (c stoppedClock) Now() time.Time                { return time.Now() }
func (c stoppedClock) Since(time.Time) time.Duration { return c.elapsed }

func TestBreakerTripsOnSlowCalls(t *testing.T) {
	cfg := testBreakerConfig()
	b := newTestBreaker(cfg, stoppedClock{elapsed: cfg.SlowThreshold * 2})
	ctx := context.Background()

	// Slow calls succeed from the caller's point of view.
	for i := 0; i < cfg.MinCalls; i++ {
		assert.NoError(t, b.Execute(ctx, succeed))
	}
	assert.True(t, b.Open())
	assert.ErrorIs(t, b.Execute(ctx, succeed), model.ErrCircuitOpen)
}

func tripBreaker(t *testing.T, b *MailBreaker) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errSMTP)
	}
	require.True(t, b.Open())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := testBreakerConfig()
	b := newTestBreaker(cfg, nil)
	ctx := context.Background()

	tripBreaker(t, b)

	// Wait out the cooldown, then let the probes succeed.
	time.Sleep(cfg.Cooldown + 50*time.Millisecond)
	require.NoError(t, b.Execute(ctx, succeed))
	require.NoError(t, b.Execute(ctx, succeed))

	assert.Equal(t, "closed", b.State())

	// The window was reset on close; old failures must not trip it
	// again on the next real failure.
	assert.ErrorIs(t, b.Execute(ctx, fail), errSMTP)
	assert.False(t, b.Open())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cfg := testBreakerConfig()
	b := newTestBreaker(cfg, nil)
	ctx := context.Background()

	tripBreaker(t, b)

	time.Sleep(cfg.Cooldown + 50*time.Millisecond)
	require.ErrorIs(t, b.Execute(ctx, fail), errSMTP)
	assert.True(t, b.Open())
}

func TestBreakerStateString(t *testing.T) {
	b := newTestBreaker(testBreakerConfig(), nil)
	assert.Equal(t, "closed", b.State())

	tripBreaker(t, b)
	assert.Equal(t, "open", b.State())
}
