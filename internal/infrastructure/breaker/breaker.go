package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/shared"
)

// ================================================
// MAIL CIRCUIT BREAKER
// ================================================

// errSlowCall marks a successful call that exceeded the slow threshold.
// It is counted as a failure for trip decisions but never surfaces to
// the caller.
var errSlowCall = errors.New("call exceeded slow threshold")

// MailBreaker protects the outbound mail transport. It trips on the
// failure rate or the slow-call rate observed over a sliding window
// bounded by both call count and age.
type MailBreaker struct {
	cb      *gobreaker.CircuitBreaker
	window  *callWindow
	cfg     config.BreakerConfig
	metrics *metrics.Collector
	audit   *audit.Logger
	clock   shared.Clock
}

func NewMailBreaker(name string, cfg config.BreakerConfig, m *metrics.Collector, a *audit.Logger, clock shared.Clock) *MailBreaker {
	if clock == nil {
		clock = shared.SystemClock()
	}

	b := &MailBreaker{
		window:  newCallWindow(cfg.WindowSize, cfg.WindowDuration, clock),
		cfg:     cfg,
		metrics: m,
		audit:   a,
		clock:   clock,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenProbes),
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(gobreaker.Counts) bool {
			return b.shouldTrip()
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(name, from, to)
		},
	})

	return b
}

// shouldTrip evaluates the sliding window. The breaker stays closed
// until the window holds enough calls to be statistically meaningful.
func (b *MailBreaker) shouldTrip() bool {
	total, failures, slows := b.window.stats(b.clock.Now())
	if total < b.cfg.MinCalls {
		return false
	}

	failureRate := float64(failures) / float64(total)
	slowRate := float64(slows) / float64(total)
	return failureRate >= b.cfg.FailureRate || slowRate >= b.cfg.SlowRate
}

func (b *MailBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.audit.BreakerTransition(name, from.String(), to.String())

	log.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("[Breaker] State transition")

	switch to {
	case gobreaker.StateOpen:
		b.metrics.RecordBreakerOpen()
	case gobreaker.StateClosed:
		// Stale observations must not trip the breaker again right
		// after it recovers.
		b.window.reset()
	}
}

// Execute runs fn under the breaker. While open, calls fail fast with
// ErrCircuitOpen and the caller is expected to fall back to the retry
// queue rather than drop the work.
func (b *MailBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if b.cb.State() == gobreaker.StateHalfOpen {
		b.metrics.RecordBreakerTrial()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		start := b.clock.Now()
		callErr := fn(ctx)
		elapsed := b.clock.Since(start)

		slow := elapsed >= b.cfg.SlowThreshold
		b.window.record(start, callErr != nil, slow)

		if callErr != nil {
			return nil, callErr
		}
		if slow {
			return nil, errSlowCall
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.metrics.RecordBreakerFallback()
		return model.ErrCircuitOpen
	}
	if errors.Is(err, errSlowCall) {
		return nil
	}
	return err
}

// State reports the current breaker state as a string.
func (b *MailBreaker) State() string {
	return b.cb.State().String()
}

// Open reports whether calls would currently fail fast.
func (b *MailBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ================================================
// SLIDING CALL WINDOW
// ================================================

type callRecord struct {
	at      time.Time
	failure bool
	slow    bool
}

// callWindow keeps the most recent calls in a fixed-size ring. Entries
// older than maxAge are ignored when computing rates, so a burst of
// failures ages out even if call volume drops.
type callWindow struct {
	mu     sync.Mutex
	ring   []callRecord
	next   int
	filled bool
	maxAge time.Duration
	clock  shared.Clock
}

func newCallWindow(size int, maxAge time.Duration, clock shared.Clock) *callWindow {
	return &callWindow{
		ring:   make([]callRecord, size),
		maxAge: maxAge,
		clock:  clock,
	}
}

func (w *callWindow) record(at time.Time, failure, slow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ring[w.next] = callRecord{at: at, failure: failure, slow: slow}
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.filled = true
	}
}

func (w *callWindow) stats(now time.Time) (total, failures, slows int) {
	cutoff := now.Add(-w.maxAge)

	w.mu.Lock()
	defer w.mu.Unlock()

	limit := w.next
	if w.filled {
		limit = len(w.ring)
	}
	for i := 0; i < limit; i++ {
		rec := w.ring[i]
		if rec.at.Before(cutoff) {
			continue
		}
		total++
		if rec.failure {
			failures++
		}
		if rec.slow {
			slows++
		}
	}
	return total, failures, slows
}

func (w *callWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.filled = false
	for i := range w.ring {
		w.ring[i] = callRecord{}
	}
}
