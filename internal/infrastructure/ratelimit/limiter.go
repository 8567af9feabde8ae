package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"notification-service/internal/config"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/shared"
)

// ================================================
// RATE LIMITER
// ================================================

// Class is the rate-limit category of an operation.
type Class string

const (
	ClassRead   Class = "read"
	ClassWrite  Class = "write"
	ClassAdmin  Class = "admin"
	ClassPublic Class = "public"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Blocked    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter implements fixed-window counting in Redis, keyed by
// (identity, class, window index). Counters and the violation/block
// state expire by TTL; no sweeps are required. When Redis is
// unreachable the limiter fails open.
type Limiter struct {
	client  *redis.Client
	cfg     config.RateLimitConfig
	metrics *metrics.Collector
	audit   *audit.Logger
	clock   shared.Clock
}

func NewLimiter(client *redis.Client, cfg config.RateLimitConfig, m *metrics.Collector, a *audit.Logger, clock shared.Clock) *Limiter {
	if clock == nil {
		clock = shared.SystemClock()
	}
	return &Limiter{
		client:  client,
		cfg:     cfg,
		metrics: m,
		audit:   a,
		clock:   clock,
	}
}

// Limit returns the per-window allowance for a class.
func (l *Limiter) Limit(class Class) int {
	switch class {
	case ClassRead:
		return l.cfg.ReadLimit
	case ClassWrite:
		return l.cfg.WriteLimit
	case ClassAdmin:
		return l.cfg.AdminLimit
	case ClassPublic:
		return l.cfg.PublicLimit
	}
	return l.cfg.PublicLimit
}

// ================================================
// ALLOW
// ================================================

// Allow decides whether the operation may proceed and accounts for it.
// The counter is incremented atomically; the post-increment value
// drives the decision so concurrent callers cannot exceed the limit.
func (l *Limiter) Allow(ctx context.Context, identity string, class Class) Decision {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CheckTimeout)
	defer cancel()

	now := l.clock.Now()
	windowIdx := now.Unix() / int64(l.cfg.Window.Seconds())
	windowStart := time.Unix(windowIdx*int64(l.cfg.Window.Seconds()), 0)
	resetAt := windowStart.Add(l.cfg.Window)

	// Blocked identities deny across every class for the block TTL.
	blocked, err := l.client.Exists(ctx, l.blockKey(identity)).Result()
	if err != nil {
		return l.failOpen(identity, class, resetAt, err)
	}
	if blocked > 0 {
		ttl, _ := l.client.TTL(ctx, l.blockKey(identity)).Result()
		l.metrics.RecordRateLimitDeny()
		return Decision{Allowed: false, Blocked: true, Remaining: 0, ResetAt: now.Add(ttl), RetryAfter: ttl}
	}

	limit := l.Limit(class)
	key := l.counterKey(identity, class, windowIdx)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.cfg.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(identity, class, resetAt, err)
	}

	count := int(incr.Val())
	if count > limit {
		l.metrics.RecordRateLimitDeny()
		l.recordViolation(ctx, identity, class)
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: resetAt.Sub(now)}
	}

	l.metrics.RecordRateLimitAllow()
	return Decision{Allowed: true, Remaining: limit - count, ResetAt: resetAt}
}

// failOpen allows the call when the backing store is unreachable.
func (l *Limiter) failOpen(identity string, class Class, resetAt time.Time, err error) Decision {
	log.Warn().
		Err(err).
		Str("identity", identity).
		Str("class", string(class)).
		Msg("[RateLimiter] Backing store unreachable, failing open")

	l.metrics.RecordRateLimitAllow()
	return Decision{Allowed: true, Remaining: l.Limit(class), ResetAt: resetAt}
}

// recordViolation escalates repeated denies into a temporary block.
func (l *Limiter) recordViolation(ctx context.Context, identity string, class Class) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, l.violationKey(identity))
	pipe.Expire(ctx, l.violationKey(identity), l.cfg.ViolationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("[RateLimiter] Failed to record violation")
		return
	}

	violations := int(incr.Val())
	l.audit.RateLimitViolation(identity, string(class), violations)

	if violations >= l.cfg.ViolationLimit {
		if err := l.client.Set(ctx, l.blockKey(identity), 1, l.cfg.BlockTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("[RateLimiter] Failed to set block state")
			return
		}
		l.metrics.RecordRateLimitBlocked()
		l.audit.SuspiciousActivity(identity, fmt.Sprintf("blocked for %s after %d rate limit violations", l.cfg.BlockTTL, violations))

		log.Warn().
			Str("identity", identity).
			Int("violations", violations).
			Dur("block_ttl", l.cfg.BlockTTL).
			Msg("[RateLimiter] Identity blocked")
	}
}

// ================================================
// INSPECTION / ADMIN
// ================================================

// Remaining reports the allowance left in the current window without
// consuming any of it.
func (l *Limiter) Remaining(ctx context.Context, identity string, class Class) int {
	windowIdx := l.clock.Now().Unix() / int64(l.cfg.Window.Seconds())
	count, err := l.client.Get(ctx, l.counterKey(identity, class, windowIdx)).Int()
	if err != nil {
		return l.Limit(class)
	}
	remaining := l.Limit(class) - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt reports when the current window ends.
func (l *Limiter) ResetAt(identity string, class Class) time.Time {
	windowIdx := l.clock.Now().Unix() / int64(l.cfg.Window.Seconds())
	windowStart := time.Unix(windowIdx*int64(l.cfg.Window.Seconds()), 0)
	return windowStart.Add(l.cfg.Window)
}

// Reset clears the counter, violation state, and block for an identity.
// Intended for admin use and tests.
func (l *Limiter) Reset(ctx context.Context, identity string, class Class) error {
	windowIdx := l.clock.Now().Unix() / int64(l.cfg.Window.Seconds())
	keys := []string{
		l.counterKey(identity, class, windowIdx),
		l.violationKey(identity),
		l.blockKey(identity),
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// ================================================
// KEYS
// ================================================

func (l *Limiter) counterKey(identity string, class Class, windowIdx int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", identity, class, windowIdx)
}

func (l *Limiter) violationKey(identity string) string {
	return "ratelimit:violations:" + identity
}

func (l *Limiter) blockKey(identity string) string {
	return "ratelimit:blocked:" + identity
}
