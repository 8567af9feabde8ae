package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/shared"
)

// ================================================
// STATUS TRACKER
// ================================================

// Transport callback events.
const (
	CallbackDelivered  = "DELIVERED"
	CallbackBounced    = "BOUNCED"
	CallbackComplained = "COMPLAINED"
	CallbackFailed     = "FAILED"
)

// StatusTracker owns the delivery state machine. Transient states are
// mirrored in memory for cheap status reads; every transition is also
// persisted, and terminal persistence is mandatory.
type StatusTracker interface {
	Begin(ctx context.Context, rec *model.DeliveryRecord) error
	Record(ctx context.Context, trackingID uuid.UUID, to string, apply func(*model.DeliveryRecord)) (*model.DeliveryRecord, error)
	Get(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error)
	OnTransportCallback(ctx context.Context, providerMessageID, event string) error
	Statistics(ctx context.Context, from, to time.Time) (*model.DeliveryStatistics, error)
}

type statusTracker struct {
	repo    repository.DeliveryRecordRepository
	metrics *metrics.Collector
	clock   shared.Clock

	mu        sync.RWMutex
	live      map[uuid.UUID]*model.DeliveryRecord
	byMessage map[string]uuid.UUID
}

func NewStatusTracker(repo repository.DeliveryRecordRepository, m *metrics.Collector, clock shared.Clock) StatusTracker {
	if clock == nil {
		clock = shared.SystemClock()
	}
	return &statusTracker{
		repo:      repo,
		metrics:   m,
		clock:     clock,
		live:      make(map[uuid.UUID]*model.DeliveryRecord),
		byMessage: make(map[string]uuid.UUID),
	}
}

// Begin persists the initial record and registers it in the live set.
func (t *statusTracker) Begin(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.State == "" {
		rec.State = model.DeliveryStatePending
	}
	if err := t.repo.Create(ctx, rec); err != nil {
		return err
	}

	t.remember(rec)
	return nil
}

// Record applies one transition. Illegal moves are rejected by the
// state machine; repeating the current non-terminal state is a no-op,
// so duplicated callbacks and worker races cannot regress a record.
func (t *statusTracker) Record(ctx context.Context, trackingID uuid.UUID, to string, apply func(*model.DeliveryRecord)) (*model.DeliveryRecord, error) {
	rec, err := t.repo.Transition(ctx, trackingID, "", to, apply)
	if err != nil {
		return nil, err
	}

	if model.IsTerminalDeliveryState(rec.State) {
		t.forget(rec)
	} else {
		t.remember(rec)
	}

	log.Debug().
		Str("tracking_id", trackingID.String()).
		Str("state", rec.State).
		Msg("[StatusTracker] Transition recorded")

	return rec, nil
}

// Get serves status reads from memory while the delivery is in flight
// and falls back to the repository afterwards.
func (t *statusTracker) Get(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error) {
	t.mu.RLock()
	rec, ok := t.live[trackingID]
	t.mu.RUnlock()
	if ok {
		snapshot := *rec
		return &snapshot, nil
	}

	return t.repo.GetByTrackingID(ctx, trackingID)
}

// OnTransportCallback folds an asynchronous provider event into the
// state machine. Events for records already terminal are swallowed;
// providers redeliver callbacks and the first one wins.
func (t *statusTracker) OnTransportCallback(ctx context.Context, providerMessageID, event string) error {
	rec, err := t.resolveMessage(ctx, providerMessageID)
	if err != nil {
		return err
	}

	now := t.clock.Now()
	var to string
	var apply func(*model.DeliveryRecord)

	switch event {
	case CallbackDelivered:
		to = model.DeliveryStateDelivered
		apply = func(r *model.DeliveryRecord) { r.DeliveredAt = &now }
	case CallbackBounced:
		to = model.DeliveryStateBounced
		apply = func(r *model.DeliveryRecord) { r.FailedAt = &now }
	case CallbackComplained:
		to = model.DeliveryStateComplained
		apply = func(r *model.DeliveryRecord) { r.FailedAt = &now }
	case CallbackFailed:
		to = model.DeliveryStateFailed
		apply = func(r *model.DeliveryRecord) {
			r.FailedAt = &now
			reason := model.ReasonInternal
			r.Reason = &reason
		}
	default:
		return fmt.Errorf("callback event %q: %w", event, model.ErrIllegalTransition)
	}

	_, err = t.Record(ctx, rec.TrackingID, to, apply)
	if err != nil {
		if errors.Is(err, model.ErrTerminalState) {
			return nil
		}
		return err
	}

	if event == CallbackBounced {
		t.metrics.RecordBounced()
	}
	return nil
}

// Statistics aggregates outcomes over a window. Rates are against the
// sent volume; a window with nothing sent has zero rates.
func (t *statusTracker) Statistics(ctx context.Context, from, to time.Time) (*model.DeliveryStatistics, error) {
	counts, err := t.repo.CountByState(ctx, from, to)
	if err != nil {
		return nil, err
	}

	stats := &model.DeliveryStatistics{
		Delivered:  int64(counts[model.DeliveryStateDelivered]),
		Bounced:    int64(counts[model.DeliveryStateBounced]),
		Complained: int64(counts[model.DeliveryStateComplained]),
		Failed:     int64(counts[model.DeliveryStateFailed]) + int64(counts[model.DeliveryStateDeadLetter]),
	}
	// Everything at or past sent counts as sent.
	stats.Sent = int64(counts[model.DeliveryStateSent]) + stats.Delivered + stats.Bounced + stats.Complained

	if stats.Sent > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.Sent)
		stats.BounceRate = float64(stats.Bounced) / float64(stats.Sent)
		stats.ComplaintRate = float64(stats.Complained) / float64(stats.Sent)
	}

	return stats, nil
}

// ================================================
// LIVE SET
// ================================================

func (t *statusTracker) remember(rec *model.DeliveryRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := *rec
	t.live[rec.TrackingID] = &snapshot
	if rec.ProviderMessageID != nil {
		t.byMessage[*rec.ProviderMessageID] = rec.TrackingID
	}
}

func (t *statusTracker) forget(rec *model.DeliveryRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.live, rec.TrackingID)
	if rec.ProviderMessageID != nil {
		delete(t.byMessage, *rec.ProviderMessageID)
	}
}

// resolveMessage maps a provider message ID to its record, preferring
// the in-memory index and falling back to the repository so callbacks
// survive a restart.
func (t *statusTracker) resolveMessage(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error) {
	t.mu.RLock()
	trackingID, ok := t.byMessage[providerMessageID]
	t.mu.RUnlock()

	if ok {
		return t.Get(ctx, trackingID)
	}
	return t.repo.GetByProviderMessageID(ctx, providerMessageID)
}
