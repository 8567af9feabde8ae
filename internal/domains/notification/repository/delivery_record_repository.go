package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notification-service/internal/domains/notification/model"
)

// ================================================
// DELIVERY RECORD REPOSITORY IMPLEMENTATION
// ================================================

type deliveryRecordRepository struct {
	db *pgxpool.Pool
}

func NewDeliveryRecordRepository(db *pgxpool.Pool) DeliveryRecordRepository {
	return &deliveryRecordRepository{db: db}
}

const deliveryRecordColumns = `
	tracking_id, notification_id, user_id, type, recipient, channel,
	state, reason, attempts, max_attempts, last_error, provider_message_id,
	estimated_cost, scheduled_for, queued_at, sending_at, sent_at,
	delivered_at, failed_at, created_at, updated_at
`

// Create persists a new delivery record in its initial state.
func (r *deliveryRecordRepository) Create(ctx context.Context, rec *model.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			tracking_id, notification_id, user_id, type, recipient, channel,
			state, reason, attempts, max_attempts, last_error,
			provider_message_id, estimated_cost, scheduled_for, queued_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING created_at, updated_at
	`

	if rec.TrackingID == uuid.Nil {
		rec.TrackingID = uuid.New()
	}

	err := r.db.QueryRow(ctx, query,
		rec.TrackingID, rec.NotificationID, rec.UserID, rec.Type, rec.Recipient, rec.Channel,
		rec.State, rec.Reason, rec.Attempts, rec.MaxAttempts, rec.LastError,
		rec.ProviderMessageID, rec.EstimatedCost, rec.ScheduledFor, rec.QueuedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}

	return nil
}

// GetByTrackingID retrieves a delivery record.
func (r *deliveryRecordRepository) GetByTrackingID(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryRecordColumns + ` FROM delivery_records WHERE tracking_id = $1`

	rec, err := scanDeliveryRecord(r.db.QueryRow(ctx, query, trackingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}

	return rec, nil
}

// GetByProviderMessageID resolves a transport callback to its record.
func (r *deliveryRecordRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryRecordColumns + ` FROM delivery_records WHERE provider_message_id = $1`

	rec, err := scanDeliveryRecord(r.db.QueryRow(ctx, query, providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get delivery record by provider id: %w", err)
	}

	return rec, nil
}

// Update writes back every mutable field of the record.
func (r *deliveryRecordRepository) Update(ctx context.Context, rec *model.DeliveryRecord) error {
	query := `
		UPDATE delivery_records
		SET state = $2, reason = $3, attempts = $4, last_error = $5,
			provider_message_id = $6, estimated_cost = $7, scheduled_for = $8,
			queued_at = $9, sending_at = $10, sent_at = $11,
			delivered_at = $12, failed_at = $13, updated_at = NOW()
		WHERE tracking_id = $1
	`

	result, err := r.db.Exec(ctx, query,
		rec.TrackingID, rec.State, rec.Reason, rec.Attempts, rec.LastError,
		rec.ProviderMessageID, rec.EstimatedCost, rec.ScheduledFor,
		rec.QueuedAt, rec.SendingAt, rec.SentAt, rec.DeliveredAt, rec.FailedAt,
	)

	if err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrRecordNotFound
	}

	return nil
}

// Transition moves the record from one state to another under a row
// lock. The legality check runs against the row as it exists inside
// the transaction, so concurrent callbacks serialize cleanly: the
// loser of the race sees the winner's state and is rejected or
// no-opped by the state machine rules.
func (r *deliveryRecordRepository) Transition(ctx context.Context, trackingID uuid.UUID, from, to string, apply func(*model.DeliveryRecord)) (*model.DeliveryRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + deliveryRecordColumns + ` FROM delivery_records WHERE tracking_id = $1 FOR UPDATE`

	rec, err := scanDeliveryRecord(tx.QueryRow(ctx, query, trackingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("lock delivery record: %w", err)
	}

	if model.IsTerminalDeliveryState(rec.State) {
		return nil, fmt.Errorf("%s -> %s: %w", rec.State, to, model.ErrTerminalState)
	}
	if !model.CanTransitionDelivery(rec.State, to) {
		return nil, fmt.Errorf("%s -> %s: %w", rec.State, to, model.ErrIllegalTransition)
	}
	if rec.State == to {
		// Duplicate callback, keep the existing row untouched.
		return rec, nil
	}
	if from != "" && rec.State != from {
		return nil, fmt.Errorf("expected %s, row is %s: %w", from, rec.State, model.ErrIllegalTransition)
	}

	rec.State = to
	if apply != nil {
		apply(rec)
	}

	update := `
		UPDATE delivery_records
		SET state = $2, reason = $3, attempts = $4, last_error = $5,
			provider_message_id = $6, estimated_cost = $7, scheduled_for = $8,
			queued_at = $9, sending_at = $10, sent_at = $11,
			delivered_at = $12, failed_at = $13, updated_at = NOW()
		WHERE tracking_id = $1
	`

	if _, err := tx.Exec(ctx, update,
		rec.TrackingID, rec.State, rec.Reason, rec.Attempts, rec.LastError,
		rec.ProviderMessageID, rec.EstimatedCost, rec.ScheduledFor,
		rec.QueuedAt, rec.SendingAt, rec.SentAt, rec.DeliveredAt, rec.FailedAt,
	); err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	return rec, nil
}

// CountByState aggregates record counts per state over a time range.
func (r *deliveryRecordRepository) CountByState(ctx context.Context, from, to time.Time) (map[string]int, error) {
	query := `
		SELECT state, COUNT(*)
		FROM delivery_records
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY state
	`

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[state] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return counts, nil
}

// ListByUser retrieves a user's delivery records, newest first.
func (r *deliveryRecordRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.DeliveryRecord, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delivery records: %w", err)
	}

	query := `
		SELECT ` + deliveryRecordColumns + `
		FROM delivery_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var records []model.DeliveryRecord
	for rows.Next() {
		rec, err := scanDeliveryRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return records, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeliveryRecord(row rowScanner) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := row.Scan(
		&rec.TrackingID, &rec.NotificationID, &rec.UserID, &rec.Type, &rec.Recipient, &rec.Channel,
		&rec.State, &rec.Reason, &rec.Attempts, &rec.MaxAttempts, &rec.LastError, &rec.ProviderMessageID,
		&rec.EstimatedCost, &rec.ScheduledFor, &rec.QueuedAt, &rec.SendingAt, &rec.SentAt,
		&rec.DeliveredAt, &rec.FailedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
