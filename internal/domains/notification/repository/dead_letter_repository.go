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
// DEAD LETTER REPOSITORY IMPLEMENTATION
// ================================================

type deadLetterRepository struct {
	db *pgxpool.Pool
}

func NewDeadLetterRepository(db *pgxpool.Pool) DeadLetterRepository {
	return &deadLetterRepository{db: db}
}

const deadLetterColumns = `
	id, tracking_id, user_id, type, channel, recipient, subject, content,
	error_message, retry_count, max_retries, status, created_at,
	retried_at, resolved_at
`

// Create persists a dead letter record with its full payload so the
// delivery can be retried without re-rendering.
func (r *deadLetterRepository) Create(ctx context.Context, rec *model.DeadLetterRecord) error {
	query := `
		INSERT INTO dead_letters (
			id, tracking_id, user_id, type, channel, recipient, subject,
			content, error_message, retry_count, max_retries, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING created_at
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = model.DeadLetterStatusPending
	}

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.TrackingID, rec.UserID, rec.Type, rec.Channel, rec.Recipient,
		rec.Subject, rec.Content, rec.ErrorMessage, rec.RetryCount, rec.MaxRetries, rec.Status,
	).Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("create dead letter: %w", err)
	}

	return nil
}

// GetByID retrieves a dead letter record.
func (r *deadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DeadLetterRecord, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`

	rec, err := scanDeadLetter(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}

	return rec, nil
}

// List retrieves dead letters, newest first, with an optional status
// filter.
func (r *deadLetterRepository) List(ctx context.Context, status *string, limit, offset int) ([]model.DeadLetterRecord, int64, error) {
	whereClause := ""
	args := []interface{}{}

	if status != nil {
		whereClause = "WHERE status = $1"
		args = append(args, *status)
	}

	countQuery := "SELECT COUNT(*) FROM dead_letters " + whereClause
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dead letters: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM dead_letters
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, deadLetterColumns, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []model.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dead letter: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return records, total, nil
}

// Claim atomically moves a retryable record into processing and bumps
// its retry count. The status guard in the WHERE clause means exactly
// one of any number of concurrent claimers wins.
func (r *deadLetterRepository) Claim(ctx context.Context, id uuid.UUID) (*model.DeadLetterRecord, error) {
	query := `
		UPDATE dead_letters
		SET status = $2, retry_count = retry_count + 1, retried_at = NOW()
		WHERE id = $1
		AND status IN ($3, $4)
		AND retry_count < max_retries
		RETURNING ` + deadLetterColumns

	rec, err := scanDeadLetter(r.db.QueryRow(ctx, query,
		id, model.DeadLetterStatusProcessing,
		model.DeadLetterStatusPending, model.DeadLetterStatusRetryFailed,
	))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the record is gone or it is not retryable. Look it
			// up to report the precise condition.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, model.ErrDeadLetterNotRetry
		}
		return nil, fmt.Errorf("claim dead letter: %w", err)
	}

	return rec, nil
}

// MarkRetried records a successful manual retry.
func (r *deadLetterRepository) MarkRetried(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE dead_letters SET status = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, model.DeadLetterStatusRetried)
	if err != nil {
		return fmt.Errorf("mark retried: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrDeadLetterNotFound
	}

	return nil
}

// MarkRetryFailed records a failed retry. When the retry budget is
// spent the record moves to max_retries_exceeded instead.
func (r *deadLetterRepository) MarkRetryFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE dead_letters
		SET status = CASE
				WHEN retry_count >= max_retries THEN $3
				ELSE $2
			END,
			error_message = $4
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id,
		model.DeadLetterStatusRetryFailed,
		model.DeadLetterStatusMaxRetriesExceeded,
		errorMessage,
	)
	if err != nil {
		return fmt.Errorf("mark retry failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrDeadLetterNotFound
	}

	return nil
}

// MarkResolved closes a record without retrying it.
func (r *deadLetterRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE dead_letters
		SET status = $2, resolved_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, model.DeadLetterStatusResolved)
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrDeadLetterNotFound
	}

	return nil
}

// ExpireOld expires unresolved records older than the cutoff.
func (r *deadLetterRepository) ExpireOld(ctx context.Context, before time.Time) (int, error) {
	query := `
		UPDATE dead_letters
		SET status = $2, resolved_at = NOW()
		WHERE created_at < $1
		AND status IN ($3, $4)
	`

	result, err := r.db.Exec(ctx, query, before,
		model.DeadLetterStatusExpired,
		model.DeadLetterStatusPending, model.DeadLetterStatusRetryFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("expire old dead letters: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// CountUnresolved counts records still awaiting attention.
func (r *deadLetterRepository) CountUnresolved(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM dead_letters
		WHERE status IN ($1, $2, $3)
	`

	var count int
	err := r.db.QueryRow(ctx, query,
		model.DeadLetterStatusPending,
		model.DeadLetterStatusProcessing,
		model.DeadLetterStatusRetryFailed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved: %w", err)
	}

	return count, nil
}

// ListRetryable retrieves records the scheduled retry job may pick up,
// oldest first.
func (r *deadLetterRepository) ListRetryable(ctx context.Context, limit int) ([]model.DeadLetterRecord, error) {
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letters
		WHERE status IN ($1, $2)
		AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query,
		model.DeadLetterStatusPending, model.DeadLetterStatusRetryFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list retryable: %w", err)
	}
	defer rows.Close()

	var records []model.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

func scanDeadLetter(row rowScanner) (*model.DeadLetterRecord, error) {
	var rec model.DeadLetterRecord
	err := row.Scan(
		&rec.ID, &rec.TrackingID, &rec.UserID, &rec.Type, &rec.Channel, &rec.Recipient,
		&rec.Subject, &rec.Content, &rec.ErrorMessage, &rec.RetryCount, &rec.MaxRetries,
		&rec.Status, &rec.CreatedAt, &rec.RetriedAt, &rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
