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
// NOTIFICATION REPOSITORY IMPLEMENTATION
// ================================================

type notificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create persists a new in-app notification row.
func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, type, title, content, status, digest_processed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at
	`

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = model.StatusUnread
	}

	err := r.db.QueryRow(ctx, query,
		n.ID, n.UserID, n.Type, n.Title, n.Content, n.Status, n.DigestProcessedAt,
	).Scan(&n.CreatedAt)

	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by ID.
func (r *notificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `
		SELECT id, user_id, type, title, content, status,
			created_at, read_at, digest_processed_at
		FROM notifications
		WHERE id = $1
	`

	var n model.Notification
	err := r.db.QueryRow(ctx, query, id).Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Status,
		&n.CreatedAt, &n.ReadAt, &n.DigestProcessedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification by id: %w", err)
	}

	return &n, nil
}

// ListByUserID retrieves a user's notifications, newest first, with an
// optional status filter.
func (r *notificationRepository) ListByUserID(ctx context.Context, userID uuid.UUID, status *string, limit, offset int) ([]model.Notification, int64, error) {
	whereClause := "WHERE user_id = $1"
	args := []interface{}{userID}

	if status != nil {
		whereClause += " AND status = $2"
		args = append(args, *status)
	}

	countQuery := "SELECT COUNT(*) FROM notifications " + whereClause
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, type, title, content, status,
			created_at, read_at, digest_processed_at
		FROM notifications
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

// MarkAsRead marks the given notifications as read. Rows already read
// or archived are skipped, so repeated calls are harmless.
func (r *notificationRepository) MarkAsRead(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (int, error) {
	query := `
		UPDATE notifications
		SET status = $3, read_at = NOW()
		WHERE id = ANY($1) AND user_id = $2 AND status = $4
	`

	result, err := r.db.Exec(ctx, query, ids, userID, model.StatusRead, model.StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("mark as read: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// MarkAllAsRead marks every unread notification of the user as read.
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		UPDATE notifications
		SET status = $2, read_at = NOW()
		WHERE user_id = $1 AND status = $3
	`

	result, err := r.db.Exec(ctx, query, userID, model.StatusRead, model.StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("mark all as read: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// Archive moves one notification to the archived status.
func (r *notificationRepository) Archive(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = $3
		WHERE id = $1 AND user_id = $2 AND status != $3
	`

	result, err := r.db.Exec(ctx, query, id, userID, model.StatusArchived)
	if err != nil {
		return fmt.Errorf("archive notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrNotificationNotFound
	}

	return nil
}

// GetUnreadCount returns the user's unread notification count.
func (r *notificationRepository) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND status = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, model.StatusUnread).Scan(&count); err != nil {
		return 0, fmt.Errorf("get unread count: %w", err)
	}

	return count, nil
}

// ListUndigested retrieves unread notifications created since the given
// time that have not yet been folded into a digest.
func (r *notificationRepository) ListUndigested(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.Notification, error) {
	query := `
		SELECT id, user_id, type, title, content, status,
			created_at, read_at, digest_processed_at
		FROM notifications
		WHERE user_id = $1
		AND status = $2
		AND created_at >= $3
		AND digest_processed_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID, model.StatusUnread, since)
	if err != nil {
		return nil, fmt.Errorf("list undigested: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkDigestProcessed stamps digest_processed_at exactly once for each
// row. The IS NULL guard makes the stamp idempotent under concurrent
// digest runs; the returned count is the number of rows actually
// claimed by this call.
func (r *notificationRepository) MarkDigestProcessed(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, processedAt time.Time) (int, error) {
	query := `
		UPDATE notifications
		SET digest_processed_at = $2
		WHERE id = ANY($1) AND digest_processed_at IS NULL
	`

	result, err := tx.Exec(ctx, query, ids, processedAt)
	if err != nil {
		return 0, fmt.Errorf("mark digest processed: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// DeleteOldRead removes read notifications older than the cutoff.
func (r *notificationRepository) DeleteOldRead(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM notifications WHERE status = $1 AND read_at < $2`

	result, err := r.db.Exec(ctx, query, model.StatusRead, before)
	if err != nil {
		return 0, fmt.Errorf("delete old read: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// Helper function to scan notifications
func scanNotifications(rows pgx.Rows) ([]model.Notification, error) {
	var notifications []model.Notification

	for rows.Next() {
		var n model.Notification
		err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Status,
			&n.CreatedAt, &n.ReadAt, &n.DigestProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return notifications, nil
}
