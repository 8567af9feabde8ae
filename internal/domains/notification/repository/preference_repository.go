package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notification-service/internal/domains/notification/model"
)

// ================================================
// PREFERENCE REPOSITORY IMPLEMENTATION
// ================================================

type preferenceRepository struct {
	db *pgxpool.Pool
}

func NewPreferenceRepository(db *pgxpool.Pool) PreferenceRepository {
	return &preferenceRepository{db: db}
}

// GetByUserAndType retrieves the preference row for one (user, type)
// key. Absence is reported as ErrPreferenceNotFound; callers decide
// whether the built-in defaults apply.
func (r *preferenceRepository) GetByUserAndType(ctx context.Context, userID uuid.UUID, notificationType string) (*model.NotificationPreference, error) {
	query := `
		SELECT id, user_id, type, in_app_enabled, email_enabled, push_enabled,
			frequency, quiet_hours_start, quiet_hours_end, timezone,
			created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1 AND type = $2
	`

	var p model.NotificationPreference
	err := r.db.QueryRow(ctx, query, userID, notificationType).Scan(
		&p.ID, &p.UserID, &p.Type, &p.InAppEnabled, &p.EmailEnabled, &p.PushEnabled,
		&p.Frequency, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}

	return &p, nil
}

// ListByUser retrieves every persisted preference row for a user.
func (r *preferenceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationPreference, error) {
	query := `
		SELECT id, user_id, type, in_app_enabled, email_enabled, push_enabled,
			frequency, quiet_hours_start, quiet_hours_end, timezone,
			created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
		ORDER BY type
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Type, &p.InAppEnabled, &p.EmailEnabled, &p.PushEnabled,
			&p.Frequency, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return prefs, nil
}

// Upsert inserts or updates the single row for (user, type). The
// unique constraint guarantees at most one row per key regardless of
// concurrent writers. Returns whether the row was created.
func (r *preferenceRepository) Upsert(ctx context.Context, p *model.NotificationPreference) (bool, error) {
	query := `
		INSERT INTO notification_preferences (
			id, user_id, type, in_app_enabled, email_enabled, push_enabled,
			frequency, quiet_hours_start, quiet_hours_end, timezone
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (user_id, type) DO UPDATE SET
			in_app_enabled = EXCLUDED.in_app_enabled,
			email_enabled = EXCLUDED.email_enabled,
			push_enabled = EXCLUDED.push_enabled,
			frequency = EXCLUDED.frequency,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var created bool
	err := r.db.QueryRow(ctx, query,
		p.ID, p.UserID, p.Type, p.InAppEnabled, p.EmailEnabled, p.PushEnabled,
		p.Frequency, p.QuietHoursStart, p.QuietHoursEnd, p.Timezone,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &created)

	if err != nil {
		return false, fmt.Errorf("upsert preference: %w", err)
	}

	return created, nil
}

// Delete removes the preference row, restoring the built-in defaults.
func (r *preferenceRepository) Delete(ctx context.Context, userID uuid.UUID, notificationType string) error {
	query := `DELETE FROM notification_preferences WHERE user_id = $1 AND type = $2`

	result, err := r.db.Exec(ctx, query, userID, notificationType)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrPreferenceNotFound
	}

	return nil
}

// ListUserIDsByFrequency returns the distinct users that selected the
// given frequency for any type. Drives the digest sweep.
func (r *preferenceRepository) ListUserIDsByFrequency(ctx context.Context, frequency string) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM notification_preferences
		WHERE frequency = $1
	`

	rows, err := r.db.Query(ctx, query, frequency)
	if err != nil {
		return nil, fmt.Errorf("list users by frequency: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}
