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
// TEMPLATE REPOSITORY IMPLEMENTATION
// ================================================

type templateRepository struct {
	db *pgxpool.Pool
}

func NewTemplateRepository(db *pgxpool.Pool) TemplateRepository {
	return &templateRepository{db: db}
}

// GetByTypeAndLanguage retrieves the active template for one
// (type, language) key. Inactive templates behave as missing.
func (r *templateRepository) GetByTypeAndLanguage(ctx context.Context, notificationType, language string) (*model.NotificationTemplate, error) {
	query := `
		SELECT id, type, language, subject, body_text, body_html,
			required_variables, version, is_active, created_at, updated_at
		FROM notification_templates
		WHERE type = $1 AND language = $2 AND is_active = TRUE
	`

	var t model.NotificationTemplate
	err := r.db.QueryRow(ctx, query, notificationType, language).Scan(
		&t.ID, &t.Type, &t.Language, &t.Subject, &t.BodyText, &t.BodyHTML,
		&t.RequiredVariables, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	return &t, nil
}

// ListActive retrieves every active template, used for cache warm-up.
func (r *templateRepository) ListActive(ctx context.Context) ([]model.NotificationTemplate, error) {
	query := `
		SELECT id, type, language, subject, body_text, body_html,
			required_variables, version, is_active, created_at, updated_at
		FROM notification_templates
		WHERE is_active = TRUE
		ORDER BY type, language
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// List retrieves templates with an optional type filter and pagination.
func (r *templateRepository) List(ctx context.Context, notificationType *string, limit, offset int) ([]model.NotificationTemplate, int64, error) {
	whereClause := ""
	args := []interface{}{}

	if notificationType != nil {
		whereClause = "WHERE type = $1"
		args = append(args, *notificationType)
	}

	countQuery := "SELECT COUNT(*) FROM notification_templates " + whereClause
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, type, language, subject, body_text, body_html,
			required_variables, version, is_active, created_at, updated_at
		FROM notification_templates
		%s
		ORDER BY type, language
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates, err := scanTemplates(rows)
	if err != nil {
		return nil, 0, err
	}

	return templates, total, nil
}

// Upsert inserts or replaces the template for (type, language). The
// version counter increments on every replace so cached copies can be
// told apart from fresh ones. Returns whether the row was created.
func (r *templateRepository) Upsert(ctx context.Context, t *model.NotificationTemplate) (bool, error) {
	query := `
		INSERT INTO notification_templates (
			id, type, language, subject, body_text, body_html,
			required_variables, version, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, 1, TRUE
		)
		ON CONFLICT (type, language) DO UPDATE SET
			subject = EXCLUDED.subject,
			body_text = EXCLUDED.body_text,
			body_html = EXCLUDED.body_html,
			required_variables = EXCLUDED.required_variables,
			version = notification_templates.version + 1,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING id, version, created_at, updated_at, (xmax = 0) AS inserted
	`

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	var created bool
	err := r.db.QueryRow(ctx, query,
		t.ID, t.Type, t.Language, t.Subject, t.BodyText, t.BodyHTML,
		t.RequiredVariables,
	).Scan(&t.ID, &t.Version, &t.CreatedAt, &t.UpdatedAt, &created)

	if err != nil {
		return false, fmt.Errorf("upsert template: %w", err)
	}

	t.IsActive = true
	return created, nil
}

// Deactivate retires a template without losing its history.
func (r *templateRepository) Deactivate(ctx context.Context, notificationType, language string) error {
	query := `
		UPDATE notification_templates
		SET is_active = FALSE, updated_at = NOW()
		WHERE type = $1 AND language = $2 AND is_active = TRUE
	`

	result, err := r.db.Exec(ctx, query, notificationType, language)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrTemplateNotFound
	}

	return nil
}

// Helper function to scan templates
func scanTemplates(rows pgx.Rows) ([]model.NotificationTemplate, error) {
	var templates []model.NotificationTemplate

	for rows.Next() {
		var t model.NotificationTemplate
		err := rows.Scan(
			&t.ID, &t.Type, &t.Language, &t.Subject, &t.BodyText, &t.BodyHTML,
			&t.RequiredVariables, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return templates, nil
}
