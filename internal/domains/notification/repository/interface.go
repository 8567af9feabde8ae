package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"notification-service/internal/domains/notification/model"
)

// ================================================
// NOTIFICATION REPOSITORY INTERFACE
// ================================================

type NotificationRepository interface {
	// Core CRUD operations
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)

	// List operations
	ListByUserID(ctx context.Context, userID uuid.UUID, status *string, limit, offset int) ([]model.Notification, int64, error)

	// Status operations
	MarkAsRead(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (int, error)
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error)
	Archive(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error)

	// Digest operations
	ListUndigested(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.Notification, error)
	MarkDigestProcessed(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, processedAt time.Time) (int, error)

	// Cleanup
	DeleteOldRead(ctx context.Context, before time.Time) (int, error)
}

// ================================================
// PREFERENCE REPOSITORY INTERFACE
// ================================================

type PreferenceRepository interface {
	GetByUserAndType(ctx context.Context, userID uuid.UUID, notificationType string) (*model.NotificationPreference, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationPreference, error)
	Upsert(ctx context.Context, pref *model.NotificationPreference) (created bool, err error)
	Delete(ctx context.Context, userID uuid.UUID, notificationType string) error

	// Digest scheduling
	ListUserIDsByFrequency(ctx context.Context, frequency string) ([]uuid.UUID, error)
}

// ================================================
// TEMPLATE REPOSITORY INTERFACE
// ================================================

type TemplateRepository interface {
	GetByTypeAndLanguage(ctx context.Context, notificationType, language string) (*model.NotificationTemplate, error)
	ListActive(ctx context.Context) ([]model.NotificationTemplate, error)
	List(ctx context.Context, notificationType *string, limit, offset int) ([]model.NotificationTemplate, int64, error)
	Upsert(ctx context.Context, tpl *model.NotificationTemplate) (created bool, err error)
	Deactivate(ctx context.Context, notificationType, language string) error
}

// ================================================
// DELIVERY RECORD REPOSITORY INTERFACE
// ================================================

type DeliveryRecordRepository interface {
	Create(ctx context.Context, rec *model.DeliveryRecord) error
	GetByTrackingID(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error)
	Update(ctx context.Context, rec *model.DeliveryRecord) error

	// Transition applies from -> to atomically; it fails when the row is
	// no longer in the expected state.
	Transition(ctx context.Context, trackingID uuid.UUID, from, to string, apply func(*model.DeliveryRecord)) (*model.DeliveryRecord, error)

	// Statistics
	CountByState(ctx context.Context, from, to time.Time) (map[string]int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.DeliveryRecord, int64, error)
}

// ================================================
// DEAD LETTER REPOSITORY INTERFACE
// ================================================

type DeadLetterRepository interface {
	Create(ctx context.Context, rec *model.DeadLetterRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DeadLetterRecord, error)
	List(ctx context.Context, status *string, limit, offset int) ([]model.DeadLetterRecord, int64, error)

	// Claim moves a retryable record into processing so concurrent
	// retry jobs never pick up the same row.
	Claim(ctx context.Context, id uuid.UUID) (*model.DeadLetterRecord, error)
	MarkRetried(ctx context.Context, id uuid.UUID) error
	MarkRetryFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkResolved(ctx context.Context, id uuid.UUID) error
	ExpireOld(ctx context.Context, before time.Time) (int, error)

	CountUnresolved(ctx context.Context) (int, error)
	ListRetryable(ctx context.Context, limit int) ([]model.DeadLetterRecord, error)
}
