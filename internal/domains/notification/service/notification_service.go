package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
)

// ================================================
// NOTIFICATION SERVICE (in-app surface)
// ================================================

// NotificationService is the user-facing view over stored in-app
// notifications.
type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID, status *string, page, pageSize int) ([]model.Notification, int64, error)
	MarkAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error)
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error)
	Archive(ctx context.Context, userID uuid.UUID, id uuid.UUID) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	CleanupOldRead(ctx context.Context, retention time.Duration) (int, error)
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, status *string, page, pageSize int) ([]model.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.ListByUserID(ctx, userID, status, pageSize, (page-1)*pageSize)
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.MarkAsRead(ctx, ids, userID)
}

func (s *notificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *notificationService) Archive(ctx context.Context, userID uuid.UUID, id uuid.UUID) error {
	return s.repo.Archive(ctx, id, userID)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

// CleanupOldRead removes read notifications past the retention window.
// Runs as a scheduled job.
func (s *notificationService) CleanupOldRead(ctx context.Context, retention time.Duration) (int, error) {
	deleted, err := s.repo.DeleteOldRead(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("[NotificationService] Old read notifications removed")
	}
	return deleted, nil
}
