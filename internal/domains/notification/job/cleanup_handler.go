package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared"
)

// ================================================
// CLEANUP HANDLER
// ================================================

type CleanupOldReadHandler struct {
	notifications service.NotificationService
}

func NewCleanupOldReadHandler(notifications service.NotificationService) *CleanupOldReadHandler {
	return &CleanupOldReadHandler{notifications: notifications}
}

// ProcessTask removes read notifications older than the retention
// window so the table stays bounded.
func (h *CleanupOldReadHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal cleanup payload: %w", err)
	}
	if payload.OlderThanDays <= 0 {
		payload.OlderThanDays = 30
	}

	deleted, err := h.notifications.CleanupOldRead(ctx, time.Duration(payload.OlderThanDays)*24*time.Hour)
	if err != nil {
		return err
	}

	log.Info().
		Int("deleted", deleted).
		Int("older_than_days", payload.OlderThanDays).
		Msg("[Job] Old read notification cleanup finished")
	return nil
}
