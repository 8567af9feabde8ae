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
// DEAD LETTER MAINTENANCE HANDLERS
// ================================================

type RetryDeadLettersHandler struct {
	dlq service.DeadLetterService
}

func NewRetryDeadLettersHandler(dlq service.DeadLetterService) *RetryDeadLettersHandler {
	return &RetryDeadLettersHandler{dlq: dlq}
}

// ProcessTask replays a bounded batch of retryable dead letters.
func (h *RetryDeadLettersHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.LimitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal retry payload: %w", err)
	}
	if payload.Limit <= 0 {
		payload.Limit = 100
	}

	retried, err := h.dlq.RetrySweep(ctx, payload.Limit)
	if err != nil {
		return err
	}

	log.Info().
		Int("retried", retried).
		Msg("[Job] Dead letter retry sweep finished")
	return nil
}

type ExpireDeadLettersHandler struct {
	dlq        service.DeadLetterService
	expiryDays int
}

func NewExpireDeadLettersHandler(dlq service.DeadLetterService, expiryDays int) *ExpireDeadLettersHandler {
	return &ExpireDeadLettersHandler{dlq: dlq, expiryDays: expiryDays}
}

// ProcessTask expires unresolved dead letters past the retention
// window.
func (h *ExpireDeadLettersHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	expired, err := h.dlq.ExpireOld(ctx, time.Duration(h.expiryDays)*24*time.Hour)
	if err != nil {
		return err
	}

	log.Info().
		Int("expired", expired).
		Int("retention_days", h.expiryDays).
		Msg("[Job] Dead letter expiry finished")
	return nil
}
