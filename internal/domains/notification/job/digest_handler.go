package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared"
)

// ================================================
// DIGEST SWEEP HANDLER
// ================================================

type DigestHandler struct {
	digests service.DigestService
}

func NewDigestHandler(digests service.DigestService) *DigestHandler {
	return &DigestHandler{digests: digests}
}

// ProcessTask runs one digest sweep. The scheduler enqueues this
// hourly for each frequency; the service decides which users are due
// in their local timezone.
func (h *DigestHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.DigestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal digest payload: %w", err)
	}

	log.Info().
		Str("frequency", payload.Frequency).
		Msg("[Job] Digest sweep starting")

	switch payload.Frequency {
	case model.FrequencyDailyDigest:
		return h.digests.RunDaily(ctx)
	case model.FrequencyWeeklyDigest:
		return h.digests.RunWeekly(ctx)
	default:
		return fmt.Errorf("digest frequency %q: %w", payload.Frequency, model.ErrInvalidFrequency)
	}
}
