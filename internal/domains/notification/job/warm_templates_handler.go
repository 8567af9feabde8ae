package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
)

// ================================================
// TEMPLATE WARM-UP HANDLER
// ================================================

// warmLanguages is the language matrix pre-loaded on schedule. The
// default language is always warmed; others fail soft.
var warmLanguages = []string{"en", "vi", "de", "fr"}

type WarmTemplatesHandler struct {
	templates service.TemplateStore
}

func NewWarmTemplatesHandler(templates service.TemplateStore) *WarmTemplatesHandler {
	return &WarmTemplatesHandler{templates: templates}
}

// ProcessTask re-warms the template cache so TTL expiry never lands a
// cold read on the hot path.
func (h *WarmTemplatesHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	h.templates.WarmUp(ctx, model.ValidTypes, warmLanguages)

	progress := h.templates.WarmUpStatus()
	log.Info().
		Int("processed", progress.Processed).
		Int("failed", progress.Failed).
		Msg("[Job] Template warm-up finished")
	return nil
}
