package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared"
	"notification-service/internal/shared/response"
)

// ================================================
// DELIVERY HANDLER
// ================================================

type deliveryHandler struct {
	pipeline service.DeliveryPipeline
	tracker  service.StatusTracker
	clock    shared.Clock
}

func NewDeliveryHandler(pipeline service.DeliveryPipeline, tracker service.StatusTracker, clock shared.Clock) DeliveryHandler {
	if clock == nil {
		clock = shared.SystemClock()
	}
	return &deliveryHandler{
		pipeline: pipeline,
		tracker:  tracker,
		clock:    clock,
	}
}

// ================================================
// ENQUEUE NOTIFICATION
// POST /api/v1/notifications
// ================================================

func (h *deliveryHandler) Enqueue(c *gin.Context) {
	var req model.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeValidation, "invalid enqueue request", err)
		return
	}

	trackingIDs, err := h.pipeline.Enqueue(c.Request.Context(), req.ToNotificationRequest(h.clock.Now()))
	if err != nil {
		h.enqueueError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, model.EnqueueResponse{TrackingIDs: trackingIDs})
}

// ================================================
// ENQUEUE BATCH
// POST /api/v1/notifications/batch
// ================================================

func (h *deliveryHandler) EnqueueBatch(c *gin.Context) {
	var reqs []model.EnqueueRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(reqs) == 0 || len(reqs) > 100 {
		response.BadRequest(c, "batch size must be between 1 and 100")
		return
	}

	now := h.clock.Now()
	pipelineReqs := make([]model.NotificationRequest, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeValidation,
				fmt.Sprintf("invalid enqueue request at index %d", i), err)
			return
		}
		pipelineReqs[i] = req.ToNotificationRequest(now)
	}

	results, err := h.pipeline.EnqueueBatch(c.Request.Context(), pipelineReqs)
	if err != nil {
		h.enqueueError(c, err)
		return
	}

	out := make([]model.EnqueueResponse, len(results))
	for i, ids := range results {
		out[i] = model.EnqueueResponse{TrackingIDs: ids}
	}
	response.Success(c, http.StatusAccepted, out)
}

func (h *deliveryHandler) enqueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrOverloaded):
		response.ErrorResponse(c, http.StatusServiceUnavailable, model.ErrCodeOverloaded, "delivery queue is full")
	case errors.Is(err, model.ErrPipelineClosed):
		response.ServiceUnavailable(c, "service is shutting down")
	default:
		log.Error().Err(err).Msg("Failed to enqueue notification")
		response.InternalServerError(c, "failed to enqueue notification")
	}
}

// ================================================
// GET DELIVERY STATUS
// GET /api/v1/notifications/:tracking_id/status
// ================================================

func (h *deliveryHandler) GetStatus(c *gin.Context) {
	trackingID, err := uuid.Parse(c.Param("tracking_id"))
	if err != nil {
		response.BadRequest(c, "invalid tracking ID")
		return
	}

	rec, err := h.pipeline.Status(c.Request.Context(), trackingID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			response.NotFound(c, "delivery record not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get delivery status")
		response.InternalServerError(c, "failed to get delivery status")
		return
	}

	response.Success(c, http.StatusOK, model.DeliveryStatusResponse{
		TrackingID:   rec.TrackingID,
		Channel:      rec.Channel,
		State:        rec.State,
		Reason:       rec.Reason,
		Attempts:     rec.Attempts,
		LastError:    rec.LastError,
		ScheduledFor: rec.ScheduledFor,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// ================================================
// GET DELIVERY STATISTICS (Admin)
// GET /api/v1/admin/notifications/statistics
// ================================================

func (h *deliveryHandler) GetStatistics(c *gin.Context) {
	to := h.clock.Now()
	from := to.Add(-24 * time.Hour)

	if fromParam := c.Query("from"); fromParam != "" {
		parsed, err := time.Parse(time.RFC3339, fromParam)
		if err != nil {
			response.BadRequest(c, "from must be RFC3339")
			return
		}
		from = parsed
	}
	if toParam := c.Query("to"); toParam != "" {
		parsed, err := time.Parse(time.RFC3339, toParam)
		if err != nil {
			response.BadRequest(c, "to must be RFC3339")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		response.BadRequest(c, "from must precede to")
		return
	}

	stats, err := h.tracker.Statistics(c.Request.Context(), from, to)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute delivery statistics")
		response.InternalServerError(c, "failed to compute delivery statistics")
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// ================================================
// TRANSPORT CALLBACK
// POST /api/v1/callbacks/email
// ================================================

type transportCallbackRequest struct {
	ProviderMessageID string `json:"provider_message_id" binding:"required"`
	Event             string `json:"event" binding:"required"`
}

// TransportCallback folds asynchronous provider events (delivered,
// bounced, complained) into the delivery record. Unknown message IDs
// return 404 so providers stop retrying them.
func (h *deliveryHandler) TransportCallback(c *gin.Context) {
	var req transportCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.tracker.OnTransportCallback(c.Request.Context(), req.ProviderMessageID, req.Event)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRecordNotFound):
			response.NotFound(c, "unknown provider message ID")
		case errors.Is(err, model.ErrIllegalTransition):
			response.Conflict(c, "event does not apply to current delivery state")
		default:
			log.Error().Err(err).Msg("Failed to process transport callback")
			response.InternalServerError(c, "failed to process callback")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"processed": true})
}
