package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared/response"
)

// ================================================
// DEAD LETTER HANDLER (Admin)
// ================================================

type deadLetterHandler struct {
	deadLetters service.DeadLetterService
}

func NewDeadLetterHandler(deadLetters service.DeadLetterService) DeadLetterHandler {
	return &deadLetterHandler{deadLetters: deadLetters}
}

// ================================================
// LIST DEAD LETTERS
// GET /api/v1/admin/dead-letters
// ================================================

func (h *deadLetterHandler) ListDeadLetters(c *gin.Context) {
	var status *string
	if statusParam := c.Query("status"); statusParam != "" {
		status = &statusParam
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.deadLetters.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list dead letters")
		response.InternalServerError(c, "failed to list dead letters")
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ================================================
// RETRY DEAD LETTER
// POST /api/v1/admin/dead-letters/:id/retry
// ================================================

func (h *deadLetterHandler) RetryDeadLetter(c *gin.Context) {
	adminID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dead letter ID")
		return
	}

	if err := h.deadLetters.Retry(c.Request.Context(), adminID.String(), id); err != nil {
		switch {
		case errors.Is(err, model.ErrDeadLetterNotFound):
			response.NotFound(c, "dead letter record not found")
		case errors.Is(err, model.ErrDeadLetterNotRetry):
			response.Conflict(c, "dead letter record is not retryable")
		default:
			log.Error().Err(err).Msg("Failed to retry dead letter")
			response.InternalServerError(c, "failed to retry dead letter")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"retried": true})
}

// ================================================
// RESOLVE DEAD LETTER
// POST /api/v1/admin/dead-letters/:id/resolve
// ================================================

func (h *deadLetterHandler) ResolveDeadLetter(c *gin.Context) {
	adminID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dead letter ID")
		return
	}

	if err := h.deadLetters.Resolve(c.Request.Context(), adminID.String(), id); err != nil {
		if errors.Is(err, model.ErrDeadLetterNotFound) {
			response.NotFound(c, "dead letter record not found")
			return
		}
		log.Error().Err(err).Msg("Failed to resolve dead letter")
		response.InternalServerError(c, "failed to resolve dead letter")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resolved": true})
}
