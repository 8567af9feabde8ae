package handler

import (
	"errors"
	"fmt"
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
// NOTIFICATION HANDLER (in-app surface)
// ================================================

type notificationHandler struct {
	notifications service.NotificationService
	digests       service.DigestService
}

func NewNotificationHandler(notifications service.NotificationService, digests service.DigestService) NotificationHandler {
	return &notificationHandler{
		notifications: notifications,
		digests:       digests,
	}
}

// ================================================
// LIST NOTIFICATIONS
// GET /api/v1/notifications/inbox
// ================================================

func (h *notificationHandler) ListNotifications(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var status *string
	if statusParam := c.Query("status"); statusParam != "" {
		if statusParam != model.StatusUnread && statusParam != model.StatusRead && statusParam != model.StatusArchived {
			response.BadRequest(c, "status must be unread, read or archived")
			return
		}
		status = &statusParam
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	notifications, total, err := h.notifications.List(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list notifications")
		response.InternalServerError(c, "failed to list notifications")
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, notifications, &response.Meta{
		Page:  page,
		Limit: pageSize,
		Total: int(total),
	})
}

// ================================================
// MARK AS READ
// POST /api/v1/notifications/inbox/read
// ================================================

func (h *notificationHandler) MarkAsRead(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req model.MarkAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeValidation, "invalid request", err)
		return
	}

	updated, err := h.notifications.MarkAsRead(c.Request.Context(), userID, req.NotificationIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark notifications as read")
		response.InternalServerError(c, "failed to mark notifications as read")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// ================================================
// MARK ALL AS READ
// POST /api/v1/notifications/inbox/read-all
// ================================================

func (h *notificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	updated, err := h.notifications.MarkAllAsRead(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark all notifications as read")
		response.InternalServerError(c, "failed to mark all notifications as read")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// ================================================
// ARCHIVE NOTIFICATION
// POST /api/v1/notifications/inbox/:id/archive
// ================================================

func (h *notificationHandler) ArchiveNotification(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification ID")
		return
	}

	if err := h.notifications.Archive(c.Request.Context(), userID, notificationID); err != nil {
		if errors.Is(err, model.ErrNotificationNotFound) {
			response.NotFound(c, "notification not found")
			return
		}
		log.Error().Err(err).Msg("Failed to archive notification")
		response.InternalServerError(c, "failed to archive notification")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"archived": true})
}

// ================================================
// GET UNREAD COUNT
// GET /api/v1/notifications/inbox/unread-count
// ================================================

func (h *notificationHandler) GetUnreadCount(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get unread count")
		response.InternalServerError(c, "failed to get unread count")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread_count": count})
}

// ================================================
// GET DIGEST SUMMARY
// GET /api/v1/notifications/digest/summary
// ================================================

// GetDigestSummary shows what the next digest for the caller would
// contain. Read-only; nothing is claimed or sent.
func (h *notificationHandler) GetDigestSummary(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	frequency := c.DefaultQuery("frequency", model.FrequencyDailyDigest)
	if frequency != model.FrequencyDailyDigest && frequency != model.FrequencyWeeklyDigest {
		response.BadRequest(c, "frequency must be daily_digest or weekly_digest")
		return
	}

	summary, err := h.digests.Summary(c.Request.Context(), userID, frequency)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build digest summary")
		response.InternalServerError(c, "failed to build digest summary")
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// ================================================
// HELPERS
// ================================================

func getUserIDFromContext(c *gin.Context) (uuid.UUID, error) {
	userIDInterface, exists := c.Get("userID")
	if !exists {
		return uuid.Nil, fmt.Errorf("userID not found in context")
	}

	userID, ok := userIDInterface.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("userID in context is not a UUID")
	}
	return userID, nil
}
