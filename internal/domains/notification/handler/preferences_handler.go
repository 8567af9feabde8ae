package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared/response"
)

// ================================================
// PREFERENCES HANDLER
// ================================================

type preferencesHandler struct {
	preferences service.PreferenceService
}

func NewPreferencesHandler(preferences service.PreferenceService) PreferencesHandler {
	return &preferencesHandler{preferences: preferences}
}

func toPreferenceResponse(pref *model.NotificationPreference) model.PreferenceResponse {
	out := model.PreferenceResponse{
		UserID:       pref.UserID,
		Type:         pref.Type,
		InAppEnabled: pref.InAppEnabled,
		EmailEnabled: pref.EmailEnabled,
		PushEnabled:  pref.PushEnabled,
		Frequency:    pref.Frequency,
		Timezone:     pref.Timezone,
		UpdatedAt:    pref.UpdatedAt,
	}
	if pref.QuietHoursStart != nil {
		s := pref.QuietHoursStart.Format("15:04")
		out.QuietHoursStart = &s
	}
	if pref.QuietHoursEnd != nil {
		e := pref.QuietHoursEnd.Format("15:04")
		out.QuietHoursEnd = &e
	}
	return out
}

// ================================================
// LIST PREFERENCES
// GET /api/v1/preferences
// ================================================

func (h *preferencesHandler) ListPreferences(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	prefs, err := h.preferences.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list preferences")
		response.InternalServerError(c, "failed to list preferences")
		return
	}

	out := make([]model.PreferenceResponse, len(prefs))
	for i := range prefs {
		out[i] = toPreferenceResponse(&prefs[i])
	}
	response.Success(c, http.StatusOK, out)
}

// ================================================
// GET PREFERENCE
// GET /api/v1/preferences/:type
// ================================================

func (h *preferencesHandler) GetPreference(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	pref, err := h.preferences.Get(c.Request.Context(), userID, c.Param("type"))
	if err != nil {
		if errors.Is(err, model.ErrInvalidNotificationType) {
			response.BadRequest(c, "invalid notification type")
			return
		}
		log.Error().Err(err).Msg("Failed to get preference")
		response.InternalServerError(c, "failed to get preference")
		return
	}

	response.Success(c, http.StatusOK, toPreferenceResponse(pref))
}

// ================================================
// UPDATE PREFERENCE
// PUT /api/v1/preferences/:type
// ================================================

func (h *preferencesHandler) UpdatePreference(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req model.UpdatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeValidation, "invalid preference update", err)
		return
	}

	pref, err := h.preferences.Update(c.Request.Context(), userID, c.Param("type"), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidNotificationType):
			response.BadRequest(c, "invalid notification type")
		case errors.Is(err, model.ErrInvalidFrequency):
			response.BadRequest(c, "invalid delivery frequency")
		case errors.Is(err, model.ErrInvalidQuietHours):
			response.BadRequest(c, "quiet hours require both start and end")
		default:
			log.Error().Err(err).Msg("Failed to update preference")
			response.InternalServerError(c, "failed to update preference")
		}
		return
	}

	response.Success(c, http.StatusOK, toPreferenceResponse(pref))
}

// ================================================
// DELETE PREFERENCE (revert to defaults)
// DELETE /api/v1/preferences/:type
// ================================================

func (h *preferencesHandler) DeletePreference(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	if err := h.preferences.Delete(c.Request.Context(), userID, c.Param("type")); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidNotificationType):
			response.BadRequest(c, "invalid notification type")
		case errors.Is(err, model.ErrPreferenceNotFound):
			response.NotFound(c, "preference not found")
		default:
			log.Error().Err(err).Msg("Failed to delete preference")
			response.InternalServerError(c, "failed to delete preference")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
