package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/shared/response"
)

// ================================================
// TEMPLATE HANDLER (Admin)
// ================================================

type templateHandler struct {
	templates service.TemplateStore
}

func NewTemplateHandler(templates service.TemplateStore) TemplateHandler {
	return &templateHandler{templates: templates}
}

func toTemplateResponse(tpl *model.NotificationTemplate) model.TemplateResponse {
	return model.TemplateResponse{
		ID:                tpl.ID,
		Type:              tpl.Type,
		Language:          tpl.Language,
		Subject:           tpl.Subject,
		RequiredVariables: tpl.RequiredVariables,
		Version:           tpl.Version,
		IsActive:          tpl.IsActive,
		UpdatedAt:         tpl.UpdatedAt,
	}
}

// ================================================
// UPSERT TEMPLATE
// PUT /api/v1/admin/templates
// ================================================

func (h *templateHandler) UpsertTemplate(c *gin.Context) {
	adminID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req model.UpsertTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeValidation, "invalid template", err)
		return
	}

	tpl, created, err := h.templates.Put(c.Request.Context(), adminID.String(), req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upsert template")
		response.InternalServerError(c, "failed to upsert template")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, toTemplateResponse(tpl))
}

// ================================================
// GET TEMPLATE
// GET /api/v1/admin/templates/:type/:language
// ================================================

func (h *templateHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.templates.Get(c.Request.Context(), c.Param("type"), c.Param("language"))
	if err != nil {
		if errors.Is(err, model.ErrTemplateNotFound) {
			response.NotFound(c, "template not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get template")
		response.InternalServerError(c, "failed to get template")
		return
	}

	response.Success(c, http.StatusOK, tpl)
}

// ================================================
// LIST TEMPLATES
// GET /api/v1/admin/templates
// ================================================

func (h *templateHandler) ListTemplates(c *gin.Context) {
	var typeFilter *string
	if typeParam := c.Query("type"); typeParam != "" {
		typeFilter = &typeParam
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	templates, total, err := h.templates.List(c.Request.Context(), typeFilter, pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list templates")
		response.InternalServerError(c, "failed to list templates")
		return
	}

	out := make([]model.TemplateResponse, len(templates))
	for i := range templates {
		out[i] = toTemplateResponse(&templates[i])
	}
	response.SuccessWithMeta(c, http.StatusOK, out, &response.Meta{
		Page:  page,
		Limit: pageSize,
		Total: int(total),
	})
}

// ================================================
// DEACTIVATE TEMPLATE
// DELETE /api/v1/admin/templates/:type/:language
// ================================================

func (h *templateHandler) DeactivateTemplate(c *gin.Context) {
	adminID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	err = h.templates.Deactivate(c.Request.Context(), adminID.String(), c.Param("type"), c.Param("language"))
	if err != nil {
		if errors.Is(err, model.ErrTemplateNotFound) {
			response.NotFound(c, "template not found")
			return
		}
		log.Error().Err(err).Msg("Failed to deactivate template")
		response.InternalServerError(c, "failed to deactivate template")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}

// ================================================
// WARM-UP STATUS
// GET /api/v1/admin/templates/warmup
// ================================================

func (h *templateHandler) WarmUpStatus(c *gin.Context) {
	response.Success(c, http.StatusOK, h.templates.WarmUpStatus())
}
