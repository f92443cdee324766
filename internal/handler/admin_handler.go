package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scribelink/scribelink-api/internal/models"
	"github.com/scribelink/scribelink-api/internal/service"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
	"github.com/scribelink/scribelink-api/pkg/response"
)

// AdminHandler exposes the admin dashboard endpoints.
type AdminHandler struct {
	service *service.AdminService
	metrics *service.MetricsService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(svc *service.AdminService, metrics *service.MetricsService) *AdminHandler {
	return &AdminHandler{service: svc, metrics: metrics}
}

// Stats godoc
// @Summary Platform statistics
// @Description User counts by role, request counts by status, verified volunteers and completions this month
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// SystemMetrics godoc
// @Summary Process health counters
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/metrics [get]
func (h *AdminHandler) SystemMetrics(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}

// ListUsers godoc
// @Summary List users
// @Tags Admin
// @Produce json
// @Param role query string false "Filter by role"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search by name or email"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.UserFilter{
		Search:    c.Query("search"),
		Page:      page,
		PageSize:  size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(raw)
		filter.Role = &role
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active must be a boolean"))
			return
		}
		filter.Active = &active
	}

	users, total, err := h.service.ListUsers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, paginationMeta(page, size, total))
}

// SetUserActive godoc
// @Summary Activate or deactivate a user account
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body map[string]bool true "Active flag"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/users/{id}/active [put]
func (h *AdminHandler) SetUserActive(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "active flag required"))
		return
	}

	if err := h.service.SetUserActive(c.Request.Context(), claims.UserID, c.Param("id"), *payload.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// VerifyVolunteer godoc
// @Summary Toggle volunteer verification
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Volunteer ID"
// @Param payload body map[string]bool true "Verified flag"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/volunteers/{id}/verify [put]
func (h *AdminHandler) VerifyVolunteer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Verified *bool `json:"verified" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "verified flag required"))
		return
	}

	if err := h.service.VerifyVolunteer(c.Request.Context(), claims.UserID, c.Param("id"), *payload.Verified); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportCompleted godoc
// @Summary Export completed requests
// @Tags Admin
// @Produce octet-stream
// @Param format query string false "Export format (csv|pdf)" default(csv)
// @Param limit query int false "Maximum rows"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /admin/exports/completed [get]
func (h *AdminHandler) ExportCompleted(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportCSV)))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit < 1 {
		limit = 500
	}

	data, filename, err := h.service.ExportCompleted(c.Request.Context(), format, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	contentType := "text/csv"
	if format == service.ExportPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
