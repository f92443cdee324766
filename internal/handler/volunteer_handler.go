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

// VolunteerHandler exposes volunteer profile, directory and match feed
// endpoints.
type VolunteerHandler struct {
	service  *service.VolunteerService
	matching *service.MatchingService
}

// NewVolunteerHandler creates a new handler.
func NewVolunteerHandler(svc *service.VolunteerService, matching *service.MatchingService) *VolunteerHandler {
	return &VolunteerHandler{service: svc, matching: matching}
}

// GetProfile godoc
// @Summary Get own volunteer profile
// @Tags Volunteers
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /volunteers/me [get]
func (h *VolunteerHandler) GetProfile(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	profile, err := h.service.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// UpdateProfile godoc
// @Summary Update own volunteer profile
// @Tags Volunteers
// @Accept json
// @Produce json
// @Param payload body service.UpdateVolunteerProfileRequest true "Profile changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /volunteers/me [put]
func (h *VolunteerHandler) UpdateProfile(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateVolunteerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}

	profile, err := h.service.UpdateProfile(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Matches godoc
// @Summary Ranked pending requests for the calling volunteer
// @Description Pending, unassigned requests from the volunteer's city and state, highest match score first
// @Tags Volunteers
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /volunteers/me/matches [get]
func (h *VolunteerHandler) Matches(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	matches, err := h.matching.IncomingRequests(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, matches, nil)
}

// Directory godoc
// @Summary Public volunteer directory
// @Tags Volunteers
// @Produce json
// @Param city query string false "Filter by city"
// @Param state query string false "Filter by state"
// @Param subject query string false "Filter by subject"
// @Param type query string false "Volunteer type (free|paid)"
// @Param verified query bool false "Only verified volunteers"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /volunteers [get]
func (h *VolunteerHandler) Directory(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.VolunteerFilter{
		City:      c.Query("city"),
		State:     c.Query("state"),
		Subject:   c.Query("subject"),
		Page:      page,
		PageSize:  size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("type"); raw != "" {
		volunteerType := models.VolunteerType(raw)
		filter.VolunteerType = &volunteerType
	}
	if raw := c.Query("verified"); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "verified must be a boolean"))
			return
		}
		filter.Verified = &verified
	}

	volunteers, total, err := h.service.Directory(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, volunteers, paginationMeta(page, size, total))
}

// GetByID godoc
// @Summary Public volunteer profile
// @Tags Volunteers
// @Produce json
// @Param id path string true "Volunteer ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /volunteers/{id} [get]
func (h *VolunteerHandler) GetByID(c *gin.Context) {
	profile, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}
