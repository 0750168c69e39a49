package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sigae-edu/sigae-api/internal/models"
	"github.com/sigae-edu/sigae-api/internal/service"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
	"github.com/sigae-edu/sigae-api/pkg/response"
)

// YearHandler exposes academic year lifecycle endpoints.
type YearHandler struct {
	years   *service.YearService
	metrics *service.MetricsService
}

// NewYearHandler constructs YearHandler.
func NewYearHandler(years *service.YearService, metrics *service.MetricsService) *YearHandler {
	return &YearHandler{years: years, metrics: metrics}
}

// List godoc
// @Summary List academic years
// @Tags AcademicYears
// @Produce json
// @Param institutionId query string false "Filter by institution"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /academic-years [get]
func (h *YearHandler) List(c *gin.Context) {
	var filter models.YearFilter
	filter.InstitutionID = c.Query("institutionId")
	filter.Status = models.YearStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	years, pagination, err := h.years.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, years, pagination)
}

// Get godoc
// @Summary Get an academic year
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id} [get]
func (h *YearHandler) Get(c *gin.Context) {
	year, err := h.years.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Create godoc
// @Summary Create an academic year in draft
// @Tags AcademicYears
// @Accept json
// @Produce json
// @Param payload body service.CreateYearRequest true "Year payload"
// @Success 201 {object} response.Envelope
// @Router /academic-years [post]
func (h *YearHandler) Create(c *gin.Context) {
	var req service.CreateYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	year, err := h.years.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, year)
}

// AddTerm godoc
// @Summary Add a grading period to a draft year
// @Tags AcademicYears
// @Accept json
// @Produce json
// @Param id path string true "Academic year ID"
// @Param payload body service.CreateTermRequest true "Term payload"
// @Success 201 {object} response.Envelope
// @Router /academic-years/{id}/terms [post]
func (h *YearHandler) AddTerm(c *gin.Context) {
	var req service.CreateTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	term, err := h.years.AddTerm(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Terms godoc
// @Summary List a year's grading periods
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/terms [get]
func (h *YearHandler) Terms(c *gin.Context) {
	terms, err := h.years.Terms(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, nil)
}

// ValidateActivation godoc
// @Summary Preview activation violations
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/validate-activation [get]
func (h *YearHandler) ValidateActivation(c *gin.Context) {
	violations, err := h.years.ValidateForActivation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"violations": violations, "can_activate": len(violations) == 0}, nil)
}

// Activate godoc
// @Summary Activate a draft year
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/activate [put]
func (h *YearHandler) Activate(c *gin.Context) {
	year, err := h.years.Activate(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordYearTransition(models.YearStatusActive)
	response.JSON(c, http.StatusOK, year, nil)
}

// Close godoc
// @Summary Close an active year
// @Tags AcademicYears
// @Accept json
// @Produce json
// @Param id path string true "Academic year ID"
// @Param payload body service.CloseYearRequest true "Closure payload"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/close [put]
func (h *YearHandler) Close(c *gin.Context) {
	var req service.CloseYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.years.Close(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordYearTransition(models.YearStatusClosed)
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a draft year without enrollments
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 204 "No Content"
// @Router /academic-years/{id} [delete]
func (h *YearHandler) Delete(c *gin.Context) {
	if err := h.years.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Permissions godoc
// @Summary Read-side status predicates for a year
// @Tags AcademicYears
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/permissions [get]
func (h *YearHandler) Permissions(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	editStructure, err := h.years.CanEditStructure(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	recordGrades, err := h.years.CanRecordGrades(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollStudents, err := h.years.CanEnrollStudents(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	modify, err := h.years.CanModify(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"can_edit_structure":  editStructure,
		"can_record_grades":   recordGrades,
		"can_enroll_students": enrollStudents,
		"can_modify":          modify,
	}, nil)
}
