package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sigae-edu/sigae-api/internal/models"
	"github.com/sigae-edu/sigae-api/internal/service"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
	"github.com/sigae-edu/sigae-api/pkg/response"
)

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	metrics     *service.MetricsService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, metrics *service.MetricsService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, metrics: metrics}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param academicYearId query string false "Filter by academic year"
// @Param groupId query string false "Filter by group"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.AcademicYearID = c.Query("academicYearId")
	filter.GroupID = c.Query("groupId")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Create godoc
// @Summary Enroll a student into a group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollStudentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeCreated)
	response.Created(c, enrollment)
}

// Withdraw godoc
// @Summary Withdraw an active enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.WithdrawEnrollmentRequest true "Withdrawal payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/withdraw [put]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	var req service.WithdrawEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Withdraw(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeWithdrawn)
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Transfer godoc
// @Summary Transfer an enrollment out of the institution
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.TransferEnrollmentRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/transfer [put]
func (h *EnrollmentHandler) Transfer(c *gin.Context) {
	var req service.TransferEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Transfer(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeTransferred)
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ChangeGroup godoc
// @Summary Move an enrollment to another group in the same grade
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ChangeGroupRequest true "Group change payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/group [put]
func (h *EnrollmentHandler) ChangeGroup(c *gin.Context) {
	var req service.ChangeGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.ChangeGroup(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeGroupChanged)
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Reactivate godoc
// @Summary Reactivate a withdrawn enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ReactivateEnrollmentRequest false "Reactivation payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/reactivate [put]
func (h *EnrollmentHandler) Reactivate(c *gin.Context) {
	var req service.ReactivateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Reactivate(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeReactivated)
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Events godoc
// @Summary List an enrollment's audit trail
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/events [get]
func (h *EnrollmentHandler) Events(c *gin.Context) {
	events, err := h.enrollments.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Stats godoc
// @Summary Aggregate enrollment counts for a year
// @Tags Enrollments
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/enrollment-stats [get]
func (h *EnrollmentHandler) Stats(c *gin.Context) {
	stats, err := h.enrollments.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Promote godoc
// @Summary Bulk-promote students from a closed year into a new year
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body promoteStudentsRequest true "Promotion payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/promote [post]
func (h *EnrollmentHandler) Promote(c *gin.Context) {
	var req promoteStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.PromoteStudents(c.Request.Context(), req.FromYearID, req.ToYearID, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordPromotionOutcome(result.EnrollmentsCreated, len(result.Errors))
	response.JSON(c, http.StatusOK, result, nil)
}

type promoteStudentsRequest struct {
	FromYearID string `json:"from_year_id" binding:"required"`
	ToYearID   string `json:"to_year_id" binding:"required"`
}
