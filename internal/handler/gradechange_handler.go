package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sigae-edu/sigae-api/internal/models"
	"github.com/sigae-edu/sigae-api/internal/service"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
	"github.com/sigae-edu/sigae-api/pkg/response"
)

// GradeChangeHandler exposes the grade-change rule engine.
type GradeChangeHandler struct {
	gradeChanges *service.GradeChangeService
	metrics      *service.MetricsService
}

// NewGradeChangeHandler constructs GradeChangeHandler.
func NewGradeChangeHandler(gradeChanges *service.GradeChangeService, metrics *service.MetricsService) *GradeChangeHandler {
	return &GradeChangeHandler{gradeChanges: gradeChanges, metrics: metrics}
}

// Validate godoc
// @Summary Evaluate the rule table for a proposed grade/group change
// @Tags GradeChanges
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param targetGroupId query string true "Target group ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grade-change/validate [get]
func (h *GradeChangeHandler) Validate(c *gin.Context) {
	targetGroupID := c.Query("targetGroupId")
	if targetGroupID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "targetGroupId is required"))
		return
	}
	validation, err := h.gradeChanges.Validate(c.Request.Context(), c.Param("id"), targetGroupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, validation, nil)
}

// Execute godoc
// @Summary Execute an approved grade/group change
// @Tags GradeChanges
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ExecuteGradeChangeRequest true "Grade change payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grade-change [put]
func (h *GradeChangeHandler) Execute(c *gin.Context) {
	var req service.ExecuteGradeChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EnrollmentID = c.Param("id")

	enrollment, err := h.gradeChanges.Execute(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEnrollmentEvent(models.EventTypeGradeChanged)
	response.JSON(c, http.StatusOK, enrollment, nil)
}
