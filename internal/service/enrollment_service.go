package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sigae-edu/sigae-api/internal/models"
	"github.com/sigae-edu/sigae-api/internal/repository"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentEnrollment, error)
	ExistsByStudentAndYear(ctx context.Context, studentID, yearID string) (bool, error)
	Create(ctx context.Context, enrollment *models.StudentEnrollment) error
	UpdateGroup(ctx context.Context, id, groupID string) error
	SetWithdrawn(ctx context.Context, id string, date time.Time, reason string) error
	SetTransferred(ctx context.Context, id string) error
	SetReactivated(ctx context.Context, id string) error
	SetPromotedTo(ctx context.Context, id, successorID string) error
	ListByYear(ctx context.Context, yearID string, statuses ...models.EnrollmentStatus) ([]models.StudentEnrollment, error)
	CountByStatus(ctx context.Context, yearID string) ([]models.EnrollmentStatusCount, error)
	CountByGroup(ctx context.Context, yearID string) ([]models.EnrollmentGroupCount, error)
	CountByYear(ctx context.Context, yearID string) (int, error)
}

type yearReader interface {
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
}

type groupReader interface {
	FindGroupByID(ctx context.Context, id string) (*models.Group, error)
	FindGradeByID(ctx context.Context, id string) (*models.Grade, error)
	FindGradeByGroupID(ctx context.Context, groupID string) (*models.Grade, error)
	FindGradeByStageAndNumber(ctx context.Context, stage models.Stage, number int) (*models.Grade, error)
	FindFirstGroupByGrade(ctx context.Context, gradeID string) (*models.Group, error)
}

type eventStore interface {
	Create(ctx context.Context, event *models.EnrollmentEvent) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrollmentEvent, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string)
}

// EnrollStudentRequest describes enrollment creation.
type EnrollStudentRequest struct {
	StudentID      string                `json:"student_id" validate:"required"`
	AcademicYearID string                `json:"academic_year_id" validate:"required"`
	GroupID        string                `json:"group_id" validate:"required"`
	Type           models.EnrollmentType `json:"type"`
	Shift          string                `json:"shift"`
	Modality       string                `json:"modality"`
	Observations   *string               `json:"observations"`
}

// WithdrawEnrollmentRequest describes a withdrawal.
type WithdrawEnrollmentRequest struct {
	Reason       string  `json:"reason" validate:"required"`
	Observations *string `json:"observations"`
}

// TransferEnrollmentRequest describes an outbound transfer.
type TransferEnrollmentRequest struct {
	Reason       string  `json:"reason" validate:"required"`
	Observations *string `json:"observations"`
}

// ChangeGroupRequest describes a same-grade group change.
type ChangeGroupRequest struct {
	TargetGroupID string  `json:"target_group_id" validate:"required"`
	Reason        string  `json:"reason" validate:"required"`
	Observations  *string `json:"observations"`
}

// ReactivateEnrollmentRequest describes a reentry after withdrawal.
type ReactivateEnrollmentRequest struct {
	Reason       string  `json:"reason"`
	Observations *string `json:"observations"`
}

// EnrollmentService owns the per-student enrollment state machine and the
// cross-year bulk promotion engine. Every successful mutation appends
// exactly one audit event.
type EnrollmentService struct {
	repo      enrollmentRepository
	years     yearReader
	catalog   groupReader
	events    eventStore
	cache     statsCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, years yearReader, catalog groupReader, events eventStore, cache statsCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &EnrollmentService{repo: repo, years: years, catalog: catalog, events: events, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns an enrollment by ID.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.StudentEnrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "matrícula no encontrada")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// Events returns the enrollment's audit trail.
func (s *EnrollmentService) Events(ctx context.Context, id string) ([]models.EnrollmentEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.events.ListByEnrollment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment events")
	}
	return events, nil
}

// Enroll registers a student into a group for an academic year.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest, actorID string) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	year, err := s.loadYear(ctx, req.AcademicYearID)
	if err != nil {
		return nil, err
	}
	if !year.CanEnrollStudents() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo no admite matrículas")
	}
	group, err := s.loadGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByStudentAndYear(ctx, req.StudentID, req.AcademicYearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "el estudiante ya tiene una matrícula en este año lectivo")
	}

	enrollmentType := req.Type
	if enrollmentType == "" {
		enrollmentType = models.EnrollmentTypeNew
	}
	enrollment := &models.StudentEnrollment{
		StudentID:      req.StudentID,
		AcademicYearID: req.AcademicYearID,
		GroupID:        group.ID,
		Type:           enrollmentType,
		Status:         models.EnrollmentStatusActive,
		Shift:          req.Shift,
		Modality:       req.Modality,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "el estudiante ya tiene una matrícula en este año lectivo")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	event := &models.EnrollmentEvent{
		EnrollmentID: enrollment.ID,
		Type:         models.EventTypeCreated,
		NewValue:     marshalSnapshot(snapshotOf(enrollment)),
		Reason:       "Matrícula registrada",
		Observations: req.Observations,
		ActorID:      actorID,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record enrollment event")
	}
	s.invalidateStats(ctx, enrollment.AcademicYearID)
	return enrollment, nil
}

// Withdraw marks an active enrollment withdrawn, recording date and reason.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string, req WithdrawEnrollmentRequest, actorID string) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid withdrawal payload")
	}
	enrollment, year, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !year.CanModify() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo está cerrado")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo una matrícula activa puede retirarse")
	}

	previous := snapshotOf(enrollment)
	withdrawalDate := time.Now().UTC()
	if err := s.repo.SetWithdrawn(ctx, id, withdrawalDate, req.Reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	enrollment.Status = models.EnrollmentStatusWithdrawn
	enrollment.WithdrawalDate = &withdrawalDate
	enrollment.WithdrawalReason = &req.Reason

	if err := s.appendEvent(ctx, enrollment, models.EventTypeWithdrawn, nil, previous, req.Reason, req.Observations, nil, actorID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Transfer marks an active enrollment as transferred out; terminal for
// the year.
func (s *EnrollmentService) Transfer(ctx context.Context, id string, req TransferEnrollmentRequest, actorID string) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	enrollment, year, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !year.CanModify() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo está cerrado")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo una matrícula activa puede trasladarse")
	}

	previous := snapshotOf(enrollment)
	if err := s.repo.SetTransferred(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transfer enrollment")
	}
	enrollment.Status = models.EnrollmentStatusTransferred

	if err := s.appendEvent(ctx, enrollment, models.EventTypeTransferred, nil, previous, req.Reason, req.Observations, nil, actorID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ChangeGroup moves an active enrollment to another group. This is the
// same mutation primitive the grade-change rule engine executes through.
func (s *EnrollmentService) ChangeGroup(ctx context.Context, id string, req ChangeGroupRequest, actorID string) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group change payload")
	}
	enrollment, year, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !year.CanModify() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo está cerrado")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo una matrícula activa puede cambiar de grupo")
	}
	group, err := s.loadGroup(ctx, req.TargetGroupID)
	if err != nil {
		return nil, err
	}

	movement := models.MovementTypeGroupReassignment
	event := &models.EnrollmentEvent{
		Type:         models.EventTypeGroupChanged,
		MovementType: &movement,
		Reason:       req.Reason,
		Observations: req.Observations,
		ActorID:      actorID,
	}
	if err := s.MoveToGroup(ctx, enrollment, group.ID, event); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Reactivate returns a withdrawn enrollment to active, forcing reentry.
func (s *EnrollmentService) Reactivate(ctx context.Context, id string, req ReactivateEnrollmentRequest, actorID string) (*models.StudentEnrollment, error) {
	enrollment, year, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !year.CanEnrollStudents() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo no admite matrículas")
	}
	if enrollment.Status != models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo una matrícula retirada puede reactivarse")
	}

	previous := snapshotOf(enrollment)
	if err := s.repo.SetReactivated(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
	}
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.Type = models.EnrollmentTypeReentry
	enrollment.WithdrawalDate = nil
	enrollment.WithdrawalReason = nil

	reason := req.Reason
	if reason == "" {
		reason = "Reingreso del estudiante"
	}
	if err := s.appendEvent(ctx, enrollment, models.EventTypeReactivated, nil, previous, reason, req.Observations, nil, actorID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// MoveToGroup performs the group mutation plus its audit event. Callers
// fill the event's type, movement type, reason and actor; the previous
// and new snapshots are captured here around the mutation.
func (s *EnrollmentService) MoveToGroup(ctx context.Context, enrollment *models.StudentEnrollment, targetGroupID string, event *models.EnrollmentEvent) error {
	previous := snapshotOf(enrollment)
	if err := s.repo.UpdateGroup(ctx, enrollment.ID, targetGroupID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment group")
	}
	enrollment.GroupID = targetGroupID

	event.EnrollmentID = enrollment.ID
	if len(event.PreviousValue) == 0 {
		event.PreviousValue = marshalSnapshot(previous)
	}
	if len(event.NewValue) == 0 {
		event.NewValue = marshalSnapshot(snapshotOf(enrollment))
	}
	if err := s.events.Create(ctx, event); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record enrollment event")
	}
	s.invalidateStats(ctx, enrollment.AcademicYearID)
	return nil
}

// Stats aggregates enrollment counts for a year, served from cache when
// fresh.
func (s *EnrollmentService) Stats(ctx context.Context, yearID string) (*models.EnrollmentStats, error) {
	if _, err := s.loadYear(ctx, yearID); err != nil {
		return nil, err
	}

	key := statsCacheKey(yearID)
	if s.cache != nil {
		var cached models.EnrollmentStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	byStatus, err := s.repo.CountByStatus(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate enrollments by status")
	}
	byGroup, err := s.repo.CountByGroup(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate enrollments by group")
	}
	total := 0
	for _, row := range byStatus {
		total += row.Count
	}

	stats := &models.EnrollmentStats{
		AcademicYearID: yearID,
		Total:          total,
		ByStatus:       byStatus,
		ByGroup:        byGroup,
		GeneratedAt:    time.Now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache enrollment stats", zap.String("year_id", yearID), zap.Error(err))
		}
	}
	return stats, nil
}

func (s *EnrollmentService) appendEvent(ctx context.Context, enrollment *models.StudentEnrollment, eventType models.EventType, movement *models.MovementType, previous enrollmentSnapshot, reason string, observations *string, actID *string, actorID string) error {
	event := &models.EnrollmentEvent{
		EnrollmentID:  enrollment.ID,
		Type:          eventType,
		MovementType:  movement,
		PreviousValue: marshalSnapshot(previous),
		NewValue:      marshalSnapshot(snapshotOf(enrollment)),
		Reason:        reason,
		Observations:  observations,
		AcademicActID: actID,
		ActorID:       actorID,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record enrollment event")
	}
	s.invalidateStats(ctx, enrollment.AcademicYearID)
	return nil
}

func (s *EnrollmentService) loadMutable(ctx context.Context, id string) (*models.StudentEnrollment, *models.AcademicYear, error) {
	enrollment, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	year, err := s.loadYear(ctx, enrollment.AcademicYearID)
	if err != nil {
		return nil, nil, err
	}
	return enrollment, year, nil
}

func (s *EnrollmentService) loadYear(ctx context.Context, yearID string) (*models.AcademicYear, error) {
	year, err := s.years.FindByID(ctx, yearID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "año lectivo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	return year, nil
}

func (s *EnrollmentService) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.catalog.FindGroupByID(ctx, groupID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grupo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

func (s *EnrollmentService) invalidateStats(ctx context.Context, yearID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, statsCacheKey(yearID))
	}
}

func statsCacheKey(yearID string) string {
	return fmt.Sprintf("enrollment:stats:%s", yearID)
}
