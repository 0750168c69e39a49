package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sigae-edu/sigae-api/internal/models"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

type yearRepository interface {
	List(ctx context.Context, filter models.YearFilter) ([]models.AcademicYear, int, error)
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindActiveByInstitution(ctx context.Context, institutionID string) (*models.AcademicYear, error)
	ExistsYearNumber(ctx context.Context, institutionID string, yearNumber int) (bool, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	MarkActive(ctx context.Context, id, actorID string, at time.Time) (bool, error)
	MarkClosed(ctx context.Context, id, actorID string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	CountTerms(ctx context.Context, yearID string) (int, error)
}

type termStore interface {
	ListByYear(ctx context.Context, yearID string) ([]models.AcademicTerm, error)
	Create(ctx context.Context, term *models.AcademicTerm) error
}

type closureEnrollmentStore interface {
	ListByYear(ctx context.Context, yearID string, statuses ...models.EnrollmentStatus) ([]models.StudentEnrollment, error)
	SetFinalStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	CountByYear(ctx context.Context, yearID string) (int, error)
}

type eventWriter interface {
	Create(ctx context.Context, event *models.EnrollmentEvent) error
}

// CreateYearRequest describes the payload for opening a new school year.
type CreateYearRequest struct {
	InstitutionID string    `json:"institution_id" validate:"required"`
	YearNumber    int       `json:"year_number" validate:"required,gt=0"`
	Name          string    `json:"name" validate:"required"`
	StartDate     time.Time `json:"start_date" validate:"required"`
	EndDate       time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// CreateTermRequest describes the payload for adding a grading period.
type CreateTermRequest struct {
	Name      string    `json:"name" validate:"required"`
	Position  int       `json:"position" validate:"required,gt=0"`
	Weight    float64   `json:"weight" validate:"gte=0,lte=100"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// CloseYearRequest controls the closure flow.
type CloseYearRequest struct {
	CalculatePromotions bool `json:"calculate_promotions"`
}

// YearService owns the academic year state machine: activation with its
// aggregated validation, irreversible closure, and the end-of-year
// promotion computation.
type YearService struct {
	repo        yearRepository
	terms       termStore
	enrollments closureEnrollmentStore
	events      eventWriter
	policy      PromotionPolicy
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewYearService constructs YearService. A nil policy falls back to the
// promote-all placeholder.
func NewYearService(repo yearRepository, terms termStore, enrollments closureEnrollmentStore, events eventWriter, policy PromotionPolicy, validate *validator.Validate, logger *zap.Logger) *YearService {
	if policy == nil {
		policy = PromoteAllPolicy()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YearService{repo: repo, terms: terms, enrollments: enrollments, events: events, policy: policy, validator: validate, logger: logger}
}

// List returns academic years with pagination metadata.
func (s *YearService) List(ctx context.Context, filter models.YearFilter) ([]models.AcademicYear, *models.Pagination, error) {
	years, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
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
	return years, pagination, nil
}

// Get returns an academic year by ID.
func (s *YearService) Get(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "año lectivo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	return year, nil
}

// Create opens a new school year in draft status.
func (s *YearService) Create(ctx context.Context, req CreateYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid year payload")
	}
	exists, err := s.repo.ExistsYearNumber(ctx, req.InstitutionID, req.YearNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate year number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "la institución ya tiene un año lectivo con ese número")
	}
	year := &models.AcademicYear{
		InstitutionID: req.InstitutionID,
		YearNumber:    req.YearNumber,
		Name:          req.Name,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Status:        models.YearStatusDraft,
	}
	if err := s.repo.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}
	return year, nil
}

// AddTerm registers a grading period on a draft year.
func (s *YearService) AddTerm(ctx context.Context, yearID string, req CreateTermRequest) (*models.AcademicTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return nil, err
	}
	if !year.CanEditStructure() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "la estructura del año solo puede editarse en estado borrador")
	}
	term := &models.AcademicTerm{
		AcademicYearID: yearID,
		Name:           req.Name,
		Position:       req.Position,
		Weight:         req.Weight,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	}
	if err := s.terms.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// Terms lists the grading periods of a year.
func (s *YearService) Terms(ctx context.Context, yearID string) ([]models.AcademicTerm, error) {
	if _, err := s.Get(ctx, yearID); err != nil {
		return nil, err
	}
	terms, err := s.terms.ListByYear(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, nil
}

// ValidateForActivation returns the full list of violations that block
// activation instead of failing fast, so callers can render every
// problem at once. New checks (group completeness, teacher assignments)
// slot in here without changing the activation contract.
func (s *YearService) ValidateForActivation(ctx context.Context, yearID string) ([]string, error) {
	var violations []string
	termCount, err := s.repo.CountTerms(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count terms")
	}
	if termCount == 0 {
		violations = append(violations, "El año lectivo debe tener al menos un período académico configurado")
	}
	return violations, nil
}

// ValidateForClosure is the closure counterpart of ValidateForActivation.
// No closure rules exist yet; the hook keeps the contract stable.
func (s *YearService) ValidateForClosure(ctx context.Context, yearID string) ([]string, error) {
	return nil, nil
}

// Activate transitions a draft year to active. At most one year per
// institution may be active; the check-then-write races are closed by the
// guarded update and the partial unique index behind MarkActive.
func (s *YearService) Activate(ctx context.Context, yearID, actorID string) (*models.AcademicYear, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return nil, err
	}
	if year.Status != models.YearStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo un año lectivo en borrador puede activarse")
	}
	if _, err := s.repo.FindActiveByInstitution(ctx, year.InstitutionID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "la institución ya tiene un año lectivo activo")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active year")
	}
	violations, err := s.ValidateForActivation(ctx, yearID)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, appErrors.NewValidationFailed("el año lectivo no puede activarse", violations)
	}

	activated, err := s.repo.MarkActive(ctx, yearID, actorID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate academic year")
	}
	if !activated {
		return nil, appErrors.Clone(appErrors.ErrConflict, "el año lectivo fue modificado por otra operación")
	}
	s.logger.Info("academic year activated", zap.String("year_id", yearID), zap.String("actor_id", actorID))
	return s.Get(ctx, yearID)
}

// Close transitions an active year to closed, optionally running the
// promotion computation first. Closure is irreversible.
func (s *YearService) Close(ctx context.Context, yearID, actorID string, req CloseYearRequest) (*models.YearClosureResult, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return nil, err
	}
	if year.Status != models.YearStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo un año lectivo activo puede cerrarse")
	}
	violations, err := s.ValidateForClosure(ctx, yearID)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, appErrors.NewValidationFailed("el año lectivo no puede cerrarse", violations)
	}

	result := &models.YearClosureResult{}
	if req.CalculatePromotions {
		result, err = s.computePromotions(ctx, yearID, actorID)
		if err != nil {
			return nil, err
		}
	}

	closed, err := s.repo.MarkClosed(ctx, yearID, actorID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close academic year")
	}
	if !closed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "el año lectivo fue modificado por otra operación")
	}
	s.logger.Info("academic year closed",
		zap.String("year_id", yearID),
		zap.String("actor_id", actorID),
		zap.Int("promoted", result.PromotedCount),
		zap.Int("repeated", result.RepeatedCount),
		zap.Int("withdrawn", result.WithdrawnCount))
	return result, nil
}

// computePromotions resolves every active enrollment of the year into
// PROMOTED or REPEATED and appends the matching audit event. Withdrawn
// enrollments are counted but not revisited. Next-year enrollments are
// created by the separate bulk promotion, never here.
func (s *YearService) computePromotions(ctx context.Context, yearID, actorID string) (*models.YearClosureResult, error) {
	enrollments, err := s.enrollments.ListByYear(ctx, yearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	result := &models.YearClosureResult{}
	for _, enrollment := range enrollments {
		switch enrollment.Status {
		case models.EnrollmentStatusWithdrawn:
			result.WithdrawnCount++
			continue
		case models.EnrollmentStatusActive:
		default:
			continue
		}

		promote, err := s.policy.ShouldPromote(ctx, enrollment)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "promotion policy failed")
		}

		finalStatus := models.EnrollmentStatusPromoted
		eventType := models.EventTypePromoted
		if !promote {
			finalStatus = models.EnrollmentStatusRepeated
			eventType = models.EventTypeRepeated
		}

		previous := snapshotOf(&enrollment)
		if err := s.enrollments.SetFinalStatus(ctx, enrollment.ID, finalStatus); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set final status")
		}
		updated := enrollment
		updated.Status = finalStatus
		event := &models.EnrollmentEvent{
			EnrollmentID:  enrollment.ID,
			Type:          eventType,
			PreviousValue: marshalSnapshot(previous),
			NewValue:      marshalSnapshot(snapshotOf(&updated)),
			Reason:        "Cierre del año lectivo",
			ActorID:       actorID,
		}
		if err := s.events.Create(ctx, event); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record closure event")
		}

		if promote {
			result.PromotedCount++
		} else {
			result.RepeatedCount++
		}
	}
	return result, nil
}

// Delete removes a year. Only drafts without enrollments can go.
func (s *YearService) Delete(ctx context.Context, yearID string) error {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return err
	}
	if year.Status != models.YearStatusDraft {
		return appErrors.Clone(appErrors.ErrForbidden, "solo un año lectivo en borrador puede eliminarse")
	}
	count, err := s.enrollments.CountByYear(ctx, yearID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "el año lectivo tiene matrículas registradas")
	}
	if err := s.repo.Delete(ctx, yearID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete academic year")
	}
	return nil
}

// CanEditStructure reports whether the year's structure may be edited.
func (s *YearService) CanEditStructure(ctx context.Context, yearID string) (bool, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return false, err
	}
	return year.CanEditStructure(), nil
}

// CanRecordGrades reports whether grades may be recorded for the year.
func (s *YearService) CanRecordGrades(ctx context.Context, yearID string) (bool, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return false, err
	}
	return year.CanRecordGrades(), nil
}

// CanEnrollStudents reports whether the year accepts enrollments.
func (s *YearService) CanEnrollStudents(ctx context.Context, yearID string) (bool, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return false, err
	}
	return year.CanEnrollStudents(), nil
}

// CanModify reports whether enrollment mutations are still allowed.
func (s *YearService) CanModify(ctx context.Context, yearID string) (bool, error) {
	year, err := s.Get(ctx, yearID)
	if err != nil {
		return false, err
	}
	return year.CanModify(), nil
}
