package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sigae-edu/sigae-api/internal/models"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

type gradeChangeEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentEnrollment, error)
	CountActiveByGroup(ctx context.Context, groupID, yearID string) (int, error)
	ListGradeValues(ctx context.Context, enrollmentID string) ([]float64, error)
}

type gradeChangeCatalog interface {
	FindGroupByID(ctx context.Context, id string) (*models.Group, error)
	FindGradeByID(ctx context.Context, id string) (*models.Grade, error)
	FindGradeByGroupID(ctx context.Context, groupID string) (*models.Grade, error)
	FindActByID(ctx context.Context, id string) (*models.AcademicAct, error)
}

type groupMover interface {
	MoveToGroup(ctx context.Context, enrollment *models.StudentEnrollment, targetGroupID string, event *models.EnrollmentEvent) error
}

// ExecuteGradeChangeRequest carries an approved grade/group change.
type ExecuteGradeChangeRequest struct {
	EnrollmentID  string  `json:"enrollment_id" validate:"required"`
	TargetGroupID string  `json:"target_group_id" validate:"required"`
	Reason        string  `json:"reason" validate:"required"`
	Observations  *string `json:"observations"`
	AcademicActID *string `json:"academic_act_id"`
}

// GradeChangeService classifies and gates grade/group changes. It never
// mutates enrollments directly; execution delegates to the enrollment
// engine's group mutation primitive.
type GradeChangeService struct {
	enrollments gradeChangeEnrollmentStore
	catalog     gradeChangeCatalog
	years       yearReader
	mover       groupMover
	minAverage  float64
	now         func() time.Time
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradeChangeService constructs GradeChangeService. minAverage is the
// institutional passing threshold applied to promotions when the student
// has recorded grades.
func NewGradeChangeService(enrollments gradeChangeEnrollmentStore, catalog gradeChangeCatalog, years yearReader, mover groupMover, minAverage float64, validate *validator.Validate, logger *zap.Logger) *GradeChangeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if minAverage <= 0 {
		minAverage = 4.0
	}
	return &GradeChangeService{
		enrollments: enrollments,
		catalog:     catalog,
		years:       years,
		mover:       mover,
		minAverage:  minAverage,
		now:         time.Now,
		validator:   validate,
		logger:      logger,
	}
}

// Classify orders two grades against each other. Equal IDs are a
// same-grade move; otherwise the stage-weighted order key decides the
// direction.
func (s *GradeChangeService) Classify(current, target *models.Grade) models.ChangeType {
	if current == nil || target == nil || current.ID == target.ID {
		return models.ChangeTypeSameGrade
	}
	if target.OrderKey() > current.OrderKey() {
		return models.ChangeTypePromotion
	}
	return models.ChangeTypeDemotion
}

// Validate evaluates the rule table for moving an enrollment into the
// target group. All applicable rules accumulate; the caller gets every
// warning, requirement and restriction at once.
func (s *GradeChangeService) Validate(ctx context.Context, enrollmentID, targetGroupID string) (*models.GradeChangeValidation, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo una matrícula activa puede cambiar de grado o grupo")
	}

	targetGroup, err := s.catalog.FindGroupByID(ctx, targetGroupID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grupo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target group")
	}

	if targetGroup.MaxCapacity != nil {
		occupied, err := s.enrollments.CountActiveByGroup(ctx, targetGroup.ID, enrollment.AcademicYearID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count group occupancy")
		}
		if occupied >= *targetGroup.MaxCapacity {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("el grupo %s no tiene cupos disponibles", targetGroup.Name))
		}
	}

	currentGrade, err := s.catalog.FindGradeByGroupID(ctx, enrollment.GroupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current grade")
	}
	targetGrade, err := s.catalog.FindGradeByID(ctx, targetGroup.GradeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grado no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target grade")
	}

	validation := &models.GradeChangeValidation{
		ChangeType:   s.Classify(currentGrade, targetGrade),
		Warnings:     []string{},
		Requirements: []string{},
		Restrictions: []string{},
	}

	switch validation.ChangeType {
	case models.ChangeTypeDemotion:
		validation.Restrictions = append(validation.Restrictions, "La reubicación a un grado inferior requiere aprobación excepcional")
		validation.Requirements = append(validation.Requirements,
			"Acta del consejo académico",
			"Autorización del rector y del coordinador",
			"Consentimiento del acudiente")
	case models.ChangeTypePromotion:
		year, err := s.loadYear(ctx, enrollment.AcademicYearID)
		if err != nil {
			return nil, err
		}
		if year.Progress(s.now()) < 0.5 {
			validation.Warnings = append(validation.Warnings, "Promoción anticipada antes de la mitad del año lectivo")
			validation.Requirements = append(validation.Requirements,
				"Evaluación psicoacadémica",
				"Autorización del consejo académico",
				"Consentimiento del acudiente")
		} else {
			validation.Requirements = append(validation.Requirements,
				"Evaluación de desempeño académico",
				"Autorización del coordinador")
		}
	}

	if currentGrade.Stage != targetGrade.Stage {
		validation.Requirements = append(validation.Requirements,
			"Validación de competencias del grado destino",
			"Autorización del rector")
		switch {
		case currentGrade.Stage == models.StagePreescolar && targetGrade.Stage == models.StageBasicaPrimaria:
			validation.Requirements = append(validation.Requirements, "Certificado de desarrollo infantil")
		case currentGrade.Stage == models.StageBasicaSecundaria && targetGrade.Stage == models.StageMedia:
			validation.Requirements = append(validation.Requirements, "Evaluación de aptitud vocacional")
		}
	}

	if validation.ChangeType == models.ChangeTypePromotion {
		values, err := s.enrollments.ListGradeValues(ctx, enrollment.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recorded grades")
		}
		if len(values) > 0 {
			average := 0.0
			for _, v := range values {
				average += v
			}
			average /= float64(len(values))
			if average < s.minAverage {
				validation.Restrictions = append(validation.Restrictions,
					fmt.Sprintf("Promedio académico insuficiente (%.2f, mínimo %.2f)", average, s.minAverage))
			}
		}
	}

	validation.CanChange = len(validation.Restrictions) == 0
	return validation, nil
}

// Execute re-validates and applies the grade/group change. Any change
// that is not same-grade must reference an approved academic act.
func (s *GradeChangeService) Execute(ctx context.Context, req ExecuteGradeChangeRequest, actorID string) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade change payload")
	}

	validation, err := s.Validate(ctx, req.EnrollmentID, req.TargetGroupID)
	if err != nil {
		return nil, err
	}
	if !validation.CanChange {
		return nil, appErrors.NewValidationFailed(
			fmt.Sprintf("el cambio de grado no está permitido: %s", strings.Join(validation.Restrictions, "; ")),
			validation.Restrictions)
	}

	if validation.ChangeType != models.ChangeTypeSameGrade {
		if req.AcademicActID == nil || *req.AcademicActID == "" {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "el cambio de grado requiere un acta académica aprobada")
		}
		act, err := s.catalog.FindActByID(ctx, *req.AcademicActID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "acta académica no encontrada")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic act")
		}
		if !act.Approved() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "el acta académica no está aprobada")
		}
	}

	enrollment, err := s.loadEnrollment(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}
	targetGroup, err := s.catalog.FindGroupByID(ctx, req.TargetGroupID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grupo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target group")
	}

	previous, err := s.changeSnapshot(ctx, enrollment, enrollment.GroupID)
	if err != nil {
		return nil, err
	}
	next, err := s.changeSnapshot(ctx, enrollment, targetGroup.ID)
	if err != nil {
		return nil, err
	}

	movement := movementFor(validation.ChangeType)
	event := &models.EnrollmentEvent{
		Type:          models.EventTypeGradeChanged,
		MovementType:  &movement,
		PreviousValue: marshalSnapshot(previous),
		NewValue:      marshalSnapshot(next),
		Reason:        req.Reason,
		Observations:  req.Observations,
		AcademicActID: req.AcademicActID,
		ActorID:       actorID,
	}
	if err := s.mover.MoveToGroup(ctx, enrollment, targetGroup.ID, event); err != nil {
		return nil, err
	}
	s.logger.Info("grade change executed",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("target_group_id", targetGroup.ID),
		zap.String("change_type", string(validation.ChangeType)))
	return enrollment, nil
}

// changeSnapshot builds the event payload for a grade change, which
// carries the grade alongside the usual enrollment snapshot.
func (s *GradeChangeService) changeSnapshot(ctx context.Context, enrollment *models.StudentEnrollment, groupID string) (enrollmentSnapshot, error) {
	snapshot := snapshotOf(enrollment)
	snapshot.GroupID = groupID
	grade, err := s.catalog.FindGradeByGroupID(ctx, groupID)
	if err != nil {
		return snapshot, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve grade for snapshot")
	}
	snapshot.GradeID = grade.ID
	return snapshot, nil
}

func movementFor(changeType models.ChangeType) models.MovementType {
	switch changeType {
	case models.ChangeTypePromotion:
		return models.MovementTypeGradePromotion
	case models.ChangeTypeDemotion:
		return models.MovementTypeGradeDemotion
	default:
		return models.MovementTypeGroupReassignment
	}
}

func (s *GradeChangeService) loadEnrollment(ctx context.Context, id string) (*models.StudentEnrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "matrícula no encontrada")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *GradeChangeService) loadYear(ctx context.Context, yearID string) (*models.AcademicYear, error) {
	year, err := s.years.FindByID(ctx, yearID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "año lectivo no encontrado")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	return year, nil
}
