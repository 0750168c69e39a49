package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/sigae-edu/sigae-api/internal/models"
	"github.com/sigae-edu/sigae-api/internal/repository"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

// PromoteStudents carries PROMOTED and REPEATED enrollments of a closed
// year into a target year. The batch is best effort: each student is a
// unit of work, failures are collected as messages and never abort the
// remaining students. Rerunning is safe because students already
// enrolled in the target year are skipped.
func (s *EnrollmentService) PromoteStudents(ctx context.Context, fromYearID, toYearID, actorID string) (*models.PromotionResult, error) {
	fromYear, err := s.loadYear(ctx, fromYearID)
	if err != nil {
		return nil, err
	}
	if fromYear.Status != models.YearStatusClosed {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "solo un año lectivo cerrado puede originar promociones")
	}
	toYear, err := s.loadYear(ctx, toYearID)
	if err != nil {
		return nil, err
	}
	if toYear.Status == models.YearStatusClosed {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "el año lectivo destino está cerrado")
	}

	sources, err := s.repo.ListByYear(ctx, fromYearID, models.EnrollmentStatusPromoted, models.EnrollmentStatusRepeated)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promotable enrollments")
	}

	result := &models.PromotionResult{Errors: []string{}}
	for i := range sources {
		source := sources[i]
		if err := s.promoteOne(ctx, &source, toYearID, actorID, result); err != nil {
			s.logger.Warn("promotion failed for student",
				zap.String("student_id", source.StudentID),
				zap.String("from_year_id", fromYearID),
				zap.String("to_year_id", toYearID),
				zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("estudiante %s: %v", source.StudentID, err))
		}
	}
	if result.EnrollmentsCreated > 0 {
		s.invalidateStats(ctx, toYearID)
	}
	return result, nil
}

func (s *EnrollmentService) promoteOne(ctx context.Context, source *models.StudentEnrollment, toYearID, actorID string, result *models.PromotionResult) error {
	exists, err := s.repo.ExistsByStudentAndYear(ctx, source.StudentID, toYearID)
	if err != nil {
		return fmt.Errorf("verificando matrícula existente: %w", err)
	}
	if exists {
		return nil
	}

	targetGrade, err := s.resolveTargetGrade(ctx, source)
	if err != nil {
		return err
	}

	group, err := s.catalog.FindFirstGroupByGrade(ctx, targetGrade.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			result.Errors = append(result.Errors, fmt.Sprintf("No hay grupo disponible para %s", targetGrade.Name))
			return nil
		}
		return fmt.Errorf("buscando grupo destino: %w", err)
	}

	enrollment := &models.StudentEnrollment{
		StudentID:      source.StudentID,
		AcademicYearID: toYearID,
		GroupID:        group.ID,
		Type:           models.EnrollmentTypeRenewal,
		Status:         models.EnrollmentStatusActive,
		Shift:          source.Shift,
		Modality:       source.Modality,
		PromotedFromID: &source.ID,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("creando matrícula: %w", err)
	}
	if err := s.repo.SetPromotedTo(ctx, source.ID, enrollment.ID); err != nil {
		return fmt.Errorf("enlazando matrícula origen: %w", err)
	}

	movement := models.MovementTypeYearPromotion
	event := &models.EnrollmentEvent{
		EnrollmentID: enrollment.ID,
		Type:         models.EventTypeCreated,
		MovementType: &movement,
		NewValue:     marshalSnapshot(snapshotOf(enrollment)),
		Reason:       "Promoción de año lectivo",
		ActorID:      actorID,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return fmt.Errorf("registrando evento de matrícula: %w", err)
	}
	result.EnrollmentsCreated++
	return nil
}

// resolveTargetGrade picks the grade for the new enrollment. Promoted
// students advance to the next number within their stage; when no such
// grade exists they stay on the current one. Repeaters always stay.
func (s *EnrollmentService) resolveTargetGrade(ctx context.Context, source *models.StudentEnrollment) (*models.Grade, error) {
	current, err := s.catalog.FindGradeByGroupID(ctx, source.GroupID)
	if err != nil {
		return nil, fmt.Errorf("resolviendo grado actual: %w", err)
	}
	if source.Status != models.EnrollmentStatusPromoted {
		return current, nil
	}
	next, err := s.catalog.FindGradeByStageAndNumber(ctx, current.Stage, current.Number+1)
	if err != nil {
		if err == sql.ErrNoRows {
			return current, nil
		}
		return nil, fmt.Errorf("resolviendo grado siguiente: %w", err)
	}
	return next, nil
}
