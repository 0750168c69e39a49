package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// EnrollmentRepository handles persistence of student enrollments.
//
// student_enrollments carries a unique constraint on
// (student_id, academic_year_id); duplicate enrollments for the same
// student and year fail at the database even under concurrency.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, academic_year_id, group_id, type, status, shift, modality,
        withdrawal_date, withdrawal_reason, promoted_from_id, promoted_to_id, created_at, updated_at`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM student_enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN groups g ON g.id = e.group_id
LEFT JOIN grades gr ON gr.id = g.grade_id
LEFT JOIN academic_years y ON y.id = e.academic_year_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AcademicYearID != "" {
		conditions = append(conditions, fmt.Sprintf("e.academic_year_id = $%d", len(args)+1))
		args = append(args, filter.AcademicYearID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("e.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "s.full_name",
		"group_name":   "g.name",
	}
	sortBy := allowedSorts[filter.SortBy]
	if sortBy == "" {
		sortBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.academic_year_id, e.group_id, e.type, e.status,
        e.shift, e.modality, e.withdrawal_date, e.withdrawal_reason, e.promoted_from_id, e.promoted_to_id,
        e.created_at, e.updated_at,
        s.full_name AS student_name, g.name AS group_name, gr.id AS grade_id, gr.name AS grade_name, y.name AS year_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, sortBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.StudentEnrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM student_enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.StudentEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsByStudentAndYear checks whether the student already has an
// enrollment in the given year, regardless of status.
func (r *EnrollmentRepository) ExistsByStudentAndYear(ctx context.Context, studentID, yearID string) (bool, error) {
	const query = `SELECT 1 FROM student_enrollments WHERE student_id = $1 AND academic_year_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, yearID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.StudentEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Type == "" {
		enrollment.Type = models.EnrollmentTypeNew
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO student_enrollments (id, student_id, academic_year_id, group_id, type, status,
        shift, modality, withdrawal_date, withdrawal_reason, promoted_from_id, promoted_to_id, created_at, updated_at)
        VALUES (:id, :student_id, :academic_year_id, :group_id, :type, :status,
        :shift, :modality, :withdrawal_date, :withdrawal_reason, :promoted_from_id, :promoted_to_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateGroup updates the group reference for an enrollment.
func (r *EnrollmentRepository) UpdateGroup(ctx context.Context, id, groupID string) error {
	const query = `UPDATE student_enrollments SET group_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, groupID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment group: %w", err)
	}
	return nil
}

// SetWithdrawn marks the enrollment withdrawn recording date and reason.
func (r *EnrollmentRepository) SetWithdrawn(ctx context.Context, id string, date time.Time, reason string) error {
	const query = `UPDATE student_enrollments SET status = $2, withdrawal_date = $3, withdrawal_reason = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusWithdrawn, date, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("withdraw enrollment: %w", err)
	}
	return nil
}

// SetTransferred marks the enrollment transferred; terminal for the year.
func (r *EnrollmentRepository) SetTransferred(ctx context.Context, id string) error {
	const query = `UPDATE student_enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusTransferred, time.Now().UTC()); err != nil {
		return fmt.Errorf("transfer enrollment: %w", err)
	}
	return nil
}

// SetReactivated returns a withdrawn enrollment to active, clearing the
// withdrawal fields and forcing the reentry type.
func (r *EnrollmentRepository) SetReactivated(ctx context.Context, id string) error {
	const query = `UPDATE student_enrollments
        SET status = $2, type = $3, withdrawal_date = NULL, withdrawal_reason = NULL, updated_at = $4
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusActive, models.EnrollmentTypeReentry, time.Now().UTC()); err != nil {
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	return nil
}

// SetFinalStatus records the year-closure outcome (PROMOTED or REPEATED).
func (r *EnrollmentRepository) SetFinalStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE student_enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("set enrollment final status: %w", err)
	}
	return nil
}

// SetPromotedTo links a source enrollment forward to its next-year
// successor created by the bulk promotion.
func (r *EnrollmentRepository) SetPromotedTo(ctx context.Context, id, successorID string) error {
	const query = `UPDATE student_enrollments SET promoted_to_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, successorID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link promoted enrollment: %w", err)
	}
	return nil
}

// ListByYear returns all enrollments of a year, optionally restricted to
// the given statuses.
func (r *EnrollmentRepository) ListByYear(ctx context.Context, yearID string, statuses ...models.EnrollmentStatus) ([]models.StudentEnrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM student_enrollments WHERE academic_year_id = $1", enrollmentColumns)
	args := []interface{}{yearID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, status)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY created_at ASC"
	var enrollments []models.StudentEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list year enrollments: %w", err)
	}
	return enrollments, nil
}

// CountByYear returns the number of enrollments in a year.
func (r *EnrollmentRepository) CountByYear(ctx context.Context, yearID string) (int, error) {
	const query = `SELECT COUNT(*) FROM student_enrollments WHERE academic_year_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, yearID); err != nil {
		return 0, fmt.Errorf("count year enrollments: %w", err)
	}
	return count, nil
}

// CountActiveByGroup counts the group's active enrollments within a year
// for capacity checks. Groups outlive years, so enrollments left active
// in earlier years must not occupy seats.
func (r *EnrollmentRepository) CountActiveByGroup(ctx context.Context, groupID, yearID string) (int, error) {
	const query = `SELECT COUNT(*) FROM student_enrollments WHERE group_id = $1 AND academic_year_id = $2 AND status = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID, yearID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count group enrollments: %w", err)
	}
	return count, nil
}

// CountByStatus aggregates year enrollments by status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, yearID string) ([]models.EnrollmentStatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM student_enrollments
        WHERE academic_year_id = $1 GROUP BY status ORDER BY status ASC`
	var counts []models.EnrollmentStatusCount
	if err := r.db.SelectContext(ctx, &counts, query, yearID); err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	return counts, nil
}

// CountByGroup aggregates year enrollments by group.
func (r *EnrollmentRepository) CountByGroup(ctx context.Context, yearID string) ([]models.EnrollmentGroupCount, error) {
	const query = `SELECT e.group_id, g.name AS group_name, COUNT(*) AS count
        FROM student_enrollments e
        LEFT JOIN groups g ON g.id = e.group_id
        WHERE e.academic_year_id = $1 GROUP BY e.group_id, g.name ORDER BY g.name ASC`
	var counts []models.EnrollmentGroupCount
	if err := r.db.SelectContext(ctx, &counts, query, yearID); err != nil {
		return nil, fmt.Errorf("count enrollments by group: %w", err)
	}
	return counts, nil
}

// ListGradeValues returns the student's recorded subject grade values for
// the enrollment, used by the grade-change average rule.
func (r *EnrollmentRepository) ListGradeValues(ctx context.Context, enrollmentID string) ([]float64, error) {
	const query = `SELECT grade_value FROM subject_grades WHERE enrollment_id = $1`
	var values []float64
	if err := r.db.SelectContext(ctx, &values, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list grade values: %w", err)
	}
	return values, nil
}
