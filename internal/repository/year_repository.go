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

// YearRepository handles persistence of academic years.
//
// The academic_years table carries a partial unique index on
// (institution_id) WHERE status = 'ACTIVE', so at most one year per
// institution can be active regardless of concurrent activations.
type YearRepository struct {
	db *sqlx.DB
}

// NewYearRepository constructs the repository.
func NewYearRepository(db *sqlx.DB) *YearRepository {
	return &YearRepository{db: db}
}

const yearColumns = `id, institution_id, year_number, name, start_date, end_date, status,
        activated_at, activated_by, closed_at, closed_by, created_at, updated_at`

// List returns academic years filtered by the provided criteria.
func (r *YearRepository) List(ctx context.Context, filter models.YearFilter) ([]models.AcademicYear, int, error) {
	base := "FROM academic_years"
	var conditions []string
	var args []interface{}

	if filter.InstitutionID != "" {
		conditions = append(conditions, fmt.Sprintf("institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY year_number %s LIMIT %d OFFSET %d",
		yearColumns, base+clause, order, size, offset)

	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list academic years: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count academic years: %w", err)
	}
	return years, total, nil
}

// FindByID returns an academic year by its ID.
func (r *YearRepository) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years WHERE id = $1", yearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindActiveByInstitution returns the institution's currently active year.
func (r *YearRepository) FindActiveByInstitution(ctx context.Context, institutionID string) (*models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years WHERE institution_id = $1 AND status = $2 LIMIT 1", yearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, institutionID, models.YearStatusActive); err != nil {
		return nil, err
	}
	return &year, nil
}

// ExistsYearNumber checks whether the institution already has a year with
// the given number.
func (r *YearRepository) ExistsYearNumber(ctx context.Context, institutionID string, yearNumber int) (bool, error) {
	const query = `SELECT 1 FROM academic_years WHERE institution_id = $1 AND year_number = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, institutionID, yearNumber); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check year number: %w", err)
	}
	return true, nil
}

// Create persists a new academic year in draft status.
func (r *YearRepository) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	if year.Status == "" {
		year.Status = models.YearStatusDraft
	}
	now := time.Now().UTC()
	year.CreatedAt = now
	year.UpdatedAt = now
	const query = `INSERT INTO academic_years (id, institution_id, year_number, name, start_date, end_date, status, created_at, updated_at)
        VALUES (:id, :institution_id, :year_number, :name, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create academic year: %w", err)
	}
	return nil
}

// MarkActive flips the year from DRAFT to ACTIVE recording the actor.
// The status guard in the WHERE clause plus the partial unique index make
// concurrent activations race-safe: one writer wins, the other sees
// either zero affected rows or a unique violation.
func (r *YearRepository) MarkActive(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	const query = `UPDATE academic_years
        SET status = $2, activated_at = $3, activated_by = $4, updated_at = $3
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.YearStatusActive, at, actorID, models.YearStatusDraft)
	if err != nil {
		return false, fmt.Errorf("activate academic year: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate academic year: %w", err)
	}
	return affected > 0, nil
}

// MarkClosed flips the year from ACTIVE to CLOSED recording the actor.
func (r *YearRepository) MarkClosed(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	const query = `UPDATE academic_years
        SET status = $2, closed_at = $3, closed_by = $4, updated_at = $3
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.YearStatusClosed, at, actorID, models.YearStatusActive)
	if err != nil {
		return false, fmt.Errorf("close academic year: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close academic year: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a draft year. Callers must verify the draft guard and
// the absence of enrollments first.
func (r *YearRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM academic_years WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete academic year: %w", err)
	}
	return nil
}

// CountTerms returns how many terms are configured for the year.
func (r *YearRepository) CountTerms(ctx context.Context, yearID string) (int, error) {
	const query = `SELECT COUNT(*) FROM academic_terms WHERE academic_year_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, yearID); err != nil {
		return 0, fmt.Errorf("count terms: %w", err)
	}
	return count, nil
}
