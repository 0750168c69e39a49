package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// CatalogRepository provides read-only lookups over the grade, group and
// academic act catalogs. Catalog CRUD belongs to the surrounding admin
// modules; the lifecycle engines only resolve references.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindGradeByID returns a grade by its ID.
func (r *CatalogRepository) FindGradeByID(ctx context.Context, id string) (*models.Grade, error) {
	const query = `SELECT id, name, stage, number, created_at, updated_at FROM grades WHERE id = $1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// FindGradeByStageAndNumber returns the grade matching the exact stage
// and number, used for the promotion next-grade lookup.
func (r *CatalogRepository) FindGradeByStageAndNumber(ctx context.Context, stage models.Stage, number int) (*models.Grade, error) {
	const query = `SELECT id, name, stage, number, created_at, updated_at FROM grades WHERE stage = $1 AND number = $2 LIMIT 1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, stage, number); err != nil {
		return nil, err
	}
	return &grade, nil
}

// FindGroupByID returns a group by its ID.
func (r *CatalogRepository) FindGroupByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, grade_id, campus_id, shift, name, max_capacity, created_at, updated_at FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindFirstGroupByGrade returns the first group configured for a grade.
// Bulk promotion assigns students to it without a capacity check.
func (r *CatalogRepository) FindFirstGroupByGrade(ctx context.Context, gradeID string) (*models.Group, error) {
	const query = `SELECT id, grade_id, campus_id, shift, name, max_capacity, created_at, updated_at
        FROM groups WHERE grade_id = $1 ORDER BY name ASC LIMIT 1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, gradeID); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindActByID returns an academic act by its ID.
func (r *CatalogRepository) FindActByID(ctx context.Context, id string) (*models.AcademicAct, error) {
	const query = `SELECT id, number, title, approval_date, created_at FROM academic_acts WHERE id = $1`
	var act models.AcademicAct
	if err := r.db.GetContext(ctx, &act, query, id); err != nil {
		return nil, err
	}
	return &act, nil
}

// FindGradeByGroupID resolves the grade a group belongs to in one query.
func (r *CatalogRepository) FindGradeByGroupID(ctx context.Context, groupID string) (*models.Grade, error) {
	const query = `SELECT gr.id, gr.name, gr.stage, gr.number, gr.created_at, gr.updated_at
        FROM grades gr JOIN groups g ON g.grade_id = gr.id WHERE g.id = $1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, groupID); err != nil {
		return nil, err
	}
	return &grade, nil
}
