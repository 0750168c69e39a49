package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// TermRepository handles persistence of academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository constructs the repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// ListByYear returns the terms of a year ordered by position.
func (r *TermRepository) ListByYear(ctx context.Context, yearID string) ([]models.AcademicTerm, error) {
	const query = `SELECT id, academic_year_id, name, position, weight, start_date, end_date, created_at, updated_at
        FROM academic_terms WHERE academic_year_id = $1 ORDER BY position ASC`
	var terms []models.AcademicTerm
	if err := r.db.SelectContext(ctx, &terms, query, yearID); err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return terms, nil
}

// Create persists a new academic term.
func (r *TermRepository) Create(ctx context.Context, term *models.AcademicTerm) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	term.CreatedAt = now
	term.UpdatedAt = now
	const query = `INSERT INTO academic_terms (id, academic_year_id, name, position, weight, start_date, end_date, created_at, updated_at)
        VALUES (:id, :academic_year_id, :name, :position, :weight, :start_date, :end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}
