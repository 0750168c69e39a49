package models

import "time"

// AcademicTerm is a grading period within an academic year. Terms are
// ordered by position and weighted for final grade computation; the term
// itself carries no state machine.
type AcademicTerm struct {
	ID             string    `db:"id" json:"id"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	Name           string    `db:"name" json:"name"`
	Position       int       `db:"position" json:"position"`
	Weight         float64   `db:"weight" json:"weight"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	EndDate        time.Time `db:"end_date" json:"end_date"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
