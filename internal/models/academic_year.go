package models

import "time"

// YearStatus represents the lifecycle of an academic year.
type YearStatus string

// Possible year statuses. The progression is strictly DRAFT -> ACTIVE ->
// CLOSED; a closed year never transitions again.
const (
	YearStatusDraft  YearStatus = "DRAFT"
	YearStatusActive YearStatus = "ACTIVE"
	YearStatusClosed YearStatus = "CLOSED"
)

// AcademicYear identifies one school year for one institution.
type AcademicYear struct {
	ID            string     `db:"id" json:"id"`
	InstitutionID string     `db:"institution_id" json:"institution_id"`
	YearNumber    int        `db:"year_number" json:"year_number"`
	Name          string     `db:"name" json:"name"`
	StartDate     time.Time  `db:"start_date" json:"start_date"`
	EndDate       time.Time  `db:"end_date" json:"end_date"`
	Status        YearStatus `db:"status" json:"status"`
	ActivatedAt   *time.Time `db:"activated_at" json:"activated_at,omitempty"`
	ActivatedBy   *string    `db:"activated_by" json:"activated_by,omitempty"`
	ClosedAt      *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy      *string    `db:"closed_by" json:"closed_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// CanEditStructure reports whether the year's structure (terms, groups)
// may still be edited. Only draft years are editable.
func (y *AcademicYear) CanEditStructure() bool {
	return y != nil && y.Status == YearStatusDraft
}

// CanRecordGrades reports whether grades may be recorded for the year.
func (y *AcademicYear) CanRecordGrades() bool {
	return y != nil && y.Status == YearStatusActive
}

// CanEnrollStudents reports whether new enrollments are accepted.
func (y *AcademicYear) CanEnrollStudents() bool {
	return y != nil && y.Status == YearStatusActive
}

// CanModify reports whether enrollment mutations are still allowed.
// Everything short of closure keeps the year mutable.
func (y *AcademicYear) CanModify() bool {
	return y != nil && y.Status != YearStatusClosed
}

// Progress returns the elapsed fraction of the year's date range at the
// given instant, clamped to [0, 1].
func (y *AcademicYear) Progress(now time.Time) float64 {
	if y == nil || !y.EndDate.After(y.StartDate) {
		return 0
	}
	elapsed := now.Sub(y.StartDate).Seconds()
	total := y.EndDate.Sub(y.StartDate).Seconds()
	progress := elapsed / total
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

// YearFilter provides filters for listing academic years.
type YearFilter struct {
	InstitutionID string
	Status        YearStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// YearClosureResult summarises the promotion computation run at closure.
type YearClosureResult struct {
	PromotedCount  int `json:"promoted_count"`
	RepeatedCount  int `json:"repeated_count"`
	WithdrawnCount int `json:"withdrawn_count"`
}
