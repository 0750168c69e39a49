package models

import "time"

// EnrollmentType classifies how the student entered the year.
type EnrollmentType string

const (
	EnrollmentTypeNew      EnrollmentType = "NEW"
	EnrollmentTypeRenewal  EnrollmentType = "RENEWAL"
	EnrollmentTypeReentry  EnrollmentType = "REENTRY"
	EnrollmentTypeTransfer EnrollmentType = "TRANSFER"
)

// EnrollmentStatus represents the lifecycle of an enrollment within its
// academic year.
type EnrollmentStatus string

const (
	EnrollmentStatusActive      EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWithdrawn   EnrollmentStatus = "WITHDRAWN"
	EnrollmentStatusTransferred EnrollmentStatus = "TRANSFERRED"
	EnrollmentStatusPromoted    EnrollmentStatus = "PROMOTED"
	EnrollmentStatusRepeated    EnrollmentStatus = "REPEATED"
)

// StudentEnrollment binds one student to one group within one academic
// year. A student has at most one enrollment per year. Rows are never
// physically deleted by the lifecycle engine.
type StudentEnrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	AcademicYearID   string           `db:"academic_year_id" json:"academic_year_id"`
	GroupID          string           `db:"group_id" json:"group_id"`
	Type             EnrollmentType   `db:"type" json:"type"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	Shift            string           `db:"shift" json:"shift"`
	Modality         string           `db:"modality" json:"modality"`
	WithdrawalDate   *time.Time       `db:"withdrawal_date" json:"withdrawal_date,omitempty"`
	WithdrawalReason *string          `db:"withdrawal_reason" json:"withdrawal_reason,omitempty"`
	PromotedFromID   *string          `db:"promoted_from_id" json:"promoted_from_id,omitempty"`
	PromotedToID     *string          `db:"promoted_to_id" json:"promoted_to_id,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches StudentEnrollment with student and group info.
type EnrollmentDetail struct {
	StudentEnrollment
	StudentName string `db:"student_name" json:"student_name"`
	GroupName   string `db:"group_name" json:"group_name"`
	GradeID     string `db:"grade_id" json:"grade_id"`
	GradeName   string `db:"grade_name" json:"grade_name"`
	YearName    string `db:"year_name" json:"year_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID      string
	AcademicYearID string
	GroupID        string
	Status         EnrollmentStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// EnrollmentStatusCount is one row of the per-status aggregation.
type EnrollmentStatusCount struct {
	Status EnrollmentStatus `db:"status" json:"status"`
	Count  int              `db:"count" json:"count"`
}

// EnrollmentGroupCount is one row of the per-group aggregation.
type EnrollmentGroupCount struct {
	GroupID   string `db:"group_id" json:"group_id"`
	GroupName string `db:"group_name" json:"group_name"`
	Count     int    `db:"count" json:"count"`
}

// EnrollmentStats aggregates enrollment counts for one academic year.
type EnrollmentStats struct {
	AcademicYearID string                  `json:"academic_year_id"`
	Total          int                     `json:"total"`
	ByStatus       []EnrollmentStatusCount `json:"by_status"`
	ByGroup        []EnrollmentGroupCount  `json:"by_group"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

// PromotionResult reports the outcome of the cross-year bulk promotion.
// Per-student failures are collected rather than aborting the batch.
type PromotionResult struct {
	EnrollmentsCreated int      `json:"enrollments_created"`
	Errors             []string `json:"errors"`
}
