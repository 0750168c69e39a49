package models

// ChangeType classifies a proposed group change relative to the grade
// ordering.
type ChangeType string

const (
	ChangeTypeSameGrade ChangeType = "SAME_GRADE"
	ChangeTypePromotion ChangeType = "PROMOTION"
	ChangeTypeDemotion  ChangeType = "DEMOTION"
)

// GradeChangeValidation is the outcome of evaluating the grade-change
// rule table for a proposed move. Requirements inform the caller what
// paperwork is expected; restrictions block the change outright.
type GradeChangeValidation struct {
	CanChange    bool       `json:"can_change"`
	ChangeType   ChangeType `json:"change_type"`
	Warnings     []string   `json:"warnings"`
	Requirements []string   `json:"requirements"`
	Restrictions []string   `json:"restrictions"`
}
