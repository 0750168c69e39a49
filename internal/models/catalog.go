package models

import "time"

// Stage is one of the four pedagogical bands used to order grades.
type Stage string

const (
	StagePreescolar       Stage = "PREESCOLAR"
	StageBasicaPrimaria   Stage = "BASICA_PRIMARIA"
	StageBasicaSecundaria Stage = "BASICA_SECUNDARIA"
	StageMedia            Stage = "MEDIA"
)

// stageWeights spaces stages far enough apart that no grade number can
// cross into the next band.
var stageWeights = map[Stage]int{
	StagePreescolar:       0,
	StageBasicaPrimaria:   100,
	StageBasicaSecundaria: 200,
	StageMedia:            300,
}

// StageWeight returns the ordering weight for a stage. Unknown stages
// weigh zero.
func StageWeight(s Stage) int {
	return stageWeights[s]
}

// Grade is a pedagogical level within a stage.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Stage     Stage     `db:"stage" json:"stage"`
	Number    int       `db:"number" json:"number"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderKey maps the grade's (stage, number) pair onto a total order. It
// underlies both the promotion next-grade lookup and grade-change
// classification.
func (g *Grade) OrderKey() int {
	if g == nil {
		return 0
	}
	return StageWeight(g.Stage) + g.Number
}

// Group is a concrete class within a grade at a campus and shift.
type Group struct {
	ID          string    `db:"id" json:"id"`
	GradeID     string    `db:"grade_id" json:"grade_id"`
	CampusID    string    `db:"campus_id" json:"campus_id"`
	Shift       string    `db:"shift" json:"shift"`
	Name        string    `db:"name" json:"name"`
	MaxCapacity *int      `db:"max_capacity" json:"max_capacity,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AcademicAct is a formal institutional approval document. Grade changes
// that require one are rejected unless the referenced act has an approval
// date.
type AcademicAct struct {
	ID           string     `db:"id" json:"id"`
	Number       string     `db:"number" json:"number"`
	Title        string     `db:"title" json:"title"`
	ApprovalDate *time.Time `db:"approval_date" json:"approval_date,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Approved reports whether the act carries an approval date.
func (a *AcademicAct) Approved() bool {
	return a != nil && a.ApprovalDate != nil
}
