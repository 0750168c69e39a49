package models

import "time"

// EventType identifies the lifecycle operation that produced an event.
type EventType string

const (
	EventTypeCreated      EventType = "CREATED"
	EventTypeWithdrawn    EventType = "WITHDRAWN"
	EventTypeTransferred  EventType = "TRANSFERRED"
	EventTypeGroupChanged EventType = "GROUP_CHANGED"
	EventTypeReactivated  EventType = "REACTIVATED"
	EventTypeGradeChanged EventType = "GRADE_CHANGED"
	EventTypePromoted     EventType = "PROMOTED"
	EventTypeRepeated     EventType = "REPEATED"
)

// MovementType further classifies the kind of student movement behind
// certain events.
type MovementType string

const (
	MovementTypeTransferIn        MovementType = "TRANSFER_IN"
	MovementTypeGroupReassignment MovementType = "GROUP_REASSIGNMENT"
	MovementTypeGradePromotion    MovementType = "GRADE_PROMOTION"
	MovementTypeGradeDemotion     MovementType = "GRADE_DEMOTION"
	MovementTypeYearPromotion     MovementType = "YEAR_PROMOTION"
)

// EnrollmentEvent is an immutable audit record. Events are append-only:
// one is produced per successful mutation and none is ever rewritten or
// deleted, so the full previous/new snapshots allow audit replay.
type EnrollmentEvent struct {
	ID            string        `db:"id" json:"id"`
	EnrollmentID  string        `db:"enrollment_id" json:"enrollment_id"`
	Type          EventType     `db:"type" json:"type"`
	MovementType  *MovementType `db:"movement_type" json:"movement_type,omitempty"`
	PreviousValue []byte        `db:"previous_value" json:"previous_value,omitempty"`
	NewValue      []byte        `db:"new_value" json:"new_value,omitempty"`
	Reason        string        `db:"reason" json:"reason"`
	Observations  *string       `db:"observations" json:"observations,omitempty"`
	AcademicActID *string       `db:"academic_act_id" json:"academic_act_id,omitempty"`
	ActorID       string        `db:"actor_id" json:"actor_id"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
