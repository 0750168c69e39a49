package service

import (
	"encoding/json"
	"time"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// enrollmentSnapshot is the structured payload stored on audit events.
// Snapshots are opaque to the engine; they exist for audit replay.
type enrollmentSnapshot struct {
	Status           models.EnrollmentStatus `json:"status"`
	Type             models.EnrollmentType   `json:"type"`
	GroupID          string                  `json:"group_id"`
	GradeID          string                  `json:"grade_id,omitempty"`
	Shift            string                  `json:"shift,omitempty"`
	Modality         string                  `json:"modality,omitempty"`
	WithdrawalDate   *time.Time              `json:"withdrawal_date,omitempty"`
	WithdrawalReason *string                 `json:"withdrawal_reason,omitempty"`
}

func snapshotOf(e *models.StudentEnrollment) enrollmentSnapshot {
	if e == nil {
		return enrollmentSnapshot{}
	}
	return enrollmentSnapshot{
		Status:           e.Status,
		Type:             e.Type,
		GroupID:          e.GroupID,
		Shift:            e.Shift,
		Modality:         e.Modality,
		WithdrawalDate:   e.WithdrawalDate,
		WithdrawalReason: e.WithdrawalReason,
	}
}

func marshalSnapshot(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return payload
}
