package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// EventRepository persists enrollment audit events. The table is
// append-only: there are no update or delete statements here, and there
// must never be.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create appends a new audit event.
func (r *EventRepository) Create(ctx context.Context, event *models.EnrollmentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_events (id, enrollment_id, type, movement_type, previous_value, new_value,
        reason, observations, academic_act_id, actor_id, created_at)
        VALUES (:id, :enrollment_id, :type, :movement_type, :previous_value, :new_value,
        :reason, :observations, :academic_act_id, :actor_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create enrollment event: %w", err)
	}
	return nil
}

// ListByEnrollment returns the enrollment's audit trail oldest first.
func (r *EventRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrollmentEvent, error) {
	const query = `SELECT id, enrollment_id, type, movement_type, previous_value, new_value,
        reason, observations, academic_act_id, actor_id, created_at
        FROM enrollment_events WHERE enrollment_id = $1 ORDER BY created_at ASC`
	var events []models.EnrollmentEvent
	if err := r.db.SelectContext(ctx, &events, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment events: %w", err)
	}
	return events, nil
}
