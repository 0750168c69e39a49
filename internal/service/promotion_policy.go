package service

import (
	"context"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// PromotionPolicy decides whether an active enrollment passes the year
// when it is closed. The decision is deliberately pluggable so the
// institutional rule (grade averages, attendance, council decisions) can
// evolve without touching the year state machine.
type PromotionPolicy interface {
	ShouldPromote(ctx context.Context, enrollment models.StudentEnrollment) (bool, error)
}

// PromotionPolicyFunc allows using plain functions as policies.
type PromotionPolicyFunc func(ctx context.Context, enrollment models.StudentEnrollment) (bool, error)

// ShouldPromote implements PromotionPolicy.
func (f PromotionPolicyFunc) ShouldPromote(ctx context.Context, enrollment models.StudentEnrollment) (bool, error) {
	return f(ctx, enrollment)
}

// PromoteAllPolicy promotes every active enrollment. It stands in until
// an average-based policy is wired into the closure flow, once final
// subject grades are consolidated per enrollment.
func PromoteAllPolicy() PromotionPolicy {
	return PromotionPolicyFunc(func(context.Context, models.StudentEnrollment) (bool, error) {
		return true, nil
	})
}
