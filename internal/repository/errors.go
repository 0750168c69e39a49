package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation. The one-active-year and one-enrollment-per-year invariants
// rely on database uniqueness, so concurrent writers surface here.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
