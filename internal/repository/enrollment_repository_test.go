package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sigae-edu/sigae-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentRowColumns() []string {
	return []string{"id", "student_id", "academic_year_id", "group_id", "type", "status", "shift", "modality",
		"withdrawal_date", "withdrawal_reason", "promoted_from_id", "promoted_to_id", "created_at", "updated_at"}
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns()).
		AddRow("enr-1", "stu-1", "year-1", "group-1", models.EnrollmentTypeNew, models.EnrollmentStatusActive,
			"MAÑANA", "PRESENCIAL", nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM student_enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, "stu-1", enrollment.StudentID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsByStudentAndYear(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND academic_year_id = $2 LIMIT 1")).
		WithArgs("stu-1", "year-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsByStudentAndYear(context.Background(), "stu-1", "year-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.StudentEnrollment{
		StudentID:      "stu-1",
		AcademicYearID: "year-1",
		GroupID:        "group-1",
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentTypeNew, enrollment.Type)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetWithdrawn(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	date := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_enrollments SET status = $2, withdrawal_date = $3, withdrawal_reason = $4")).
		WithArgs("enr-1", models.EnrollmentStatusWithdrawn, date, "cambio de domicilio", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetWithdrawn(context.Background(), "enr-1", date, "cambio de domicilio"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetReactivatedClearsWithdrawal(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("withdrawal_date = NULL, withdrawal_reason = NULL")).
		WithArgs("enr-1", models.EnrollmentStatusActive, models.EnrollmentTypeReentry, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetReactivated(context.Background(), "enr-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByYearFiltersStatuses(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns()).
		AddRow("enr-1", "stu-1", "year-1", "group-1", models.EnrollmentTypeNew, models.EnrollmentStatusPromoted,
			"", "", nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE academic_year_id = $1 AND status IN ($2,$3) ORDER BY created_at ASC")).
		WithArgs("year-1", models.EnrollmentStatusPromoted, models.EnrollmentStatusRepeated).
		WillReturnRows(rows)

	enrollments, err := repo.ListByYear(context.Background(), "year-1",
		models.EnrollmentStatusPromoted, models.EnrollmentStatusRepeated)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountActiveByGroup(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM student_enrollments WHERE group_id = $1 AND academic_year_id = $2 AND status = $3")).
		WithArgs("group-1", "year-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(27))

	count, err := repo.CountActiveByGroup(context.Background(), "group-1", "year-1")
	require.NoError(t, err)
	require.Equal(t, 27, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListGradeValues(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT grade_value FROM subject_grades WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"grade_value"}).AddRow(3.5).AddRow(4.2))

	values, err := repo.ListGradeValues(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, []float64{3.5, 4.2}, values)
	require.NoError(t, mock.ExpectationsWereMet())
}
