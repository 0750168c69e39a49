package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigae-edu/sigae-api/internal/models"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

type mockEnrollmentStore struct {
	enrollments map[string]models.StudentEnrollment
	gradeValues map[string][]float64
	promotedTo  map[string]string
	counter     int
}

func (m *mockEnrollmentStore) ensure() {
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.StudentEnrollment)
	}
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id string) (*models.StudentEnrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) ExistsByStudentAndYear(ctx context.Context, studentID, yearID string) (bool, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.AcademicYearID == yearID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentStore) Create(ctx context.Context, enrollment *models.StudentEnrollment) error {
	m.ensure()
	if enrollment.ID == "" {
		m.counter++
		enrollment.ID = fmt.Sprintf("enroll-%d", m.counter)
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentStore) UpdateGroup(ctx context.Context, id, groupID string) error {
	if e, ok := m.enrollments[id]; ok {
		e.GroupID = groupID
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) SetWithdrawn(ctx context.Context, id string, date time.Time, reason string) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = models.EnrollmentStatusWithdrawn
		e.WithdrawalDate = &date
		e.WithdrawalReason = &reason
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) SetTransferred(ctx context.Context, id string) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = models.EnrollmentStatusTransferred
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) SetReactivated(ctx context.Context, id string) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = models.EnrollmentStatusActive
		e.Type = models.EnrollmentTypeReentry
		e.WithdrawalDate = nil
		e.WithdrawalReason = nil
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) SetFinalStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = status
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) SetPromotedTo(ctx context.Context, id, successorID string) error {
	if m.promotedTo == nil {
		m.promotedTo = make(map[string]string)
	}
	m.promotedTo[id] = successorID
	if e, ok := m.enrollments[id]; ok {
		e.PromotedToID = &successorID
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) ListByYear(ctx context.Context, yearID string, statuses ...models.EnrollmentStatus) ([]models.StudentEnrollment, error) {
	var list []models.StudentEnrollment
	for _, e := range m.enrollments {
		if e.AcademicYearID != yearID {
			continue
		}
		if len(statuses) == 0 {
			list = append(list, e)
			continue
		}
		for _, status := range statuses {
			if e.Status == status {
				list = append(list, e)
				break
			}
		}
	}
	return list, nil
}

func (m *mockEnrollmentStore) CountByStatus(ctx context.Context, yearID string) ([]models.EnrollmentStatusCount, error) {
	counts := make(map[models.EnrollmentStatus]int)
	for _, e := range m.enrollments {
		if e.AcademicYearID == yearID {
			counts[e.Status]++
		}
	}
	var rows []models.EnrollmentStatusCount
	for status, count := range counts {
		rows = append(rows, models.EnrollmentStatusCount{Status: status, Count: count})
	}
	return rows, nil
}

func (m *mockEnrollmentStore) CountByGroup(ctx context.Context, yearID string) ([]models.EnrollmentGroupCount, error) {
	counts := make(map[string]int)
	for _, e := range m.enrollments {
		if e.AcademicYearID == yearID {
			counts[e.GroupID]++
		}
	}
	var rows []models.EnrollmentGroupCount
	for groupID, count := range counts {
		rows = append(rows, models.EnrollmentGroupCount{GroupID: groupID, Count: count})
	}
	return rows, nil
}

func (m *mockEnrollmentStore) CountByYear(ctx context.Context, yearID string) (int, error) {
	count := 0
	for _, e := range m.enrollments {
		if e.AcademicYearID == yearID {
			count++
		}
	}
	return count, nil
}

func (m *mockEnrollmentStore) CountActiveByGroup(ctx context.Context, groupID, yearID string) (int, error) {
	count := 0
	for _, e := range m.enrollments {
		if e.GroupID == groupID && e.AcademicYearID == yearID && e.Status == models.EnrollmentStatusActive {
			count++
		}
	}
	return count, nil
}

func (m *mockEnrollmentStore) ListGradeValues(ctx context.Context, enrollmentID string) ([]float64, error) {
	return m.gradeValues[enrollmentID], nil
}

type mockYearReader struct {
	years map[string]models.AcademicYear
}

func (m *mockYearReader) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	if y, ok := m.years[id]; ok {
		return &y, nil
	}
	return nil, sql.ErrNoRows
}

type mockCatalog struct {
	groups       map[string]models.Group
	grades       map[string]models.Grade
	gradeByGroup map[string]string
	groupByGrade map[string]string
	acts         map[string]models.AcademicAct
}

func (m *mockCatalog) FindGroupByID(ctx context.Context, id string) (*models.Group, error) {
	if g, ok := m.groups[id]; ok {
		return &g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindGradeByID(ctx context.Context, id string) (*models.Grade, error) {
	if g, ok := m.grades[id]; ok {
		return &g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindGradeByGroupID(ctx context.Context, groupID string) (*models.Grade, error) {
	if gradeID, ok := m.gradeByGroup[groupID]; ok {
		return m.FindGradeByID(ctx, gradeID)
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindGradeByStageAndNumber(ctx context.Context, stage models.Stage, number int) (*models.Grade, error) {
	for _, g := range m.grades {
		if g.Stage == stage && g.Number == number {
			grade := g
			return &grade, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindFirstGroupByGrade(ctx context.Context, gradeID string) (*models.Group, error) {
	if groupID, ok := m.groupByGrade[gradeID]; ok {
		return m.FindGroupByID(ctx, groupID)
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindActByID(ctx context.Context, id string) (*models.AcademicAct, error) {
	if a, ok := m.acts[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

type mockEventStore struct {
	events []models.EnrollmentEvent
}

func (m *mockEventStore) Create(ctx context.Context, event *models.EnrollmentEvent) error {
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventStore) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrollmentEvent, error) {
	var list []models.EnrollmentEvent
	for _, e := range m.events {
		if e.EnrollmentID == enrollmentID {
			list = append(list, e)
		}
	}
	return list, nil
}

type mockStatsCache struct {
	values      map[string][]byte
	invalidated []string
}

func (m *mockStatsCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *mockStatsCache) Invalidate(ctx context.Context, keys ...string) {
	m.invalidated = append(m.invalidated, keys...)
	for _, key := range keys {
		delete(m.values, key)
	}
}

func activeYearFixture(id string) models.AcademicYear {
	return models.AcademicYear{
		ID:            id,
		InstitutionID: "inst-1",
		YearNumber:    2026,
		Name:          "Año Lectivo 2026",
		StartDate:     time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
		Status:        models.YearStatusActive,
	}
}

type enrollmentFixture struct {
	repo    *mockEnrollmentStore
	years   *mockYearReader
	catalog *mockCatalog
	events  *mockEventStore
	cache   *mockStatsCache
	svc     *EnrollmentService
}

func newEnrollmentFixture() *enrollmentFixture {
	f := &enrollmentFixture{
		repo: &mockEnrollmentStore{},
		years: &mockYearReader{years: map[string]models.AcademicYear{
			"y1": activeYearFixture("y1"),
		}},
		catalog: &mockCatalog{
			groups: map[string]models.Group{
				"g5a": {ID: "g5a", GradeID: "grade5", Name: "5A"},
				"g5b": {ID: "g5b", GradeID: "grade5", Name: "5B"},
			},
			grades: map[string]models.Grade{
				"grade5": {ID: "grade5", Name: "Quinto", Stage: models.StageBasicaPrimaria, Number: 5},
			},
			gradeByGroup: map[string]string{"g5a": "grade5", "g5b": "grade5"},
			groupByGrade: map[string]string{"grade5": "g5a"},
		},
		events: &mockEventStore{},
		cache:  &mockStatsCache{},
	}
	f.svc = NewEnrollmentService(f.repo, f.years, f.catalog, f.events, f.cache, time.Minute, nil, nil)
	return f
}

func TestEnrollCreatesActiveEnrollmentWithEvent(t *testing.T) {
	f := newEnrollmentFixture()

	enrollment, err := f.svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID:      "student-1",
		AcademicYearID: "y1",
		GroupID:        "g5a",
		Shift:          "MAÑANA",
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, models.EnrollmentTypeNew, enrollment.Type)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, models.EventTypeCreated, event.Type)
	assert.Equal(t, enrollment.ID, event.EnrollmentID)
	assert.Equal(t, "actor-1", event.ActorID)
	assert.Contains(t, f.cache.invalidated, "enrollment:stats:y1")
}

func TestEnrollRejectsDuplicateStudentYear(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "student-1", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusActive,
	}

	_, err := f.svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID:      "student-1",
		AcademicYearID: "y1",
		GroupID:        "g5b",
	}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollRequiresActiveYear(t *testing.T) {
	f := newEnrollmentFixture()
	year := f.years.years["y1"]
	year.Status = models.YearStatusDraft
	f.years.years["y1"] = year

	_, err := f.svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID:      "student-1",
		AcademicYearID: "y1",
		GroupID:        "g5a",
	}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestWithdrawThenReactivateScenario(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "student-1", AcademicYearID: "y1",
		GroupID: "g5a", Type: models.EnrollmentTypeNew,
		Status: models.EnrollmentStatusActive,
	}

	withdrawn, err := f.svc.Withdraw(context.Background(), "e1", WithdrawEnrollmentRequest{
		Reason: "cambio de domicilio",
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.WithdrawalReason)
	assert.Equal(t, "cambio de domicilio", *withdrawn.WithdrawalReason)

	reactivated, err := f.svc.Reactivate(context.Background(), "e1", ReactivateEnrollmentRequest{}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, reactivated.Status)
	assert.Equal(t, models.EnrollmentTypeReentry, reactivated.Type)
	assert.Nil(t, reactivated.WithdrawalDate)
	assert.Nil(t, reactivated.WithdrawalReason)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, models.EventTypeWithdrawn, f.events.events[0].Type)
	assert.Equal(t, models.EventTypeReactivated, f.events.events[1].Type)
}

func TestWithdrawRequiresActiveEnrollment(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "student-1", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusTransferred,
	}

	_, err := f.svc.Withdraw(context.Background(), "e1", WithdrawEnrollmentRequest{Reason: "x"}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestTransferIsTerminal(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "student-1", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusActive,
	}

	transferred, err := f.svc.Transfer(context.Background(), "e1", TransferEnrollmentRequest{
		Reason: "traslado a otra institución",
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusTransferred, transferred.Status)

	_, err = f.svc.Withdraw(context.Background(), "e1", WithdrawEnrollmentRequest{Reason: "x"}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestChangeGroupRecordsMovementEvent(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "student-1", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusActive,
	}

	moved, err := f.svc.ChangeGroup(context.Background(), "e1", ChangeGroupRequest{
		TargetGroupID: "g5b",
		Reason:        "reorganización de grupos",
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "g5b", moved.GroupID)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, models.EventTypeGroupChanged, event.Type)
	require.NotNil(t, event.MovementType)
	assert.Equal(t, models.MovementTypeGroupReassignment, *event.MovementType)

	var previous, current enrollmentSnapshot
	require.NoError(t, json.Unmarshal(event.PreviousValue, &previous))
	require.NoError(t, json.Unmarshal(event.NewValue, &current))
	assert.Equal(t, "g5a", previous.GroupID)
	assert.Equal(t, "g5b", current.GroupID)
}

func TestStatsComputesAndCaches(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.ensure()
	f.repo.enrollments["e1"] = models.StudentEnrollment{
		ID: "e1", StudentID: "s1", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusActive,
	}
	f.repo.enrollments["e2"] = models.StudentEnrollment{
		ID: "e2", StudentID: "s2", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusWithdrawn,
	}

	stats, err := f.svc.Stats(context.Background(), "y1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Contains(t, f.cache.values, "enrollment:stats:y1")

	// Second read must come from the cache even if the store changes.
	f.repo.enrollments["e3"] = models.StudentEnrollment{
		ID: "e3", StudentID: "s3", AcademicYearID: "y1",
		GroupID: "g5a", Status: models.EnrollmentStatusActive,
	}
	cached, err := f.svc.Stats(context.Background(), "y1")
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Total)
}
