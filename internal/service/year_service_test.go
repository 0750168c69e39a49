package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigae-edu/sigae-api/internal/models"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
)

type mockYearRepo struct {
	years      map[string]models.AcademicYear
	activeByID map[string]string
	termCounts map[string]int
	existing   map[int]bool
	deleted    []string
}

func (m *mockYearRepo) List(ctx context.Context, filter models.YearFilter) ([]models.AcademicYear, int, error) {
	var list []models.AcademicYear
	for _, y := range m.years {
		list = append(list, y)
	}
	return list, len(list), nil
}

func (m *mockYearRepo) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	if y, ok := m.years[id]; ok {
		return &y, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockYearRepo) FindActiveByInstitution(ctx context.Context, institutionID string) (*models.AcademicYear, error) {
	if id, ok := m.activeByID[institutionID]; ok {
		y := m.years[id]
		return &y, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockYearRepo) ExistsYearNumber(ctx context.Context, institutionID string, yearNumber int) (bool, error) {
	return m.existing[yearNumber], nil
}

func (m *mockYearRepo) Create(ctx context.Context, year *models.AcademicYear) error {
	if m.years == nil {
		m.years = make(map[string]models.AcademicYear)
	}
	if year.ID == "" {
		year.ID = "new-year"
	}
	m.years[year.ID] = *year
	return nil
}

func (m *mockYearRepo) MarkActive(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	y, ok := m.years[id]
	if !ok || y.Status != models.YearStatusDraft {
		return false, nil
	}
	y.Status = models.YearStatusActive
	y.ActivatedAt = &at
	y.ActivatedBy = &actorID
	m.years[id] = y
	return true, nil
}

func (m *mockYearRepo) MarkClosed(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	y, ok := m.years[id]
	if !ok || y.Status != models.YearStatusActive {
		return false, nil
	}
	y.Status = models.YearStatusClosed
	y.ClosedAt = &at
	y.ClosedBy = &actorID
	m.years[id] = y
	return true, nil
}

func (m *mockYearRepo) Delete(ctx context.Context, id string) error {
	delete(m.years, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockYearRepo) CountTerms(ctx context.Context, yearID string) (int, error) {
	return m.termCounts[yearID], nil
}

type mockTermStore struct {
	terms []models.AcademicTerm
}

func (m *mockTermStore) ListByYear(ctx context.Context, yearID string) ([]models.AcademicTerm, error) {
	return m.terms, nil
}

func (m *mockTermStore) Create(ctx context.Context, term *models.AcademicTerm) error {
	if term.ID == "" {
		term.ID = "new-term"
	}
	m.terms = append(m.terms, *term)
	return nil
}

type mockClosureStore struct {
	enrollments []models.StudentEnrollment
	statuses    map[string]models.EnrollmentStatus
	countByYear int
}

func (m *mockClosureStore) ListByYear(ctx context.Context, yearID string, statuses ...models.EnrollmentStatus) ([]models.StudentEnrollment, error) {
	return m.enrollments, nil
}

func (m *mockClosureStore) SetFinalStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	if m.statuses == nil {
		m.statuses = make(map[string]models.EnrollmentStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockClosureStore) CountByYear(ctx context.Context, yearID string) (int, error) {
	return m.countByYear, nil
}

type mockEventWriter struct {
	events []models.EnrollmentEvent
}

func (m *mockEventWriter) Create(ctx context.Context, event *models.EnrollmentEvent) error {
	m.events = append(m.events, *event)
	return nil
}

func draftYear(id string) models.AcademicYear {
	return models.AcademicYear{
		ID:            id,
		InstitutionID: "inst-1",
		YearNumber:    2026,
		Name:          "Año Lectivo 2026",
		StartDate:     time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
		Status:        models.YearStatusDraft,
	}
}

func newYearService(repo *mockYearRepo, terms *mockTermStore, enrollments *mockClosureStore, events *mockEventWriter, policy PromotionPolicy) *YearService {
	return NewYearService(repo, terms, enrollments, events, policy, nil, nil)
}

func TestActivateFailsWithoutTerms(t *testing.T) {
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": draftYear("y1")}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.Activate(context.Background(), "y1", "actor-1")
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Len(t, appErr.Violations, 1)
	assert.Contains(t, appErr.Violations[0], "al menos un período académico")
}

func TestActivateFailsForNonDraftYear(t *testing.T) {
	year := draftYear("y1")
	year.Status = models.YearStatusClosed
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": year}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.Activate(context.Background(), "y1", "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestActivateConflictsWithExistingActiveYear(t *testing.T) {
	active := draftYear("y0")
	active.Status = models.YearStatusActive
	repo := &mockYearRepo{
		years:      map[string]models.AcademicYear{"y0": active, "y1": draftYear("y1")},
		activeByID: map[string]string{"inst-1": "y0"},
		termCounts: map[string]int{"y1": 3},
	}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.Activate(context.Background(), "y1", "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestActivateSuccess(t *testing.T) {
	repo := &mockYearRepo{
		years:      map[string]models.AcademicYear{"y1": draftYear("y1")},
		termCounts: map[string]int{"y1": 4},
	}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	year, err := svc.Activate(context.Background(), "y1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.YearStatusActive, year.Status)
	require.NotNil(t, year.ActivatedBy)
	assert.Equal(t, "actor-1", *year.ActivatedBy)
	assert.NotNil(t, year.ActivatedAt)
}

func TestCloseFailsForNonActiveYear(t *testing.T) {
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": draftYear("y1")}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.Close(context.Background(), "y1", "actor-1", CloseYearRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestCloseWithPromotionsCountsAndEvents(t *testing.T) {
	year := draftYear("y1")
	year.Status = models.YearStatusActive
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": year}}
	enrollments := &mockClosureStore{enrollments: []models.StudentEnrollment{
		{ID: "e1", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
		{ID: "e2", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
		{ID: "e3", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
		{ID: "e4", AcademicYearID: "y1", Status: models.EnrollmentStatusWithdrawn},
	}}
	events := &mockEventWriter{}
	svc := newYearService(repo, &mockTermStore{}, enrollments, events, nil)

	result, err := svc.Close(context.Background(), "y1", "actor-1", CloseYearRequest{CalculatePromotions: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PromotedCount)
	assert.Equal(t, 0, result.RepeatedCount)
	assert.Equal(t, 1, result.WithdrawnCount)

	require.Len(t, events.events, 3)
	for _, event := range events.events {
		assert.Equal(t, models.EventTypePromoted, event.Type)
		assert.Equal(t, "Cierre del año lectivo", event.Reason)
		assert.Equal(t, "actor-1", event.ActorID)
		assert.NotEmpty(t, event.PreviousValue)
		assert.NotEmpty(t, event.NewValue)
	}
	for _, id := range []string{"e1", "e2", "e3"} {
		assert.Equal(t, models.EnrollmentStatusPromoted, enrollments.statuses[id])
	}
	assert.Equal(t, models.YearStatusClosed, repo.years["y1"].Status)
}

func TestClosePolicyCanRepeatStudents(t *testing.T) {
	year := draftYear("y1")
	year.Status = models.YearStatusActive
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": year}}
	enrollments := &mockClosureStore{enrollments: []models.StudentEnrollment{
		{ID: "e1", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
		{ID: "e2", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
	}}
	events := &mockEventWriter{}
	policy := PromotionPolicyFunc(func(ctx context.Context, enrollment models.StudentEnrollment) (bool, error) {
		return enrollment.ID != "e2", nil
	})
	svc := newYearService(repo, &mockTermStore{}, enrollments, events, policy)

	result, err := svc.Close(context.Background(), "y1", "actor-1", CloseYearRequest{CalculatePromotions: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PromotedCount)
	assert.Equal(t, 1, result.RepeatedCount)
	assert.Equal(t, models.EnrollmentStatusRepeated, enrollments.statuses["e2"])

	var repeatedEvents int
	for _, event := range events.events {
		if event.Type == models.EventTypeRepeated {
			repeatedEvents++
		}
	}
	assert.Equal(t, 1, repeatedEvents)
}

func TestCloseWithoutPromotionsSkipsComputation(t *testing.T) {
	year := draftYear("y1")
	year.Status = models.YearStatusActive
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": year}}
	enrollments := &mockClosureStore{enrollments: []models.StudentEnrollment{
		{ID: "e1", AcademicYearID: "y1", Status: models.EnrollmentStatusActive},
	}}
	events := &mockEventWriter{}
	svc := newYearService(repo, &mockTermStore{}, enrollments, events, nil)

	result, err := svc.Close(context.Background(), "y1", "actor-1", CloseYearRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PromotedCount)
	assert.Empty(t, events.events)
	assert.Empty(t, enrollments.statuses)
}

func TestCreateRejectsDuplicateYearNumber(t *testing.T) {
	repo := &mockYearRepo{existing: map[int]bool{2026: true}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.Create(context.Background(), CreateYearRequest{
		InstitutionID: "inst-1",
		YearNumber:    2026,
		Name:          "Año Lectivo 2026",
		StartDate:     time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateStartsInDraft(t *testing.T) {
	repo := &mockYearRepo{}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	year, err := svc.Create(context.Background(), CreateYearRequest{
		InstitutionID: "inst-1",
		YearNumber:    2027,
		Name:          "Año Lectivo 2027",
		StartDate:     time.Date(2027, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2027, 11, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, models.YearStatusDraft, year.Status)
}

func TestAddTermRequiresDraftYear(t *testing.T) {
	year := draftYear("y1")
	year.Status = models.YearStatusActive
	repo := &mockYearRepo{years: map[string]models.AcademicYear{"y1": year}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)

	_, err := svc.AddTerm(context.Background(), "y1", CreateTermRequest{
		Name:      "Primer Período",
		Position:  1,
		Weight:    25,
		StartDate: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeleteGuards(t *testing.T) {
	active := draftYear("y1")
	active.Status = models.YearStatusActive
	repo := &mockYearRepo{years: map[string]models.AcademicYear{
		"y1": active,
		"y2": draftYear("y2"),
	}}
	enrollments := &mockClosureStore{countByYear: 2}
	svc := newYearService(repo, &mockTermStore{}, enrollments, &mockEventWriter{}, nil)

	err := svc.Delete(context.Background(), "y1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "y2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	enrollments.countByYear = 0
	require.NoError(t, svc.Delete(context.Background(), "y2"))
	assert.Equal(t, []string{"y2"}, repo.deleted)
}

func TestYearStatusPredicates(t *testing.T) {
	draft := draftYear("draft")
	active := draftYear("active")
	active.Status = models.YearStatusActive
	closed := draftYear("closed")
	closed.Status = models.YearStatusClosed
	repo := &mockYearRepo{years: map[string]models.AcademicYear{
		"draft": draft, "active": active, "closed": closed,
	}}
	svc := newYearService(repo, &mockTermStore{}, &mockClosureStore{}, &mockEventWriter{}, nil)
	ctx := context.Background()

	edit, err := svc.CanEditStructure(ctx, "draft")
	require.NoError(t, err)
	assert.True(t, edit)

	edit, err = svc.CanEditStructure(ctx, "active")
	require.NoError(t, err)
	assert.False(t, edit)

	enroll, err := svc.CanEnrollStudents(ctx, "active")
	require.NoError(t, err)
	assert.True(t, enroll)

	grades, err := svc.CanRecordGrades(ctx, "draft")
	require.NoError(t, err)
	assert.False(t, grades)

	modify, err := svc.CanModify(ctx, "closed")
	require.NoError(t, err)
	assert.False(t, modify)

	modify, err = svc.CanModify(ctx, "draft")
	require.NoError(t, err)
	assert.True(t, modify)
}
