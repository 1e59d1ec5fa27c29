package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type mockReportScores struct {
	byStudent      []models.ScoreDetail
	bySection      []models.ScoreDetail
	aggregates     []repository.SectionAggregate
	distribution   []repository.GradeCount
	byStudentCalls int
	bySectionCalls int
}

func (m *mockReportScores) ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	m.byStudentCalls++
	return m.byStudent, nil
}

func (m *mockReportScores) ListBySection(ctx context.Context, sectionID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	m.bySectionCalls++
	return m.bySection, nil
}

func (m *mockReportScores) AggregateBySubject(ctx context.Context, sectionID, sessionID string, term models.Term) ([]repository.SectionAggregate, error) {
	return m.aggregates, nil
}

func (m *mockReportScores) GradeDistribution(ctx context.Context, sectionID, sessionID string, term models.Term) ([]repository.GradeCount, error) {
	return m.distribution, nil
}

type mockReportSections struct {
	sections map[string]*models.SectionDetail
	roster   []models.Student
}

func (m *mockReportSections) FindByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	if s, ok := m.sections[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReportSections) RosterMembers(ctx context.Context, sectionID string) ([]models.Student, error) {
	return m.roster, nil
}

type mockReportSessions struct {
	sessions map[string]*models.Session
}

func (m *mockReportSessions) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type stubCacheRepo struct {
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if s.store == nil {
		return appErrors.ErrCacheMiss
	}
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	return nil
}

func scoreRow(studentID, subjectID, subjectName string, total float64, grade string, gp *float64) models.ScoreDetail {
	return models.ScoreDetail{
		ScoreRecord: models.ScoreRecord{
			StudentID:       studentID,
			SubjectID:       subjectID,
			TotalScore:      total,
			Grade:           grade,
			GradePoint:      gp,
			SubjectPosition: models.PositionPlaceholder,
			ClassPosition:   models.PositionPlaceholder,
			ClassPositionGP: models.PositionPlaceholder,
		},
		SubjectName: subjectName,
	}
}

func newReportHarness(cache *CacheService) (*ReportService, *mockReportScores, *mockScoreStudents, *mockReportSections, *mockReportSessions) {
	scores := &mockReportScores{}
	students := &mockScoreStudents{students: map[string]*models.StudentDetail{}}
	sections := &mockReportSections{sections: map[string]*models.SectionDetail{}}
	sessions := &mockReportSessions{sessions: map[string]*models.Session{
		"sess-1": {ID: "sess-1", Name: "2025/2026", IsActive: true},
	}}
	svc := NewReportService(scores, students, sections, sessions, cache, nil, time.Minute, zap.NewNop())
	return svc, scores, students, sections, sessions
}

func TestReportServiceReportCardSummaryMath(t *testing.T) {
	svc, scores, students, sections, _ := newReportHarness(nil)
	students.students["stu-1"] = rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 2")
	sections.sections["sec-1"] = seniorSection("sec-1")

	math := scoreRow("stu-1", "sub-1", "Mathematics", 86, "B2", ptrFloat(4.5))
	math.ClassPosition = "3rd"
	math.ClassPositionGP = "2nd"
	math.SubjectPosition = "1st"
	english := scoreRow("stu-1", "sub-2", "English Language", 74, "C4", ptrFloat(3.5))
	english.ClassPosition = "3rd"
	english.ClassPositionGP = "2nd"
	absent := scoreRow("stu-1", "sub-3", "Biology", 0, "F9", ptrFloat(1.0))
	scores.byStudent = []models.ScoreDetail{math, english, absent}

	card, fromCache, err := svc.ReportCard(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.False(t, fromCache)

	assert.Equal(t, "Ada Obi", card.Student.FullName)
	assert.Equal(t, "First Term", card.TermLabel)
	require.Len(t, card.Subjects, 3)
	assert.Equal(t, "1st", card.Subjects[0].Position)

	// The zero-total row counts as taken but stays out of both averages.
	assert.Equal(t, 3, card.Summary.SubjectsTaken)
	assert.Equal(t, 160.0, card.Summary.TotalScore)
	assert.Equal(t, 80.0, card.Summary.Average)
	require.NotNil(t, card.Summary.AverageGP)
	assert.Equal(t, 4.0, *card.Summary.AverageGP)
	assert.Equal(t, "3rd", card.Summary.ClassPosition)
	assert.Equal(t, "2nd", card.Summary.ClassPositionGP)
}

func TestReportServiceReportCardPrimaryHasNoGPAverage(t *testing.T) {
	svc, scores, students, sections, _ := newReportHarness(nil)
	students.students["stu-1"] = rosterStudent("stu-1", "sec-2", models.SectionPrimary, "Primary 3")
	sections.sections["sec-2"] = primarySection("sec-2")
	scores.byStudent = []models.ScoreDetail{
		scoreRow("stu-1", "sub-1", "Numeracy", 92, "A", nil),
	}

	card, _, err := svc.ReportCard(context.Background(), "stu-1", "sess-1", models.TermSecond)
	require.NoError(t, err)
	assert.Nil(t, card.Summary.AverageGP)
	assert.Equal(t, 92.0, card.Summary.Average)
}

func TestReportServiceReportCardServesSecondReadFromCache(t *testing.T) {
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc, scores, students, sections, _ := newReportHarness(cacheSvc)
	students.students["stu-1"] = rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 2")
	sections.sections["sec-1"] = seniorSection("sec-1")
	scores.byStudent = []models.ScoreDetail{
		scoreRow("stu-1", "sub-1", "Mathematics", 86, "B2", ptrFloat(4.5)),
	}

	first, fromCache, err := svc.ReportCard(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 1, scores.byStudentCalls)

	second, fromCache, err := svc.ReportCard(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, 1, scores.byStudentCalls)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestReportServiceReportCardRequiresRoster(t *testing.T) {
	svc, _, students, _, _ := newReportHarness(nil)
	students.students["stu-1"] = &models.StudentDetail{Student: models.Student{ID: "stu-1", Active: true}}

	_, _, err := svc.ReportCard(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestReportServiceBroadsheetSeedsEveryRosterMember(t *testing.T) {
	svc, scores, _, sections, _ := newReportHarness(nil)
	sections.sections["sec-1"] = seniorSection("sec-1")
	sections.roster = []models.Student{
		{ID: "stu-1", FirstName: "Ada", LastName: "Obi", AdmissionNumber: "RS-0001"},
		{ID: "stu-2", FirstName: "Bola", LastName: "Ade", AdmissionNumber: "RS-0002"},
		{ID: "stu-3", FirstName: "Chidi", LastName: "Eze", AdmissionNumber: "RS-0003"},
	}

	row1 := scoreRow("stu-1", "sub-1", "Mathematics", 86, "B2", ptrFloat(4.5))
	row1.ClassPosition = "1st"
	row1.ClassPositionGP = "1st"
	row2 := scoreRow("stu-1", "sub-2", "Biology", 70, "C4", ptrFloat(3.5))
	row2.ClassPosition = "1st"
	row2.ClassPositionGP = "1st"
	row3 := scoreRow("stu-2", "sub-1", "Mathematics", 64, "C5", ptrFloat(3.0))
	row3.ClassPosition = "2nd"
	row3.ClassPositionGP = "2nd"
	scores.bySection = []models.ScoreDetail{row1, row2, row3}

	sheet, _, err := svc.Broadsheet(context.Background(), "sec-1", "sess-1", models.TermFirst)
	require.NoError(t, err)

	// Columns are sorted by subject name.
	require.Len(t, sheet.Subjects, 2)
	assert.Equal(t, "Biology", sheet.Subjects[0].Name)
	assert.Equal(t, "Mathematics", sheet.Subjects[1].Name)

	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, 78.0, sheet.Rows[0].Average)
	assert.Equal(t, "1st", sheet.Rows[0].ClassPosition)
	assert.Equal(t, 64.0, sheet.Rows[1].Average)

	// stu-3 has no scores yet but still gets a row.
	empty := sheet.Rows[2]
	assert.Equal(t, "stu-3", empty.StudentID)
	assert.Empty(t, empty.Totals)
	assert.Equal(t, models.PositionPlaceholder, empty.ClassPosition)
	assert.Equal(t, 0.0, empty.Average)
}

func TestReportServiceSectionSummaryAggregates(t *testing.T) {
	svc, scores, _, sections, _ := newReportHarness(nil)
	section := seniorSection("sec-1")
	section.StudentCnt = 3
	sections.sections["sec-1"] = section

	scores.aggregates = []repository.SectionAggregate{
		{SubjectID: "sub-1", SubjectName: "Mathematics", Graded: 2, Average: ptrFloat(75), Highest: ptrFloat(86), Lowest: ptrFloat(64)},
		{SubjectID: "sub-2", SubjectName: "Biology", Graded: 1, Average: ptrFloat(70), Highest: ptrFloat(70), Lowest: ptrFloat(70)},
	}
	scores.distribution = []repository.GradeCount{{Grade: "B2", Count: 1}, {Grade: "C4", Count: 1}, {Grade: "C5", Count: 1}}

	top := scoreRow("stu-1", "sub-1", "Mathematics", 86, "B2", ptrFloat(4.5))
	top.StudentName = "Ada Obi"
	top.ClassPosition = "1st"
	mid := scoreRow("stu-1", "sub-2", "Biology", 70, "C4", ptrFloat(3.5))
	mid.StudentName = "Ada Obi"
	mid.ClassPosition = "1st"
	low := scoreRow("stu-2", "sub-1", "Mathematics", 64, "C5", ptrFloat(3.0))
	low.StudentName = "Bola Ade"
	low.ClassPosition = "2nd"
	unscored := scoreRow("stu-3", "sub-1", "Mathematics", 0, "F9", ptrFloat(1.0))
	scores.bySection = []models.ScoreDetail{top, mid, low, unscored}

	summary, _, err := svc.SectionSummary(context.Background(), "sec-1", "sess-1", models.TermFirst)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ClassSize)
	require.Len(t, summary.Subjects, 2)
	assert.Equal(t, 75.0, summary.Subjects[0].Average)

	// Weighted by graded count: (75*2 + 70*1) / 3.
	assert.Equal(t, 73.33, summary.ClassAverage)
	assert.Len(t, summary.GradeDistribution, 3)

	// The zero-total student is not counted as graded and never tops the board.
	assert.Equal(t, 2, summary.GradedStudents)
	require.Len(t, summary.TopPerformers, 2)
	assert.Equal(t, "Ada Obi", summary.TopPerformers[0].StudentName)
	assert.Equal(t, 78.0, summary.TopPerformers[0].Average)
	assert.Equal(t, "Bola Ade", summary.TopPerformers[1].StudentName)
}

func TestReportServiceSectionSummaryUnknownSection(t *testing.T) {
	svc, _, _, _, _ := newReportHarness(nil)

	_, _, err := svc.SectionSummary(context.Background(), "sec-404", "sess-1", models.TermFirst)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
