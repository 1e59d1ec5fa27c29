package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type mockScoreStudents struct {
	students map[string]*models.StudentDetail
}

func (m *mockScoreStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockScoreEnrollments struct {
	enrolled map[string]bool
}

func (m *mockScoreEnrollments) Exists(ctx context.Context, studentID, subjectID, sessionID string, term models.Term) (bool, error) {
	return m.enrolled[studentID+":"+subjectID], nil
}

type mockScoreStore struct {
	upserts []models.ScoreRecord
	details []models.ScoreDetail
}

func (m *mockScoreStore) Upsert(ctx context.Context, score *models.ScoreRecord) error {
	m.upserts = append(m.upserts, *score)
	return nil
}

func (m *mockScoreStore) ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	return m.details, nil
}

// mockRankingRecorder records recompute calls in invocation order.
type mockRankingRecorder struct {
	calls []string
}

func (m *mockRankingRecorder) RecomputeSubjectRanking(ctx context.Context, subjectID, sessionID string, term models.Term) (*SubjectRankingSummary, error) {
	m.calls = append(m.calls, "subject:"+subjectID)
	return &SubjectRankingSummary{SubjectID: subjectID}, nil
}

func (m *mockRankingRecorder) RecomputeClassRanking(ctx context.Context, sectionID, sessionID string, term models.Term) (*ClassRankingSummary, error) {
	m.calls = append(m.calls, "class:"+sectionID)
	return &ClassRankingSummary{SectionID: sectionID}, nil
}

func ptrFloat(v float64) *float64 {
	return &v
}

func rosterStudent(id, sectionID string, section models.AgeSection, level string) *models.StudentDetail {
	suffix := "A"
	return &models.StudentDetail{
		Student: models.Student{
			ID:              id,
			AdmissionNumber: "RS-0042",
			FirstName:       "Ada",
			LastName:        "Obi",
			SectionID:       &sectionID,
			Active:          true,
		},
		Level:      &level,
		Suffix:     &suffix,
		AgeSection: &section,
	}
}

func newScoreHarness(student *models.StudentDetail, enrolled ...string) (*ScoreService, *mockScoreStore, *mockRankingRecorder) {
	students := &mockScoreStudents{students: map[string]*models.StudentDetail{}}
	if student != nil {
		students.students[student.ID] = student
	}
	enrollments := &mockScoreEnrollments{enrolled: map[string]bool{}}
	for _, key := range enrolled {
		enrollments.enrolled[key] = true
	}
	store := &mockScoreStore{}
	rankings := &mockRankingRecorder{}
	svc := NewScoreService(students, enrollments, store, rankings, validator.New(), zap.NewNop())
	return svc, store, rankings
}

func TestScoreServiceSubmitDerivesGradeAndReranks(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 2")
	svc, store, rankings := newScoreHarness(student, "stu-1:sub-1")

	result, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", CA: ptrFloat(8), Test1: ptrFloat(9), Test2: ptrFloat(9), Exam: ptrFloat(60)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	require.Len(t, store.upserts, 1)
	saved := store.upserts[0]
	assert.Equal(t, 86.0, saved.TotalScore)
	assert.Equal(t, "B2", saved.Grade)
	require.NotNil(t, saved.GradePoint)
	assert.Equal(t, 4.5, *saved.GradePoint)
	assert.Equal(t, "Excellent", saved.Description)
	require.NotNil(t, saved.UploadedBy)
	assert.Equal(t, "user-1", *saved.UploadedBy)

	assert.Equal(t, []string{"subject:sub-1", "class:sec-1"}, rankings.calls)
}

func TestScoreServiceSubmitReranksEachSubjectThenClassOnce(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, _, rankings := newScoreHarness(student, "stu-1:sub-1", "stu-1:sub-2")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermSecond,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", Exam: ptrFloat(55)},
			{SubjectID: "sub-2", Exam: ptrFloat(62)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"subject:sub-1", "subject:sub-2", "class:sec-1"}, rankings.calls)
}

func TestScoreServiceRejectsOutOfRangeComponent(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 2")
	svc, store, rankings := newScoreHarness(student, "stu-1:sub-1")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", CA: ptrFloat(12.5), Exam: ptrFloat(40)},
		},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScoreOutOfRange.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "ca")

	// A rejected batch writes nothing and triggers no recomputation.
	assert.Empty(t, store.upserts)
	assert.Empty(t, rankings.calls)
}

func TestScoreServiceRejectsBatchWhenOneEntryIsOutOfRange(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 1")
	svc, store, rankings := newScoreHarness(student, "stu-1:sub-1", "stu-1:sub-2")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", Exam: ptrFloat(45)},
			{SubjectID: "sub-2", Exam: ptrFloat(-3)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScoreOutOfRange.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.upserts)
	assert.Empty(t, rankings.calls)
}

func TestScoreServiceRejectsUnenrolledSubject(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 1")
	svc, store, rankings := newScoreHarness(student, "stu-1:sub-1")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-2", Exam: ptrFloat(50)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrEnrollmentMissing.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.upserts)
	assert.Empty(t, rankings.calls)
}

func TestScoreServiceRejectsDuplicateSubject(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 3")
	svc, store, _ := newScoreHarness(student, "stu-1:sub-1")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", Exam: ptrFloat(50)},
			{SubjectID: "sub-1", Exam: ptrFloat(60)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.upserts)
}

func TestScoreServiceIgnoresComponentsOutsideSection(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionNursery, "Nursery 2")
	svc, store, _ := newScoreHarness(student, "stu-1:sub-1")

	// Exam is not a nursery component, so it is neither range-checked nor
	// counted toward the total.
	result, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", TotalMarks: ptrFloat(96), Exam: ptrFloat(999)},
		},
	})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, 96.0, store.upserts[0].TotalScore)
	assert.Equal(t, "A+", store.upserts[0].Grade)
	assert.Equal(t, "Distinction", store.upserts[0].Description)
	assert.Nil(t, store.upserts[0].GradePoint)
	assert.Equal(t, 1, result.Saved)
}

func TestScoreServiceAbsentComponentsCountAsZero(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, store, _ := newScoreHarness(student, "stu-1:sub-1")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermThird,
		Scores: []ScoreEntry{
			{SubjectID: "sub-1", Exam: ptrFloat(50)},
		},
	})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, 50.0, store.upserts[0].TotalScore)
	assert.Equal(t, "D", store.upserts[0].Grade)
	require.NotNil(t, store.upserts[0].GradePoint)
	assert.Equal(t, 2.0, *store.upserts[0].GradePoint)
}

func TestScoreServiceRejectsStudentOffRoster(t *testing.T) {
	section := models.SectionSenior
	student := &models.StudentDetail{
		Student:    models.Student{ID: "stu-1", Active: true},
		AgeSection: &section,
	}
	svc, _, rankings := newScoreHarness(student, "stu-1:sub-1")

	_, err := svc.SubmitScores(context.Background(), "stu-1", "user-1", SubmitScoresRequest{
		SessionID: "sess-1",
		Term:      models.TermFirst,
		Scores:    []ScoreEntry{{SubjectID: "sub-1", Exam: ptrFloat(50)}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, rankings.calls)
}

func TestScoreServiceGetStudentScores(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionSenior, "SS 3")
	svc, store, _ := newScoreHarness(student)
	store.details = []models.ScoreDetail{{SubjectName: "Mathematics"}}

	scores, err := svc.GetStudentScores(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "Mathematics", scores[0].SubjectName)

	_, err = svc.GetStudentScores(context.Background(), "stu-missing", "sess-1", models.TermFirst)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
