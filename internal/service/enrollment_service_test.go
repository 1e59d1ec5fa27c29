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

type mockEnrollmentRepo struct {
	sets       map[string][]string
	assignedBy *string
}

func (m *mockEnrollmentRepo) ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.EnrollmentDetail, error) {
	var list []models.EnrollmentDetail
	for _, subjectID := range m.sets[studentID] {
		list = append(list, models.EnrollmentDetail{
			Enrollment: models.Enrollment{StudentID: studentID, SubjectID: subjectID, SessionID: sessionID, Term: term},
		})
	}
	return list, nil
}

func (m *mockEnrollmentRepo) ReplaceSet(ctx context.Context, studentID, sessionID string, term models.Term, subjectIDs []string, assignedBy *string) error {
	if m.sets == nil {
		m.sets = make(map[string][]string)
	}
	m.sets[studentID] = subjectIDs
	m.assignedBy = assignedBy
	return nil
}

type mockEnrollmentStudents struct {
	students map[string]*models.StudentDetail
}

func (m *mockEnrollmentStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockSubjectCatalog struct {
	subjects map[string]models.Subject
}

func (m *mockSubjectCatalog) ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error) {
	var list []models.Subject
	for _, id := range ids {
		if subject, ok := m.subjects[id]; ok {
			list = append(list, subject)
		}
	}
	return list, nil
}

func newEnrollmentHarness(student *models.StudentDetail, subjects ...models.Subject) (*EnrollmentService, *mockEnrollmentRepo) {
	repo := &mockEnrollmentRepo{}
	students := &mockEnrollmentStudents{students: map[string]*models.StudentDetail{}}
	if student != nil {
		students.students[student.ID] = student
	}
	catalog := &mockSubjectCatalog{subjects: map[string]models.Subject{}}
	for _, subject := range subjects {
		catalog.subjects[subject.ID] = subject
	}
	svc := NewEnrollmentService(repo, students, catalog, validator.New(), zap.NewNop())
	return svc, repo
}

func TestEnrollmentServiceAssignReplacesSubjectSet(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, repo := newEnrollmentHarness(student,
		models.Subject{ID: "sub-1", Name: "Mathematics", AgeSection: models.SectionJunior},
		models.Subject{ID: "sub-2", Name: "Basic Science", AgeSection: models.SectionJunior},
	)
	repo.sets = map[string][]string{"stu-1": {"sub-9"}}

	enrollments, err := svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-1", "sub-2"},
	})
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	assert.Equal(t, []string{"sub-1", "sub-2"}, repo.sets["stu-1"])
	require.NotNil(t, repo.assignedBy)
	assert.Equal(t, "admin-1", *repo.assignedBy)
}

func TestEnrollmentServiceAssignRejectsSubjectFromOtherSection(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, repo := newEnrollmentHarness(student,
		models.Subject{ID: "sub-1", Name: "Mathematics", AgeSection: models.SectionJunior},
		models.Subject{ID: "sub-2", Name: "Further Mathematics", AgeSection: models.SectionSenior},
	)

	_, err := svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-1", "sub-2"},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "Further Mathematics")
	assert.Empty(t, repo.sets)
}

func TestEnrollmentServiceAssignRejectsDuplicateAndUnknownSubjects(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, _ := newEnrollmentHarness(student,
		models.Subject{ID: "sub-1", Name: "Mathematics", AgeSection: models.SectionJunior},
	)

	_, err := svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-1", "sub-1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-404"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceAssignRequiresRosterMembership(t *testing.T) {
	offRoster := &models.StudentDetail{Student: models.Student{ID: "stu-1", Active: true}}
	svc, _ := newEnrollmentHarness(offRoster,
		models.Subject{ID: "sub-1", Name: "Mathematics", AgeSection: models.SectionJunior},
	)

	_, err := svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceAssignRejectsInactiveStudent(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	student.Active = false
	svc, _ := newEnrollmentHarness(student,
		models.Subject{ID: "sub-1", Name: "Mathematics", AgeSection: models.SectionJunior},
	)

	_, err := svc.AssignSubjects(context.Background(), "stu-1", "admin-1", AssignSubjectsRequest{
		SessionID:  "sess-1",
		Term:       models.TermFirst,
		SubjectIDs: []string{"sub-1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceListChecksStudentExists(t *testing.T) {
	student := rosterStudent("stu-1", "sec-1", models.SectionJunior, "JSS 2")
	svc, repo := newEnrollmentHarness(student)
	repo.sets = map[string][]string{"stu-1": {"sub-1"}}

	enrollments, err := svc.ListStudentEnrollments(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)

	_, err = svc.ListStudentEnrollments(context.Background(), "stu-404", "sess-1", models.TermFirst)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
