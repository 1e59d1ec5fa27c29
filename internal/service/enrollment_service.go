package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type enrollmentRepository interface {
	ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.EnrollmentDetail, error)
	ReplaceSet(ctx context.Context, studentID, sessionID string, term models.Term, subjectIDs []string, assignedBy *string) error
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type subjectCatalog interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

// AssignSubjectsRequest replaces a student's subject set for a session and term.
type AssignSubjectsRequest struct {
	SessionID  string      `json:"session_id" validate:"required"`
	Term       models.Term `json:"term" validate:"required"`
	SubjectIDs []string    `json:"subject_ids" validate:"required,min=1,dive,required"`
}

// EnrollmentService manages which subjects a student sits for each term.
// The enrollment set gates score submission: a score is only accepted for a
// subject the student is enrolled in.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  enrollmentStudentReader
	subjects  subjectCatalog
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students enrollmentStudentReader, subjects subjectCatalog, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, subjects: subjects, validator: validate, logger: logger}
}

// ListStudentEnrollments returns the student's subject set for a session and term.
func (s *EnrollmentService) ListStudentEnrollments(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.EnrollmentDetail, error) {
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByStudent(ctx, studentID, sessionID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// AssignSubjects replaces the student's subject set for the given session and
// term. Every subject must belong to the student's age section. Replacement
// does not touch existing scores or positions; those follow the next score
// write.
func (s *EnrollmentService) AssignSubjects(ctx context.Context, studentID, assignedBy string, req AssignSubjectsRequest) ([]models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if !req.Term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is inactive")
	}
	if student.AgeSection == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not on any class roster")
	}

	seen := make(map[string]bool, len(req.SubjectIDs))
	for _, id := range req.SubjectIDs {
		if seen[id] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %s in payload", id))
		}
		seen[id] = true
	}

	subjects, err := s.subjects.ListByIDs(ctx, req.SubjectIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	byID := make(map[string]models.Subject, len(subjects))
	for _, subject := range subjects {
		byID[subject.ID] = subject
	}
	for _, id := range req.SubjectIDs {
		subject, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", id))
		}
		if subject.AgeSection != *student.AgeSection {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("subject %s is not offered in the %s section", subject.Name, *student.AgeSection))
		}
	}

	if err := s.repo.ReplaceSet(ctx, studentID, req.SessionID, req.Term, req.SubjectIDs, &assignedBy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace enrollments")
	}

	s.logger.Info("enrollments replaced",
		zap.String("student_id", studentID),
		zap.String("session_id", req.SessionID),
		zap.String("term", string(req.Term)),
		zap.Int("subjects", len(req.SubjectIDs)))

	enrollments, err := s.repo.ListByStudent(ctx, studentID, req.SessionID, req.Term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

func (s *EnrollmentService) loadStudent(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}
