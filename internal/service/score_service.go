package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/grading"
	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type scoreStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type enrollmentChecker interface {
	Exists(ctx context.Context, studentID, subjectID, sessionID string, term models.Term) (bool, error)
}

type scoreStore interface {
	Upsert(ctx context.Context, score *models.ScoreRecord) error
	ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error)
}

type rankingTrigger interface {
	RecomputeSubjectRanking(ctx context.Context, subjectID, sessionID string, term models.Term) (*SubjectRankingSummary, error)
	RecomputeClassRanking(ctx context.Context, sectionID, sessionID string, term models.Term) (*ClassRankingSummary, error)
}

// ScoreEntry is one subject's raw components within a submission. Components
// that do not belong to the student's age section are ignored; absent
// components count as zero.
type ScoreEntry struct {
	SubjectID  string   `json:"subject_id" validate:"required"`
	CA         *float64 `json:"ca,omitempty"`
	Test1      *float64 `json:"test_1,omitempty"`
	Test2      *float64 `json:"test_2,omitempty"`
	Exam       *float64 `json:"exam,omitempty"`
	Test       *float64 `json:"test,omitempty"`
	Homework   *float64 `json:"homework,omitempty"`
	Classwork  *float64 `json:"classwork,omitempty"`
	TotalMarks *float64 `json:"total_marks,omitempty"`
	Remarks    *string  `json:"remarks,omitempty"`
}

// SubmitScoresRequest carries a batch of score entries for one student,
// session and term.
type SubmitScoresRequest struct {
	SessionID string       `json:"session_id" validate:"required"`
	Term      models.Term  `json:"term" validate:"required"`
	Scores    []ScoreEntry `json:"scores" validate:"required,min=1,dive"`
}

// SubmittedScore echoes the derived grading of one saved entry.
type SubmittedScore struct {
	SubjectID   string   `json:"subject_id"`
	TotalScore  float64  `json:"total_score"`
	Grade       string   `json:"grade"`
	GradePoint  *float64 `json:"grade_point,omitempty"`
	Description string   `json:"description"`
}

// SubmitScoresResult summarises a processed submission.
type SubmitScoresResult struct {
	Saved  int              `json:"saved"`
	Scores []SubmittedScore `json:"scores"`
}

// ScoreService validates and persists score submissions and fires the
// recomputation that follows every save. A submission is all-or-nothing: any
// out-of-range component or missing enrollment rejects the batch before a
// single row is written, and no ranking runs.
type ScoreService struct {
	students    scoreStudentReader
	enrollments enrollmentChecker
	scores      scoreStore
	rankings    rankingTrigger
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewScoreService constructs ScoreService.
func NewScoreService(students scoreStudentReader, enrollments enrollmentChecker, scores scoreStore, rankings rankingTrigger, validate *validator.Validate, logger *zap.Logger) *ScoreService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreService{
		students:    students,
		enrollments: enrollments,
		scores:      scores,
		rankings:    rankings,
		validator:   validate,
		logger:      logger,
	}
}

// SubmitScores grades and saves the batch for one student, then reranks every
// touched subject and the student's class.
func (s *ScoreService) SubmitScores(ctx context.Context, studentID, uploadedBy string, req SubmitScoresRequest) (*SubmitScoresResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid score payload")
	}
	if !req.Term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.SectionID == nil || student.AgeSection == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not on any class roster")
	}
	section := *student.AgeSection

	// Validate the whole batch before writing anything.
	records := make([]models.ScoreRecord, 0, len(req.Scores))
	submitted := make([]SubmittedScore, 0, len(req.Scores))
	seen := make(map[string]bool, len(req.Scores))
	for _, entry := range req.Scores {
		if seen[entry.SubjectID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %s in submission", entry.SubjectID))
		}
		seen[entry.SubjectID] = true

		enrolled, err := s.enrollments.Exists(ctx, studentID, entry.SubjectID, req.SessionID, req.Term)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentMissing, fmt.Sprintf("student is not enrolled in subject %s for this session and term", entry.SubjectID))
		}

		outcome, err := grading.Evaluate(section, grading.Inputs{
			CA:         entry.CA,
			Test1:      entry.Test1,
			Test2:      entry.Test2,
			Exam:       entry.Exam,
			Test:       entry.Test,
			Homework:   entry.Homework,
			Classwork:  entry.Classwork,
			TotalMarks: entry.TotalMarks,
		})
		if err != nil {
			var rangeErr *grading.RangeError
			if errors.As(err, &rangeErr) {
				return nil, appErrors.Clone(appErrors.ErrScoreOutOfRange, rangeErr.Error())
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade scores")
		}

		records = append(records, models.ScoreRecord{
			StudentID:   studentID,
			SubjectID:   entry.SubjectID,
			SessionID:   req.SessionID,
			Term:        req.Term,
			CA:          entry.CA,
			Test1:       entry.Test1,
			Test2:       entry.Test2,
			Exam:        entry.Exam,
			Test:        entry.Test,
			Homework:    entry.Homework,
			Classwork:   entry.Classwork,
			TotalMarks:  entry.TotalMarks,
			TotalScore:  outcome.TotalScore,
			Grade:       outcome.Grade,
			GradePoint:  outcome.GradePoint,
			Description: outcome.Description,
			UploadedBy:  &uploadedBy,
			Remarks:     entry.Remarks,
		})
		submitted = append(submitted, SubmittedScore{
			SubjectID:   entry.SubjectID,
			TotalScore:  outcome.TotalScore,
			Grade:       outcome.Grade,
			GradePoint:  outcome.GradePoint,
			Description: outcome.Description,
		})
	}

	for i := range records {
		if err := s.scores.Upsert(ctx, &records[i]); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save score")
		}
	}

	for _, record := range records {
		if _, err := s.rankings.RecomputeSubjectRanking(ctx, record.SubjectID, req.SessionID, req.Term); err != nil {
			return nil, err
		}
	}
	if _, err := s.rankings.RecomputeClassRanking(ctx, *student.SectionID, req.SessionID, req.Term); err != nil {
		return nil, err
	}

	s.logger.Info("scores submitted",
		zap.String("student_id", studentID),
		zap.String("session_id", req.SessionID),
		zap.String("term", string(req.Term)),
		zap.Int("subjects", len(records)))
	return &SubmitScoresResult{Saved: len(records), Scores: submitted}, nil
}

// GetStudentScores returns the student's score rows for a session and term.
func (s *ScoreService) GetStudentScores(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	if studentID == "" || sessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student and session required")
	}
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	scores, err := s.scores.ListByStudent(ctx, studentID, sessionID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scores")
	}
	return scores, nil
}
