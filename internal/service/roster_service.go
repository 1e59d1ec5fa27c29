package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type rosterSectionRepo interface {
	FindByID(ctx context.Context, id string) (*models.SectionDetail, error)
	AssignStudent(ctx context.Context, studentID, sectionID string) error
	RemoveStudent(ctx context.Context, studentID string) error
	TeacherAssigned(ctx context.Context, sectionID, userID string) (bool, error)
}

type rosterStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type enrolledSubjectsReader interface {
	ListSubjectIDs(ctx context.Context, studentID, sessionID string, term models.Term) ([]string, error)
}

type rosterRankingTrigger interface {
	rankingTrigger
	ClearStudentPositions(ctx context.Context, studentID, sessionID string, term models.Term) error
}

// RosterChangeResult summarises the recomputation fired by a roster change.
type RosterChangeResult struct {
	StudentID        string `json:"student_id"`
	SectionID        string `json:"section_id"`
	RerankedSubjects int    `json:"reranked_subjects"`
}

// RosterService moves students on and off section rosters and fires the
// recomputation each change requires. Only admins and teachers assigned to
// the section may change its roster.
type RosterService struct {
	sections    rosterSectionRepo
	students    rosterStudentReader
	enrollments enrolledSubjectsReader
	rankings    rosterRankingTrigger
	logger      *zap.Logger
}

// NewRosterService constructs RosterService.
func NewRosterService(sections rosterSectionRepo, students rosterStudentReader, enrollments enrolledSubjectsReader, rankings rosterRankingTrigger, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		sections:    sections,
		students:    students,
		enrollments: enrollments,
		rankings:    rankings,
		logger:      logger,
	}
}

// Assign puts the student on the section's roster. A student arriving from
// another roster is treated as a move: their old positions are cleared and
// the cohort they left is reranked before the destination side runs.
func (s *RosterService) Assign(ctx context.Context, actorID string, role models.UserRole, sectionID, studentID string, term models.Term) (*RosterChangeResult, error) {
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	section, err := s.authorizeSection(ctx, actorID, role, sectionID)
	if err != nil {
		return nil, err
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}

	if student.SectionID != nil && *student.SectionID != sectionID {
		if err := s.departFrom(ctx, *student.SectionID, studentID, term); err != nil {
			return nil, err
		}
	}

	if err := s.sections.AssignStudent(ctx, studentID, sectionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student")
	}

	subjectIDs, err := s.enrollments.ListSubjectIDs(ctx, studentID, section.SessionID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled subjects")
	}
	for _, subjectID := range subjectIDs {
		if _, err := s.rankings.RecomputeSubjectRanking(ctx, subjectID, section.SessionID, term); err != nil {
			return nil, err
		}
	}
	if _, err := s.rankings.RecomputeClassRanking(ctx, sectionID, section.SessionID, term); err != nil {
		return nil, err
	}

	s.logger.Info("student assigned to roster",
		zap.String("student_id", studentID),
		zap.String("section_id", sectionID),
		zap.Int("subjects", len(subjectIDs)))
	return &RosterChangeResult{StudentID: studentID, SectionID: sectionID, RerankedSubjects: len(subjectIDs)}, nil
}

// Remove takes the student off the section's roster, clears their positions
// and reranks the cohort left behind. Removing a student who is not on this
// roster is a no-op.
func (s *RosterService) Remove(ctx context.Context, actorID string, role models.UserRole, sectionID, studentID string, term models.Term) error {
	if !term.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if _, err := s.authorizeSection(ctx, actorID, role, sectionID); err != nil {
		return err
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.SectionID == nil || *student.SectionID != sectionID {
		return nil
	}

	if err := s.sections.RemoveStudent(ctx, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student")
	}
	if err := s.departFrom(ctx, sectionID, studentID, term); err != nil {
		return err
	}

	s.logger.Info("student removed from roster",
		zap.String("student_id", studentID),
		zap.String("section_id", sectionID))
	return nil
}

// departFrom clears the student's positions in the session the section
// belongs to and reranks the section's class standings. Subject ranks of the
// departed cohort keep their gap until the next score write reranks them.
func (s *RosterService) departFrom(ctx context.Context, sectionID, studentID string, term models.Term) error {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous section")
	}
	if err := s.rankings.ClearStudentPositions(ctx, studentID, section.SessionID, term); err != nil {
		return err
	}
	if _, err := s.rankings.RecomputeClassRanking(ctx, sectionID, section.SessionID, term); err != nil {
		return err
	}
	return nil
}

func (s *RosterService) authorizeSection(ctx context.Context, actorID string, role models.UserRole, sectionID string) (*models.SectionDetail, error) {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if role == models.RoleAdmin {
		return section, nil
	}
	assigned, err := s.sections.TeacherAssigned(ctx, sectionID, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check section assignment")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not assigned to this section")
	}
	return section, nil
}
