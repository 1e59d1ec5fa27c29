package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/riseschools/results-api/internal/models"
)

// EnrollmentRepository handles persistence of subject enrollments, the
// membership gate consulted by both ranking passes.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListByStudent returns a student's enrollments for a session and term with
// subject context, ordered by subject name.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.subject_id, e.session_id, e.term, e.assigned_by, e.created_at,
        su.name AS subject_name, su.age_section AS subject_section, su.compulsory AS subject_compulsory
        FROM enrollments e
        JOIN subjects su ON su.id = e.subject_id
        WHERE e.student_id = $1 AND e.session_id = $2 AND e.term = $3
        ORDER BY su.name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, sessionID, term); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListSubjectIDs returns the IDs of the subjects a student is enrolled in for
// a session and term.
func (r *EnrollmentRepository) ListSubjectIDs(ctx context.Context, studentID, sessionID string, term models.Term) ([]string, error) {
	const query = `SELECT subject_id FROM enrollments
        WHERE student_id = $1 AND session_id = $2 AND term = $3`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID, sessionID, term); err != nil {
		return nil, fmt.Errorf("list enrolled subjects: %w", err)
	}
	return ids, nil
}

// Exists reports whether the student is enrolled in the subject for the
// session and term.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, subjectID, sessionID string, term models.Term) (bool, error) {
	const query = `SELECT 1 FROM enrollments
        WHERE student_id = $1 AND subject_id = $2 AND session_id = $3 AND term = $4 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, subjectID, sessionID, term); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// ReplaceSet swaps a student's enrollment set for a session and term in one
// transaction: existing rows are removed and the given subjects inserted.
func (r *EnrollmentRepository) ReplaceSet(ctx context.Context, studentID, sessionID string, term models.Term, subjectIDs []string, assignedBy *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment replace: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM enrollments WHERE student_id = $1 AND session_id = $2 AND term = $3`,
		studentID, sessionID, term); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete enrollments: %w", err)
	}
	now := time.Now().UTC()
	for _, subjectID := range subjectIDs {
		enrollment := models.Enrollment{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			SubjectID:  subjectID,
			SessionID:  sessionID,
			Term:       term,
			AssignedBy: assignedBy,
			CreatedAt:  now,
		}
		const query = `INSERT INTO enrollments (id, student_id, subject_id, session_id, term, assigned_by, created_at)
                VALUES (:id, :student_id, :subject_id, :session_id, :term, :assigned_by, :created_at)`
		if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert enrollment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment replace: %w", err)
	}
	return nil
}
