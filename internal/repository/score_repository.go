package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/riseschools/results-api/internal/models"
)

// ScoreRepository handles score record persistence.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository creates a new score repository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

const scoreColumns = `sc.id, sc.student_id, sc.subject_id, sc.session_id, sc.term,
        sc.ca, sc.test_1, sc.test_2, sc.exam, sc.test, sc.homework, sc.classwork, sc.total_marks,
        sc.total_score, sc.grade, sc.grade_point, sc.description,
        sc.subject_position, sc.class_position, sc.class_position_gp,
        sc.uploaded_by, sc.remarks, sc.created_at, sc.updated_at`

// Upsert inserts or updates the score row for one (student, subject, session, term).
// Raw components and derived grading fields are written together; position
// columns are only reset for brand new rows and otherwise left to the ranking
// passes.
func (r *ScoreRepository) Upsert(ctx context.Context, score *models.ScoreRecord) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	score.UpdatedAt = now
	if score.ClassPositionGP == "" {
		score.ClassPositionGP = models.PositionPlaceholder
	}
	const query = `INSERT INTO scores (id, student_id, subject_id, session_id, term,
                ca, test_1, test_2, exam, test, homework, classwork, total_marks,
                total_score, grade, grade_point, description,
                subject_position, class_position, class_position_gp,
                uploaded_by, remarks, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :session_id, :term,
                :ca, :test_1, :test_2, :exam, :test, :homework, :classwork, :total_marks,
                :total_score, :grade, :grade_point, :description,
                :subject_position, :class_position, :class_position_gp,
                :uploaded_by, :remarks, :created_at, :updated_at)
        ON CONFLICT (student_id, subject_id, session_id, term)
        DO UPDATE SET ca = EXCLUDED.ca, test_1 = EXCLUDED.test_1, test_2 = EXCLUDED.test_2,
                exam = EXCLUDED.exam, test = EXCLUDED.test, homework = EXCLUDED.homework,
                classwork = EXCLUDED.classwork, total_marks = EXCLUDED.total_marks,
                total_score = EXCLUDED.total_score, grade = EXCLUDED.grade,
                grade_point = EXCLUDED.grade_point, description = EXCLUDED.description,
                uploaded_by = EXCLUDED.uploaded_by, remarks = EXCLUDED.remarks,
                updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, score); err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

// FindByKey returns the score row for one (student, subject, session, term).
func (r *ScoreRepository) FindByKey(ctx context.Context, studentID, subjectID, sessionID string, term models.Term) (*models.ScoreRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM scores sc
        WHERE sc.student_id = $1 AND sc.subject_id = $2 AND sc.session_id = $3 AND sc.term = $4`, scoreColumns)
	var score models.ScoreRecord
	if err := r.db.GetContext(ctx, &score, query, studentID, subjectID, sessionID, term); err != nil {
		return nil, err
	}
	return &score, nil
}

// ListByStudent returns a student's scores for a session and term with
// subject names, ordered for report card rendering.
func (r *ScoreRepository) ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	query := fmt.Sprintf(`SELECT %s, su.name AS subject_name,
                st.first_name || ' ' || st.last_name AS student_name, st.admission_number
        FROM scores sc
        JOIN subjects su ON su.id = sc.subject_id
        JOIN students st ON st.id = sc.student_id
        WHERE sc.student_id = $1 AND sc.session_id = $2 AND sc.term = $3
        ORDER BY su.name ASC`, scoreColumns)
	var scores []models.ScoreDetail
	if err := r.db.SelectContext(ctx, &scores, query, studentID, sessionID, term); err != nil {
		return nil, fmt.Errorf("list student scores: %w", err)
	}
	return scores, nil
}

// ListBySection returns every score of the section's roster for a session and
// term, ordered per student for broadsheet rendering.
func (r *ScoreRepository) ListBySection(ctx context.Context, sectionID, sessionID string, term models.Term) ([]models.ScoreDetail, error) {
	query := fmt.Sprintf(`SELECT %s, su.name AS subject_name,
                st.first_name || ' ' || st.last_name AS student_name, st.admission_number
        FROM scores sc
        JOIN subjects su ON su.id = sc.subject_id
        JOIN students st ON st.id = sc.student_id
        WHERE st.section_id = $1 AND st.active = TRUE AND sc.session_id = $2 AND sc.term = $3
        ORDER BY st.last_name ASC, st.first_name ASC, su.name ASC`, scoreColumns)
	var scores []models.ScoreDetail
	if err := r.db.SelectContext(ctx, &scores, query, sectionID, sessionID, term); err != nil {
		return nil, fmt.Errorf("list section scores: %w", err)
	}
	return scores, nil
}

// ClearPositions blanks the position fields on a student's score rows for a
// session and term. Used when a student leaves a roster and no longer
// participates in any ranking.
func (r *ScoreRepository) ClearPositions(ctx context.Context, studentID, sessionID string, term models.Term) error {
	const query = `UPDATE scores
        SET subject_position = '', class_position = '', class_position_gp = $1, updated_at = $2
        WHERE student_id = $3 AND session_id = $4 AND term = $5`
	if _, err := r.db.ExecContext(ctx, query, models.PositionPlaceholder, time.Now().UTC(), studentID, sessionID, term); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	return nil
}

// SectionAggregate is one aggregate row of the section summary query.
type SectionAggregate struct {
	SubjectID   string   `db:"subject_id"`
	SubjectName string   `db:"subject_name"`
	Graded      int      `db:"graded"`
	Average     *float64 `db:"average"`
	Highest     *float64 `db:"highest"`
	Lowest      *float64 `db:"lowest"`
}

// AggregateBySubject computes per-subject averages over graded (non-zero)
// scores of the section's roster.
func (r *ScoreRepository) AggregateBySubject(ctx context.Context, sectionID, sessionID string, term models.Term) ([]SectionAggregate, error) {
	const query = `SELECT sc.subject_id, su.name AS subject_name,
                COUNT(*) AS graded,
                AVG(sc.total_score) AS average,
                MAX(sc.total_score) AS highest,
                MIN(sc.total_score) AS lowest
        FROM scores sc
        JOIN subjects su ON su.id = sc.subject_id
        JOIN students st ON st.id = sc.student_id
        WHERE st.section_id = $1 AND st.active = TRUE
          AND sc.session_id = $2 AND sc.term = $3 AND sc.total_score > 0
        GROUP BY sc.subject_id, su.name
        ORDER BY su.name ASC`
	var rows []SectionAggregate
	if err := r.db.SelectContext(ctx, &rows, query, sectionID, sessionID, term); err != nil {
		return nil, fmt.Errorf("aggregate section scores: %w", err)
	}
	return rows, nil
}

// GradeCount is one bucket of the section grade distribution.
type GradeCount struct {
	Grade string `db:"grade"`
	Count int    `db:"count"`
}

// GradeDistribution counts graded scores per grade code for a section.
func (r *ScoreRepository) GradeDistribution(ctx context.Context, sectionID, sessionID string, term models.Term) ([]GradeCount, error) {
	const query = `SELECT sc.grade, COUNT(*) AS count
        FROM scores sc
        JOIN students st ON st.id = sc.student_id
        WHERE st.section_id = $1 AND st.active = TRUE
          AND sc.session_id = $2 AND sc.term = $3 AND sc.total_score > 0
        GROUP BY sc.grade
        ORDER BY sc.grade ASC`
	var rows []GradeCount
	if err := r.db.SelectContext(ctx, &rows, query, sectionID, sessionID, term); err != nil {
		return nil, fmt.Errorf("grade distribution: %w", err)
	}
	return rows, nil
}
