package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riseschools/results-api/internal/models"
)

// RankingRepository owns the transactional collect-and-write passes behind
// subject and class ranking. Each pass locks its candidate score rows so two
// concurrent recomputations over the same cohort cannot interleave, and every
// position write of one pass commits atomically or not at all.
type RankingRepository struct {
	db *sqlx.DB
}

// NewRankingRepository creates a new ranking repository.
func NewRankingRepository(db *sqlx.DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// SubjectPass is an open subject ranking transaction: candidate rows are
// collected and locked at begin time, position updates are applied and
// committed by Apply. Close rolls back an unapplied pass.
type SubjectPass struct {
	tx   *sqlx.Tx
	done bool
	Rows []models.SubjectStanding
}

// BeginSubjectPass starts a subject ranking pass over every roster whose
// students hold scores for the subject in the session and term. Only scores
// backed by an enrollment and an active roster membership are candidates.
func (r *RankingRepository) BeginSubjectPass(ctx context.Context, subjectID, sessionID string, term models.Term) (*SubjectPass, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin subject pass: %w", err)
	}
	const query = `SELECT sc.id AS score_id, sc.student_id, st.section_id, sc.total_score
        FROM scores sc
        JOIN students st ON st.id = sc.student_id
        JOIN enrollments en ON en.student_id = sc.student_id
                AND en.subject_id = sc.subject_id
                AND en.session_id = sc.session_id
                AND en.term = sc.term
        WHERE sc.subject_id = $1 AND sc.session_id = $2 AND sc.term = $3
          AND st.active = TRUE AND st.section_id IS NOT NULL
        ORDER BY st.section_id ASC, sc.total_score DESC
        FOR UPDATE OF sc`
	var rows []models.SubjectStanding
	if err := tx.SelectContext(ctx, &rows, query, subjectID, sessionID, term); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("collect subject standings: %w", err)
	}
	return &SubjectPass{tx: tx, Rows: rows}, nil
}

// Apply writes the subject positions and commits the pass.
func (p *SubjectPass) Apply(ctx context.Context, updates []models.SubjectPositionUpdate) error {
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := p.tx.ExecContext(ctx,
			`UPDATE scores SET subject_position = $1, updated_at = $2 WHERE id = $3`,
			u.Position, now, u.ScoreID); err != nil {
			p.tx.Rollback() //nolint:errcheck
			p.done = true
			return fmt.Errorf("write subject position: %w", err)
		}
	}
	if err := p.tx.Commit(); err != nil {
		p.done = true
		return fmt.Errorf("commit subject pass: %w", err)
	}
	p.done = true
	return nil
}

// Close rolls the pass back if it was never applied. Safe to defer.
func (p *SubjectPass) Close() error {
	if p.done {
		return nil
	}
	p.done = true
	return p.tx.Rollback()
}

// ClassPass is an open class ranking transaction over one section's roster.
type ClassPass struct {
	tx        *sqlx.Tx
	done      bool
	sessionID string
	term      models.Term
	Rows      []models.ClassStanding
}

// BeginClassPass starts a class ranking pass over the section's roster,
// collecting and locking every enrolled score row for the session and term.
func (r *RankingRepository) BeginClassPass(ctx context.Context, sectionID, sessionID string, term models.Term) (*ClassPass, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin class pass: %w", err)
	}
	const query = `SELECT sc.id AS score_id, sc.student_id, sc.total_score, sc.grade_point
        FROM scores sc
        JOIN students st ON st.id = sc.student_id
        JOIN enrollments en ON en.student_id = sc.student_id
                AND en.subject_id = sc.subject_id
                AND en.session_id = sc.session_id
                AND en.term = sc.term
        WHERE st.section_id = $1 AND st.active = TRUE
          AND sc.session_id = $2 AND sc.term = $3
        ORDER BY sc.student_id ASC
        FOR UPDATE OF sc`
	var rows []models.ClassStanding
	if err := tx.SelectContext(ctx, &rows, query, sectionID, sessionID, term); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("collect class standings: %w", err)
	}
	return &ClassPass{tx: tx, sessionID: sessionID, term: term, Rows: rows}, nil
}

// Apply stamps each student's class positions onto all of their score rows
// for the pass's session and term, then commits.
func (p *ClassPass) Apply(ctx context.Context, updates []models.ClassPositionUpdate) error {
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := p.tx.ExecContext(ctx,
			`UPDATE scores SET class_position = $1, class_position_gp = $2, updated_at = $3
                        WHERE student_id = $4 AND session_id = $5 AND term = $6`,
			u.ClassPosition, u.ClassPositionGP, now, u.StudentID, p.sessionID, p.term); err != nil {
			p.tx.Rollback() //nolint:errcheck
			p.done = true
			return fmt.Errorf("write class position: %w", err)
		}
	}
	if err := p.tx.Commit(); err != nil {
		p.done = true
		return fmt.Errorf("commit class pass: %w", err)
	}
	p.done = true
	return nil
}

// Close rolls the pass back if it was never applied. Safe to defer.
func (p *ClassPass) Close() error {
	if p.done {
		return nil
	}
	p.done = true
	return p.tx.Rollback()
}
