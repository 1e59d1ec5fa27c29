package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/riseschools/results-api/internal/models"
)

// SessionRepository handles persistence for academic sessions and their term
// calendars.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository instantiates a session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// List returns sessions matching provided filters.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	base := "FROM sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "start_year"
	}
	allowedSorts := map[string]bool{
		"name":       true,
		"start_year": true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_year"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, name, start_year, end_year, is_active, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// FindByID loads a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT id, name, start_year, end_year, is_active, created_at, updated_at FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive returns the currently active session.
func (r *SessionRepository) FindActive(ctx context.Context) (*models.Session, error) {
	const query = `SELECT id, name, start_year, end_year, is_active, created_at, updated_at FROM sessions WHERE is_active = TRUE LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query); err != nil {
		return nil, err
	}
	return &session, nil
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO sessions (id, name, start_year, end_year, is_active, created_at, updated_at) VALUES (:id, :name, :start_year, :end_year, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SetActive marks the provided session as active and deactivates the rest.
func (r *SessionRepository) SetActive(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("deactivate other sessions: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE sessions SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set active tx: %w", err)
	}
	return nil
}

// TermConfigs returns the term calendar windows defined for a session,
// ordered by term.
func (r *SessionRepository) TermConfigs(ctx context.Context, sessionID string) ([]models.TermConfig, error) {
	const query = `SELECT id, session_id, term, start_date, end_date, next_term_begins FROM term_configs WHERE session_id = $1 ORDER BY term ASC`
	var configs []models.TermConfig
	if err := r.db.SelectContext(ctx, &configs, query, sessionID); err != nil {
		return nil, fmt.Errorf("list term configs: %w", err)
	}
	return configs, nil
}

// UpsertTermConfig inserts or updates the calendar window of one term.
func (r *SessionRepository) UpsertTermConfig(ctx context.Context, config *models.TermConfig) error {
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	const query = `INSERT INTO term_configs (id, session_id, term, start_date, end_date, next_term_begins)
        VALUES (:id, :session_id, :term, :start_date, :end_date, :next_term_begins)
        ON CONFLICT (session_id, term) DO UPDATE SET
            start_date = EXCLUDED.start_date,
            end_date = EXCLUDED.end_date,
            next_term_begins = EXCLUDED.next_term_begins`
	if _, err := r.db.NamedExecContext(ctx, query, config); err != nil {
		return fmt.Errorf("upsert term config: %w", err)
	}
	return nil
}
