package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type sessionRepository interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context) (*models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	SetActive(ctx context.Context, id string) error
	TermConfigs(ctx context.Context, sessionID string) ([]models.TermConfig, error)
	UpsertTermConfig(ctx context.Context, config *models.TermConfig) error
}

// CreateSessionRequest describes payload for opening a new academic session.
type CreateSessionRequest struct {
	Name      string `json:"name" validate:"required"`
	StartYear int    `json:"start_year" validate:"required,min=2000"`
	EndYear   int    `json:"end_year" validate:"required,min=2000"`
	IsActive  bool   `json:"is_active"`
}

// TermConfigRequest pins the calendar window of one term.
type TermConfigRequest struct {
	Term           models.Term `json:"term" validate:"required"`
	StartDate      time.Time   `json:"start_date" validate:"required"`
	EndDate        time.Time   `json:"end_date" validate:"required"`
	NextTermBegins *time.Time  `json:"next_term_begins"`
}

// SessionService orchestrates academic session workflows and resolves the
// current calendar period.
type SessionService struct {
	repo      sessionRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService creates a new session service instance.
func NewSessionService(repo sessionRepository, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{repo: repo, validator: validate, logger: logger, now: time.Now}
}

// List returns paginated sessions.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	}
	return sessions, pagination, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Current resolves the active session and the term the calendar date falls
// in. When the date matches no configured term window the term is inferred
// from the month: September to December is first term, January to April is
// second, the rest of the year is third.
func (s *SessionService) Current(ctx context.Context) (*models.CurrentPeriod, error) {
	session, err := s.repo.FindActive(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}

	configs, err := s.repo.TermConfigs(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term configs")
	}

	now := s.now().UTC()
	period := &models.CurrentPeriod{Session: *session, Term: termForMonth(now.Month())}
	for i := range configs {
		cfg := configs[i]
		if !now.Before(cfg.StartDate) && !now.After(cfg.EndDate) {
			period.Term = cfg.Term
			period.Config = &cfg
			break
		}
	}
	return period, nil
}

// Create opens a new academic session.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.EndYear != req.StartYear+1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_year must follow start_year")
	}

	session := &models.Session{
		Name:      req.Name,
		StartYear: req.StartYear,
		EndYear:   req.EndYear,
		IsActive:  req.IsActive,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	if req.IsActive {
		if err := s.repo.SetActive(ctx, session.ID); err != nil {
			s.logger.Error("failed to activate session after create", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate session")
		}
		session.IsActive = true
	}
	return session, nil
}

// SetActive designates a session as the active one. Any previously active
// session is deactivated in the same transaction.
func (s *SessionService) SetActive(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if err := s.repo.SetActive(ctx, session.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate session")
	}
	session.IsActive = true

	s.logger.Info("session activated", zap.String("session_id", session.ID), zap.String("name", session.Name))
	return session, nil
}

// TermConfigs returns the configured term windows of a session.
func (s *SessionService) TermConfigs(ctx context.Context, sessionID string) ([]models.TermConfig, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	configs, err := s.repo.TermConfigs(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term configs")
	}
	return configs, nil
}

// SetTermConfig creates or replaces the calendar window of one term.
func (s *SessionService) SetTermConfig(ctx context.Context, sessionID string, req TermConfigRequest) (*models.TermConfig, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term config payload")
	}
	if !req.Term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if !req.StartDate.Before(req.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	config := &models.TermConfig{
		SessionID:      sessionID,
		Term:           req.Term,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		NextTermBegins: req.NextTermBegins,
	}
	if err := s.repo.UpsertTermConfig(ctx, config); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save term config")
	}
	return config, nil
}

func termForMonth(m time.Month) models.Term {
	switch {
	case m >= time.September:
		return models.TermFirst
	case m <= time.April:
		return models.TermSecond
	default:
		return models.TermThird
	}
}
