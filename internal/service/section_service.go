package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type sectionRepository interface {
	ListClasses(ctx context.Context) ([]models.SchoolClass, error)
	List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.SectionDetail, error)
	RosterMembers(ctx context.Context, sectionID string) ([]models.Student, error)
}

// SectionRoster bundles a section with its current members.
type SectionRoster struct {
	Section  models.SectionDetail `json:"section"`
	Students []models.Student     `json:"students"`
}

// SectionService serves the class level ladder and section reads. Roster
// mutations live in RosterService because they trigger recomputation.
type SectionService struct {
	repo   sectionRepository
	logger *zap.Logger
}

// NewSectionService coordinates section reads.
func NewSectionService(repo sectionRepository, logger *zap.Logger) *SectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionService{repo: repo, logger: logger}
}

// ListClasses returns the fixed class level ladder in level order.
func (s *SectionService) ListClasses(ctx context.Context) ([]models.SchoolClass, error) {
	classes, err := s.repo.ListClasses(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// List returns class sections with pagination metadata.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, *models.Pagination, error) {
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sections, pagination, nil
}

// Get returns one section with its class and session context.
func (s *SectionService) Get(ctx context.Context, id string) (*models.SectionDetail, error) {
	section, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

// Roster returns a section together with its active members.
func (s *SectionService) Roster(ctx context.Context, id string) (*SectionRoster, error) {
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	students, err := s.repo.RosterMembers(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return &SectionRoster{Section: *section, Students: students}, nil
}
