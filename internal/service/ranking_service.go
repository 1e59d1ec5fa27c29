package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/grading"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type rankingPasses interface {
	BeginSubjectPass(ctx context.Context, subjectID, sessionID string, term models.Term) (*repository.SubjectPass, error)
	BeginClassPass(ctx context.Context, sectionID, sessionID string, term models.Term) (*repository.ClassPass, error)
}

type rankingSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.SectionDetail, error)
}

type positionCleaner interface {
	ClearPositions(ctx context.Context, studentID, sessionID string, term models.Term) error
}

// SubjectRankingSummary reports what a subject ranking pass touched.
type SubjectRankingSummary struct {
	SubjectID     string `json:"subject_id"`
	RankedCohorts int    `json:"ranked_cohorts"`
	RankedScores  int    `json:"ranked_scores"`
}

// ClassRankingSummary reports what a class ranking pass touched.
type ClassRankingSummary struct {
	SectionID      string `json:"section_id"`
	RankedStudents int    `json:"ranked_students"`
	SkippedNoScore int    `json:"skipped_no_score"`
}

// RankingService runs the subject and class ranking passes. Each pass is one
// repository transaction: candidates are collected under row locks, positions
// are computed in memory and written back atomically. Rerunning a pass on
// unchanged scores writes identical positions.
type RankingService struct {
	passes   rankingPasses
	sections rankingSectionReader
	scores   positionCleaner
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewRankingService constructs RankingService.
func NewRankingService(passes rankingPasses, sections rankingSectionReader, scores positionCleaner, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *RankingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingService{
		passes:   passes,
		sections: sections,
		scores:   scores,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// RecomputeSubjectRanking reranks every roster cohort holding scores for the
// subject in the session and term. Cohorts are ranked independently: a score
// only competes against scores of students on the same roster.
func (s *RankingService) RecomputeSubjectRanking(ctx context.Context, subjectID, sessionID string, term models.Term) (*SubjectRankingSummary, error) {
	if subjectID == "" || sessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject and session required")
	}
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	start := time.Now()
	pass, err := s.passes.BeginSubjectPass(ctx, subjectID, sessionID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open subject ranking pass")
	}
	defer pass.Close() //nolint:errcheck

	summary := &SubjectRankingSummary{SubjectID: subjectID}
	if len(pass.Rows) == 0 {
		return summary, nil
	}

	updates := make([]models.SubjectPositionUpdate, 0, len(pass.Rows))
	for _, cohort := range groupBySection(pass.Rows) {
		standings := make([]grading.Standing, 0, len(cohort))
		for _, row := range cohort {
			standings = append(standings, grading.Standing{ID: row.ScoreID, Score: row.TotalScore})
		}
		for _, placement := range grading.Rank(standings) {
			updates = append(updates, models.SubjectPositionUpdate{ScoreID: placement.ID, Position: placement.Position})
		}
		summary.RankedCohorts++
	}
	summary.RankedScores = len(updates)

	if err := pass.Apply(ctx, updates); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply subject ranking")
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRankingPass("subject", elapsed)
	s.invalidateReports(ctx, sessionID, term)
	s.logger.Info("subject ranking recomputed",
		zap.String("subject_id", subjectID),
		zap.String("session_id", sessionID),
		zap.String("term", string(term)),
		zap.Int("cohorts", summary.RankedCohorts),
		zap.Int("scores", summary.RankedScores),
		zap.Duration("elapsed", elapsed))
	return summary, nil
}

// RecomputeClassRanking reranks the section's roster on two axes: average
// marks and, for Junior and Senior sections, average grade point. Scores with
// a zero total stay out of both the numerator and the denominator of the
// averages, and a student with no non-zero score this term keeps whatever
// positions they already had.
func (s *RankingService) RecomputeClassRanking(ctx context.Context, sectionID, sessionID string, term models.Term) (*ClassRankingSummary, error) {
	if sectionID == "" || sessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section and session required")
	}
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	start := time.Now()
	pass, err := s.passes.BeginClassPass(ctx, sectionID, sessionID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open class ranking pass")
	}
	defer pass.Close() //nolint:errcheck

	summary := &ClassRankingSummary{SectionID: sectionID}
	if len(pass.Rows) == 0 {
		return summary, nil
	}

	aggregates := aggregateByStudent(pass.Rows)
	summary.SkippedNoScore = distinctStudents(pass.Rows) - len(aggregates)

	marksStandings := make([]grading.Standing, 0, len(aggregates))
	pointStandings := make([]grading.Standing, 0, len(aggregates))
	for _, agg := range aggregates {
		marksStandings = append(marksStandings, grading.Standing{ID: agg.studentID, Score: agg.avgMarks})
		pointStandings = append(pointStandings, grading.Standing{ID: agg.studentID, Score: agg.avgPoints})
	}

	if len(marksStandings) == 0 {
		return summary, nil
	}

	marksPositions := make(map[string]string, len(marksStandings))
	for _, placement := range grading.Rank(marksStandings) {
		marksPositions[placement.ID] = placement.Position
	}
	pointPositions := make(map[string]string, len(pointStandings))
	if section.AgeSection.UsesGradePoints() {
		for _, placement := range grading.Rank(pointStandings) {
			pointPositions[placement.ID] = placement.Position
		}
	}

	updates := make([]models.ClassPositionUpdate, 0, len(aggregates))
	for _, agg := range aggregates {
		gpPosition := models.PositionPlaceholder
		if section.AgeSection.UsesGradePoints() {
			gpPosition = pointPositions[agg.studentID]
		}
		updates = append(updates, models.ClassPositionUpdate{
			StudentID:       agg.studentID,
			ClassPosition:   marksPositions[agg.studentID],
			ClassPositionGP: gpPosition,
		})
	}
	summary.RankedStudents = len(updates)

	if err := pass.Apply(ctx, updates); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply class ranking")
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRankingPass("class", elapsed)
	s.invalidateReports(ctx, sessionID, term)
	s.logger.Info("class ranking recomputed",
		zap.String("section_id", sectionID),
		zap.String("session_id", sessionID),
		zap.String("term", string(term)),
		zap.Int("students", summary.RankedStudents),
		zap.Duration("elapsed", elapsed))
	return summary, nil
}

// ClearStudentPositions blanks a departed student's positions for the session
// and term. Subject and class ranks of the cohorts left behind close up on
// their next recomputation.
func (s *RankingService) ClearStudentPositions(ctx context.Context, studentID, sessionID string, term models.Term) error {
	if studentID == "" || sessionID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student and session required")
	}
	if !term.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if err := s.scores.ClearPositions(ctx, studentID, sessionID, term); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear positions")
	}
	s.invalidateReports(ctx, sessionID, term)
	return nil
}

func (s *RankingService) invalidateReports(ctx context.Context, sessionID string, term models.Term) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, reportCachePattern(sessionID, term)); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}

// studentAggregate carries one roster student's ranking inputs.
type studentAggregate struct {
	studentID string
	avgMarks  float64
	avgPoints float64
	rows      int
}

// aggregateByStudent folds score rows into per-student averages. Rows with a
// zero total are dropped before averaging, so they count toward neither
// average. Students left with no rows are omitted. A missing grade point
// contributes nothing to the sum while its row still counts in the divisor,
// which leaves avgPoints at zero when no points were awarded at all.
func aggregateByStudent(rows []models.ClassStanding) []studentAggregate {
	order := make([]string, 0, len(rows))
	totals := make(map[string]*studentAggregate, len(rows))
	for _, row := range rows {
		if row.TotalScore == 0 {
			continue
		}
		agg, ok := totals[row.StudentID]
		if !ok {
			agg = &studentAggregate{studentID: row.StudentID}
			totals[row.StudentID] = agg
			order = append(order, row.StudentID)
		}
		agg.avgMarks += row.TotalScore
		if row.GradePoint != nil {
			agg.avgPoints += *row.GradePoint
		}
		agg.rows++
	}

	aggregates := make([]studentAggregate, 0, len(order))
	for _, studentID := range order {
		agg := totals[studentID]
		agg.avgMarks = agg.avgMarks / float64(agg.rows)
		agg.avgPoints = agg.avgPoints / float64(agg.rows)
		aggregates = append(aggregates, *agg)
	}
	return aggregates
}

func distinctStudents(rows []models.ClassStanding) int {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.StudentID] = true
	}
	return len(seen)
}

func groupBySection(rows []models.SubjectStanding) [][]models.SubjectStanding {
	order := make([]string, 0, 4)
	groups := make(map[string][]models.SubjectStanding)
	for _, row := range rows {
		if _, ok := groups[row.SectionID]; !ok {
			order = append(order, row.SectionID)
		}
		groups[row.SectionID] = append(groups[row.SectionID], row)
	}
	cohorts := make([][]models.SubjectStanding, 0, len(order))
	for _, sectionID := range order {
		cohorts = append(cohorts, groups[sectionID])
	}
	return cohorts
}

func reportCachePattern(sessionID string, term models.Term) string {
	return "reports:" + sessionID + ":" + string(term) + ":*"
}
