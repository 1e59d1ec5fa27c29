package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/dto"
	"github.com/riseschools/results-api/internal/grading"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type reportScoreReader interface {
	ListByStudent(ctx context.Context, studentID, sessionID string, term models.Term) ([]models.ScoreDetail, error)
	ListBySection(ctx context.Context, sectionID, sessionID string, term models.Term) ([]models.ScoreDetail, error)
	AggregateBySubject(ctx context.Context, sectionID, sessionID string, term models.Term) ([]repository.SectionAggregate, error)
	GradeDistribution(ctx context.Context, sectionID, sessionID string, term models.Term) ([]repository.GradeCount, error)
}

type reportStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type reportSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.SectionDetail, error)
	RosterMembers(ctx context.Context, sectionID string) ([]models.Student, error)
}

type reportSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

// ReportService assembles report cards, broadsheets and section summaries
// from stored scores and positions. Payloads are cached per (session, term)
// and invalidated whenever a ranking pass writes new positions.
type ReportService struct {
	scores   reportScoreReader
	students reportStudentReader
	sections reportSectionReader
	sessions reportSessionReader
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewReportService constructs ReportService. ttl bounds how long cached
// report payloads live when no ranking write invalidates them first.
func NewReportService(scores reportScoreReader, students reportStudentReader, sections reportSectionReader, sessions reportSessionReader, cache *CacheService, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *ReportService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		scores:   scores,
		students: students,
		sections: sections,
		sessions: sessions,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// ReportCard builds one student's term result sheet. The bool reports
// whether the payload came from cache.
func (s *ReportService) ReportCard(ctx context.Context, studentID, sessionID string, term models.Term) (*dto.ReportCard, bool, error) {
	if !term.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	cacheKey := reportCacheKey(sessionID, term, "card", studentID)
	var cached dto.ReportCard
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get report card cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.SectionID == nil || student.AgeSection == nil {
		return nil, false, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not on any class roster")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	section, err := s.sections.FindByID(ctx, *student.SectionID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	start := s.now()
	rows, err := s.scores.ListByStudent(ctx, studentID, sessionID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("report_card", time.Since(start))
	}

	card := &dto.ReportCard{
		Student: dto.ReportStudent{
			ID:              student.ID,
			FullName:        student.FullName(),
			AdmissionNumber: student.AdmissionNumber,
			Section:         section.Name(),
			AgeSection:      string(*student.AgeSection),
		},
		SessionID:   session.ID,
		SessionName: session.Name,
		Term:        term,
		TermLabel:   term.Label(),
		Subjects:    make([]dto.ReportSubjectRow, 0, len(rows)),
		GeneratedAt: s.now().UTC(),
	}

	var totalSum float64
	var qualSum float64
	var pointSum float64
	qualifying := 0
	for _, row := range rows {
		card.Subjects = append(card.Subjects, subjectRowFromScore(row))
		totalSum += row.TotalScore
		if row.TotalScore > 0 {
			qualifying++
			qualSum += row.TotalScore
			if row.GradePoint != nil {
				pointSum += *row.GradePoint
			}
		}
	}

	summary := dto.ReportSummary{
		SubjectsTaken:   len(rows),
		TotalScore:      grading.Round2(totalSum),
		ClassPosition:   models.PositionPlaceholder,
		ClassPositionGP: models.PositionPlaceholder,
		ClassSize:       section.StudentCnt,
	}
	if qualifying > 0 {
		summary.Average = grading.Round2(qualSum / float64(qualifying))
	}
	if student.AgeSection.UsesGradePoints() {
		avgGP := 0.0
		if qualifying > 0 {
			avgGP = grading.Round2(pointSum / float64(qualifying))
		}
		summary.AverageGP = &avgGP
	}
	if len(rows) > 0 {
		summary.ClassPosition = rows[0].ClassPosition
		summary.ClassPositionGP = rows[0].ClassPositionGP
	}
	card.Summary = summary

	s.cacheSet(ctx, cacheKey, card)
	return card, false, nil
}

// Broadsheet builds the section-wide result grid. Roster members without any
// score row still appear with empty cells.
func (s *ReportService) Broadsheet(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.Broadsheet, bool, error) {
	if !term.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	cacheKey := reportCacheKey(sessionID, term, "broadsheet", sectionID)
	var cached dto.Broadsheet
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get broadsheet cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	section, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return nil, false, err
	}

	roster, err := s.sections.RosterMembers(ctx, sectionID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	start := s.now()
	rows, err := s.scores.ListBySection(ctx, sectionID, sessionID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("broadsheet", time.Since(start))
	}

	sheet := &dto.Broadsheet{
		SectionID:   sectionID,
		SectionName: section.Name(),
		SessionID:   sessionID,
		Term:        term,
		Subjects:    collectSubjectColumns(rows),
		Rows:        make([]dto.BroadsheetRow, 0, len(roster)),
		GeneratedAt: s.now().UTC(),
	}

	byStudent := make(map[string][]models.ScoreDetail, len(roster))
	for _, row := range rows {
		byStudent[row.StudentID] = append(byStudent[row.StudentID], row)
	}
	for _, member := range roster {
		sheet.Rows = append(sheet.Rows, broadsheetRowFor(member, byStudent[member.ID]))
	}

	s.cacheSet(ctx, cacheKey, sheet)
	return sheet, false, nil
}

// SectionSummary builds the aggregate view of a section's results for one
// session and term.
func (s *ReportService) SectionSummary(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.SectionSummary, bool, error) {
	if !term.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}

	cacheKey := reportCacheKey(sessionID, term, "summary", sectionID)
	var cached dto.SectionSummary
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get section summary cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	section, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return nil, false, err
	}

	start := s.now()
	aggregates, err := s.scores.AggregateBySubject(ctx, sectionID, sessionID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate scores")
	}
	distribution, err := s.scores.GradeDistribution(ctx, sectionID, sessionID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade distribution")
	}
	rows, err := s.scores.ListBySection(ctx, sectionID, sessionID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("section_summary", time.Since(start))
	}

	summary := &dto.SectionSummary{
		SectionID:         sectionID,
		SectionName:       section.Name(),
		SessionID:         sessionID,
		Term:              term,
		ClassSize:         section.StudentCnt,
		Subjects:          make([]dto.SubjectAggregateRow, 0, len(aggregates)),
		GradeDistribution: make([]dto.GradeBucket, 0, len(distribution)),
		GeneratedAt:       s.now().UTC(),
	}

	var weightedSum float64
	graded := 0
	for _, agg := range aggregates {
		summary.Subjects = append(summary.Subjects, dto.SubjectAggregateRow{
			SubjectID:   agg.SubjectID,
			SubjectName: agg.SubjectName,
			Graded:      agg.Graded,
			Average:     grading.Round2(floatOrZero(agg.Average)),
			Highest:     floatOrZero(agg.Highest),
			Lowest:      floatOrZero(agg.Lowest),
		})
		weightedSum += floatOrZero(agg.Average) * float64(agg.Graded)
		graded += agg.Graded
	}
	if graded > 0 {
		summary.ClassAverage = grading.Round2(weightedSum / float64(graded))
	}
	for _, bucket := range distribution {
		summary.GradeDistribution = append(summary.GradeDistribution, dto.GradeBucket{Grade: bucket.Grade, Count: bucket.Count})
	}
	summary.GradedStudents, summary.TopPerformers = leaderboard(rows)

	s.cacheSet(ctx, cacheKey, summary)
	return summary, false, nil
}

func (s *ReportService) loadSection(ctx context.Context, sectionID string) (*models.SectionDetail, error) {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

func (s *ReportService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("cache report payload", zap.String("key", key), zap.Error(err))
	}
}

func subjectRowFromScore(row models.ScoreDetail) dto.ReportSubjectRow {
	return dto.ReportSubjectRow{
		SubjectID:   row.SubjectID,
		SubjectName: row.SubjectName,
		CA:          row.CA,
		Test1:       row.Test1,
		Test2:       row.Test2,
		Test:        row.Test,
		Homework:    row.Homework,
		Classwork:   row.Classwork,
		TotalMarks:  row.TotalMarks,
		Exam:        row.Exam,
		TotalScore:  row.TotalScore,
		Grade:       row.Grade,
		GradePoint:  row.GradePoint,
		Description: row.Description,
		Position:    row.SubjectPosition,
		Remarks:     row.Remarks,
	}
}

func collectSubjectColumns(rows []models.ScoreDetail) []dto.BroadsheetSubject {
	seen := make(map[string]bool, len(rows))
	columns := make([]dto.BroadsheetSubject, 0, len(rows))
	for _, row := range rows {
		if seen[row.SubjectID] {
			continue
		}
		seen[row.SubjectID] = true
		columns = append(columns, dto.BroadsheetSubject{ID: row.SubjectID, Name: row.SubjectName})
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
	return columns
}

func broadsheetRowFor(member models.Student, scores []models.ScoreDetail) dto.BroadsheetRow {
	row := dto.BroadsheetRow{
		StudentID:       member.ID,
		StudentName:     member.FullName(),
		AdmissionNumber: member.AdmissionNumber,
		Totals:          make(map[string]float64, len(scores)),
		Grades:          make(map[string]string, len(scores)),
		ClassPosition:   models.PositionPlaceholder,
		ClassPositionGP: models.PositionPlaceholder,
	}
	var qualSum float64
	qualifying := 0
	for _, score := range scores {
		row.Totals[score.SubjectID] = score.TotalScore
		row.Grades[score.SubjectID] = score.Grade
		if score.TotalScore > 0 {
			qualifying++
			qualSum += score.TotalScore
		}
	}
	if len(scores) > 0 {
		row.ClassPosition = scores[0].ClassPosition
		row.ClassPositionGP = scores[0].ClassPositionGP
	}
	if qualifying > 0 {
		row.Average = grading.Round2(qualSum / float64(qualifying))
	}
	return row
}

// leaderboard ranks students of a section by their qualifying average and
// returns the graded student count plus the top three.
func leaderboard(rows []models.ScoreDetail) (int, []dto.TopPerformer) {
	type entry struct {
		performer dto.TopPerformer
		sum       float64
		count     int
	}
	byStudent := make(map[string]*entry, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.TotalScore <= 0 {
			continue
		}
		e, ok := byStudent[row.StudentID]
		if !ok {
			e = &entry{performer: dto.TopPerformer{
				StudentID:       row.StudentID,
				StudentName:     row.StudentName,
				AdmissionNumber: row.AdmissionNumber,
				ClassPosition:   row.ClassPosition,
			}}
			byStudent[row.StudentID] = e
			order = append(order, row.StudentID)
		}
		e.sum += row.TotalScore
		e.count++
	}

	performers := make([]dto.TopPerformer, 0, len(order))
	for _, id := range order {
		e := byStudent[id]
		e.performer.Average = grading.Round2(e.sum / float64(e.count))
		performers = append(performers, e.performer)
	}
	sort.SliceStable(performers, func(i, j int) bool { return performers[i].Average > performers[j].Average })
	if len(performers) > 3 {
		performers = performers[:3]
	}
	return len(byStudent), performers
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func reportCacheKey(sessionID string, term models.Term, kind, id string) string {
	return fmt.Sprintf("reports:%s:%s:%s:%s", sessionID, term, kind, id)
}
