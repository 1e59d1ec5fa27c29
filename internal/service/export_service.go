package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/dto"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	appErrors "github.com/riseschools/results-api/pkg/errors"
	"github.com/riseschools/results-api/pkg/export"
	"github.com/riseschools/results-api/pkg/jobs"
	"github.com/riseschools/results-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reportBuilder interface {
	ReportCard(ctx context.Context, studentID, sessionID string, term models.Term) (*dto.ReportCard, bool, error)
	Broadsheet(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.Broadsheet, bool, error)
}

type sectionAccessChecker interface {
	TeacherAssigned(ctx context.Context, sectionID, userID string) (bool, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService runs the export job lifecycle: it enqueues report card and
// broadsheet exports, renders them to CSV or PDF through the worker, stores
// the artifacts and serves signed download links.
type ExportService struct {
	repo     exportJobStore
	reports  reportBuilder
	sections sectionAccessChecker
	queue    jobDispatcher
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportJobStore, reports reportBuilder, sections sectionAccessChecker, queue jobDispatcher, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		repo:     repo,
		reports:  reports,
		sections: sections,
		queue:    queue,
		storage:  store,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob validates the request, persists the job and enqueues processing.
func (s *ExportService) CreateJob(ctx context.Context, req dto.ExportRequest, actorID string, role models.UserRole) (*dto.ExportJobResponse, error) {
	if err := s.validateRequest(ctx, req, actorID, role); err != nil {
		return nil, err
	}
	job := &models.ExportJob{
		Kind: req.Kind,
		Params: models.ExportJobParams{
			SessionID: req.SessionID,
			Term:      req.Term,
			SectionID: req.SectionID,
			StudentID: req.StudentID,
			Format:    req.Format,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Kind)}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status}, nil
}

// GetStatus exposes job metadata to clients, enforcing ownership for teachers.
func (s *ExportService) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if role == models.RoleTeacher && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ExportStatusResponse{
		ID:         job.ID,
		Status:     job.Status,
		FinishedAt: job.FinishedAt,
	}
	if job.ResultURL != nil {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates the token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Kind)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// Generate builds the dataset for a job and stores the rendered artifact.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/exports/download/%s", prefix, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *ExportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		finished, err := s.repo.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		if len(finished) == 0 {
			break
		}
		for _, job := range finished {
			if job.FilePath == nil || *job.FilePath == "" {
				continue
			}
			if err := s.storage.Delete(*job.FilePath); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
			}
		}
		if len(finished) < 100 {
			break
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

func (s *ExportService) validateRequest(ctx context.Context, req dto.ExportRequest, actorID string, role models.UserRole) error {
	if req.SessionID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "sessionId is required")
	}
	if !req.Term.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown term")
	}
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatPDF {
		return appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	switch req.Kind {
	case models.ExportKindReportCard:
		if req.StudentID == nil || *req.StudentID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "studentId is required for report card exports")
		}
	case models.ExportKindBroadsheet:
		if req.SectionID == nil || *req.SectionID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "sectionId is required for broadsheet exports")
		}
		if role == models.RoleTeacher {
			assigned, err := s.sections.TeacherAssigned(ctx, *req.SectionID, actorID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check section assignment")
			}
			if !assigned {
				return appErrors.Clone(appErrors.ErrForbidden, "not assigned to this section")
			}
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported export kind")
	}
	return nil
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Kind {
	case models.ExportKindReportCard:
		return s.buildReportCardDataset(ctx, job.Params)
	case models.ExportKindBroadsheet:
		return s.buildBroadsheetDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export kind %s", job.Kind)
	}
}

func (s *ExportService) buildReportCardDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	card, _, err := s.reports.ReportCard(ctx, deref(params.StudentID), params.SessionID, params.Term)
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := []string{"Subject"}
	headers = append(headers, componentColumns(card.Subjects)...)
	headers = append(headers, "Total", "Grade", "Grade Point", "Position", "Description")

	rows := make([]map[string]string, 0, len(card.Subjects)+3)
	for _, subject := range card.Subjects {
		row := map[string]string{
			"Subject":     subject.SubjectName,
			"CA":          formatScore(subject.CA),
			"Test 1":      formatScore(subject.Test1),
			"Test 2":      formatScore(subject.Test2),
			"Test":        formatScore(subject.Test),
			"Homework":    formatScore(subject.Homework),
			"Classwork":   formatScore(subject.Classwork),
			"Total Marks": formatScore(subject.TotalMarks),
			"Exam":        formatScore(subject.Exam),
			"Total":       fmt.Sprintf("%.2f", subject.TotalScore),
			"Grade":       subject.Grade,
			"Grade Point": formatScore(subject.GradePoint),
			"Position":    subject.Position,
			"Description": subject.Description,
		}
		rows = append(rows, row)
	}
	rows = append(rows,
		map[string]string{"Subject": "Term Average", "Total": fmt.Sprintf("%.2f", card.Summary.Average)},
		map[string]string{"Subject": "Class Position", "Total": card.Summary.ClassPosition},
	)
	if card.Summary.AverageGP != nil {
		rows = append(rows,
			map[string]string{"Subject": "Average GP", "Total": fmt.Sprintf("%.2f", *card.Summary.AverageGP)},
			map[string]string{"Subject": "Class Position (GP)", "Total": card.Summary.ClassPositionGP},
		)
	}

	title := fmt.Sprintf("Report Card - %s - %s %s", card.Student.FullName, card.SessionName, card.TermLabel)
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func (s *ExportService) buildBroadsheetDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	sheet, _, err := s.reports.Broadsheet(ctx, deref(params.SectionID), params.SessionID, params.Term)
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := []string{"Admission No", "Student"}
	for _, subject := range sheet.Subjects {
		headers = append(headers, subject.Name)
	}
	headers = append(headers, "Average", "Position", "Position (GP)")

	rows := make([]map[string]string, 0, len(sheet.Rows))
	for _, line := range sheet.Rows {
		row := map[string]string{
			"Admission No":  line.AdmissionNumber,
			"Student":       line.StudentName,
			"Average":       fmt.Sprintf("%.2f", line.Average),
			"Position":      line.ClassPosition,
			"Position (GP)": line.ClassPositionGP,
		}
		for _, subject := range sheet.Subjects {
			if total, ok := line.Totals[subject.ID]; ok {
				row[subject.Name] = fmt.Sprintf("%.2f", total)
			} else {
				row[subject.Name] = ""
			}
		}
		rows = append(rows, row)
	}

	title := fmt.Sprintf("Broadsheet - %s - %s", sheet.SectionName, params.Term.Label())
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

// componentColumns returns the raw component headers present on at least one
// subject row, so a Nursery card does not carry empty Junior columns.
func componentColumns(rows []dto.ReportSubjectRow) []string {
	present := map[string]bool{}
	for _, row := range rows {
		if row.CA != nil {
			present["CA"] = true
		}
		if row.Test1 != nil {
			present["Test 1"] = true
		}
		if row.Test2 != nil {
			present["Test 2"] = true
		}
		if row.Test != nil {
			present["Test"] = true
		}
		if row.Homework != nil {
			present["Homework"] = true
		}
		if row.Classwork != nil {
			present["Classwork"] = true
		}
		if row.TotalMarks != nil {
			present["Total Marks"] = true
		}
		if row.Exam != nil {
			present["Exam"] = true
		}
	}
	ordered := []string{"CA", "Test 1", "Test 2", "Test", "Homework", "Classwork", "Total Marks", "Exam"}
	columns := make([]string, 0, len(present))
	for _, name := range ordered {
		if present[name] {
			columns = append(columns, name)
		}
	}
	return columns
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := deref(job.Params.StudentID)
	if job.Kind == models.ExportKindBroadsheet {
		scope = deref(job.Params.SectionID)
	}
	name := fmt.Sprintf("%s_%s_term%s_%s_%s.%s",
		strings.ToLower(string(job.Kind)), sanitizeFilename(job.Params.SessionID),
		job.Params.Term, sanitizeFilename(scope), timestamp, job.Params.Format)
	return name
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// ExportWorker bridges queue jobs to the export generator.
type ExportWorker struct {
	repo       exportJobStore
	exporter   *ExportService
	logger     *zap.Logger
	maxRetries int
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo exportJobStore, exporter *ExportService, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ExportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle processes a queue job.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ExportStatusProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return err
	}
	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ExportStatusFailed
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &failed,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job failed", "job_id", job.ID, "error", updateErr)
			}
		} else {
			queued := models.ExportStatusQueued
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &queued,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}
	finished := models.ExportStatusFinished
	now := time.Now().UTC()
	url := result.URL
	path := result.RelativePath
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		ResultURL:    &url,
		FilePath:     &path,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}
