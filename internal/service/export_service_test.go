package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riseschools/results-api/internal/dto"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	appErrors "github.com/riseschools/results-api/pkg/errors"
	"github.com/riseschools/results-api/pkg/export"
	"github.com/riseschools/results-api/pkg/jobs"
	"github.com/riseschools/results-api/pkg/storage"
)

type mockExportJobs struct {
	jobs map[string]*models.ExportJob
	seq  int
}

func (m *mockExportJobs) Create(ctx context.Context, job *models.ExportJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ExportJob)
	}
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.CreatedAt = time.Now().UTC()
	m.jobs[job.ID] = job
	return nil
}

func (m *mockExportJobs) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if job, ok := m.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExportJobs) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.FilePath != nil {
		job.FilePath = params.FilePath
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockExportJobs) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, job := range m.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (m *mockExportJobs) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	failErr  error
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type mockReportBuilder struct {
	card     *dto.ReportCard
	sheet    *dto.Broadsheet
	buildErr error
}

func (m *mockReportBuilder) ReportCard(ctx context.Context, studentID, sessionID string, term models.Term) (*dto.ReportCard, bool, error) {
	if m.buildErr != nil {
		return nil, false, m.buildErr
	}
	return m.card, false, nil
}

func (m *mockReportBuilder) Broadsheet(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.Broadsheet, bool, error) {
	if m.buildErr != nil {
		return nil, false, m.buildErr
	}
	return m.sheet, false, nil
}

type mockSectionAccess struct {
	assigned map[string]bool
}

func (m *mockSectionAccess) TeacherAssigned(ctx context.Context, sectionID, userID string) (bool, error) {
	return m.assigned[sectionID+":"+userID], nil
}

// capturingRenderer records the dataset it was asked to render.
type capturingRenderer struct {
	dataset export.Dataset
}

func (c *capturingRenderer) Render(data export.Dataset) ([]byte, error) {
	c.dataset = data
	return []byte("rendered"), nil
}

func ptrString(v string) *string {
	return &v
}

func sampleCard() *dto.ReportCard {
	return &dto.ReportCard{
		Student:     dto.ReportStudent{ID: "stu-1", FullName: "Ada Obi", AdmissionNumber: "RS-0001", Section: "SS 2 A", AgeSection: "Senior"},
		SessionID:   "sess-1",
		SessionName: "2025/2026",
		Term:        models.TermFirst,
		TermLabel:   "First Term",
		Subjects: []dto.ReportSubjectRow{
			{
				SubjectID:   "sub-1",
				SubjectName: "Mathematics",
				CA:          ptrFloat(8),
				Test1:       ptrFloat(9),
				Test2:       ptrFloat(9),
				Exam:        ptrFloat(60),
				TotalScore:  86,
				Grade:       "B2",
				GradePoint:  ptrFloat(4.5),
				Description: "Excellent",
				Position:    "1st",
			},
		},
		Summary: dto.ReportSummary{
			SubjectsTaken:   1,
			TotalScore:      86,
			Average:         86,
			AverageGP:       ptrFloat(4.5),
			ClassPosition:   "2nd",
			ClassPositionGP: "1st",
			ClassSize:       24,
		},
	}
}

func newExportHarness(t *testing.T) (*ExportService, *mockExportJobs, *mockDispatcher, *mockReportBuilder, *storage.SignedURLSigner) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	repo := &mockExportJobs{}
	queue := &mockDispatcher{}
	builder := &mockReportBuilder{card: sampleCard()}
	svc := NewExportService(repo, builder, &mockSectionAccess{assigned: map[string]bool{}}, queue, store, signer,
		ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour, MaxRetries: 3}, zap.NewNop(), nil, nil)
	return svc, repo, queue, builder, signer
}

func TestExportServiceCreateJobEnqueues(t *testing.T) {
	svc, repo, queue, _, _ := newExportHarness(t)

	resp, err := svc.CreateJob(context.Background(), dto.ExportRequest{
		Kind:      models.ExportKindReportCard,
		SessionID: "sess-1",
		Term:      models.TermFirst,
		StudentID: ptrString("stu-1"),
		Format:    models.ExportFormatCSV,
	}, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ID, queue.enqueued[0].ID)
	assert.Equal(t, string(models.ExportKindReportCard), queue.enqueued[0].Type)
	assert.Equal(t, "admin-1", repo.jobs[resp.ID].CreatedBy)
}

func TestExportServiceCreateJobValidation(t *testing.T) {
	svc, _, _, _, _ := newExportHarness(t)

	cases := []struct {
		name string
		req  dto.ExportRequest
		code string
	}{
		{
			name: "missing session",
			req:  dto.ExportRequest{Kind: models.ExportKindReportCard, Term: models.TermFirst, StudentID: ptrString("stu-1"), Format: models.ExportFormatCSV},
			code: appErrors.ErrValidation.Code,
		},
		{
			name: "unknown term",
			req:  dto.ExportRequest{Kind: models.ExportKindReportCard, SessionID: "sess-1", Term: models.Term("9"), StudentID: ptrString("stu-1"), Format: models.ExportFormatCSV},
			code: appErrors.ErrValidation.Code,
		},
		{
			name: "bad format",
			req:  dto.ExportRequest{Kind: models.ExportKindReportCard, SessionID: "sess-1", Term: models.TermFirst, StudentID: ptrString("stu-1"), Format: models.ExportFormat("xlsx")},
			code: appErrors.ErrValidation.Code,
		},
		{
			name: "report card without student",
			req:  dto.ExportRequest{Kind: models.ExportKindReportCard, SessionID: "sess-1", Term: models.TermFirst, Format: models.ExportFormatPDF},
			code: appErrors.ErrValidation.Code,
		},
		{
			name: "broadsheet without section",
			req:  dto.ExportRequest{Kind: models.ExportKindBroadsheet, SessionID: "sess-1", Term: models.TermFirst, Format: models.ExportFormatCSV},
			code: appErrors.ErrValidation.Code,
		},
		{
			name: "unknown kind",
			req:  dto.ExportRequest{Kind: models.ExportKind("transcript"), SessionID: "sess-1", Term: models.TermFirst, Format: models.ExportFormatCSV},
			code: appErrors.ErrValidation.Code,
		},
	}
	for _, tc := range cases {
		_, err := svc.CreateJob(context.Background(), tc.req, "admin-1", models.RoleAdmin)
		require.Error(t, err, tc.name)
		assert.Equal(t, tc.code, appErrors.FromError(err).Code, tc.name)
	}
}

func TestExportServiceBroadsheetRequiresSectionAssignment(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	access := &mockSectionAccess{assigned: map[string]bool{"sec-1:teacher-1": true}}
	svc := NewExportService(&mockExportJobs{}, &mockReportBuilder{}, access, &mockDispatcher{}, store,
		storage.NewSignedURLSigner("test-secret", time.Hour), ExportConfig{}, zap.NewNop(), nil, nil)

	req := dto.ExportRequest{
		Kind:      models.ExportKindBroadsheet,
		SessionID: "sess-1",
		Term:      models.TermFirst,
		SectionID: ptrString("sec-2"),
		Format:    models.ExportFormatCSV,
	}
	_, err = svc.CreateJob(context.Background(), req, "teacher-1", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	req.SectionID = ptrString("sec-1")
	_, err = svc.CreateJob(context.Background(), req, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
}

func TestExportServiceGetStatusEnforcesOwnershipForTeachers(t *testing.T) {
	svc, repo, _, _, _ := newExportHarness(t)
	repo.jobs = map[string]*models.ExportJob{
		"job-1": {ID: "job-1", Kind: models.ExportKindReportCard, Status: models.ExportStatusProcessing, CreatedBy: "teacher-1"},
	}

	_, err := svc.GetStatus(context.Background(), "job-1", "teacher-2", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	status, err := svc.GetStatus(context.Background(), "job-1", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusProcessing, status.Status)

	_, err = svc.GetStatus(context.Background(), "job-404", "admin-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportWorkerFinishesJobAndServesDownload(t *testing.T) {
	svc, repo, _, _, _ := newExportHarness(t)
	job := &models.ExportJob{
		Kind: models.ExportKindReportCard,
		Params: models.ExportJobParams{
			SessionID: "sess-1",
			Term:      models.TermFirst,
			StudentID: ptrString("stu-1"),
			Format:    models.ExportFormatCSV,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: "admin-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))

	worker := NewExportWorker(repo, svc, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1}))

	stored := repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	require.NotNil(t, stored.ResultURL)
	assert.Contains(t, *stored.ResultURL, "/api/v1/exports/download/")
	require.NotNil(t, stored.FilePath)
	require.NotNil(t, stored.FinishedAt)

	token := strings.TrimPrefix(*stored.ResultURL, "/api/v1/exports/download/")
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))

	payload, err := os.ReadFile(download.File.Name())
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Mathematics")
}

func TestExportWorkerRequeuesBeforeFailing(t *testing.T) {
	svc, repo, _, builder, _ := newExportHarness(t)
	builder.buildErr = assert.AnError
	job := &models.ExportJob{
		Kind:      models.ExportKindReportCard,
		Params:    models.ExportJobParams{SessionID: "sess-1", Term: models.TermFirst, StudentID: ptrString("stu-1"), Format: models.ExportFormatCSV},
		Status:    models.ExportStatusQueued,
		CreatedBy: "admin-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	worker := NewExportWorker(repo, svc, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusQueued, repo.jobs[job.ID].Status)
	require.NotNil(t, repo.jobs[job.ID].ErrorMessage)

	err = worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 3})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusFailed, repo.jobs[job.ID].Status)
	assert.NotNil(t, repo.jobs[job.ID].FinishedAt)
}

func TestExportServiceInvalidDownloadToken(t *testing.T) {
	svc, _, _, _, _ := newExportHarness(t)

	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceReportCardDatasetSkipsAbsentColumns(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	renderer := &capturingRenderer{}
	builder := &mockReportBuilder{card: sampleCard()}
	svc := NewExportService(&mockExportJobs{}, builder, &mockSectionAccess{}, &mockDispatcher{}, store,
		storage.NewSignedURLSigner("test-secret", time.Hour), ExportConfig{}, zap.NewNop(), renderer, nil)

	job := &models.ExportJob{
		ID:   "job-1",
		Kind: models.ExportKindReportCard,
		Params: models.ExportJobParams{
			SessionID: "sess-1",
			Term:      models.TermFirst,
			StudentID: ptrString("stu-1"),
			Format:    models.ExportFormatCSV,
		},
	}
	_, err = svc.Generate(context.Background(), job)
	require.NoError(t, err)

	// Senior cards carry CA, Test 1, Test 2 and Exam but no Primary columns.
	assert.Contains(t, renderer.dataset.Headers, "CA")
	assert.Contains(t, renderer.dataset.Headers, "Exam")
	assert.NotContains(t, renderer.dataset.Headers, "Homework")
	assert.NotContains(t, renderer.dataset.Headers, "Total Marks")

	require.NotEmpty(t, renderer.dataset.Rows)
	assert.Equal(t, "Mathematics", renderer.dataset.Rows[0]["Subject"])
	assert.Equal(t, "86.00", renderer.dataset.Rows[0]["Total"])

	// Footer rows carry the GP pair for grade-point sections.
	last := renderer.dataset.Rows[len(renderer.dataset.Rows)-1]
	assert.Equal(t, "Class Position (GP)", last["Subject"])
	assert.Equal(t, "1st", last["Total"])
}

func TestExportServiceBroadsheetDatasetFillsSubjectCells(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	renderer := &capturingRenderer{}
	builder := &mockReportBuilder{sheet: &dto.Broadsheet{
		SectionID:   "sec-1",
		SectionName: "SS 2 A",
		SessionID:   "sess-1",
		Term:        models.TermFirst,
		Subjects: []dto.BroadsheetSubject{
			{ID: "sub-1", Name: "Biology"},
			{ID: "sub-2", Name: "Mathematics"},
		},
		Rows: []dto.BroadsheetRow{
			{
				StudentID:       "stu-1",
				StudentName:     "Ada Obi",
				AdmissionNumber: "RS-0001",
				Totals:          map[string]float64{"sub-2": 86},
				Grades:          map[string]string{"sub-2": "B2"},
				Average:         86,
				ClassPosition:   "1st",
				ClassPositionGP: "1st",
			},
		},
	}}
	svc := NewExportService(&mockExportJobs{}, builder, &mockSectionAccess{}, &mockDispatcher{}, store,
		storage.NewSignedURLSigner("test-secret", time.Hour), ExportConfig{}, zap.NewNop(), renderer, nil)

	job := &models.ExportJob{
		ID:   "job-1",
		Kind: models.ExportKindBroadsheet,
		Params: models.ExportJobParams{
			SessionID: "sess-1",
			Term:      models.TermFirst,
			SectionID: ptrString("sec-1"),
			Format:    models.ExportFormatCSV,
		},
	}
	_, err = svc.Generate(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []string{"Admission No", "Student", "Biology", "Mathematics", "Average", "Position", "Position (GP)"}, renderer.dataset.Headers)
	require.Len(t, renderer.dataset.Rows, 1)
	assert.Equal(t, "86.00", renderer.dataset.Rows[0]["Mathematics"])
	assert.Equal(t, "", renderer.dataset.Rows[0]["Biology"])
}
