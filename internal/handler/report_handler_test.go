package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riseschools/results-api/internal/dto"
	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

type reportProviderMock struct {
	card         *dto.ReportCard
	cardErr      error
	sheet        *dto.Broadsheet
	summary      *dto.SectionSummary
	lastStudent  string
	lastSession  string
	lastTerm     models.Term
	lastCacheHit bool
}

func (m *reportProviderMock) ReportCard(ctx context.Context, studentID, sessionID string, term models.Term) (*dto.ReportCard, bool, error) {
	m.lastStudent = studentID
	m.lastSession = sessionID
	m.lastTerm = term
	return m.card, m.lastCacheHit, m.cardErr
}

func (m *reportProviderMock) Broadsheet(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.Broadsheet, bool, error) {
	m.lastSession = sessionID
	m.lastTerm = term
	return m.sheet, false, nil
}

func (m *reportProviderMock) SectionSummary(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.SectionSummary, bool, error) {
	m.lastSession = sessionID
	m.lastTerm = term
	return m.summary, false, nil
}

type periodResolverMock struct {
	period *models.CurrentPeriod
	err    error
	calls  int
}

func (m *periodResolverMock) Current(ctx context.Context) (*models.CurrentPeriod, error) {
	m.calls++
	return m.period, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerReportCard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := &reportProviderMock{card: &dto.ReportCard{}}
	resolver := &periodResolverMock{}
	handler := NewReportHandler(provider, resolver)

	c, w := newGinContext(http.MethodGet, "/students/stu-1/report-card?sessionId=sess-1&term=2", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}

	handler.ReportCard(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", provider.lastStudent)
	assert.Equal(t, "sess-1", provider.lastSession)
	assert.Equal(t, models.TermSecond, provider.lastTerm)
	assert.Zero(t, resolver.calls)
}

func TestReportHandlerDefaultsToCurrentPeriod(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := &reportProviderMock{card: &dto.ReportCard{}}
	resolver := &periodResolverMock{period: &models.CurrentPeriod{
		Session: models.Session{ID: "sess-9"},
		Term:    models.TermThird,
	}}
	handler := NewReportHandler(provider, resolver)

	c, w := newGinContext(http.MethodGet, "/students/stu-1/report-card", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}

	handler.ReportCard(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, "sess-9", provider.lastSession)
	assert.Equal(t, models.TermThird, provider.lastTerm)
}

func TestReportHandlerRejectsBadTerm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := &reportProviderMock{card: &dto.ReportCard{}}
	handler := NewReportHandler(provider, &periodResolverMock{period: &models.CurrentPeriod{Session: models.Session{ID: "sess-1"}, Term: models.TermFirst}})

	c, w := newGinContext(http.MethodGet, "/students/stu-1/report-card?sessionId=sess-1&term=9", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}

	handler.ReportCard(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, provider.lastStudent)
}

func TestReportHandlerPropagatesServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := &reportProviderMock{cardErr: appErrors.ErrEnrollmentMissing}
	handler := NewReportHandler(provider, nil)

	c, w := newGinContext(http.MethodGet, "/students/stu-1/report-card?sessionId=sess-1&term=1", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}

	handler.ReportCard(c)
	require.Equal(t, appErrors.ErrEnrollmentMissing.Status, w.Code)
}

func TestReportHandlerBroadsheetAndSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := &reportProviderMock{sheet: &dto.Broadsheet{}, summary: &dto.SectionSummary{}}
	handler := NewReportHandler(provider, nil)

	c, w := newGinContext(http.MethodGet, "/sections/sec-1/broadsheet?sessionId=sess-1&term=1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	handler.Broadsheet(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/sections/sec-1/summary?sessionId=sess-1&term=1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	handler.SectionSummary(c)
	require.Equal(t, http.StatusOK, w.Code)
}
