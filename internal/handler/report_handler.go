package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/dto"
	"github.com/riseschools/results-api/internal/middleware"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/pkg/response"
)

type reportProvider interface {
	ReportCard(ctx context.Context, studentID, sessionID string, term models.Term) (*dto.ReportCard, bool, error)
	Broadsheet(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.Broadsheet, bool, error)
	SectionSummary(ctx context.Context, sectionID, sessionID string, term models.Term) (*dto.SectionSummary, bool, error)
}

// ReportHandler exposes report card, broadsheet and summary endpoints.
type ReportHandler struct {
	reports  reportProvider
	sessions periodResolver
}

// NewReportHandler constructs a report handler.
func NewReportHandler(reports reportProvider, sessions periodResolver) *ReportHandler {
	return &ReportHandler{reports: reports, sessions: sessions}
}

// ReportCard godoc
// @Summary Student report card
// @Description Full term report for one student with subject rows, averages and class positions
// @Tags Reports
// @Produce json
// @Param id path string true "Student ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/report-card [get]
func (h *ReportHandler) ReportCard(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	start := time.Now()
	card, cacheHit, err := h.reports.ReportCard(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, card, nil, reportMeta(c, start))
}

// Broadsheet godoc
// @Summary Section broadsheet
// @Description One row per roster member with per-subject totals and positions
// @Tags Reports
// @Produce json
// @Param id path string true "Section ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/broadsheet [get]
func (h *ReportHandler) Broadsheet(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	start := time.Now()
	sheet, cacheHit, err := h.reports.Broadsheet(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, sheet, nil, reportMeta(c, start))
}

// SectionSummary godoc
// @Summary Section performance summary
// @Description Class average, per-subject averages, grade distribution and top performers
// @Tags Reports
// @Produce json
// @Param id path string true "Section ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/summary [get]
func (h *ReportHandler) SectionSummary(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	start := time.Now()
	summary, cacheHit, err := h.reports.SectionSummary(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, reportMeta(c, start))
}

func reportMeta(c *gin.Context, start time.Time) map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	return meta
}
