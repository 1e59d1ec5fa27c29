package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/service"
	"github.com/riseschools/results-api/pkg/response"
)

// RankingHandler exposes manual recomputation endpoints. Ranking normally
// runs as a side effect of score and roster writes; these routes let an
// admin force a pass, e.g. after a data correction in the database.
type RankingHandler struct {
	rankings *service.RankingService
	sessions periodResolver
}

// NewRankingHandler constructs a ranking handler.
func NewRankingHandler(rankings *service.RankingService, sessions periodResolver) *RankingHandler {
	return &RankingHandler{rankings: rankings, sessions: sessions}
}

// RecomputeSubject godoc
// @Summary Recompute subject rankings
// @Description Rerun the subject ranking pass for every section cohort of a subject
// @Tags Rankings
// @Produce json
// @Param id path string true "Subject ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /rankings/subjects/{id}/recompute [post]
func (h *RankingHandler) RecomputeSubject(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.rankings.RecomputeSubjectRanking(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// RecomputeClass godoc
// @Summary Recompute class rankings
// @Description Rerun the class ranking pass for a section
// @Tags Rankings
// @Produce json
// @Param id path string true "Section ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /rankings/sections/{id}/recompute [post]
func (h *RankingHandler) RecomputeClass(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.rankings.RecomputeClassRanking(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}
