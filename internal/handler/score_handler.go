package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/service"
	appErrors "github.com/riseschools/results-api/pkg/errors"
	"github.com/riseschools/results-api/pkg/response"
)

// ScoreHandler exposes score submission and retrieval endpoints.
type ScoreHandler struct {
	scores   *service.ScoreService
	sessions periodResolver
}

// NewScoreHandler constructs a score handler.
func NewScoreHandler(scores *service.ScoreService, sessions periodResolver) *ScoreHandler {
	return &ScoreHandler{scores: scores, sessions: sessions}
}

// Submit godoc
// @Summary Submit scores for a student
// @Description Save one or more subject scores; grade and rankings are derived on save
// @Tags Scores
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.SubmitScoresRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/scores [put]
func (h *ScoreHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid score payload"))
		return
	}

	result, err := h.scores.SubmitScores(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List a student's scores
// @Description Scores with derived grades and positions for one session and term
// @Tags Scores
// @Produce json
// @Param id path string true "Student ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/scores [get]
func (h *ScoreHandler) List(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	scores, err := h.scores.GetStudentScores(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, scores, nil)
}
