package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/service"
	appErrors "github.com/riseschools/results-api/pkg/errors"
	"github.com/riseschools/results-api/pkg/response"
)

// SectionHandler exposes class level and section endpoints, including the
// roster mutations that trigger recomputation.
type SectionHandler struct {
	sections *service.SectionService
	roster   *service.RosterService
	sessions periodResolver
}

// NewSectionHandler constructs a section handler.
func NewSectionHandler(sections *service.SectionService, roster *service.RosterService, sessions periodResolver) *SectionHandler {
	return &SectionHandler{sections: sections, roster: roster, sessions: sessions}
}

// ListClasses godoc
// @Summary List class levels
// @Description The fixed ladder from Creche to SS 3 with age sections
// @Tags Sections
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *SectionHandler) ListClasses(c *gin.Context) {
	classes, err := h.sections.ListClasses(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// List godoc
// @Summary List class sections
// @Tags Sections
// @Produce json
// @Param sessionId query string false "Filter by session"
// @Param classId query string false "Filter by class level"
// @Param ageSection query string false "Filter by age section"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	var filter models.SectionFilter
	filter.SessionID = c.Query("sessionId")
	filter.ClassID = c.Query("classId")
	if ageSection := c.Query("ageSection"); ageSection != "" {
		filter.AgeSection = models.AgeSection(ageSection)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	sections, pagination, err := h.sections.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get a class section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	section, err := h.sections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Roster godoc
// @Summary List students on a section roster
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/students [get]
func (h *SectionHandler) Roster(c *gin.Context) {
	roster, err := h.sections.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// AssignStudent godoc
// @Summary Assign a student to a section
// @Description Places the student on this roster, moving them off their old section if needed, and reranks both sides
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body assignStudentRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sections/{id}/students [post]
func (h *SectionHandler) AssignStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req assignStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	term, err := h.resolveTerm(c, req.Term)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.roster.Assign(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), req.StudentID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// RemoveStudent godoc
// @Summary Remove a student from a section
// @Description Takes the student off the roster, clears their positions and reranks the class
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Param studentId path string true "Student ID"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /sections/{id}/students/{studentId} [delete]
func (h *SectionHandler) RemoveStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	term, err := h.resolveTerm(c, models.Term(c.Query("term")))
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.roster.Remove(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), c.Param("studentId"), term); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

type assignStudentRequest struct {
	StudentID string      `json:"student_id" binding:"required"`
	Term      models.Term `json:"term"`
}

func (h *SectionHandler) resolveTerm(c *gin.Context, term models.Term) (models.Term, error) {
	if term != "" {
		if !term.Valid() {
			return "", appErrors.Clone(appErrors.ErrValidation, "term must be 1, 2 or 3")
		}
		return term, nil
	}
	if h.sessions == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "term is required")
	}
	period, err := h.sessions.Current(c.Request.Context())
	if err != nil {
		return "", err
	}
	return period.Term, nil
}
