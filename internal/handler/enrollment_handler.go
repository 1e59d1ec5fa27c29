package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/service"
	appErrors "github.com/riseschools/results-api/pkg/errors"
	"github.com/riseschools/results-api/pkg/response"
)

// EnrollmentHandler exposes subject enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	sessions    periodResolver
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, sessions periodResolver) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, sessions: sessions}
}

// List godoc
// @Summary List a student's subject enrollments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Param sessionId query string false "Session ID (defaults to current)"
// @Param term query string false "Term 1, 2 or 3 (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	sessionID, term, err := resolvePeriod(c, h.sessions)
	if err != nil {
		response.Error(c, err)
		return
	}

	enrollments, err := h.enrollments.ListStudentEnrollments(c.Request.Context(), c.Param("id"), sessionID, term)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Assign godoc
// @Summary Replace a student's subject enrollments
// @Description Replaces the full subject set for one session and term
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.AssignSubjectsRequest true "Subject set payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/enrollments [put]
func (h *EnrollmentHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AssignSubjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	enrollments, err := h.enrollments.AssignSubjects(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, nil)
}
