package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/riseschools/results-api/internal/middleware"
	"github.com/riseschools/results-api/internal/models"
	appErrors "github.com/riseschools/results-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

type periodResolver interface {
	Current(ctx context.Context) (*models.CurrentPeriod, error)
}

// resolvePeriod reads sessionId and term from the query string, filling
// whichever is missing from the current calendar period.
func resolvePeriod(c *gin.Context, sessions periodResolver) (string, models.Term, error) {
	sessionID := c.Query("sessionId")
	term := models.Term(c.Query("term"))

	if sessionID == "" || term == "" {
		if sessions == nil {
			return "", "", appErrors.Clone(appErrors.ErrValidation, "sessionId and term are required")
		}
		period, err := sessions.Current(c.Request.Context())
		if err != nil {
			return "", "", err
		}
		if sessionID == "" {
			sessionID = period.Session.ID
		}
		if term == "" {
			term = period.Term
		}
	}

	if !term.Valid() {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "term must be 1, 2 or 3")
	}
	return sessionID, term, nil
}
