package handler

import (
	"errors"
	"net/http"

	"backend/internal/apperr"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// respondError maps service error kinds to HTTP status codes. Validation
// failures carry the full violation list so clients can fix everything in
// one round trip.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		if violations := apperr.Violations(err); len(violations) > 0 {
			c.JSON(http.StatusBadRequest, response.ErrorWithDetails(http.StatusBadRequest, "validation failed", violations))
			return
		}
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
	case errors.Is(err, apperr.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrState):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	case errors.Is(err, apperr.ErrConfiguration):
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}
