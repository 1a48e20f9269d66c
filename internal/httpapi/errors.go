package httpapi

import (
	"errors"
	"net/http"

	"settlement-crm/internal/dialer"
	"settlement-crm/internal/reporting"
	"settlement-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dialer.ErrInvalidCampaign):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dialer.ErrValidation), errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, dialer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialer.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, dialer.ErrTelephony):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}
