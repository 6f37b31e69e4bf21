package handlers

import (
	"errors"
	"net/http"

	"idle_mining/internal/domain"
	"idle_mining/internal/logger"
	"idle_mining/internal/service"

	"github.com/gin-gonic/gin"
)

const ConfirmTokenHeader = "X-Confirm-Token"

type Handler struct {
	Coordinator *service.Coordinator
	Admin       *service.AdminService
}

func NewHandler(coord *service.Coordinator, admin *service.AdminService) *Handler {
	return &Handler{Coordinator: coord, Admin: admin}
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfirmationRequired), errors.Is(err, domain.ErrAdminDisabled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotDegraded):
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPrecondition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": code, "message": text}. Errors
// outside the taxonomy are logged and hidden.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)

	var de *domain.Error
	if !errors.As(err, &de) {
		logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal", "message": "internal error"})
		return
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": de.Code, "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}
