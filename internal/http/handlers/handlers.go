package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/support"
	"github.com/boostgram/backend/internal/uploads"
)

type Handler struct {
	Store     db.Store
	Feed      feed.Source
	Auth      *auth.Manager
	Uploader  uploads.Uploader
	Validator *validator.Validate
	Logger    zerolog.Logger

	// Engine holds the tuning passed to every support session.
	Engine support.Options
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// fail maps the error taxonomy onto HTTP statuses. Internal detail from
// transient failures is logged, never returned.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errs.IsState(err):
		writeError(c, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errs.IsPermission(err):
		writeError(c, http.StatusForbidden, "FORBIDDEN", errs.UserMessage(err), nil)
	case errors.Is(err, errs.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, errs.ErrInsufficientBalance):
		writeError(c, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", "Insufficient balance", nil)
	case errors.Is(err, errs.ErrUniqueViolation):
		writeError(c, http.StatusConflict, "CONFLICT", "Already exists", nil)
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", errs.UserMessage(err), nil)
	}
}
