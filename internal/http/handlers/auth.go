package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=2"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// @Summary Register a new account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "registration payload"
// @Success 201 {object} AuthResponse
// @Failure 409 {object} map[string]any
// @Router /api/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         models.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.InsertUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, errs.ErrUniqueViolation) {
			writeError(c, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered", nil)
			return
		}
		h.fail(c, err)
		return
	}

	token, err := h.Auth.Issue(u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: *u})
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} map[string]any
// @Router /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	u, err := h.Store.GetUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(c, http.StatusUnauthorized, "BAD_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	token, err := h.Auth.Issue(u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token, User: *u})
}

func (h *Handler) Me(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	u, err := h.Store.GetUser(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
