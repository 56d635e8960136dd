package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
)

func (h *Handler) ServicesList(c *gin.Context) {
	items, err := h.Store.ListServices(c.Request.Context(), c.Query("platform"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type OrderRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	Link      string `json:"link" validate:"required,url"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// @Summary Place an order
// @Description Charges the user's balance and creates the order atomically.
// @Tags orders
// @Accept json
// @Produce json
// @Param request body OrderRequest true "order payload"
// @Success 201 {object} models.Order
// @Failure 402 {object} map[string]any
// @Router /api/orders [post]
func (h *Handler) OrderCreate(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	svc, err := h.Store.GetService(c.Request.Context(), req.ServiceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Quantity < svc.MinQuantity || req.Quantity > svc.MaxQuantity {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR",
			"Quantity out of range for this service",
			gin.H{"min": svc.MinQuantity, "max": svc.MaxQuantity})
		return
	}

	// Rates are quoted per 1000 units.
	o := &models.Order{
		ID:        uuid.NewString(),
		UserID:    actor.ID,
		ServiceID: svc.ID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		TotalCost: svc.Rate * float64(req.Quantity) / 1000,
		Status:    models.OrderPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateOrder(c.Request.Context(), o); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) OrdersList(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	items, err := h.Store.ListOrders(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) OrderDetails(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	userID := actor.ID
	if actor.IsAdmin() {
		userID = ""
	}
	o, err := h.Store.GetOrder(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type DepositRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// DepositCreate records a pending top-up; an admin approves or rejects
// it before the balance moves.
func (h *Handler) DepositCreate(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	tr := &models.Transaction{
		ID:        uuid.NewString(),
		UserID:    actor.ID,
		Amount:    req.Amount,
		Type:      "deposit",
		Status:    models.TransactionPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.InsertTransaction(c.Request.Context(), tr); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tr)
}

// ---- admin ----

type ServiceRequest struct {
	Platform    string  `json:"platform" validate:"required"`
	ServiceType string  `json:"service_type" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Rate        float64 `json:"rate" validate:"required,gt=0"`
	MinQuantity int     `json:"min_quantity" validate:"required,gt=0"`
	MaxQuantity int     `json:"max_quantity" validate:"required,gtefield=MinQuantity"`
	Description string  `json:"description"`
}

func (h *Handler) ServiceCreate(c *gin.Context) {
	var req ServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	svc := &models.Service{
		ID:          uuid.NewString(),
		Platform:    req.Platform,
		ServiceType: req.ServiceType,
		Name:        req.Name,
		Rate:        req.Rate,
		MinQuantity: req.MinQuantity,
		MaxQuantity: req.MaxQuantity,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.InsertService(c.Request.Context(), svc); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

func (h *Handler) UsersList(c *gin.Context) {
	items, err := h.Store.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) DepositsList(c *gin.Context) {
	items, err := h.Store.ListDeposits(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// DepositApprove credits the balance and flips the transaction in that
// order only after the transaction is confirmed pending, so a deposit
// can never be applied twice.
func (h *Handler) DepositApprove(c *gin.Context) {
	ctx := c.Request.Context()
	tr, err := h.Store.GetTransaction(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if tr.Status != models.TransactionPending {
		writeError(c, http.StatusConflict, "INVALID_STATE", "Deposit already settled", nil)
		return
	}
	if err := h.Store.SetTransactionStatus(ctx, tr.ID, models.TransactionApproved); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.AdjustBalance(ctx, tr.UserID, tr.Amount); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (h *Handler) DepositReject(c *gin.Context) {
	ctx := c.Request.Context()
	tr, err := h.Store.GetTransaction(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if tr.Status != models.TransactionPending {
		writeError(c, http.StatusConflict, "INVALID_STATE", "Deposit already settled", nil)
		return
	}
	if err := h.Store.SetTransactionStatus(ctx, tr.ID, models.TransactionRejected); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *Handler) AdminOrdersList(c *gin.Context) {
	items, err := h.Store.ListOrders(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type OrderStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
}

func (h *Handler) OrderStatusUpdate(c *gin.Context) {
	var req OrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown order status", nil)
		return
	}
	var completedAt *time.Time
	if req.Status == models.OrderCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}
	if err := h.Store.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status, completedAt); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Store.GetStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
