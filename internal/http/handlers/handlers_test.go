package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/support"
)

type testEnv struct {
	store  *db.Mem
	tokens *auth.Manager
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub()
	store := db.NewMem(hub)
	tokens := auth.NewManager("test-secret")
	h := &Handler{
		Store:     store,
		Feed:      hub,
		Auth:      tokens,
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
		Engine:    support.Options{PageSize: 50},
	}

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authed := api.Group("", middleware.Auth(tokens))
	authed.GET("/auth/me", h.Me)
	authed.GET("/services", h.ServicesList)
	authed.POST("/orders", h.OrderCreate)
	authed.GET("/orders", h.OrdersList)
	authed.POST("/deposits", h.DepositCreate)
	authed.GET("/support/tickets", h.TicketsList)

	admin := api.Group("/admin", middleware.Auth(tokens), middleware.RequireAdmin())
	admin.GET("/deposits", h.DepositsList)
	admin.POST("/deposits/:id/approve", h.DepositApprove)
	admin.POST("/deposits/:id/reject", h.DepositReject)
	admin.GET("/stats", h.Stats)

	return &testEnv{store: store, tokens: tokens, router: r}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedUser(t *testing.T, actor models.Actor, balance float64) string {
	t.Helper()
	u := &models.User{
		ID:        actor.ID,
		Email:     actor.ID + "@example.com",
		Name:      actor.ID,
		Balance:   balance,
		Role:      actor.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	token, err := e.tokens.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestRegisterLoginMe(t *testing.T) {
	e := newTestEnv(t)

	w := e.request(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "new@example.com", "password": "longenough", "name": "New User",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body)
	}

	// Duplicate email conflicts.
	w = e.request(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "new@example.com", "password": "longenough", "name": "Other",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", w.Code)
	}

	w = e.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "new@example.com", "password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", w.Code)
	}

	w = e.request(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "new@example.com", "password": "longenough",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body)
	}
	var resp AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	w = e.request(t, http.MethodGet, "/api/auth/me", resp.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d", w.Code)
	}
	var me models.User
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != "new@example.com" || me.PasswordHash != "" {
		t.Fatalf("me leaked or wrong: %+v", me)
	}

	if w := e.request(t, http.MethodGet, "/api/auth/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me: %d", w.Code)
	}
}

func TestOrderChargesBalance(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.seedUser(t, models.Actor{ID: "buyer", Role: models.RoleUser}, 7.5)

	svc := &models.Service{
		ID: "svc-1", Platform: "instagram", ServiceType: "followers",
		Name: "IG Followers", Rate: 5, MinQuantity: 100, MaxQuantity: 10000,
	}
	if err := e.store.InsertService(ctx, svc); err != nil {
		t.Fatal(err)
	}

	// Below the service minimum.
	w := e.request(t, http.MethodPost, "/api/orders", token, gin.H{
		"service_id": "svc-1", "link": "https://instagram.com/someone", "quantity": 50,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("below minimum: %d", w.Code)
	}

	// 1000 units at rate 5/1000 costs 5.00.
	w = e.request(t, http.MethodPost, "/api/orders", token, gin.H{
		"service_id": "svc-1", "link": "https://instagram.com/someone", "quantity": 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("order: %d %s", w.Code, w.Body)
	}
	u, err := e.store.GetUser(ctx, "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance != 2.5 {
		t.Fatalf("balance = %v, want 2.5", u.Balance)
	}

	// Second order of the same size exceeds the remaining balance; no
	// order row and no charge may survive.
	w = e.request(t, http.MethodPost, "/api/orders", token, gin.H{
		"service_id": "svc-1", "link": "https://instagram.com/someone", "quantity": 1000,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("insufficient balance: %d %s", w.Code, w.Body)
	}
	u, _ = e.store.GetUser(ctx, "buyer")
	if u.Balance != 2.5 {
		t.Fatalf("failed order moved balance to %v", u.Balance)
	}
	orders, _ := e.store.ListOrders(ctx, "buyer")
	if len(orders) != 1 {
		t.Fatalf("want 1 order, got %d", len(orders))
	}
}

func TestDepositApprovalFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userToken := e.seedUser(t, models.Actor{ID: "depositor", Role: models.RoleUser}, 0)
	adminToken := e.seedUser(t, models.Actor{ID: "staff", Role: models.RoleAdmin}, 0)

	w := e.request(t, http.MethodPost, "/api/deposits", userToken, gin.H{"amount": 25.0})
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit: %d %s", w.Code, w.Body)
	}
	var tr models.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatal(err)
	}

	// Admin-only surface is closed to users.
	if w := e.request(t, http.MethodGet, "/api/admin/deposits", userToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("user on admin surface: %d", w.Code)
	}

	w = e.request(t, http.MethodPost, "/api/admin/deposits/"+tr.ID+"/approve", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body)
	}
	u, err := e.store.GetUser(ctx, "depositor")
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance != 25.0 {
		t.Fatalf("balance = %v after approval", u.Balance)
	}

	// A settled deposit cannot be applied twice.
	w = e.request(t, http.MethodPost, "/api/admin/deposits/"+tr.ID+"/approve", adminToken, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double approve: %d", w.Code)
	}
	u, _ = e.store.GetUser(ctx, "depositor")
	if u.Balance != 25.0 {
		t.Fatalf("double approval moved balance to %v", u.Balance)
	}
}

func TestTicketsListScopedToUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	aToken := e.seedUser(t, models.Actor{ID: "user-a", Role: models.RoleUser}, 0)
	bToken := e.seedUser(t, models.Actor{ID: "user-b", Role: models.RoleUser}, 0)
	adminToken := e.seedUser(t, models.Actor{ID: "staff", Role: models.RoleAdmin}, 0)

	for _, owner := range []string{"user-a", "user-b"} {
		ticket := &models.Ticket{
			ID: "t-" + owner, UserID: owner,
			Category: models.CategoryOther, Status: models.TicketPending,
			CreatedAt: time.Now().UTC(), LastMessageAt: time.Now().UTC(),
		}
		if err := e.store.InsertTicket(ctx, ticket); err != nil {
			t.Fatal(err)
		}
	}

	var listing struct {
		Items []models.Ticket `json:"items"`
	}
	w := e.request(t, http.MethodGet, "/api/support/tickets", aToken, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 1 || listing.Items[0].UserID != "user-a" {
		t.Fatalf("user-a sees %+v", listing.Items)
	}

	w = e.request(t, http.MethodGet, "/api/support/tickets", bToken, nil)
	listing.Items = nil
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 1 || listing.Items[0].UserID != "user-b" {
		t.Fatalf("user-b sees %+v", listing.Items)
	}

	w = e.request(t, http.MethodGet, "/api/support/tickets", adminToken, nil)
	listing.Items = nil
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("admin sees %d tickets, want 2", len(listing.Items))
	}
}
