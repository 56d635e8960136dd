package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/support"
)

func dialSupportWS(t *testing.T) (*websocket.Conn, *db.Mem) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub()
	store := db.NewMem(hub)
	tokens := auth.NewManager("ws-secret")
	h := &Handler{
		Store:     store,
		Feed:      hub,
		Auth:      tokens,
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
		Engine:    support.Options{PageSize: 50},
	}

	r := gin.New()
	r.GET("/ws/support", middleware.Auth(tokens), h.SupportWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u := &models.User{ID: "ws-user", Email: "ws@example.com", Name: "WS User", Role: models.RoleUser}
	if err := store.InsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	token, err := tokens.Issue(u)
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/support?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, store
}

func readFrame(t *testing.T, conn *websocket.Conn, wantType string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type == wantType {
			return f
		}
	}
	t.Fatalf("no %q frame received", wantType)
	return wsFrame{}
}

func TestSupportWSRoundTrip(t *testing.T) {
	conn, store := dialSupportWS(t)

	// The session pushes an initial state snapshot after Start.
	readFrame(t, conn, "state")

	if err := conn.WriteJSON(wsCommand{
		Action:   "create_ticket",
		Category: models.CategoryAccount,
		Message:  "cannot change my password",
	}); err != nil {
		t.Fatal(err)
	}
	ack := readFrame(t, conn, "ack")
	if ack.Action != "create_ticket" {
		t.Fatalf("ack for %q", ack.Action)
	}
	var ticket models.Ticket
	raw, _ := json.Marshal(ack.Data)
	if err := json.Unmarshal(raw, &ticket); err != nil {
		t.Fatal(err)
	}
	if ticket.Status != models.TicketPending || ticket.UserID != "ws-user" {
		t.Fatalf("ticket = %+v", ticket)
	}

	tickets, err := store.ListTickets(context.Background(), "ws-user")
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 1 {
		t.Fatalf("store has %d tickets", len(tickets))
	}

	// Invalid actions come back as error frames, not dropped sockets.
	if err := conn.WriteJSON(wsCommand{Action: "warp_drive"}); err != nil {
		t.Fatal(err)
	}
	errFrame := readFrame(t, conn, "error")
	if errFrame.Action != "warp_drive" {
		t.Fatalf("error frame for %q", errFrame.Action)
	}
}
