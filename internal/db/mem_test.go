package db

import (
	"context"
	"testing"
	"time"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

// The closed-ticket invariant belongs to the store: a client whose
// cached status is stale (the ticket was closed after its last feed
// merge) must still be rejected at insert time.
func TestInsertMessageRejectsClosedTicket(t *testing.T) {
	store := NewMem(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	ticket := &models.Ticket{
		ID:            "t-1",
		UserID:        "user-1",
		Category:      models.CategoryPayment,
		Status:        models.TicketReplied,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := store.InsertTicket(ctx, ticket); err != nil {
		t.Fatal(err)
	}
	if err := store.CloseTicket(ctx, ticket.ID); err != nil {
		t.Fatal(err)
	}

	m := &models.Message{
		ID:         "m-1",
		TicketID:   ticket.ID,
		SenderID:   "user-1",
		SenderRole: models.RoleUser,
		Content:    "one more thing",
		CreatedAt:  now,
	}
	if err := store.InsertMessage(ctx, m); !errs.IsState(err) {
		t.Fatalf("user message into closed ticket: want StateError, got %v", err)
	}
	parent := models.Parent{Kind: models.ParentTicket, ID: ticket.ID}
	if msgs, err := store.ListMessagesBefore(ctx, parent, time.Time{}, 10); err != nil || len(msgs) != 0 {
		t.Fatalf("rejected message was stored: %d, %v", len(msgs), err)
	}

	// Admins may still leave a closing note, and the ticket stays closed.
	note := &models.Message{
		ID:         "m-2",
		TicketID:   ticket.ID,
		SenderID:   "admin-1",
		SenderRole: models.RoleAdmin,
		Content:    "closing note",
		CreatedAt:  now.Add(time.Second),
	}
	if err := store.InsertMessage(ctx, note); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TicketClosed {
		t.Fatalf("admin note reopened the ticket: %s", got.Status)
	}
}

// An admin reply flips the ticket to replied and a user follow-up hands
// the turn back; both transitions ride on the message insert.
func TestInsertMessageDrivesTicketTurn(t *testing.T) {
	store := NewMem(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	ticket := &models.Ticket{
		ID:            "t-1",
		UserID:        "user-1",
		Category:      models.CategoryOther,
		Status:        models.TicketPending,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := store.InsertTicket(ctx, ticket); err != nil {
		t.Fatal(err)
	}

	insert := func(id string, role models.Role, at time.Time) {
		t.Helper()
		m := &models.Message{ID: id, TicketID: ticket.ID, SenderID: string(role) + "-1", SenderRole: role, Content: "x", CreatedAt: at}
		if err := store.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	status := func() models.TicketStatus {
		t.Helper()
		got, err := store.GetTicket(ctx, ticket.ID)
		if err != nil {
			t.Fatal(err)
		}
		return got.Status
	}

	insert("m-1", models.RoleAdmin, now.Add(time.Second))
	if s := status(); s != models.TicketReplied {
		t.Fatalf("after admin reply: %s", s)
	}
	insert("m-2", models.RoleUser, now.Add(2*time.Second))
	if s := status(); s != models.TicketPending {
		t.Fatalf("after user follow-up: %s", s)
	}
}
