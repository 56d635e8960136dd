// Package db owns all persisted state. Two implementations exist: Postgres
// for production and Mem for tests and dev mode. Both translate their
// native failures into the errs taxonomy so callers never branch on
// driver-specific errors.
package db

import (
	"context"
	"time"

	"github.com/boostgram/backend/internal/models"
)

type Stats struct {
	TotalUsers      int `json:"total_users"`
	TotalOrders     int `json:"total_orders"`
	PendingDeposits int `json:"pending_deposits"`
}

// Store is the full persistence surface. The sync engine consumes the
// support subset; HTTP handlers use the rest.
type Store interface {
	Ping(ctx context.Context) error

	// Users.
	InsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AdjustBalance(ctx context.Context, userID string, delta float64) error

	// Tickets. CloseTicket is a dedicated atomic transition, not a field
	// update: a closed ticket accepts no further user messages and that
	// invariant is enforced server-side.
	InsertTicket(ctx context.Context, t *models.Ticket) error
	DeleteTicket(ctx context.Context, id string) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	CloseTicket(ctx context.Context, id string) error

	// Conversations. InsertConversation returns errs.ErrUniqueViolation
	// when the user already has one; callers resolve the race by
	// re-querying.
	InsertConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationByUser(ctx context.Context, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch map[string]any) error

	// Messages. ListMessagesBefore returns newest-first; a zero `before`
	// means "from the latest". MarkMessagesRead is the privileged bulk
	// operation; it returns the ids it touched so callers can mirror the
	// change locally without waiting for the feed.
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string) error
	ListMessagesBefore(ctx context.Context, parent models.Parent, before time.Time, limit int) ([]models.Message, error)
	CountMessagesBefore(ctx context.Context, parent models.Parent, before time.Time) (int, error)
	MarkMessagesRead(ctx context.Context, parent models.Parent, readerID string, at time.Time) ([]string, error)
	CountUnread(ctx context.Context, excludeSender string) (int, error)

	// Typing / presence. Upsert keyed by (conversation, user);
	// last-write-wins, no coordination needed.
	UpsertTyping(ctx context.Context, ti models.TypingIndicator) error

	// Admin notes, append-only.
	InsertAdminNote(ctx context.Context, n *models.AdminNote) error
	ListAdminNotes(ctx context.Context, conversationID string) ([]models.AdminNote, error)

	// Panel: services, orders, deposits.
	InsertService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListServices(ctx context.Context, platform string) ([]models.Service, error)
	CreateOrder(ctx context.Context, o *models.Order) error
	ListOrders(ctx context.Context, userID string) ([]models.Order, error)
	GetOrder(ctx context.Context, id, userID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, completedAt *time.Time) error
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListDeposits(ctx context.Context) ([]models.Transaction, error)
	SetTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error
	GetStats(ctx context.Context) (Stats, error)
}
