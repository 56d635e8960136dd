package db

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/models"
)

// Mem is the in-memory Store used by engine tests and dev mode. It
// enforces the same uniqueness constraints as the schema and publishes
// the same change events, so the sync engine cannot tell it apart from
// Postgres.
type Mem struct {
	mu           sync.Mutex
	hub          *feed.Hub
	users        map[string]models.User
	tickets      map[string]models.Ticket
	convos       map[string]models.Conversation
	messages     map[string]models.Message
	typing       map[string]models.TypingIndicator
	notes        []models.AdminNote
	services     map[string]models.Service
	orders       map[string]models.Order
	transactions map[string]models.Transaction

	// FailInsertMessage, when set, can reject an insert. Tests use it to
	// exercise the ticket-creation compensation path.
	FailInsertMessage func(m *models.Message) error
}

func NewMem(hub *feed.Hub) *Mem {
	return &Mem{
		hub:          hub,
		users:        make(map[string]models.User),
		tickets:      make(map[string]models.Ticket),
		convos:       make(map[string]models.Conversation),
		messages:     make(map[string]models.Message),
		typing:       make(map[string]models.TypingIndicator),
		services:     make(map[string]models.Service),
		orders:       make(map[string]models.Order),
		transactions: make(map[string]models.Transaction),
	}
}

func (s *Mem) Ping(ctx context.Context) error { return nil }

func (s *Mem) publish(table string, typ feed.EventType, row any) {
	if s.hub == nil {
		return
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return
	}
	s.hub.Publish(feed.Event{Table: table, Type: typ, Row: raw})
}

// ---- users ----

func (s *Mem) InsertUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errs.ErrUniqueViolation
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Mem) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (s *Mem) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *Mem) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Mem) AdjustBalance(ctx context.Context, userID string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errs.ErrNotFound
	}
	u.Balance += delta
	s.users[userID] = u
	return nil
}

// ---- tickets ----

func (s *Mem) InsertTicket(ctx context.Context, t *models.Ticket) error {
	s.mu.Lock()
	if _, exists := s.tickets[t.ID]; exists {
		s.mu.Unlock()
		return errs.ErrUniqueViolation
	}
	s.tickets[t.ID] = *t
	s.mu.Unlock()
	s.publish("tickets", feed.Insert, *t)
	return nil
}

func (s *Mem) DeleteTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tickets[id]
	if ok {
		delete(s.tickets, id)
		for mid, m := range s.messages {
			if m.TicketID == id {
				delete(s.messages, mid)
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.publish("tickets", feed.Delete, t)
	}
	return nil
}

func (s *Mem) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

func (s *Mem) ListTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *Mem) CloseTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return errs.ErrNotFound
	}
	t.Status = models.TicketClosed
	s.tickets[id] = t
	s.mu.Unlock()
	s.publish("tickets", feed.Update, t)
	return nil
}

// SetTicketStatus emulates the server-side transition an admin reply
// triggers. Only tests and dev seeding call it.
func (s *Mem) SetTicketStatus(id string, status models.TicketStatus) {
	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.Status = status
	s.tickets[id] = t
	s.mu.Unlock()
	s.publish("tickets", feed.Update, t)
}

// ---- conversations ----

func (s *Mem) InsertConversation(ctx context.Context, c *models.Conversation) error {
	s.mu.Lock()
	for _, existing := range s.convos {
		if existing.UserID == c.UserID {
			s.mu.Unlock()
			return errs.ErrUniqueViolation
		}
	}
	s.convos[c.ID] = *c
	s.mu.Unlock()
	s.publish("conversations", feed.Insert, *c)
	return nil
}

func (s *Mem) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

func (s *Mem) GetConversationByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convos {
		if c.UserID == userID {
			out := c
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *Mem) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.convos {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *Mem) UpdateConversation(ctx context.Context, id string, patch map[string]any) error {
	s.mu.Lock()
	c, ok := s.convos[id]
	if !ok {
		s.mu.Unlock()
		return errs.ErrNotFound
	}
	for col, val := range patch {
		switch col {
		case "status":
			c.Status = models.ConversationStatus(toString(val))
		case "priority":
			c.Priority = models.Priority(toString(val))
		case "assigned_to":
			c.AssignedTo = toString(val)
		case "tags":
			if tags, ok := val.([]string); ok {
				c.Tags = tags
			}
		case "unread_count":
			if n, ok := val.(int); ok {
				c.UnreadCount = n
			}
		case "last_message_at":
			if at, ok := val.(time.Time); ok {
				c.LastMessageAt = at
			}
		default:
			s.mu.Unlock()
			return errs.Validation("cannot update conversation column %q", col)
		}
	}
	s.convos[id] = c
	s.mu.Unlock()
	s.publish("conversations", feed.Update, c)
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case models.ConversationStatus:
		return string(t)
	case models.Priority:
		return string(t)
	}
	return ""
}

// ---- messages ----

func (s *Mem) InsertMessage(ctx context.Context, m *models.Message) error {
	if s.FailInsertMessage != nil {
		if err := s.FailInsertMessage(m); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if _, exists := s.messages[m.ID]; exists {
		s.mu.Unlock()
		return errs.ErrUniqueViolation
	}
	// The closed invariant is enforced here, not just against the
	// client's cached status, so a stale sender cannot slip through.
	if m.TicketID != "" && m.SenderRole != models.RoleAdmin {
		if t, ok := s.tickets[m.TicketID]; ok && t.Status == models.TicketClosed {
			s.mu.Unlock()
			return errs.State("this ticket is closed and no longer accepts messages")
		}
	}
	s.messages[m.ID] = *m
	var touched any
	switch p := m.Parent(); p.Kind {
	case models.ParentTicket:
		if t, ok := s.tickets[p.ID]; ok {
			t.LastMessageAt = m.CreatedAt
			// Turn-taking: an admin reply flips the ticket to replied,
			// a user message hands the turn back.
			if t.Status != models.TicketClosed {
				if m.SenderRole == models.RoleAdmin {
					t.Status = models.TicketReplied
				} else {
					t.Status = models.TicketPending
				}
			}
			s.tickets[p.ID] = t
			touched = t
		}
	case models.ParentConversation:
		if c, ok := s.convos[p.ID]; ok {
			c.LastMessageAt = m.CreatedAt
			s.convos[p.ID] = c
			touched = c
		}
	}
	s.mu.Unlock()
	s.publish("messages", feed.Insert, *m)
	switch row := touched.(type) {
	case models.Ticket:
		s.publish("tickets", feed.Update, row)
	case models.Conversation:
		s.publish("conversations", feed.Update, row)
	}
	return nil
}

func (s *Mem) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &m, nil
}

func (s *Mem) UpdateMessageContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return errs.ErrNotFound
	}
	m.Content = content
	s.messages[id] = m
	s.mu.Unlock()
	s.publish("messages", feed.Update, m)
	return nil
}

func (s *Mem) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.messages[id]
	if ok {
		delete(s.messages, id)
	}
	s.mu.Unlock()
	if ok {
		s.publish("messages", feed.Delete, m)
	}
	return nil
}

func (s *Mem) messagesOf(parent models.Parent) []models.Message {
	var out []models.Message
	for _, m := range s.messages {
		if m.Parent() == parent {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Mem) ListMessagesBefore(ctx context.Context, parent models.Parent, before time.Time, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messagesOf(parent) {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Mem) CountMessagesBefore(ctx context.Context, parent models.Parent, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messagesOf(parent) {
		if m.CreatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (s *Mem) MarkMessagesRead(ctx context.Context, parent models.Parent, readerID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	var ids []string
	var updated []models.Message
	for id, m := range s.messages {
		if m.Parent() == parent && m.SenderID != readerID && m.ReadAt == nil {
			ts := at
			m.ReadAt = &ts
			s.messages[id] = m
			ids = append(ids, id)
			updated = append(updated, m)
		}
	}
	s.mu.Unlock()
	for _, m := range updated {
		s.publish("messages", feed.Update, m)
	}
	return ids, nil
}

func (s *Mem) CountUnread(ctx context.Context, excludeSender string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ReadAt == nil && m.SenderID != excludeSender {
			n++
		}
	}
	return n, nil
}

// ---- typing ----

func (s *Mem) UpsertTyping(ctx context.Context, ti models.TypingIndicator) error {
	key := ti.ConversationID + "|" + ti.UserID
	s.mu.Lock()
	_, existed := s.typing[key]
	s.typing[key] = ti
	s.mu.Unlock()
	typ := feed.Insert
	if existed {
		typ = feed.Update
	}
	s.publish("typing_indicators", typ, ti)
	return nil
}

// TypingRow reads back an indicator; tests use it to assert expiry.
func (s *Mem) TypingRow(conversationID, userID string) (models.TypingIndicator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.typing[conversationID+"|"+userID]
	return ti, ok
}

// ---- admin notes ----

func (s *Mem) InsertAdminNote(ctx context.Context, n *models.AdminNote) error {
	s.mu.Lock()
	s.notes = append(s.notes, *n)
	s.mu.Unlock()
	return nil
}

func (s *Mem) ListAdminNotes(ctx context.Context, conversationID string) ([]models.AdminNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AdminNote
	for _, n := range s.notes {
		if n.ConversationID == conversationID {
			out = append(out, n)
		}
	}
	return out, nil
}

// ---- panel ----

func (s *Mem) InsertService(ctx context.Context, svc *models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = *svc
	return nil
}

func (s *Mem) GetService(ctx context.Context, id string) (*models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &svc, nil
}

func (s *Mem) ListServices(ctx context.Context, platform string) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Service
	for _, svc := range s.services {
		if platform == "" || svc.Platform == platform {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Mem) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[o.UserID]
	if !ok {
		return errs.ErrNotFound
	}
	if u.Balance < o.TotalCost {
		return errs.ErrInsufficientBalance
	}
	u.Balance -= o.TotalCost
	s.users[o.UserID] = u
	s.orders[o.ID] = *o
	return nil
}

func (s *Mem) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Mem) GetOrder(ctx context.Context, id, userID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || (userID != "" && o.UserID != userID) {
		return nil, errs.ErrNotFound
	}
	return &o, nil
}

func (s *Mem) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errs.ErrNotFound
	}
	o.Status = status
	o.CompletedAt = completedAt
	s.orders[id] = o
	return nil
}

func (s *Mem) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = *t
	return nil
}

func (s *Mem) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

func (s *Mem) ListDeposits(ctx context.Context) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.transactions {
		if t.Type == "deposit" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Mem) SetTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return errs.ErrNotFound
	}
	t.Status = status
	s.transactions[id] = t
	return nil
}

func (s *Mem) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalUsers: len(s.users), TotalOrders: len(s.orders)}
	for _, t := range s.transactions {
		if t.Type == "deposit" && t.Status == models.TransactionPending {
			st.PendingDeposits++
		}
	}
	return st, nil
}

var _ Store = (*Mem)(nil)
