package support

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

// CreateTicket validates, inserts the ticket, then inserts its first
// message. The two writes are not atomic from here, so a failed message
// insert is compensated by deleting the ticket rather than leaving an
// empty thread behind.
func (s *Session) CreateTicket(ctx context.Context, category models.TicketCategory, orderID, message, subcategory string) (*models.Ticket, error) {
	message = strings.TrimSpace(message)
	if !category.Valid() {
		return nil, errs.Validation("unknown ticket category %q", category)
	}
	if message == "" {
		return nil, errs.Validation("message is required")
	}
	if category == models.CategoryOrder && strings.TrimSpace(orderID) == "" {
		return nil, errs.Validation("order id is required for order-related tickets")
	}

	now := time.Now().UTC()
	t := &models.Ticket{
		ID:            uuid.NewString(),
		UserID:        s.actor.ID,
		Category:      category,
		Subcategory:   subcategory,
		OrderID:       strings.TrimSpace(orderID),
		Status:        models.TicketPending,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := s.store.InsertTicket(ctx, t); err != nil {
		return nil, err
	}

	m := &models.Message{
		ID:         uuid.NewString(),
		TicketID:   t.ID,
		SenderID:   s.actor.ID,
		SenderRole: s.actor.Role,
		Content:    message,
		CreatedAt:  now,
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		if delErr := s.store.DeleteTicket(ctx, t.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("ticket", t.ID).Msg("compensating ticket delete failed")
		}
		return nil, err
	}

	s.mu.Lock()
	s.prependTicketLocked(*t)
	s.mu.Unlock()
	s.changed()
	return t, nil
}

// GetOrCreateConversation returns the caller's single conversation,
// creating it on first use. Two near-simultaneous creators both observe
// "absent" and both insert; the loser hits the unique constraint and
// resolves it by re-reading the winner's row. Callers always converge on
// one conversation per user.
func (s *Session) GetOrCreateConversation(ctx context.Context) (*models.Conversation, error) {
	if s.actor.IsAdmin() {
		return nil, nil
	}

	c, err := s.store.GetConversationByUser(ctx, s.actor.ID)
	if err == nil {
		s.rememberConversation(*c)
		return c, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := &models.Conversation{
		ID:            uuid.NewString(),
		UserID:        s.actor.ID,
		Status:        models.ConversationOpen,
		Priority:      models.PriorityMedium,
		Tags:          []string{},
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err = s.store.InsertConversation(ctx, fresh)
	if err == nil {
		s.rememberConversation(*fresh)
		return fresh, nil
	}
	if !errors.Is(err, errs.ErrUniqueViolation) {
		return nil, err
	}

	// Lost the creation race; the winner's row is authoritative.
	race := &errs.RaceConditionError{Err: err}
	s.log.Debug().Err(race).Msg("conversation create race, re-reading")
	c, err = s.store.GetConversationByUser(ctx, s.actor.ID)
	if err != nil {
		return nil, err
	}
	s.rememberConversation(*c)
	return c, nil
}

func (s *Session) rememberConversation(c models.Conversation) {
	s.mu.Lock()
	s.mergeConversationLocked(c, true)
	s.mu.Unlock()
}

// SelectTicket makes the ticket the active thread, loads its history,
// and marks unread messages read. The conversation selection is left
// alone; when both are set, sends go to the ticket.
func (s *Session) SelectTicket(ctx context.Context, id string) error {
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return err
	}

	parent := models.Parent{Kind: models.ParentTicket, ID: id}
	s.mu.Lock()
	if old := s.findTicketLocked(id); old != nil && old.User != nil {
		t.User = old.User
	}
	s.currentTicket = t
	s.active = parent
	s.mergeTicketLocked(*t, false)
	s.mu.Unlock()
	s.changed()

	if err := s.loadMessages(ctx, parent); err != nil {
		return err
	}
	return s.MarkMessagesAsRead(ctx, parent)
}

// SelectConversation mirrors SelectTicket for the legacy model and
// additionally starts the presence heartbeat for the thread.
func (s *Session) SelectConversation(ctx context.Context, id string) error {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	parent := models.Parent{Kind: models.ParentConversation, ID: id}
	s.mu.Lock()
	if old := s.findConversationLocked(id); old != nil && old.User != nil {
		c.User = old.User
	}
	c.UnreadCount = 0
	s.currentConversation = c
	s.active = parent
	s.mergeConversationLocked(*c, false)
	s.mu.Unlock()
	s.changed()

	s.startHeartbeat(id)

	if err := s.loadMessages(ctx, parent); err != nil {
		return err
	}
	return s.MarkMessagesAsRead(ctx, parent)
}

// DeselectTicket clears only the ticket selection. If a conversation is
// still selected it becomes the active thread again.
func (s *Session) DeselectTicket() {
	s.mu.Lock()
	s.currentTicket = nil
	if s.active.Kind == models.ParentTicket {
		s.active = models.Parent{}
		s.messages = nil
		s.hasMore = false
		s.cursor = time.Time{}
		if s.currentConversation != nil {
			s.active = models.Parent{Kind: models.ParentConversation, ID: s.currentConversation.ID}
		}
	}
	s.mu.Unlock()
	s.changed()
}

// DeselectConversation clears the conversation selection and stops the
// presence heartbeat immediately.
func (s *Session) DeselectConversation() {
	s.mu.Lock()
	s.currentConversation = nil
	if s.active.Kind == models.ParentConversation {
		s.active = models.Parent{}
		s.messages = nil
		s.hasMore = false
		s.cursor = time.Time{}
	}
	s.mu.Unlock()
	s.stopHeartbeat()
	s.changed()
}

// UpdateConversationStatus is an admin mutation; permission failures
// surface as PermissionError, not a generic failure.
func (s *Session) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	if !allowed(actManageConversation, s.actor, "") {
		return errs.Permission("update conversation status", nil)
	}
	switch status {
	case models.ConversationOpen, models.ConversationClosed, models.ConversationResolved:
	default:
		return errs.Validation("unknown conversation status %q", status)
	}
	if err := s.store.UpdateConversation(ctx, id, map[string]any{"status": status}); err != nil {
		return err
	}
	s.patchConversation(id, func(c *models.Conversation) { c.Status = status })
	return nil
}

func (s *Session) AssignConversation(ctx context.Context, id, adminID string) error {
	if !allowed(actManageConversation, s.actor, "") {
		return errs.Permission("assign conversation", nil)
	}
	if err := s.store.UpdateConversation(ctx, id, map[string]any{"assigned_to": adminID}); err != nil {
		return err
	}
	s.patchConversation(id, func(c *models.Conversation) { c.AssignedTo = adminID })
	return nil
}

func (s *Session) SetConversationPriority(ctx context.Context, id string, priority models.Priority) error {
	if !allowed(actManageConversation, s.actor, "") {
		return errs.Permission("set priority", nil)
	}
	if !priority.Valid() {
		return errs.Validation("unknown priority %q", priority)
	}
	if err := s.store.UpdateConversation(ctx, id, map[string]any{"priority": priority}); err != nil {
		return err
	}
	s.patchConversation(id, func(c *models.Conversation) { c.Priority = priority })
	return nil
}

func (s *Session) AddConversationTag(ctx context.Context, id, tag string) error {
	return s.updateTags(ctx, id, tag, true)
}

func (s *Session) RemoveConversationTag(ctx context.Context, id, tag string) error {
	return s.updateTags(ctx, id, tag, false)
}

func (s *Session) updateTags(ctx context.Context, id, tag string, add bool) error {
	if !allowed(actManageConversation, s.actor, "") {
		return errs.Permission("update tags", nil)
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errs.Validation("tag is required")
	}

	s.mu.Lock()
	var tags []string
	if c := s.findConversationLocked(id); c != nil {
		tags = append(tags, c.Tags...)
	}
	s.mu.Unlock()

	next := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		if t != tag {
			next = append(next, t)
		}
	}
	if add {
		next = append(next, tag)
	}

	if err := s.store.UpdateConversation(ctx, id, map[string]any{"tags": next}); err != nil {
		return err
	}
	s.patchConversation(id, func(c *models.Conversation) { c.Tags = next })
	return nil
}

// CloseTicket invokes the dedicated server-side transition; closing is
// privileged because a closed ticket accepts no further user messages.
func (s *Session) CloseTicket(ctx context.Context, id string) error {
	if !allowed(actCloseTicket, s.actor, "") {
		return errs.Permission("close ticket", nil)
	}
	if err := s.store.CloseTicket(ctx, id); err != nil {
		return err
	}
	s.patchTicket(id, func(t *models.Ticket) { t.Status = models.TicketClosed })
	return nil
}

// AddAdminNote appends an admin-only annotation to a conversation.
func (s *Session) AddAdminNote(ctx context.Context, conversationID, content string) (*models.AdminNote, error) {
	if !allowed(actAdminNote, s.actor, "") {
		return nil, errs.Permission("add admin note", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.Validation("note content is required")
	}
	now := time.Now().UTC()
	n := &models.AdminNote{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		AuthorID:       s.actor.ID,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.InsertAdminNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Session) AdminNotes(ctx context.Context, conversationID string) ([]models.AdminNote, error) {
	if !allowed(actAdminNote, s.actor, "") {
		return nil, errs.Permission("list admin notes", nil)
	}
	return s.store.ListAdminNotes(ctx, conversationID)
}

// ---- local cache helpers (callers hold s.mu unless noted) ----

func (s *Session) findTicketLocked(id string) *models.Ticket {
	for i := range s.tickets {
		if s.tickets[i].ID == id {
			return &s.tickets[i]
		}
	}
	return nil
}

func (s *Session) findConversationLocked(id string) *models.Conversation {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return &s.conversations[i]
		}
	}
	return nil
}

func (s *Session) prependTicketLocked(t models.Ticket) {
	if s.findTicketLocked(t.ID) != nil {
		return
	}
	s.tickets = append([]models.Ticket{t}, s.tickets...)
}

// mergeTicketLocked folds a fresh row into the list entry and the active
// reference, field-level, so client-only join data survives.
func (s *Session) mergeTicketLocked(t models.Ticket, prependMissing bool) {
	if existing := s.findTicketLocked(t.ID); existing != nil {
		user := existing.User
		*existing = t
		if t.User == nil {
			existing.User = user
		}
	} else if prependMissing {
		s.tickets = append([]models.Ticket{t}, s.tickets...)
	}
	if s.currentTicket != nil && s.currentTicket.ID == t.ID {
		user := s.currentTicket.User
		*s.currentTicket = t
		if t.User == nil {
			s.currentTicket.User = user
		}
	}
}

func (s *Session) mergeConversationLocked(c models.Conversation, prependMissing bool) {
	if existing := s.findConversationLocked(c.ID); existing != nil {
		user := existing.User
		unread := existing.UnreadCount
		*existing = c
		if c.User == nil {
			existing.User = user
		}
		existing.UnreadCount = unread
	} else if prependMissing {
		s.conversations = append([]models.Conversation{c}, s.conversations...)
	}
	if s.currentConversation != nil && s.currentConversation.ID == c.ID {
		user := s.currentConversation.User
		unread := s.currentConversation.UnreadCount
		*s.currentConversation = c
		if c.User == nil {
			s.currentConversation.User = user
		}
		s.currentConversation.UnreadCount = unread
	}
}

func (s *Session) patchTicket(id string, fn func(*models.Ticket)) {
	s.mu.Lock()
	if t := s.findTicketLocked(id); t != nil {
		fn(t)
	}
	if s.currentTicket != nil && s.currentTicket.ID == id {
		fn(s.currentTicket)
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Session) patchConversation(id string, fn func(*models.Conversation)) {
	s.mu.Lock()
	if c := s.findConversationLocked(id); c != nil {
		fn(c)
	}
	if s.currentConversation != nil && s.currentConversation.ID == id {
		fn(s.currentConversation)
	}
	s.mu.Unlock()
	s.changed()
}
