package support

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

// loadMessages fetches the most recent page and probes for older
// history. Two queries on purpose: the page itself plus a count of
// strictly-older rows, buying a plain hasMore boolean for one extra
// round trip. The result is discarded if the thread was deselected while
// the queries were in flight.
func (s *Session) loadMessages(ctx context.Context, parent models.Parent) error {
	page, err := s.store.ListMessagesBefore(ctx, parent, time.Time{}, s.opts.PageSize)
	if err != nil {
		return err
	}

	hasMore := false
	var cursor time.Time
	if len(page) > 0 {
		// Newest-first from the store, so the last element is oldest.
		cursor = page[len(page)-1].CreatedAt
		older, err := s.store.CountMessagesBefore(ctx, parent, cursor)
		if err != nil {
			return err
		}
		hasMore = older > 0
	}
	reverseMessages(page)

	s.mu.Lock()
	if s.active != parent {
		s.mu.Unlock()
		return nil
	}
	s.messages = page
	s.cursor = cursor
	s.hasMore = hasMore
	s.loadingMore = false
	s.mu.Unlock()
	s.changed()
	return nil
}

// LoadMoreMessages prepends the next older page. No-op without a cursor,
// while a load is already in flight, or when history is exhausted.
func (s *Session) LoadMoreMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingMore || !s.hasMore || s.cursor.IsZero() || s.active == (models.Parent{}) {
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = true
	parent := s.active
	cursor := s.cursor
	s.mu.Unlock()

	page, err := s.store.ListMessagesBefore(ctx, parent, cursor, s.opts.PageSize)
	if err != nil {
		s.mu.Lock()
		s.loadingMore = false
		s.mu.Unlock()
		return err
	}

	newCursor := cursor
	hasMore := false
	if len(page) > 0 {
		newCursor = page[len(page)-1].CreatedAt
		older, err := s.store.CountMessagesBefore(ctx, parent, newCursor)
		if err != nil {
			s.mu.Lock()
			s.loadingMore = false
			s.mu.Unlock()
			return err
		}
		hasMore = older > 0
	}
	reverseMessages(page)

	s.mu.Lock()
	if s.active != parent {
		s.loadingMore = false
		s.mu.Unlock()
		return nil
	}
	fresh := page[:0:len(page)]
	for _, m := range page {
		if !s.hasMessageLocked(m.ID) {
			fresh = append(fresh, m)
		}
	}
	s.messages = append(fresh, s.messages...)
	s.cursor = newCursor
	s.hasMore = hasMore
	s.loadingMore = false
	s.mu.Unlock()
	s.changed()
	return nil
}

// SendMessage routes to the selected ticket when one is set, otherwise
// to the selected conversation. The ticket send-gate runs before any
// optimistic mutation: a rejected send leaves local state untouched.
func (s *Session) SendMessage(ctx context.Context, content, attachmentURL string, attachmentType models.AttachmentType) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachmentURL == "" {
		return nil, errs.Validation("message is empty")
	}

	s.mu.Lock()
	var parent models.Parent
	var gate *models.Ticket
	switch {
	case s.currentTicket != nil:
		t := *s.currentTicket
		gate = &t
		parent = models.Parent{Kind: models.ParentTicket, ID: t.ID}
	case s.currentConversation != nil:
		parent = models.Parent{Kind: models.ParentConversation, ID: s.currentConversation.ID}
	default:
		s.mu.Unlock()
		return nil, errs.State("no support thread is selected")
	}
	s.mu.Unlock()

	if gate != nil && !s.actor.IsAdmin() {
		switch gate.Status {
		case models.TicketClosed:
			return nil, errs.State("this ticket is closed and no longer accepts messages")
		case models.TicketPending:
			return nil, errs.State("please wait for a support reply before sending a follow-up")
		}
	}

	now := time.Now().UTC()
	m := &models.Message{
		ID:             uuid.NewString(),
		SenderID:       s.actor.ID,
		SenderRole:     s.actor.Role,
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
		CreatedAt:      now,
	}
	if parent.Kind == models.ParentTicket {
		m.TicketID = parent.ID
	} else {
		m.ConversationID = parent.ID
	}

	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}

	// Optimistic append. The feed echo for this id may already have
	// landed, hence the dedup check.
	s.mu.Lock()
	if s.active == parent && !s.hasMessageLocked(m.ID) {
		s.messages = append(s.messages, *m)
	}
	s.touchThreadLocked(parent, now)
	s.mu.Unlock()
	s.changed()

	if parent.Kind == models.ParentTicket {
		// An admin insert may have flipped the status server-side while
		// we were sending; re-read the parent to pick that up.
		if fresh, err := s.store.GetTicket(ctx, parent.ID); err == nil {
			s.mu.Lock()
			s.mergeTicketLocked(*fresh, false)
			s.mu.Unlock()
			s.changed()
		} else {
			s.log.Warn().Err(err).Str("ticket", parent.ID).Msg("ticket refresh after send failed")
		}
	} else {
		if err := s.SetTyping(ctx, parent.ID, false); err != nil {
			s.log.Warn().Err(err).Str("conversation", parent.ID).Msg("clearing typing indicator failed")
		}
	}

	if err := s.MarkMessagesAsRead(ctx, parent); err != nil {
		s.log.Warn().Err(err).Msg("mark read after send failed")
	}
	return m, nil
}

// EditMessage trims and updates content. Non-admins may edit only their
// own messages.
func (s *Session) EditMessage(ctx context.Context, id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errs.Validation("message content is required")
	}

	m, err := s.findMessage(ctx, id)
	if err != nil {
		return err
	}
	if !allowed(actEditMessage, s.actor, m.SenderID) {
		return errs.Permission("edit message", nil)
	}

	if err := s.store.UpdateMessageContent(ctx, id, content); err != nil {
		return err
	}
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
		}
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// DeleteMessage has role-dependent semantics: admins hard-delete the row
// (it vanishes from every client); owners soft-delete, leaving a
// tombstone so thread ordering and moderation review survive.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	m, err := s.findMessage(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case allowed(actHardDeleteMessage, s.actor, m.SenderID):
		if err := s.store.DeleteMessage(ctx, id); err != nil {
			return err
		}
		s.mu.Lock()
		s.removeMessageLocked(id)
		s.mu.Unlock()
	case allowed(actSoftDeleteMessage, s.actor, m.SenderID):
		if err := s.store.UpdateMessageContent(ctx, id, models.TombstoneContent); err != nil {
			return err
		}
		s.mu.Lock()
		for i := range s.messages {
			if s.messages[i].ID == id {
				s.messages[i].Content = models.TombstoneContent
			}
		}
		s.mu.Unlock()
	default:
		return errs.Permission("delete message", nil)
	}
	s.changed()
	return nil
}

func (s *Session) findMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			m := s.messages[i]
			s.mu.Unlock()
			return &m, nil
		}
	}
	s.mu.Unlock()
	return s.store.GetMessage(ctx, id)
}

func (s *Session) hasMessageLocked(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return true
		}
	}
	return false
}

func (s *Session) removeMessageLocked(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// touchThreadLocked advances the local thread recency after an insert.
func (s *Session) touchThreadLocked(parent models.Parent, at time.Time) {
	switch parent.Kind {
	case models.ParentTicket:
		if t := s.findTicketLocked(parent.ID); t != nil {
			t.LastMessageAt = at
		}
		if s.currentTicket != nil && s.currentTicket.ID == parent.ID {
			s.currentTicket.LastMessageAt = at
		}
	case models.ParentConversation:
		if c := s.findConversationLocked(parent.ID); c != nil {
			c.LastMessageAt = at
		}
		if s.currentConversation != nil && s.currentConversation.ID == parent.ID {
			s.currentConversation.LastMessageAt = at
		}
	}
}

func reverseMessages(ms []models.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
