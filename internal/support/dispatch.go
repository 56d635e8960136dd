package support

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/models"
)

// subscribe opens the three change-feed subscriptions. Messages are
// unfiltered because a message row carries no user_id column; relevance
// is decided per event against the local thread caches. Tickets and
// conversations are filtered server-side for non-admins.
func (s *Session) subscribe(ctx context.Context) {
	column, value := "", ""
	if !s.actor.IsAdmin() {
		column, value = "user_id", s.actor.ID
	}

	msgs, cancelMsgs := s.src.Subscribe("messages", "", "")
	tickets, cancelTickets := s.src.Subscribe("tickets", column, value)
	convos, cancelConvos := s.src.Subscribe("conversations", column, value)

	s.mu.Lock()
	s.cancels = append(s.cancels, cancelMsgs, cancelTickets, cancelConvos)
	s.mu.Unlock()

	go s.pump(ctx, msgs, s.handleMessageEvent)
	go s.pump(ctx, tickets, s.handleTicketEvent)
	go s.pump(ctx, convos, s.handleConversationEvent)
}

func (s *Session) pump(ctx context.Context, ch <-chan feed.Event, handle func(context.Context, feed.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			handle(ctx, ev)
		}
	}
}

func (s *Session) handleMessageEvent(ctx context.Context, ev feed.Event) {
	var m models.Message
	if err := json.Unmarshal(ev.Row, &m); err != nil {
		s.log.Warn().Err(err).Str("table", ev.Table).Msg("bad feed row")
		return
	}

	switch ev.Type {
	case feed.Insert:
		s.messageInserted(ctx, m)
	case feed.Update:
		s.mu.Lock()
		for i := range s.messages {
			if s.messages[i].ID == m.ID {
				s.messages[i] = m
			}
		}
		s.mu.Unlock()
		s.changed()
	case feed.Delete:
		s.mu.Lock()
		s.removeMessageLocked(m.ID)
		s.mu.Unlock()
		s.changed()
	}
}

// messageInserted applies one incoming message: append to the open
// thread (deduplicated against the optimistic copy), bump thread
// recency and unread counters, and fire the notification hook when the
// client is unfocused. Own messages are already applied by SendMessage,
// so everything past the dedup append is skipped for them.
func (s *Session) messageInserted(ctx context.Context, m models.Message) {
	parent := m.Parent()

	s.mu.Lock()
	if !s.relevantLocked(parent) {
		s.mu.Unlock()
		return
	}

	viewing := s.active == parent
	if viewing && !s.hasMessageLocked(m.ID) {
		s.messages = append(s.messages, m)
	}
	s.touchThreadLocked(parent, m.CreatedAt)

	own := m.SenderID == s.actor.ID
	markRead := viewing && s.atBottom && !own
	notify := !s.focused && !own && s.notify != nil

	if !own && parent.Kind == models.ParentConversation && !markRead {
		if c := s.findConversationLocked(parent.ID); c != nil {
			c.UnreadCount++
		}
		if s.currentConversation != nil && s.currentConversation.ID == parent.ID {
			s.currentConversation.UnreadCount++
		}
	}
	fn := s.notify
	s.mu.Unlock()
	s.changed()

	if own {
		return
	}
	if markRead {
		if err := s.MarkMessagesAsRead(ctx, parent); err != nil {
			s.log.Warn().Err(err).Msg("auto mark read failed")
		}
	}
	if notify {
		fn("New support message", preview(m))
	}
	if s.actor.IsAdmin() {
		s.refreshUnread(ctx)
	}
}

// relevantLocked reports whether an unfiltered message event belongs to
// one of this actor's threads. Admins see everything.
func (s *Session) relevantLocked(parent models.Parent) bool {
	if s.actor.IsAdmin() {
		return true
	}
	switch parent.Kind {
	case models.ParentTicket:
		if s.findTicketLocked(parent.ID) != nil {
			return true
		}
		return s.currentTicket != nil && s.currentTicket.ID == parent.ID
	case models.ParentConversation:
		if s.findConversationLocked(parent.ID) != nil {
			return true
		}
		return s.currentConversation != nil && s.currentConversation.ID == parent.ID
	}
	return false
}

func (s *Session) handleTicketEvent(ctx context.Context, ev feed.Event) {
	var t models.Ticket
	if err := json.Unmarshal(ev.Row, &t); err != nil {
		s.log.Warn().Err(err).Str("table", ev.Table).Msg("bad feed row")
		return
	}

	switch ev.Type {
	case feed.Insert:
		s.attachOwner(ctx, t.UserID, func(u *models.User) { t.User = u })
		s.mu.Lock()
		s.prependTicketLocked(t)
		s.mu.Unlock()
	case feed.Update:
		s.mu.Lock()
		s.mergeTicketLocked(t, false)
		s.mu.Unlock()
	case feed.Delete:
		s.mu.Lock()
		for i := range s.tickets {
			if s.tickets[i].ID == t.ID {
				s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
				break
			}
		}
		if s.currentTicket != nil && s.currentTicket.ID == t.ID {
			s.currentTicket = nil
			if s.active == (models.Parent{Kind: models.ParentTicket, ID: t.ID}) {
				s.active = models.Parent{}
				s.messages = nil
				s.hasMore = false
			}
		}
		s.mu.Unlock()
	}
	s.changed()
}

func (s *Session) handleConversationEvent(ctx context.Context, ev feed.Event) {
	var c models.Conversation
	if err := json.Unmarshal(ev.Row, &c); err != nil {
		s.log.Warn().Err(err).Str("table", ev.Table).Msg("bad feed row")
		return
	}

	switch ev.Type {
	case feed.Insert:
		s.attachOwner(ctx, c.UserID, func(u *models.User) { c.User = u })
		s.mu.Lock()
		if s.findConversationLocked(c.ID) == nil {
			s.conversations = append([]models.Conversation{c}, s.conversations...)
		}
		s.mu.Unlock()
	case feed.Update:
		s.mu.Lock()
		s.mergeConversationLocked(c, false)
		s.mu.Unlock()
	case feed.Delete:
		s.mu.Lock()
		for i := range s.conversations {
			if s.conversations[i].ID == c.ID {
				s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
				break
			}
		}
		if s.currentConversation != nil && s.currentConversation.ID == c.ID {
			s.currentConversation = nil
			if s.active == (models.Parent{Kind: models.ParentConversation, ID: c.ID}) {
				s.active = models.Parent{}
				s.messages = nil
				s.hasMore = false
			}
		}
		s.mu.Unlock()
	}
	s.changed()
}

// attachOwner populates the client-side User join for admin list views.
// A fetch failure degrades to an unnamed row, never drops the event.
func (s *Session) attachOwner(ctx context.Context, userID string, set func(*models.User)) {
	if !s.actor.IsAdmin() {
		return
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("owner lookup failed")
		return
	}
	set(u)
}

const previewLen = 80

func preview(m models.Message) string {
	if m.Content == "" && m.AttachmentURL != "" {
		return "sent an attachment"
	}
	body := m.Content
	if utf8.RuneCountInString(body) <= previewLen {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewLen]) + "…"
}
