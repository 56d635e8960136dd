package support

import (
	"context"
	"time"

	"github.com/boostgram/backend/internal/models"
)

// MarkMessagesAsRead stamps every unread message from other senders in
// the thread. The store returns the touched ids so the local copies are
// stamped immediately instead of waiting for feed echoes.
func (s *Session) MarkMessagesAsRead(ctx context.Context, parent models.Parent) error {
	now := time.Now().UTC()
	ids, err := s.store.MarkMessagesRead(ctx, parent, s.actor.ID, now)
	if err != nil {
		return err
	}
	if len(ids) == 0 && parent.Kind != models.ParentConversation {
		return nil
	}

	touched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		touched[id] = struct{}{}
	}

	s.mu.Lock()
	for i := range s.messages {
		if _, ok := touched[s.messages[i].ID]; ok {
			at := now
			s.messages[i].ReadAt = &at
		}
	}
	if parent.Kind == models.ParentConversation {
		if c := s.findConversationLocked(parent.ID); c != nil {
			c.UnreadCount = 0
		}
		if s.currentConversation != nil && s.currentConversation.ID == parent.ID {
			s.currentConversation.UnreadCount = 0
		}
	}
	s.mu.Unlock()
	s.changed()

	if s.actor.IsAdmin() {
		s.refreshUnread(ctx)
	}
	return nil
}

// refreshUnread recomputes the admin's global unread badge. Cheap
// enough to run after every relevant store write or feed event.
func (s *Session) refreshUnread(ctx context.Context) {
	n, err := s.store.CountUnread(ctx, s.actor.ID)
	if err != nil {
		s.log.Warn().Err(err).Msg("unread count failed")
		return
	}
	s.mu.Lock()
	changed := s.unread != n
	s.unread = n
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

// RefreshUnreadCount is the exported variant for UI-triggered refreshes.
// The global badge spans every user's threads, so it stays admin-only.
func (s *Session) RefreshUnreadCount(ctx context.Context) {
	if !s.actor.IsAdmin() {
		return
	}
	s.refreshUnread(ctx)
}

func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}
