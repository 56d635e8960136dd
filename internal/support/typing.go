package support

import (
	"context"
	"time"

	"github.com/boostgram/backend/internal/models"
)

// SetTyping writes the actor's typing state for a conversation. A true
// write arms a one-shot expiry timer so a client that stops typing (or
// disconnects mid-keystroke) never leaves a stale "is typing" row behind.
// Each call invalidates the previous timer.
func (s *Session) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	err := s.store.UpsertTyping(ctx, models.TypingIndicator{
		ConversationID: conversationID,
		UserID:         s.actor.ID,
		IsTyping:       isTyping,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	if isTyping && !s.closed {
		gen := s.typingGen
		s.typingTimer = time.AfterFunc(s.opts.TypingTimeout, func() {
			s.expireTyping(conversationID, gen)
		})
	}
	s.mu.Unlock()
	return nil
}

// expireTyping is the timer callback. The generation check drops
// callbacks that lost a race with a newer SetTyping or with Close.
func (s *Session) expireTyping(conversationID string, gen int) {
	s.mu.Lock()
	if s.closed || gen != s.typingGen {
		s.mu.Unlock()
		return
	}
	s.typingTimer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.UpsertTyping(ctx, models.TypingIndicator{
		ConversationID: conversationID,
		UserID:         s.actor.ID,
		IsTyping:       false,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conversation", conversationID).Msg("typing expiry write failed")
	}
}

// startHeartbeat begins periodic presence refreshes for the selected
// conversation: an immediate false-typing upsert, then one per interval.
// Readers treat a recent UpdatedAt as "online". Selecting a different
// conversation restarts the loop against the new id.
func (s *Session) startHeartbeat(conversationID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.hbStop
	stop := make(chan struct{})
	s.hbStop = stop
	s.mu.Unlock()
	if old != nil {
		close(old)
	}

	go func() {
		s.beat(conversationID)
		t := time.NewTicker(s.opts.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.beat(conversationID)
			}
		}
	}()
}

func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	stop := s.hbStop
	s.hbStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (s *Session) beat(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.UpsertTyping(ctx, models.TypingIndicator{
		ConversationID: conversationID,
		UserID:         s.actor.ID,
		IsTyping:       false,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conversation", conversationID).Msg("presence heartbeat failed")
	}
}
