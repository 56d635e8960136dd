// Package support implements the client-side synchronization engine for
// the ticketing and conversation system: paginated message history,
// optimistic sends reconciled against the change feed, typing and
// presence signaling, and read/unread accounting.
//
// The engine's local caches are never authoritative; they are always
// subject to correction by the next feed event or query. Store calls
// happen outside the session lock, and every completion re-checks that
// its target thread is still selected before applying side effects,
// since the user may have navigated away while the call was in flight.
package support

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/models"
)

type Options struct {
	PageSize       int
	TypingTimeout  time.Duration
	HeartbeatEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = 20 * time.Second
	}
	return o
}

// Session is the per-client sync engine. One session serves one connected
// actor (an end user or an admin); methods are safe for concurrent use.
type Session struct {
	actor models.Actor
	store db.Store
	src   feed.Source
	log   zerolog.Logger
	opts  Options

	mu     sync.Mutex
	closed bool

	tickets       []models.Ticket
	conversations []models.Conversation

	// Selection is an explicit reference cell, not a captured variable:
	// async completions read it at completion time. Ticket and
	// conversation selections coexist (admins view both); sending
	// prioritizes the ticket.
	currentTicket       *models.Ticket
	currentConversation *models.Conversation
	active              models.Parent

	messages    []models.Message
	hasMore     bool
	cursor      time.Time
	loadingMore bool

	unread   int
	atBottom bool
	focused  bool

	typingTimer *time.Timer
	typingGen   int
	hbStop      chan struct{}

	cancels []func()

	onChange func()
	notify   func(title, body string)
}

func NewSession(actor models.Actor, store db.Store, src feed.Source, log zerolog.Logger, opts Options) *Session {
	return &Session{
		actor:    actor,
		store:    store,
		src:      src,
		log:      log.With().Str("actor", actor.ID).Str("role", string(actor.Role)).Logger(),
		opts:     opts.withDefaults(),
		atBottom: true,
		focused:  true,
	}
}

// OnChange registers the re-render hook, invoked (without the session
// lock held) after every local mutation or reconciled event.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnNotify registers the desktop-notification hook used for messages
// arriving while the client is unfocused.
func (s *Session) OnNotify(fn func(title, body string)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetFocused records whether the client tab has focus. Unfocused clients
// get desktop notifications instead of immediate read marking.
func (s *Session) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.mu.Unlock()
}

// SetAtBottom records whether the client is scrolled to the end of the
// thread. Incoming messages are auto-marked read only at the bottom.
func (s *Session) SetAtBottom(atBottom bool) {
	s.mu.Lock()
	s.atBottom = atBottom
	s.mu.Unlock()
}

// State is a copy of the reactive engine state handed to the UI layer.
type State struct {
	Tickets             []models.Ticket       `json:"tickets"`
	Conversations       []models.Conversation `json:"conversations"`
	CurrentTicket       *models.Ticket        `json:"current_ticket,omitempty"`
	CurrentConversation *models.Conversation  `json:"current_conversation,omitempty"`
	Messages            []models.Message      `json:"messages"`
	HasMoreMessages     bool                  `json:"has_more_messages"`
	UnreadCount         int                   `json:"unread_count"`
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Tickets:         append([]models.Ticket(nil), s.tickets...),
		Conversations:   append([]models.Conversation(nil), s.conversations...),
		Messages:        append([]models.Message(nil), s.messages...),
		HasMoreMessages: s.hasMore,
		UnreadCount:     s.unread,
	}
	if s.currentTicket != nil {
		t := *s.currentTicket
		st.CurrentTicket = &t
	}
	if s.currentConversation != nil {
		c := *s.currentConversation
		st.CurrentConversation = &c
	}
	return st
}

// Start loads the thread lists and opens the change-feed subscriptions.
func (s *Session) Start(ctx context.Context) error {
	userFilter := ""
	if !s.actor.IsAdmin() {
		userFilter = s.actor.ID
	}

	tickets, err := s.store.ListTickets(ctx, userFilter)
	if err != nil {
		return err
	}

	var conversations []models.Conversation
	if s.actor.IsAdmin() {
		conversations, err = s.store.ListConversations(ctx)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.tickets = tickets
	s.conversations = conversations
	s.mu.Unlock()

	if s.actor.IsAdmin() {
		s.refreshUnread(ctx)
	}

	s.subscribe(ctx)
	s.changed()
	return nil
}

// Close tears the session down: subscriptions cancelled, typing timer
// stopped, heartbeat halted. A leaked heartbeat would keep falsely
// reporting presence.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	hb := s.hbStop
	s.hbStop = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hb != nil {
		close(hb)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Actor() models.Actor { return s.actor }
