package support

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/models"
)

var (
	testUser  = models.Actor{ID: "user-1", Role: models.RoleUser}
	testAdmin = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

type env struct {
	hub   *feed.Hub
	store *db.Mem
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := feed.NewHub()
	store := db.NewMem(hub)
	ctx := context.Background()
	users := []models.User{
		{ID: testUser.ID, Email: "user@example.com", Name: "Test User", Role: models.RoleUser},
		{ID: testAdmin.ID, Email: "admin@example.com", Name: "Test Admin", Role: models.RoleAdmin},
	}
	for i := range users {
		if err := store.InsertUser(ctx, &users[i]); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return &env{hub: hub, store: store}
}

func (e *env) session(t *testing.T, actor models.Actor, opts Options) *Session {
	t.Helper()
	s := NewSession(actor, e.store, e.hub, zerolog.Nop(), opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// waitFor polls until cond holds. Feed delivery is asynchronous, so
// tests observing event side effects cannot assert immediately.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestGetOrCreateConversationSingleton(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := NewSession(testUser, e.store, e.hub, zerolog.Nop(), Options{})
			defer s.Close()
			c, err := s.GetOrCreateConversation(ctx)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got conversation %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
	all, err := e.store.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("want exactly 1 conversation, store has %d", len(all))
	}
}

func TestGetOrCreateConversationAdminGetsNone(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, testAdmin, Options{})
	c, err := s.GetOrCreateConversation(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("admin should not own a conversation, got %s", c.ID)
	}
}

func TestUnreadAccounting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}

	admin := e.session(t, testAdmin, Options{})
	if err := admin.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"hello", "checking in", "still there?"} {
		if _, err := admin.SendMessage(ctx, text, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	// The user is not viewing the thread; each incoming message should
	// raise the conversation's unread counter.
	waitFor(t, func() bool {
		st := user.Snapshot()
		return len(st.Conversations) == 1 && st.Conversations[0].UnreadCount == 3
	}, "unread counter increment")

	// A colleague's global badge counts the unsent-by-them backlog.
	if n, err := e.store.CountUnread(ctx, "admin-2"); err != nil || n != 3 {
		t.Fatalf("global unread before read: %d, %v", n, err)
	}

	// Opening the thread resets the counter and stamps every message.
	if err := user.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	st := user.Snapshot()
	if st.CurrentConversation == nil || st.CurrentConversation.UnreadCount != 0 {
		t.Fatalf("unread counter not reset: %+v", st.CurrentConversation)
	}
	if len(st.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(st.Messages))
	}
	for i, m := range st.Messages {
		if m.ReadAt == nil {
			t.Fatalf("message %d not marked read after opening the thread", i)
		}
	}
	if n, err := e.store.CountUnread(ctx, "admin-2"); err != nil || n != 0 {
		t.Fatalf("global unread after read: %d, %v", n, err)
	}
}

func TestGlobalUnreadCountAdminOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	other := models.Actor{ID: "user-2", Role: models.RoleUser}
	u := models.User{ID: other.ID, Email: "other@example.com", Name: "Other User", Role: models.RoleUser}
	if err := e.store.InsertUser(ctx, &u); err != nil {
		t.Fatal(err)
	}

	// An unread message from the other user sits in their conversation.
	sender := e.session(t, other, Options{})
	conv, err := sender.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := sender.SendMessage(ctx, "account question", "", ""); err != nil {
		t.Fatal(err)
	}
	if n, err := e.store.CountUnread(ctx, testUser.ID); err != nil || n != 1 {
		t.Fatalf("backlog not seeded: %d, %v", n, err)
	}

	// An unrelated non-admin asking for the global badge must see nothing
	// of other users' threads.
	user := e.session(t, testUser, Options{})
	user.RefreshUnreadCount(ctx)
	if got := user.UnreadCount(); got != 0 {
		t.Fatalf("non-admin global unread count: got %d, want 0", got)
	}

	admin := e.session(t, testAdmin, Options{})
	waitFor(t, func() bool { return admin.UnreadCount() == 1 }, "admin unread badge")
	admin.RefreshUnreadCount(ctx)
	if got := admin.UnreadCount(); got != 1 {
		t.Fatalf("admin global unread count: got %d, want 1", got)
	}
}

func TestNotifyOnUnfocusedMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []string
	user.OnNotify(func(title, body string) {
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
	})
	user.SetFocused(false)

	admin := e.session(t, testAdmin, Options{})
	if err := admin.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.SendMessage(ctx, "your order shipped", "", ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "notification hook")
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "your order shipped" {
		t.Fatalf("unexpected notification body %q", got[0])
	}
}

func TestTypingExpiresAutomatically(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{TypingTimeout: 30 * time.Millisecond})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := user.SetTyping(ctx, conv.ID, true); err != nil {
		t.Fatal(err)
	}
	row, ok := e.store.TypingRow(conv.ID, testUser.ID)
	if !ok || !row.IsTyping {
		t.Fatalf("typing row not set: %+v ok=%v", row, ok)
	}

	waitFor(t, func() bool {
		row, ok := e.store.TypingRow(conv.ID, testUser.ID)
		return ok && !row.IsTyping
	}, "typing auto-expiry")
}

func TestTypingTimerInvalidatedByNewerWrite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{TypingTimeout: 100 * time.Millisecond})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := user.SetTyping(ctx, conv.ID, true); err != nil {
		t.Fatal(err)
	}
	// Keep typing past the first timeout; the refresh must supersede the
	// earlier timer instead of letting it clear the flag.
	time.Sleep(60 * time.Millisecond)
	if err := user.SetTyping(ctx, conv.ID, true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if row, ok := e.store.TypingRow(conv.ID, testUser.ID); !ok || !row.IsTyping {
		t.Fatalf("stale timer cleared an active typing flag: %+v", row)
	}

	waitFor(t, func() bool {
		row, ok := e.store.TypingRow(conv.ID, testUser.ID)
		return ok && !row.IsTyping
	}, "final expiry")
}

func TestHeartbeatStopsOnClose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{HeartbeatEvery: 10 * time.Millisecond})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := user.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ok := e.store.TypingRow(conv.ID, testUser.ID)
		return ok
	}, "first heartbeat")

	user.Close()
	time.Sleep(30 * time.Millisecond)
	row, _ := e.store.TypingRow(conv.ID, testUser.ID)
	time.Sleep(50 * time.Millisecond)
	after, _ := e.store.TypingRow(conv.ID, testUser.ID)
	if !after.UpdatedAt.Equal(row.UpdatedAt) {
		t.Fatalf("heartbeat still writing after Close: %v -> %v", row.UpdatedAt, after.UpdatedAt)
	}
}

func TestConversationManagementRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{})
	conv, err := user.GetOrCreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		name string
		call func() error
	}{
		{"status", func() error { return user.UpdateConversationStatus(ctx, conv.ID, models.ConversationResolved) }},
		{"assign", func() error { return user.AssignConversation(ctx, conv.ID, testAdmin.ID) }},
		{"priority", func() error { return user.SetConversationPriority(ctx, conv.ID, models.PriorityHigh) }},
		{"tag", func() error { return user.AddConversationTag(ctx, conv.ID, "vip") }},
		{"note", func() error { _, err := user.AddAdminNote(ctx, conv.ID, "internal"); return err }},
	}
	for _, c := range checks {
		if err := c.call(); !errs.IsPermission(err) {
			t.Errorf("%s: want PermissionError, got %v", c.name, err)
		}
	}

	admin := e.session(t, testAdmin, Options{})
	if err := admin.SetConversationPriority(ctx, conv.ID, models.PriorityUrgent); err != nil {
		t.Fatalf("admin priority change: %v", err)
	}
	if err := admin.AddConversationTag(ctx, conv.ID, "vip"); err != nil {
		t.Fatalf("admin tag add: %v", err)
	}
	got, err := e.store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != models.PriorityUrgent || len(got.Tags) != 1 || got.Tags[0] != "vip" {
		t.Fatalf("conversation not updated: %+v", got)
	}
}

func TestCloseTicketRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user := e.session(t, testUser, Options{})
	ticket, err := user.CreateTicket(ctx, models.CategoryAccount, "", "cannot log in", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := user.CloseTicket(ctx, ticket.ID); !errs.IsPermission(err) {
		t.Fatalf("want PermissionError, got %v", err)
	}

	admin := e.session(t, testAdmin, Options{})
	if err := admin.CloseTicket(ctx, ticket.ID); err != nil {
		t.Fatal(err)
	}
	got, err := e.store.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TicketClosed {
		t.Fatalf("ticket status = %s, want closed", got.Status)
	}

	// The user's cached copy converges through the feed.
	waitFor(t, func() bool {
		st := user.Snapshot()
		return len(st.Tickets) == 1 && st.Tickets[0].Status == models.TicketClosed
	}, "ticket close propagation")
}
