package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

// ---- tickets ----

func (s *Postgres) InsertTicket(ctx context.Context, t *models.Ticket) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tickets (id, user_id, category, subcategory, order_id, status, last_message_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.UserID, t.Category, t.Subcategory, t.OrderID, t.Status, t.LastMessageAt, t.CreatedAt)
	return wrap("insert ticket", err)
}

func (s *Postgres) DeleteTicket(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	return wrap("delete ticket", err)
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	if err := row.Scan(&t.ID, &t.UserID, &t.Category, &t.Subcategory, &t.OrderID, &t.Status, &t.LastMessageAt, &t.CreatedAt); err != nil {
		return nil, wrap("scan ticket", err)
	}
	return &t, nil
}

func (s *Postgres) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return scanTicket(s.Pool.QueryRow(ctx, `
		SELECT id, user_id, category, subcategory, order_id, status, last_message_at, created_at
		FROM tickets WHERE id = $1
	`, id))
}

func (s *Postgres) ListTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	query := `
		SELECT id, user_id, category, subcategory, order_id, status, last_message_at, created_at
		FROM tickets`
	var args []any
	if userID != "" {
		args = append(args, userID)
		query += ` WHERE user_id = $1`
	}
	query += ` ORDER BY last_message_at DESC`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list tickets", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.Category, &t.Subcategory, &t.OrderID, &t.Status, &t.LastMessageAt, &t.CreatedAt); err != nil {
			return nil, wrap("list tickets", err)
		}
		out = append(out, t)
	}
	return out, wrap("list tickets", rows.Err())
}

// CloseTicket is the privileged transition: a single statement so the
// closed invariant can never be half-applied.
func (s *Postgres) CloseTicket(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE tickets SET status = 'closed' WHERE id = $1`, id)
	if err != nil {
		return wrap("close ticket", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ---- conversations ----

func (s *Postgres) InsertConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, status, priority, assigned_to, tags, unread_count, last_message_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.UserID, c.Status, c.Priority, c.AssignedTo, c.Tags, c.UnreadCount, c.LastMessageAt, c.CreatedAt)
	return wrap("insert conversation", err)
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Status, &c.Priority, &c.AssignedTo, &c.Tags, &c.UnreadCount, &c.LastMessageAt, &c.CreatedAt); err != nil {
		return nil, wrap("scan conversation", err)
	}
	return &c, nil
}

const conversationColumns = `id, user_id, status, priority, assigned_to, tags, unread_count, last_message_at, created_at`

func (s *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.Pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Postgres) GetConversationByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	return scanConversation(s.Pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = $1`, userID))
}

func (s *Postgres) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, wrap("list conversations", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Status, &c.Priority, &c.AssignedTo, &c.Tags, &c.UnreadCount, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, wrap("list conversations", err)
		}
		out = append(out, c)
	}
	return out, wrap("list conversations", rows.Err())
}

// conversationPatchColumns whitelists what UpdateConversation may touch.
var conversationPatchColumns = map[string]bool{
	"status":          true,
	"priority":        true,
	"assigned_to":     true,
	"tags":            true,
	"unread_count":    true,
	"last_message_at": true,
}

func (s *Postgres) UpdateConversation(ctx context.Context, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	var sets []string
	var args []any
	for col, val := range patch {
		if !conversationPatchColumns[col] {
			return errs.Validation("cannot update conversation column %q", col)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE conversations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return wrap("update conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ---- messages ----

const messageColumns = `id, ticket_id, conversation_id, sender_id, sender_role, content, attachment_url, attachment_type, read_at, created_at`

func (s *Postgres) InsertMessage(ctx context.Context, m *models.Message) error {
	var ticketID, conversationID *string
	if m.TicketID != "" {
		ticketID = &m.TicketID
	}
	if m.ConversationID != "" {
		conversationID = &m.ConversationID
	}
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		// The closed invariant is enforced inside the transaction, not
		// just against the client's cached status, so a stale sender
		// cannot slip through. The row lock holds off a concurrent close.
		if m.TicketID != "" && m.SenderRole != models.RoleAdmin {
			var status models.TicketStatus
			if err := tx.QueryRow(ctx,
				`SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, m.TicketID,
			).Scan(&status); err != nil {
				return err
			}
			if status == models.TicketClosed {
				return errs.State("this ticket is closed and no longer accepts messages")
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, ticket_id, conversation_id, sender_id, sender_role, content, attachment_url, attachment_type, read_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, m.ID, ticketID, conversationID, m.SenderID, m.SenderRole, m.Content, m.AttachmentURL, m.AttachmentType, m.ReadAt, m.CreatedAt); err != nil {
			return err
		}
		if m.TicketID != "" {
			// Turn-taking: an admin reply flips the ticket to replied,
			// a user message hands the turn back. Closed stays closed.
			status := models.TicketPending
			if m.SenderRole == models.RoleAdmin {
				status = models.TicketReplied
			}
			_, err := tx.Exec(ctx, `
				UPDATE tickets SET last_message_at = $1,
					status = CASE WHEN status = 'closed' THEN status ELSE $2::text END
				WHERE id = $3
			`, m.CreatedAt, status, m.TicketID)
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE conversations SET last_message_at = $1 WHERE id = $2`, m.CreatedAt, m.ConversationID)
		return err
	})
	if errs.IsState(err) {
		return err
	}
	return wrap("insert message", err)
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var ticketID, conversationID *string
	if err := row.Scan(&m.ID, &ticketID, &conversationID, &m.SenderID, &m.SenderRole, &m.Content, &m.AttachmentURL, &m.AttachmentType, &m.ReadAt, &m.CreatedAt); err != nil {
		return nil, wrap("scan message", err)
	}
	if ticketID != nil {
		m.TicketID = *ticketID
	}
	if conversationID != nil {
		m.ConversationID = *conversationID
	}
	return &m, nil
}

func (s *Postgres) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return scanMessage(s.Pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (s *Postgres) UpdateMessageContent(ctx context.Context, id, content string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE messages SET content = $1 WHERE id = $2`, content, id)
	if err != nil {
		return wrap("update message", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return wrap("delete message", err)
}

func (s *Postgres) ListMessagesBefore(ctx context.Context, parent models.Parent, before time.Time, limit int) ([]models.Message, error) {
	col := parentColumn(parent)
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + col + ` = $1`
	args := []any{parent.ID}
	if !before.IsZero() {
		args = append(args, before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, wrap("list messages", rows.Err())
}

func (s *Postgres) CountMessagesBefore(ctx context.Context, parent models.Parent, before time.Time) (int, error) {
	col := parentColumn(parent)
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+col+` = $1 AND created_at < $2`,
		parent.ID, before,
	).Scan(&n)
	return n, wrap("count messages", err)
}

// MarkMessagesRead bulk-marks everything unread in the thread that the
// reader did not send. One statement; the ids come back so the caller can
// mirror the change without waiting for the feed.
func (s *Postgres) MarkMessagesRead(ctx context.Context, parent models.Parent, readerID string, at time.Time) ([]string, error) {
	col := parentColumn(parent)
	rows, err := s.Pool.Query(ctx, `
		UPDATE messages SET read_at = $1
		WHERE `+col+` = $2 AND sender_id <> $3 AND read_at IS NULL
		RETURNING id
	`, at, parent.ID, readerID)
	if err != nil {
		return nil, wrap("mark read", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("mark read", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("mark read", rows.Err())
}

func (s *Postgres) CountUnread(ctx context.Context, excludeSender string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE read_at IS NULL AND sender_id <> $1`,
		excludeSender,
	).Scan(&n)
	return n, wrap("count unread", err)
}

// ---- typing / presence ----

func (s *Postgres) UpsertTyping(ctx context.Context, ti models.TypingIndicator) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO typing_indicators (conversation_id, user_id, is_typing, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			is_typing = EXCLUDED.is_typing,
			updated_at = EXCLUDED.updated_at
	`, ti.ConversationID, ti.UserID, ti.IsTyping, ti.UpdatedAt)
	return wrap("upsert typing", err)
}

// ---- admin notes ----

func (s *Postgres) InsertAdminNote(ctx context.Context, n *models.AdminNote) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO admin_notes (id, conversation_id, author_id, content, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.ConversationID, n.AuthorID, n.Content, n.CreatedAt, n.UpdatedAt)
	return wrap("insert note", err)
}

func (s *Postgres) ListAdminNotes(ctx context.Context, conversationID string) ([]models.AdminNote, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, author_id, content, created_at, updated_at
		FROM admin_notes WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, wrap("list notes", err)
	}
	defer rows.Close()

	var out []models.AdminNote
	for rows.Next() {
		var n models.AdminNote
		if err := rows.Scan(&n.ID, &n.ConversationID, &n.AuthorID, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, wrap("list notes", err)
		}
		out = append(out, n)
	}
	return out, wrap("list notes", rows.Err())
}
