package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/support"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxFrame   = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers send arbitrary origins; auth happens via the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is one client action frame. Fields beyond Action are
// action-specific; unused ones stay zero.
type wsCommand struct {
	Action string `json:"action"`

	ID             string                `json:"id,omitempty"`
	Category       models.TicketCategory `json:"category,omitempty"`
	OrderID        string                `json:"order_id,omitempty"`
	Subcategory    string                `json:"subcategory,omitempty"`
	Message        string                `json:"message,omitempty"`
	Content        string                `json:"content,omitempty"`
	AttachmentURL  string                `json:"attachment_url,omitempty"`
	AttachmentType models.AttachmentType `json:"attachment_type,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	IsTyping       bool                  `json:"is_typing,omitempty"`
	Focused        bool                  `json:"focused,omitempty"`
	AtBottom       bool                  `json:"at_bottom,omitempty"`
	Status         string                `json:"status,omitempty"`
	Priority       models.Priority       `json:"priority,omitempty"`
	AdminID        string                `json:"admin_id,omitempty"`
	Tag            string                `json:"tag,omitempty"`
}

type wsFrame struct {
	Type string `json:"type"`

	State  *support.State `json:"state,omitempty"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body,omitempty"`
	Action string         `json:"action,omitempty"`
	Error  string         `json:"error,omitempty"`
	Data   any            `json:"data,omitempty"`
}

// SupportWS upgrades the connection and binds it to a fresh support
// session. The session lives exactly as long as the socket: disconnect
// tears down subscriptions, typing timers, and the presence heartbeat.
func (h *Handler) SupportWS(c *gin.Context) {
	actor, _ := middleware.Actor(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := support.NewSession(actor, h.Store, h.Feed, h.Logger, h.Engine)
	defer session.Close()

	out := make(chan wsFrame, 32)
	done := make(chan struct{})
	defer close(done)

	enqueue := func(f wsFrame) {
		select {
		case out <- f:
		default:
			// A stalled client misses intermediate frames; the next state
			// snapshot carries everything it needs.
		}
	}
	session.OnChange(func() {
		st := session.Snapshot()
		enqueue(wsFrame{Type: "state", State: &st})
	})
	session.OnNotify(func(title, body string) {
		enqueue(wsFrame{Type: "notification", Title: title, Body: body})
	})

	go h.wsWriter(conn, out, done)

	if err := session.Start(ctx); err != nil {
		h.Logger.Error().Err(err).Str("actor", actor.ID).Msg("support session start failed")
		enqueue(wsFrame{Type: "error", Error: errs.UserMessage(err)})
		return
	}

	conn.SetReadLimit(wsMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			enqueue(wsFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		data, err := h.dispatch(ctx, session, cmd)
		if err != nil {
			enqueue(wsFrame{Type: "error", Action: cmd.Action, Error: errs.UserMessage(err)})
			continue
		}
		if data != nil {
			enqueue(wsFrame{Type: "ack", Action: cmd.Action, Data: data})
		}
	}
}

func (h *Handler) wsWriter(conn *websocket.Conn, out <-chan wsFrame, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case f := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, s *support.Session, cmd wsCommand) (any, error) {
	switch cmd.Action {
	case "create_ticket":
		return s.CreateTicket(ctx, cmd.Category, cmd.OrderID, cmd.Message, cmd.Subcategory)
	case "start_conversation":
		return s.GetOrCreateConversation(ctx)
	case "select_ticket":
		return nil, s.SelectTicket(ctx, cmd.ID)
	case "deselect_ticket":
		s.DeselectTicket()
		return nil, nil
	case "select_conversation":
		return nil, s.SelectConversation(ctx, cmd.ID)
	case "deselect_conversation":
		s.DeselectConversation()
		return nil, nil
	case "send_message":
		return s.SendMessage(ctx, cmd.Content, cmd.AttachmentURL, cmd.AttachmentType)
	case "edit_message":
		return nil, s.EditMessage(ctx, cmd.ID, cmd.Content)
	case "delete_message":
		return nil, s.DeleteMessage(ctx, cmd.ID)
	case "load_more":
		return nil, s.LoadMoreMessages(ctx)
	case "set_typing":
		return nil, s.SetTyping(ctx, cmd.ConversationID, cmd.IsTyping)
	case "set_focused":
		s.SetFocused(cmd.Focused)
		return nil, nil
	case "set_at_bottom":
		s.SetAtBottom(cmd.AtBottom)
		return nil, nil
	case "close_ticket":
		return nil, s.CloseTicket(ctx, cmd.ID)
	case "conversation_status":
		return nil, s.UpdateConversationStatus(ctx, cmd.ID, models.ConversationStatus(cmd.Status))
	case "assign_conversation":
		return nil, s.AssignConversation(ctx, cmd.ID, cmd.AdminID)
	case "set_priority":
		return nil, s.SetConversationPriority(ctx, cmd.ID, cmd.Priority)
	case "add_tag":
		return nil, s.AddConversationTag(ctx, cmd.ID, cmd.Tag)
	case "remove_tag":
		return nil, s.RemoveConversationTag(ctx, cmd.ID, cmd.Tag)
	case "add_note":
		return s.AddAdminNote(ctx, cmd.ConversationID, cmd.Content)
	case "refresh_unread":
		s.RefreshUnreadCount(ctx)
		return nil, nil
	default:
		return nil, errs.Validation("unknown action %q", cmd.Action)
	}
}
