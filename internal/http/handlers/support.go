package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/models"
)

// The REST surface covers reads and uploads; every stateful support
// operation goes through the websocket session so all connected clients
// of the same user converge.

func (h *Handler) TicketsList(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	userFilter := actor.ID
	if actor.IsAdmin() {
		userFilter = c.Query("user_id")
	}
	items, err := h.Store.ListTickets(c.Request.Context(), userFilter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	actor, _ := middleware.Actor(c)
	t, err := h.Store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !actor.IsAdmin() && t.UserID != actor.ID {
		h.fail(c, errs.Permission("view ticket", nil))
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ConversationsList(c *gin.Context) {
	items, err := h.Store.ListConversations(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// MessagesPage serves one history page, newest-first, for clients that
// poll instead of holding a websocket open.
func (h *Handler) MessagesPage(c *gin.Context) {
	actor, _ := middleware.Actor(c)

	kind := models.ParentKind(c.Param("kind"))
	parent := models.Parent{Kind: kind, ID: c.Param("id")}
	switch kind {
	case models.ParentTicket:
		t, err := h.Store.GetTicket(c.Request.Context(), parent.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !actor.IsAdmin() && t.UserID != actor.ID {
			h.fail(c, errs.Permission("view messages", nil))
			return
		}
	case models.ParentConversation:
		conv, err := h.Store.GetConversation(c.Request.Context(), parent.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !actor.IsAdmin() && conv.UserID != actor.ID {
			h.fail(c, errs.Permission("view messages", nil))
			return
		}
	default:
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown thread kind", nil)
		return
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "before must be RFC3339", nil)
			return
		}
		before = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.Engine.PageSize)))
	if limit <= 0 || limit > 200 {
		limit = h.Engine.PageSize
	}

	items, err := h.Store.ListMessagesBefore(c.Request.Context(), parent, before, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit})
}

func (h *Handler) NotesList(c *gin.Context) {
	items, err := h.Store.ListAdminNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Upload a message attachment
// @Tags support
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "attachment"
// @Success 201 {object} uploads.Attachment
// @Failure 400 {object} map[string]any
// @Router /api/support/uploads [post]
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, errs.Transient("open upload", err))
		return
	}
	defer f.Close()

	att, err := h.Uploader.Upload(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}
