package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor identifies who is performing an operation. Every role-dependent
// code path selects behavior from this value rather than from ad hoc flags.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Balance      float64   `json:"balance"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketReplied TicketStatus = "replied"
	TicketClosed  TicketStatus = "closed"
)

type TicketCategory string

const (
	CategoryOrder     TicketCategory = "order"
	CategoryPayment   TicketCategory = "payment"
	CategoryAccount   TicketCategory = "account"
	CategoryComplaint TicketCategory = "complaint"
	CategoryOther     TicketCategory = "other"
)

func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryOrder, CategoryPayment, CategoryAccount, CategoryComplaint, CategoryOther:
		return true
	}
	return false
}

// Ticket is a formal support request with turn-taking semantics: a new
// ticket is pending, an admin reply flips it to replied, and only a
// dedicated admin action closes it.
type Ticket struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Category      TicketCategory `json:"category"`
	Subcategory   string         `json:"subcategory,omitempty"`
	OrderID       string         `json:"order_id,omitempty"`
	Status        TicketStatus   `json:"status"`
	LastMessageAt time.Time      `json:"last_message_at"`
	CreatedAt     time.Time      `json:"created_at"`

	// User is join data populated client-side for admin views; it never
	// round-trips to the store.
	User *User `json:"user,omitempty"`
}

type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationResolved ConversationStatus = "resolved"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Conversation is the legacy free-form support thread. At most one exists
// per non-admin user; concurrent creators converge on a single row.
type Conversation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Status        ConversationStatus `json:"status"`
	Priority      Priority           `json:"priority"`
	AssignedTo    string             `json:"assigned_to,omitempty"`
	Tags          []string           `json:"tags"`
	UnreadCount   int                `json:"unread_count"`
	LastMessageAt time.Time          `json:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at"`

	User *User `json:"user,omitempty"`
}

type ParentKind string

const (
	ParentTicket       ParentKind = "ticket"
	ParentConversation ParentKind = "conversation"
)

// Parent is the tagged reference a message carries to exactly one of
// ticket or conversation. Pagination, read accounting, and send logic are
// written against this; only lifecycle rules specialize on the kind.
type Parent struct {
	Kind ParentKind `json:"kind"`
	ID   string     `json:"id"`
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// TombstoneContent replaces the body of a message soft-deleted by its
// owner. The row stays so thread ordering and moderation review survive.
const TombstoneContent = "[message deleted]"

type Message struct {
	ID             string         `json:"id"`
	TicketID       string         `json:"ticket_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	SenderID       string         `json:"sender_id"`
	SenderRole     Role           `json:"sender_role"`
	Content        string         `json:"content"`
	AttachmentURL  string         `json:"attachment_url,omitempty"`
	AttachmentType AttachmentType `json:"attachment_type,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (m Message) Parent() Parent {
	if m.TicketID != "" {
		return Parent{Kind: ParentTicket, ID: m.TicketID}
	}
	return Parent{Kind: ParentConversation, ID: m.ConversationID}
}

func (m Message) Deleted() bool { return m.Content == TombstoneContent }

// TypingIndicator doubles as a presence heartbeat: true rows mean "typing
// right now", false rows refresh UpdatedAt so readers can infer activity.
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AdminNote struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Service struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	ServiceType string    `json:"service_type"`
	Name        string    `json:"name"`
	Rate        float64   `json:"rate"`
	MinQuantity int       `json:"min_quantity"`
	MaxQuantity int       `json:"max_quantity"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	ServiceID   string      `json:"service_id"`
	Link        string      `json:"link"`
	Quantity    int         `json:"quantity"`
	TotalCost   float64     `json:"total_cost"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionApproved TransactionStatus = "approved"
	TransactionRejected TransactionStatus = "rejected"
)

type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Amount    float64           `json:"amount"`
	Type      string            `json:"type"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}
