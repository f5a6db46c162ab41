package trucksbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return e.Code + ": " + e.Message
}

// Session identifies the signed-in user. It is supplied by the auth provider.
type Session struct {
	UserID string `json:"userId" toml:"user_id"`
	Role   string `json:"role" toml:"role"`
	Token  string `json:"-" toml:"token"`
}

// Valid reports whether the session carries both a user and a credential.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}

// IsAdmin reports whether the session holds the admin role.
func (s Session) IsAdmin() bool {
	return strings.EqualFold(s.Role, "admin")
}

// ============================================================================
// Messaging Types
// ============================================================================

// Participant is the public profile attached to a message or conversation.
type Participant struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username,omitempty"`
}

// DisplayName joins first and last name, falling back to the username.
func (p *Participant) DisplayName() string {
	if p == nil {
		return ""
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Username
	}
	return name
}

// Message is the canonical chat message shape delivered to subscribers.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content"`
	IsRead         bool         `json:"is_read"`
	IsEdited       bool         `json:"is_edited"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at,omitempty"`
	Sender         *Participant `json:"users,omitempty"`
}

// ListingRef is the listing a conversation was opened from.
type ListingRef struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// LastMessage previews the most recent message of a conversation.
type LastMessage struct {
	Content    string `json:"content"`
	Body       string `json:"body,omitempty"`
	CreatedAt  string `json:"created_at"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}

// Conversation is one entry of the conversation listing.
type Conversation struct {
	ID               string       `json:"id"`
	Participant1ID   string       `json:"participant1_id,omitempty"`
	Participant2ID   string       `json:"participant2_id,omitempty"`
	ListingID        string       `json:"listing_id,omitempty"`
	LastMessageAt    string       `json:"last_message_at,omitempty"`
	CreatedAt        string       `json:"created_at,omitempty"`
	UpdatedAt        string       `json:"updated_at,omitempty"`
	Listing          *ListingRef  `json:"listing,omitempty"`
	OtherParticipant *Participant `json:"otherParticipant,omitempty"`
	LastMessage      *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount      int          `json:"unreadCount"`
}

// ConversationsResult is the response of the conversation listing.
type ConversationsResult struct {
	Success       bool           `json:"success"`
	Conversations []Conversation `json:"conversations"`
	Message       string         `json:"message,omitempty"`
}

// TotalUnread sums the per-conversation unread counters.
func (r *ConversationsResult) TotalUnread() int {
	total := 0
	for _, c := range r.Conversations {
		total += c.UnreadCount
	}
	return total
}

// IDs returns the conversation ids in listing order.
func (r *ConversationsResult) IDs() []string {
	ids := make([]string, 0, len(r.Conversations))
	for _, c := range r.Conversations {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// UnreadCountResult is the response of the unread counter endpoint.
type UnreadCountResult struct {
	Success bool `json:"success"`
	Data    struct {
		Count int `json:"count"`
	} `json:"data"`
}

// SendMessageRequest is the body of the request/response send.
type SendMessageRequest struct {
	ConversationID string `json:"-"`
	Content        string `json:"content"`
	Body           string `json:"body"`
}

// SendMessageResult is the response of the request/response send.
type SendMessageResult struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message"`
}

// MessagesResult is a page of conversation history.
type MessagesResult struct {
	Success    bool              `json:"success"`
	Messages   []json.RawMessage `json:"messages"`
	Pagination struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

// StatusResult is the generic {success, message} response.
type StatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// NotificationType distinguishes chat notifications from everything else.
type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationGeneral NotificationType = "general"
)

// Notification is one entry of the notification list.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Content        string           `json:"content"`
	SenderID       string           `json:"senderId,omitempty"`
	SenderName     string           `json:"senderName,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	IsRead         bool             `json:"isRead"`
}

// TypingEvent is delivered to typing subscribers.
type TypingEvent struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Typing         bool   `json:"typing"`
}
