package trucksbus

// ============================================================================
// Event names
// ============================================================================

// Outbound events.
const (
	EventUserJoin          = "user:join"
	EventJoin              = "join"
	EventConversationJoin  = "conversation:join"
	EventJoinConversation  = "join_conversation"
	EventConversationLeave = "conversation:leave"
	EventLeaveConversation = "leave_conversation"
	EventMessageSend       = "message:send"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
)

// Inbound events.
const (
	EventUserTyping         = "user_typing"
	EventTypingStartLegacy  = "typing:start"
	EventUserStopTyping     = "user_stop_typing"
	EventUnreadCountUpdate  = "unreadCountUpdate"
	EventBadgeUpdate        = "badge:update"
	EventReportNew          = "admin:report:new"
	EventReportResolved     = "admin:report:resolved"
	EventConversationUpsert = "conversation:upsert"
	EventAck                = "ack"
)

// MessageEvents lists every inbound event name that carries a message. The
// backend emits the same message under several of them.
var MessageEvents = []string{
	"new_message",
	"message:new",
	"message",
	"conversation:message",
	"notify:message",
	"message:notify",
	"user:new_message",
	"user:notification",
	"notification",
}

// TypingEvents are the inbound typing aliases.
var TypingEvents = []string{EventUserTyping, EventTypingStartLegacy}

const adminRoom = "role:admin"

func conversationRoom(id string) string { return "conversation:" + id }

// ============================================================================
// Outbound payloads
// ============================================================================

type userJoinPayload struct {
	UserID string `json:"user_id"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type conversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type typingPayload struct {
	ConversationID       string `json:"conversation_id"`
	ConversationIDLegacy string `json:"conversationId"`
}

type messageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

type legacySendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// joinFrames returns the three join aliases for a conversation in emit order.
func joinFrames(id string) []frame {
	return []frame{
		{EventConversationJoin, conversationPayload{ConversationID: id}},
		{EventJoinConversation, id},
		{EventJoin, roomPayload{Room: conversationRoom(id)}},
	}
}

func leaveFrames(id string) []frame {
	return []frame{
		{EventConversationLeave, conversationPayload{ConversationID: id}},
		{EventLeaveConversation, id},
	}
}

// identityFrames announces the user, plus the admin room for admins.
func identityFrames(s Session) []frame {
	frames := []frame{{EventUserJoin, userJoinPayload{UserID: s.UserID}}}
	if s.IsAdmin() {
		frames = append(frames, frame{EventJoin, roomPayload{Room: adminRoom}})
	}
	return frames
}

type frame struct {
	event   string
	payload any
}
