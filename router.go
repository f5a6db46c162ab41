package trucksbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MessageRouter turns the many inbound message aliases into one stream:
// unwrap, normalize, dedup, deliver, then update the notification state.
type MessageRouter struct {
	dedup   *DedupWindow
	state   *NotificationState
	view    *ViewState
	session func() Session
	logger  *slog.Logger

	onMessage *subscriberSet[Message]
	onTyping  *subscriberSet[TypingEvent]
}

func NewMessageRouter(dedup *DedupWindow, state *NotificationState, view *ViewState, session func() Session, logger *slog.Logger) *MessageRouter {
	return &MessageRouter{
		dedup:     dedup,
		state:     state,
		view:      view,
		session:   session,
		logger:    logger,
		onMessage: newSubscriberSet[Message]("message", logger),
		onTyping:  newSubscriberSet[TypingEvent]("typing", logger),
	}
}

// OnMessage registers a message subscriber. Registering the same handle
// twice is a no-op.
func (r *MessageRouter) OnMessage(sub *Subscriber[Message]) { r.onMessage.add(sub) }
func (r *MessageRouter) OffMessage(sub *Subscriber[Message]) { r.onMessage.remove(sub) }

func (r *MessageRouter) OnTyping(sub *Subscriber[TypingEvent]) { r.onTyping.add(sub) }
func (r *MessageRouter) OffTyping(sub *Subscriber[TypingEvent]) { r.onTyping.remove(sub) }

// HandleMessage processes one message-shaped event payload.
func (r *MessageRouter) HandleMessage(payload json.RawMessage) {
	obj, ok := decodeObject(payload)
	var msg Message
	if ok {
		obj = unwrapMessage(obj)
		msg, ok = normalizeObject(obj)
	}
	if !ok {
		r.handleMalformed(obj)
		return
	}

	if !r.dedup.Add(msg.ID) {
		r.logger.Debug("duplicate message dropped", "message_id", msg.ID)
		return
	}

	r.onMessage.emit(msg)

	if msg.SenderID != "" && msg.SenderID == r.session().UserID {
		return
	}
	r.state.addMessage(msg, r.view.IsViewing(msg.ConversationID))
}

// handleMalformed records a best-effort notification for a payload that
// could not be normalized. obj may be nil.
func (r *MessageRouter) handleMalformed(obj map[string]any) {
	r.logger.Warn("unparseable message payload, recording generic notification")

	content := firstStr(obj, "preview", "content")
	if content == "" {
		content = "You have a new message"
	}
	n := Notification{
		ID:             "nf-" + uuid.NewString(),
		Type:           NotificationGeneral,
		Title:          "New message",
		Content:        content,
		ConversationID: firstStr(obj, "conversation_id", "conversationId"),
		CreatedAt:      time.Now(),
	}
	delta := 1
	if r.view.OnMessagingRoute() {
		delta = 0
	}
	r.state.add(n, delta)
}

// HandleTyping delivers a typing indicator to typing subscribers.
func (r *MessageRouter) HandleTyping(payload json.RawMessage, typing bool) {
	obj, ok := decodeObject(payload)
	if !ok {
		return
	}
	ev := TypingEvent{
		UserID:         firstStr(obj, "userId", "user_id"),
		UserName:       firstStr(obj, "userName", "user_name"),
		ConversationID: firstStr(obj, "conversation_id", "conversationId"),
		Typing:         typing,
	}
	if ev.UserID == "" {
		return
	}
	r.onTyping.emit(ev)
}

// HandleReport records admin report events. Other roles ignore them.
func (r *MessageRouter) HandleReport(payload json.RawMessage, resolved bool) {
	if !r.session().IsAdmin() {
		return
	}
	obj, _ := decodeObject(payload)
	reportID := strOr(obj, "reportId", uuid.NewString())
	title := strOr(obj, "listingTitle", "")

	n := Notification{
		ID:      "report-" + reportID,
		Title:   "New report",
		Content: fmt.Sprintf("New report received for listing %q", title),
	}
	if resolved {
		outcome := "rejected"
		if strOr(obj, "status", "") == "ACCEPTED" {
			outcome = "accepted"
		}
		n.ID = "report-resolved-" + reportID
		n.Title = "Report resolved"
		n.Content = fmt.Sprintf("Report for %q was %s", title, outcome)
	}
	r.state.addGeneral(n)
}
