package trucksbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NotificationState holds the unread badge and the notification list.
//
// The aggregate changes in exactly two ways: adjust applies a local delta
// (+1 for an inbound message, -1 for a read) and replace installs a value
// from the server. A single event never does both.
type NotificationState struct {
	svc    MessagingService
	view   *ViewState
	logger *slog.Logger
	limit  int

	mu     sync.Mutex
	unread int
	list   []Notification

	onUnread       *subscriberSet[int]
	onNotification *subscriberSet[Notification]
}

func NewNotificationState(svc MessagingService, view *ViewState, limit int, logger *slog.Logger) *NotificationState {
	if limit <= 0 {
		limit = 200
	}
	return &NotificationState{
		svc:            svc,
		view:           view,
		logger:         logger,
		limit:          limit,
		onUnread:       newSubscriberSet[int]("unread", logger),
		onNotification: newSubscriberSet[Notification]("notification", logger),
	}
}

// OnUnreadChange registers a subscriber called with the new aggregate.
func (s *NotificationState) OnUnreadChange(sub *Subscriber[int]) { s.onUnread.add(sub) }

func (s *NotificationState) OffUnreadChange(sub *Subscriber[int]) { s.onUnread.remove(sub) }

// OnNotification registers a subscriber called for every new notification.
func (s *NotificationState) OnNotification(sub *Subscriber[Notification]) {
	s.onNotification.add(sub)
}

func (s *NotificationState) OffNotification(sub *Subscriber[Notification]) {
	s.onNotification.remove(sub)
}

// UnreadCount returns the aggregate.
func (s *NotificationState) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Notifications returns a copy of the list, newest first.
func (s *NotificationState) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.list...)
}

// ============================================================================
// Inbound
// ============================================================================

// addMessage records a routed message. When the user is viewing its
// conversation the notification is stored already read and the badge is
// left alone.
func (s *NotificationState) addMessage(msg Message, viewing bool) {
	n := Notification{
		ID:             "msg-" + msg.ID,
		Type:           NotificationMessage,
		Title:          "New message",
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderName:     msg.Sender.DisplayName(),
		ConversationID: msg.ConversationID,
		CreatedAt:      parseTime(msg.CreatedAt),
		IsRead:         viewing,
	}
	delta := 1
	if viewing {
		delta = 0
	}
	s.add(n, delta)
}

// addGeneral records a non-message notification with a +1 delta.
func (s *NotificationState) addGeneral(n Notification) {
	n.Type = NotificationGeneral
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.add(n, 1)
}

func (s *NotificationState) add(n Notification, delta int) {
	s.mu.Lock()
	for _, existing := range s.list {
		if existing.ID == n.ID {
			s.mu.Unlock()
			return
		}
	}
	s.list = append([]Notification{n}, s.list...)
	if len(s.list) > s.limit {
		s.list = s.list[:s.limit]
	}
	value, changed := s.adjustLocked(delta)
	s.mu.Unlock()

	s.onNotification.emit(n)
	if changed {
		s.onUnread.emit(value)
	}
}

// applyUnreadCountUpdate handles unreadCountUpdate: always a replace, with a
// missing count meaning zero.
func (s *NotificationState) applyUnreadCountUpdate(payload json.RawMessage) {
	obj, _ := decodeObject(payload)
	n := intOr(obj, "total_unread", intOr(obj, "count", 0))
	s.replace(n)
}

// applyBadgeUpdate handles badge:update. It is ignored on the messaging
// route, where the page itself tracks reads, and when the count is absent.
func (s *NotificationState) applyBadgeUpdate(payload json.RawMessage) {
	if s.view.OnMessagingRoute() {
		s.logger.Debug("badge update ignored on messaging route")
		return
	}
	obj, ok := decodeObject(payload)
	if !ok {
		return
	}
	if _, present := obj["total_unread"]; !present {
		return
	}
	s.replace(intOr(obj, "total_unread", 0))
}

// ============================================================================
// User actions
// ============================================================================

// MarkAsRead marks one notification read and decrements the badge. Unknown
// ids and notifications that are already read leave the badge unchanged, so
// repeating the call cannot drain counts that belong to other
// notifications.
func (s *NotificationState) MarkAsRead(id string) {
	s.mu.Lock()
	found := false
	for i := range s.list {
		if s.list[i].ID == id && !s.list[i].IsRead {
			s.list[i].IsRead = true
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return
	}
	value, changed := s.adjustLocked(-1)
	s.mu.Unlock()
	if changed {
		s.onUnread.emit(value)
	}
}

// MarkAllAsRead marks every notification read and zeroes the badge.
func (s *NotificationState) MarkAllAsRead() {
	s.mu.Lock()
	for i := range s.list {
		s.list[i].IsRead = true
	}
	s.mu.Unlock()
	s.replace(0)
}

// MarkMessageNotificationsAsRead marks message notifications read and sets
// the badge to the number of notifications still unread.
func (s *NotificationState) MarkMessageNotificationsAsRead() {
	s.mu.Lock()
	remaining := 0
	for i := range s.list {
		if s.list[i].Type == NotificationMessage {
			s.list[i].IsRead = true
		}
		if !s.list[i].IsRead {
			remaining++
		}
	}
	s.mu.Unlock()
	s.replace(remaining)
}

// ClearMessageNotifications drops message notifications from the list. The
// badge is unchanged.
func (s *NotificationState) ClearMessageNotifications() {
	s.mu.Lock()
	kept := s.list[:0]
	for _, n := range s.list {
		if n.Type != NotificationMessage {
			kept = append(kept, n)
		}
	}
	s.list = kept
	s.mu.Unlock()
}

// MarkConversationAsRead sends the read receipt, marks the conversation's
// message notifications read locally and re-fetches the authoritative count.
func (s *NotificationState) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	if err := s.svc.MarkAllMessagesRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark conversation %s read: %w", conversationID, err)
	}

	s.mu.Lock()
	for i := range s.list {
		if s.list[i].Type == NotificationMessage && s.list[i].ConversationID == conversationID {
			s.list[i].IsRead = true
		}
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Refresh replaces the badge with the server's unread count. The result is
// dropped if ctx is done by the time it arrives.
func (s *NotificationState) Refresh(ctx context.Context) error {
	res, err := s.svc.GetUnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread count: %w", err)
	}
	if !res.Success {
		return &APIError{Code: "UNREAD_COUNT_FAILED", Message: "unread count request was not successful"}
	}
	s.replaceLive(ctx, res.Data.Count)
	return nil
}

// RefreshFromConversations replaces the badge with the sum of the
// per-conversation unread counters. Like Refresh, a result arriving after
// ctx is done is dropped.
func (s *NotificationState) RefreshFromConversations(ctx context.Context) error {
	res, err := s.svc.GetConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	if !res.Success {
		return &APIError{Code: "CONVERSATIONS_FAILED", Message: res.Message}
	}
	s.replaceLive(ctx, res.TotalUnread())
	return nil
}

// Reset drops all state; used when the session ends.
func (s *NotificationState) Reset() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
	s.replace(0)
}

// ============================================================================
// Aggregate mutation
// ============================================================================

func (s *NotificationState) adjustLocked(delta int) (int, bool) {
	if delta == 0 {
		return s.unread, false
	}
	next := s.unread + delta
	if next < 0 {
		next = 0
	}
	changed := next != s.unread
	s.unread = next
	return next, changed
}

func (s *NotificationState) replace(n int) {
	s.replaceLive(context.Background(), n)
}

// replaceLive installs n unless ctx is done. The check happens under the
// lock, so a caller that cancels ctx before Reset never sees it applied.
func (s *NotificationState) replaceLive(ctx context.Context, n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	changed := n != s.unread
	s.unread = n
	s.mu.Unlock()
	if changed {
		s.onUnread.emit(n)
	}
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Now()
}
