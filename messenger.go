package trucksbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Messenger is the realtime messaging facade. It owns one ChannelManager
// and wires the membership tracker, router, notification state, send
// coordinator and poller around it.
type Messenger struct {
	config *RealtimeConfig
	logger *slog.Logger
	svc    MessagingService

	channel       *ChannelManager
	view          *ViewState
	members       *MembershipTracker
	dedup         *DedupWindow
	notifications *NotificationState
	router        *MessageRouter
	sender        *SendCoordinator
	poller        *PollingFallback

	// lifeMu serializes Connect, Disconnect and Close.
	lifeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	lastUserID string

	// sessCancel ends work started for the current session.
	sessCancel context.CancelFunc
}

// NewMessenger creates a Messenger dialing urlFn(token) and reconciling
// against svc. A nil config uses DefaultRealtimeConfig.
func NewMessenger(urlFn func(token string) string, svc MessagingService, config *RealtimeConfig) *Messenger {
	if config == nil {
		config = DefaultRealtimeConfig()
	}
	config.defaults()

	m := &Messenger{
		config: config,
		logger: config.Logger,
		svc:    svc,
	}
	m.channel = NewChannelManager(urlFn, config)
	m.view = newViewState(config.MessagingRoutes)
	m.members = NewMembershipTracker(m.channel, m.logger)
	m.dedup = NewDedupWindow(config.DedupCapacity)
	m.notifications = NewNotificationState(svc, m.view, config.NotificationLimit, m.logger)
	m.router = NewMessageRouter(m.dedup, m.notifications, m.view, m.channel.Session, m.logger)
	m.sender = NewSendCoordinator(m.channel, m.members, svc, m.channel.Session, config)
	m.poller = NewPollingFallback(m.notifications, m.view, m.channel.Session, config)
	m.wire()
	return m
}

func (m *Messenger) wire() {
	ch := m.channel
	for _, ev := range MessageEvents {
		ch.On(ev, m.router.HandleMessage)
	}
	for _, ev := range TypingEvents {
		ch.On(ev, func(p json.RawMessage) { m.router.HandleTyping(p, true) })
	}
	ch.On(EventUserStopTyping, func(p json.RawMessage) { m.router.HandleTyping(p, false) })
	ch.On(EventUnreadCountUpdate, m.notifications.applyUnreadCountUpdate)
	ch.On(EventBadgeUpdate, m.notifications.applyBadgeUpdate)
	ch.On(EventReportNew, func(p json.RawMessage) { m.router.HandleReport(p, false) })
	ch.On(EventReportResolved, func(p json.RawMessage) { m.router.HandleReport(p, true) })
	ch.On(EventConversationUpsert, func(json.RawMessage) { go m.syncMemberships() })
	ch.OnConnected(m.handleConnected)
}

// handleConnected runs after every (re)connect: announce identity, rejoin
// every conversation, then fetch the authoritative unread count. connCtx
// ends with the connection; results arriving after that are dropped.
func (m *Messenger) handleConnected(connCtx context.Context, s Session) {
	ctx, cancel := context.WithTimeout(connCtx, m.config.FallbackTimeout)
	defer cancel()

	for _, f := range identityFrames(s) {
		if err := m.channel.Emit(ctx, f.event, f.payload); err != nil {
			m.logger.Warn("identity announce failed", "event", f.event, "error", err)
		}
	}

	res, err := m.svc.GetConversations(ctx)
	if err != nil {
		m.logger.Warn("conversation fetch for rejoin failed", "error", err)
		m.members.RejoinAll(connCtx, nil)
	} else {
		m.members.RejoinAll(connCtx, res.IDs())
	}

	if err := m.notifications.Refresh(ctx); err != nil {
		m.logger.Warn("unread refresh after connect failed", "error", err)
	}
}

// syncMemberships joins conversations that appeared since the last rejoin.
func (m *Messenger) syncMemberships() {
	connCtx := m.channel.connContext()
	if connCtx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(connCtx, m.config.FallbackTimeout)
	defer cancel()
	res, err := m.svc.GetConversations(ctx)
	if err != nil {
		m.logger.Warn("conversation upsert refresh failed", "error", err)
		return
	}
	for _, id := range res.IDs() {
		m.members.EnsureJoined(connCtx, id)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Connect binds the messenger to session. An invalid session disconnects
// and returns ErrInvalidSession. Connecting again with the same session
// restarts a channel whose reconnects were exhausted. A different session
// is torn down completely before anything of the new one starts, and
// switching users drops the previous user's notifications.
func (m *Messenger) Connect(session Session) error {
	if !session.Valid() {
		m.Disconnect()
		if m.isClosed() {
			return ErrClosed
		}
		return ErrInvalidSession
	}

	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.isClosed() {
		return ErrClosed
	}

	fresh := m.channel.Session() != session
	if fresh {
		m.teardown()

		m.mu.Lock()
		switched := m.lastUserID != "" && m.lastUserID != session.UserID
		m.lastUserID = session.UserID
		m.mu.Unlock()
		if switched {
			m.notifications.Reset()
			m.dedup.Reset()
		}
		if ts, ok := m.svc.(interface{ SetToken(string) }); ok {
			ts.SetToken(session.Token)
		}
	}

	if err := m.channel.Connect(session); err != nil {
		return err
	}
	m.poller.Start()
	if !fresh {
		return nil
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.sessCancel = cancel
	m.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(sessCtx, m.config.FallbackTimeout)
		defer cancel()
		if err := m.notifications.RefreshFromConversations(ctx); err != nil {
			m.logger.Warn("initial unread load failed", "error", err)
		}
	}()
	return nil
}

// Disconnect closes the channel and stops polling. Notifications are kept.
// It is safe to call from any subscriber.
func (m *Messenger) Disconnect() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.teardown()
}

// teardown stops everything bound to the current session: polling, the
// initial load, the connection with its hooks, and room membership. Caller
// holds lifeMu.
func (m *Messenger) teardown() {
	m.poller.Stop()
	m.mu.Lock()
	cancel := m.sessCancel
	m.sessCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.channel.Disconnect()
	m.members.Reset()
}

func (m *Messenger) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close disconnects and releases every subscriber. The messenger cannot be
// reconnected afterwards.
func (m *Messenger) Close() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.teardown()
	m.router.onMessage.clear()
	m.router.onTyping.clear()
	m.notifications.onUnread.clear()
	m.notifications.onNotification.clear()
	m.channel.onState.clear()
}

// ============================================================================
// Subscriptions
// ============================================================================

func (m *Messenger) OnMessage(sub *Subscriber[Message]) { m.router.OnMessage(sub) }
func (m *Messenger) OffMessage(sub *Subscriber[Message]) { m.router.OffMessage(sub) }

func (m *Messenger) OnTyping(sub *Subscriber[TypingEvent]) { m.router.OnTyping(sub) }
func (m *Messenger) OffTyping(sub *Subscriber[TypingEvent]) { m.router.OffTyping(sub) }

func (m *Messenger) OnNotification(sub *Subscriber[Notification]) {
	m.notifications.OnNotification(sub)
}

func (m *Messenger) OffNotification(sub *Subscriber[Notification]) {
	m.notifications.OffNotification(sub)
}

func (m *Messenger) OnUnreadChange(sub *Subscriber[int]) { m.notifications.OnUnreadChange(sub) }
func (m *Messenger) OffUnreadChange(sub *Subscriber[int]) { m.notifications.OffUnreadChange(sub) }

func (m *Messenger) OnStateChange(sub *Subscriber[RealtimeState]) { m.channel.OnStateChange(sub) }

// ============================================================================
// Actions
// ============================================================================

// SendMessage sends content to a conversation. It returns false when the
// channel is down; otherwise onAck fires at most once with the persisted
// message, via ack or REST fallback.
func (m *Messenger) SendMessage(ctx context.Context, conversationID, content string, onAck func(Message)) bool {
	return m.sender.Send(ctx, conversationID, content, onAck)
}

func (m *Messenger) JoinConversation(ctx context.Context, conversationID string) {
	m.members.EnsureJoined(ctx, conversationID)
}

func (m *Messenger) LeaveConversation(ctx context.Context, conversationID string) {
	m.members.Leave(ctx, conversationID)
}

func (m *Messenger) StartTyping(ctx context.Context, conversationID string) error {
	return m.emitTyping(ctx, EventTypingStart, conversationID)
}

func (m *Messenger) StopTyping(ctx context.Context, conversationID string) error {
	return m.emitTyping(ctx, EventTypingStop, conversationID)
}

func (m *Messenger) emitTyping(ctx context.Context, event, conversationID string) error {
	if !m.channel.Connected() {
		return ErrNotConnected
	}
	return m.channel.Emit(ctx, event, typingPayload{
		ConversationID:       conversationID,
		ConversationIDLegacy: conversationID,
	})
}

func (m *Messenger) MarkAsRead(notificationID string) { m.notifications.MarkAsRead(notificationID) }
func (m *Messenger) MarkAllAsRead() { m.notifications.MarkAllAsRead() }

func (m *Messenger) MarkMessageNotificationsAsRead() {
	m.notifications.MarkMessageNotificationsAsRead()
}

func (m *Messenger) ClearMessageNotifications() { m.notifications.ClearMessageNotifications() }

func (m *Messenger) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	return m.notifications.MarkConversationAsRead(ctx, conversationID)
}

// ============================================================================
// View
// ============================================================================

func (m *Messenger) SetActiveConversationID(id string) { m.view.SetActiveConversationID(id) }
func (m *Messenger) SetRoute(route string) { m.view.SetRoute(route) }
func (m *Messenger) SetVisible(visible bool) { m.view.SetVisible(visible) }

// View exposes the view state for reading.
func (m *Messenger) View() *ViewState { return m.view }

// ============================================================================
// Queries
// ============================================================================

func (m *Messenger) IsConnected() bool { return m.channel.Connected() }
func (m *Messenger) State() RealtimeState { return m.channel.State() }
func (m *Messenger) UnreadCount() int { return m.notifications.UnreadCount() }
func (m *Messenger) Notifications() []Notification { return m.notifications.Notifications() }
func (m *Messenger) JoinedConversations() []string { return m.members.Joined() }
