package trucksbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire types
// ============================================================================

// RealtimeEnvelope is the wire format for all inbound events. Acks arrive as
// an envelope of type "ack" carrying the requestId of the command.
type RealtimeEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// RealtimeCommand is a client-to-server event.
type RealtimeCommand struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// AckFunc receives the raw acknowledgment payload of an emitted command.
type AckFunc func(payload json.RawMessage)

// EventHandler receives the raw payload of an inbound event.
type EventHandler func(payload json.RawMessage)

// ConnectHook runs after every successful (re)connect. ctx is cancelled as
// soon as that connection ends, so work finishing late must check it.
type ConnectHook func(ctx context.Context, s Session)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime layer. Zero durations and sizes are
// replaced with defaults; AutoReconnect is taken as given, so start from
// DefaultRealtimeConfig to keep reconnects on.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration

	// SendAckTimeout is how long a send waits for an ack before falling
	// back to the REST call.
	SendAckTimeout  time.Duration
	FallbackTimeout time.Duration
	AckTTL          time.Duration

	PollInterval      time.Duration
	DedupCapacity     int
	NotificationLimit int
	MessagingRoutes   []string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultRealtimeConfig returns a config with every default filled in.
func DefaultRealtimeConfig() *RealtimeConfig {
	c := &RealtimeConfig{AutoReconnect: true}
	c.defaults()
	return c
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendAckTimeout == 0 {
		c.SendAckTimeout = 4 * time.Second
	}
	if c.FallbackTimeout == 0 {
		c.FallbackTimeout = 15 * time.Second
	}
	if c.AckTTL == 0 {
		c.AckTTL = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = 1000
	}
	if c.NotificationLimit == 0 {
		c.NotificationLimit = 200
	}
	if len(c.MessagingRoutes) == 0 {
		c.MessagingRoutes = []string{"/real-time-messages", "/messages"}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Ack registry
// ============================================================================

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

// ackRegistry correlates acks with commands by request id. Entries expire
// after the TTL so unanswered commands do not accumulate.
type ackRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingAck
	logger  *slog.Logger
}

func newAckRegistry(logger *slog.Logger) *ackRegistry {
	return &ackRegistry{pending: make(map[string]*pendingAck), logger: logger}
}

func (a *ackRegistry) register(id string, fn AckFunc, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[id] = &pendingAck{
		fn:    fn,
		timer: time.AfterFunc(ttl, func() { a.drop(id) }),
	}
}

func (a *ackRegistry) drop(id string) {
	a.mu.Lock()
	if p, ok := a.pending[id]; ok {
		p.timer.Stop()
		delete(a.pending, id)
	}
	a.mu.Unlock()
}

// take removes and returns the handler registered for id.
func (a *ackRegistry) take(id string) (AckFunc, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[id]
	if !ok {
		return nil, false
	}
	p.timer.Stop()
	delete(a.pending, id)
	return p.fn, true
}

func (a *ackRegistry) call(id string, fn AckFunc, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("ack handler panicked", "request_id", id, "panic", r)
		}
	}()
	fn(payload)
}

func (a *ackRegistry) clear() {
	a.mu.Lock()
	for id, p := range a.pending {
		p.timer.Stop()
		delete(a.pending, id)
	}
	a.mu.Unlock()
}

func (a *ackRegistry) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// ============================================================================
// ChannelManager
// ============================================================================

// emitter is the part of the ChannelManager the other components use.
type emitter interface {
	Connected() bool
	Emit(ctx context.Context, event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any, onAck AckFunc) error
}

// ChannelManager owns the WebSocket connection for one session at a time:
// dialing, the read loop, heartbeat and bounded reconnects.
//
// Event handlers, ack callbacks and state subscribers run on a delivery
// goroutine in arrival order, never on the read loop or the supervisor, so
// they may call Connect or Disconnect.
type ChannelManager struct {
	urlFn  func(token string) string
	config *RealtimeConfig
	logger *slog.Logger
	acks   *ackRegistry
	queue  serialQueue

	// epoch changes whenever the bound session is replaced or dropped.
	// Inbound events queued under an older epoch are discarded.
	epoch atomic.Uint64

	// lifeMu serializes Connect and Disconnect.
	lifeMu sync.Mutex

	mu      sync.Mutex
	session Session
	conn    *websocket.Conn
	connCtx context.Context
	state   RealtimeState
	cancel  context.CancelFunc
	done    chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
	hooks      []ConnectHook
	onState    *subscriberSet[RealtimeState]
}

// NewChannelManager creates a manager dialing urlFn(token). A nil config
// uses DefaultRealtimeConfig.
func NewChannelManager(urlFn func(token string) string, config *RealtimeConfig) *ChannelManager {
	if config == nil {
		config = DefaultRealtimeConfig()
	}
	config.defaults()
	return &ChannelManager{
		urlFn:    urlFn,
		config:   config,
		logger:   config.Logger,
		acks:     newAckRegistry(config.Logger),
		state:    StateDisconnected,
		handlers: make(map[string][]EventHandler),
		onState:  newSubscriberSet[RealtimeState]("state", config.Logger),
	}
}

// On registers a handler for an inbound event. Handlers run on the read
// goroutine in delivery order and must not block.
func (cm *ChannelManager) On(event string, h EventHandler) {
	cm.handlersMu.Lock()
	cm.handlers[event] = append(cm.handlers[event], h)
	cm.handlersMu.Unlock()
}

// OnConnected registers a hook run after every successful (re)connect.
// Hooks run sequentially on their own goroutine.
func (cm *ChannelManager) OnConnected(hook ConnectHook) {
	cm.handlersMu.Lock()
	cm.hooks = append(cm.hooks, hook)
	cm.handlersMu.Unlock()
}

// OnStateChange registers a hook run on every state transition.
func (cm *ChannelManager) OnStateChange(sub *Subscriber[RealtimeState]) { cm.onState.add(sub) }

// State returns the current connection state.
func (cm *ChannelManager) State() RealtimeState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Connected reports whether a live connection exists.
func (cm *ChannelManager) Connected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state == StateConnected && cm.conn != nil
}

// connContext returns the context of the live connection, or nil when
// there is none. It is cancelled when that connection ends.
func (cm *ChannelManager) connContext() context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.connCtx
}

// Session returns the session the manager is bound to.
func (cm *ChannelManager) Session() Session {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.session
}

// Connect binds the manager to session. An invalid session disconnects and
// returns ErrInvalidSession. Connecting with the running session is a no-op;
// a different session tears the old connection down first. Dial failures
// are not returned: they are retried in the background.
func (cm *ChannelManager) Connect(session Session) error {
	if !session.Valid() {
		cm.Disconnect()
		return ErrInvalidSession
	}

	cm.lifeMu.Lock()
	defer cm.lifeMu.Unlock()

	cm.mu.Lock()
	running := false
	if cm.done != nil {
		select {
		case <-cm.done:
		default:
			running = true
		}
	}
	if running && cm.session == session {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	cm.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	cm.mu.Lock()
	cm.session = session
	cm.cancel = cancel
	cm.done = done
	cm.mu.Unlock()

	go cm.run(ctx, session, cm.epoch.Add(1), done)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (cm *ChannelManager) Disconnect() {
	cm.lifeMu.Lock()
	defer cm.lifeMu.Unlock()
	cm.stop()
	cm.epoch.Add(1)
	cm.mu.Lock()
	cm.session = Session{}
	cm.mu.Unlock()
}

// stop cancels the running supervisor and waits for it. Caller holds lifeMu.
func (cm *ChannelManager) stop() {
	cm.mu.Lock()
	cancel, done := cm.cancel, cm.done
	cm.cancel, cm.done = nil, nil
	cm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Emit sends one event without waiting for an acknowledgment.
func (cm *ChannelManager) Emit(ctx context.Context, event string, payload any) error {
	return cm.write(ctx, &RealtimeCommand{Type: event, Payload: payload})
}

// EmitWithAck sends one event and calls onAck when the server acknowledges
// it. An unanswered ack is dropped after AckTTL.
func (cm *ChannelManager) EmitWithAck(ctx context.Context, event string, payload any, onAck AckFunc) error {
	id := uuid.NewString()
	cm.acks.register(id, onAck, cm.config.AckTTL)
	if err := cm.write(ctx, &RealtimeCommand{Type: event, Payload: payload, RequestID: id}); err != nil {
		cm.acks.drop(id)
		return err
	}
	return nil
}

func (cm *ChannelManager) write(ctx context.Context, cmd *RealtimeCommand) error {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	// A connection replaced since ctx was derived from it is cancelled
	// before the new one is published, so this rejects stale writers.
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, cm.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Type, err)
	}
	return nil
}

func (cm *ChannelManager) setState(s RealtimeState) {
	cm.mu.Lock()
	changed := cm.state != s
	cm.state = s
	cm.mu.Unlock()
	if changed {
		cm.queue.push(func() { cm.onState.emit(s) })
	}
}

// run is the per-session supervisor: dial, serve, back off, repeat.
func (cm *ChannelManager) run(ctx context.Context, session Session, epoch uint64, done chan struct{}) {
	defer close(done)
	defer cm.setState(StateDisconnected)

	recon := newReconnector(cm.config)
	cm.setState(StateConnecting)
	for {
		err := cm.serve(ctx, session, epoch, recon)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			cm.logger.Warn("realtime connection lost", "user_id", session.UserID, "error", err)
		}
		if !cm.config.AutoReconnect || !recon.shouldReconnect() {
			cm.logger.Warn("realtime reconnect attempts exhausted", "user_id", session.UserID, "attempts", recon.attempt)
			return
		}

		delay := recon.nextDelay()
		cm.setState(StateReconnecting)
		cm.logger.Info("realtime reconnecting", "attempt", recon.attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve dials once and blocks until the connection ends.
func (cm *ChannelManager) serve(ctx context.Context, session Session, epoch uint64, recon *reconnector) error {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.HandshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, cm.urlFn(session.Token), &websocket.DialOptions{
		HTTPClient: cm.config.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + session.Token}},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	recon.reset()

	connCtx, stop := context.WithCancel(ctx)
	defer stop()

	cm.mu.Lock()
	cm.conn = conn
	cm.connCtx = connCtx
	cm.mu.Unlock()
	cm.setState(StateConnected)
	cm.logger.Info("realtime connected", "user_id", session.UserID)

	// Hooks may wait on acks, which needs the read loop running.
	go cm.runHooks(connCtx, session)
	go cm.heartbeatLoop(connCtx, conn)

	err = cm.readLoop(connCtx, conn, epoch)

	// Cancel before unpublishing so hooks of this connection stop before
	// a later connection can be published.
	stop()
	cm.mu.Lock()
	cm.conn = nil
	cm.connCtx = nil
	cm.mu.Unlock()
	cm.acks.clear()

	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	conn.Close(websocket.StatusGoingAway, "")
	return err
}

func (cm *ChannelManager) runHooks(ctx context.Context, session Session) {
	cm.handlersMu.RLock()
	hooks := append([]ConnectHook(nil), cm.hooks...)
	cm.handlersMu.RUnlock()

	for _, h := range hooks {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					cm.logger.Error("connect hook panicked", "panic", r)
				}
			}()
			h(ctx, session)
		}()
	}
}

func (cm *ChannelManager) readLoop(ctx context.Context, conn *websocket.Conn, epoch uint64) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return fmt.Errorf("server closed connection: %w", err)
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			cm.logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		if env.Type == EventAck {
			fn, ok := cm.acks.take(env.RequestID)
			if !ok {
				cm.logger.Debug("ack for unknown request", "request_id", env.RequestID)
				continue
			}
			cm.queue.push(func() { cm.acks.call(env.RequestID, fn, env.Payload) })
			continue
		}
		cm.queue.push(func() {
			if cm.epoch.Load() != epoch {
				return
			}
			cm.dispatch(env)
		})
	}
}

func (cm *ChannelManager) dispatch(env RealtimeEnvelope) {
	cm.handlersMu.RLock()
	handlers := append([]EventHandler(nil), cm.handlers[env.Type]...)
	cm.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cm.logger.Error("event handler panicked", "event", env.Type, "panic", r)
				}
			}()
			h(env.Payload)
		}()
	}
}

func (cm *ChannelManager) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(cm.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, cm.config.HandshakeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				cm.logger.Warn("heartbeat failed", "error", err)
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
