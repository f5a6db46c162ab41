package trucksbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *RealtimeConfig {
	c := DefaultRealtimeConfig()
	c.SendAckTimeout = 50 * time.Millisecond
	c.FallbackTimeout = time.Second
	c.ReconnectBaseDelay = 10 * time.Millisecond
	c.ReconnectMaxDelay = 50 * time.Millisecond
	c.HandshakeTimeout = 2 * time.Second
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// ============================================================================
// fakeEmitter
// ============================================================================

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	frames    []emitted
	acks      map[string][]AckFunc
}

func newFakeEmitter(connected bool) *fakeEmitter {
	return &fakeEmitter{connected: connected, acks: make(map[string][]AckFunc)}
}

func (f *fakeEmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.frames = append(f.frames, emitted{event, payload})
	return nil
}

func (f *fakeEmitter) EmitWithAck(ctx context.Context, event string, payload any, onAck AckFunc) error {
	if err := f.Emit(ctx, event, payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.acks[event] = append(f.acks[event], onAck)
	f.mu.Unlock()
	return nil
}

func (f *fakeEmitter) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.event
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// ack delivers payload to every ack handler registered for event.
func (f *fakeEmitter) ack(event string, payload json.RawMessage) {
	f.mu.Lock()
	handlers := append([]AckFunc(nil), f.acks[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// ============================================================================
// fakeService
// ============================================================================

type fakeService struct {
	mu            sync.Mutex
	conversations []Conversation
	unread        int
	sendResult    json.RawMessage
	sendErr       error
	markErr       error

	// byToken, when set, serves the listing of the caller's token instead
	// of conversations. convGate runs before a listing is served and may
	// block; it ignores ctx like a slow backend would.
	byToken  map[string][]Conversation
	convGate func(token string)

	convCalls   int
	unreadCalls int
	sendCalls   int
	markRead    []string
	sent        []SendMessageRequest
	token       string
}

var _ MessagingService = (*fakeService)(nil)

func (s *fakeService) GetConversations(context.Context) (*ConversationsResult, error) {
	s.mu.Lock()
	s.convCalls++
	token, gate := s.token, s.convGate
	s.mu.Unlock()

	if gate != nil {
		gate(token)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	convs := s.conversations
	if s.byToken != nil {
		convs = s.byToken[token]
	}
	return &ConversationsResult{Success: true, Conversations: append([]Conversation(nil), convs...)}, nil
}

func (s *fakeService) GetUnreadCount(context.Context) (*UnreadCountResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreadCalls++
	res := &UnreadCountResult{Success: true}
	res.Data.Count = s.unread
	return res, nil
}

func (s *fakeService) MarkAllMessagesRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.markRead = append(s.markRead, id)
	return nil
}

func (s *fakeService) SendMessage(_ context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	s.sent = append(s.sent, req)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &SendMessageResult{Success: true, Message: s.sendResult}, nil
}

func (s *fakeService) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *fakeService) calls() (conv, unread, send int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convCalls, s.unreadCalls, s.sendCalls
}

var errBackend = errors.New("backend unavailable")
