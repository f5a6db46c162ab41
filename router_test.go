package trucksbus

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

const me = "user-me"

type routerFixture struct {
	router  *MessageRouter
	state   *NotificationState
	view    *ViewState
	session Session

	mu       sync.Mutex
	received []Message
}

func newRouterFixture(t *testing.T, role string) *routerFixture {
	t.Helper()
	f := &routerFixture{session: Session{UserID: me, Role: role, Token: "tok"}}
	f.view = newViewState([]string{"/real-time-messages", "/messages"})
	f.view.SetRoute("/dashboard")
	f.state = NewNotificationState(&fakeService{}, f.view, 200, testLogger())
	f.router = NewMessageRouter(NewDedupWindow(1000), f.state, f.view, func() Session { return f.session }, testLogger())
	f.router.OnMessage(NewSubscriber(func(m Message) {
		f.mu.Lock()
		f.received = append(f.received, m)
		f.mu.Unlock()
	}))
	return f
}

func (f *routerFixture) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.received...)
}

func incoming(id, conv, sender string) map[string]any {
	return map[string]any{
		"id":              id,
		"conversation_id": conv,
		"sender_id":       sender,
		"content":         "hi",
		"created_at":      "2026-01-01T10:00:00Z",
		"users":           map[string]any{"id": sender, "first_name": "Ada", "last_name": "Lovelace"},
	}
}

// ============================================================================
// Message pipeline
// ============================================================================

func TestRouterNewMessage(t *testing.T) {
	f := newRouterFixture(t, "USER")

	f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))

	got := f.messages()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].ID != "m1" || got[0].ConversationID != "c1" || got[0].Content != "hi" {
		t.Errorf("unexpected message: %+v", got[0])
	}
	if got[0].Sender.DisplayName() != "Ada Lovelace" {
		t.Errorf("expected sender name, got %q", got[0].Sender.DisplayName())
	}
	if n := f.state.UnreadCount(); n != 1 {
		t.Errorf("expected unread 1, got %d", n)
	}
	notes := f.state.Notifications()
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].ID != "msg-m1" || notes[0].Type != NotificationMessage || notes[0].IsRead {
		t.Errorf("unexpected notification: %+v", notes[0])
	}
	if notes[0].SenderName != "Ada Lovelace" {
		t.Errorf("expected sender name on notification, got %q", notes[0].SenderName)
	}
}

func TestRouterDedupAcrossAliases(t *testing.T) {
	f := newRouterFixture(t, "USER")

	msg := incoming("m1", "c1", "u2")
	f.router.HandleMessage(raw(t, msg))
	f.router.HandleMessage(raw(t, map[string]any{"conversation_id": "c1", "message": msg}))
	f.router.HandleMessage(raw(t, map[string]any{
		"id": "m1", "conversationId": "c1", "senderId": "u2", "body": "hi",
	}))

	if n := len(f.messages()); n != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", n)
	}
	if n := f.state.UnreadCount(); n != 1 {
		t.Fatalf("expected unread 1, got %d", n)
	}
}

func TestRouterSelfEcho(t *testing.T) {
	f := newRouterFixture(t, "USER")

	f.router.HandleMessage(raw(t, incoming("m1", "c1", me)))

	if n := len(f.messages()); n != 1 {
		t.Fatalf("own message should still reach subscribers, got %d", n)
	}
	if n := f.state.UnreadCount(); n != 0 {
		t.Errorf("expected unread 0, got %d", n)
	}
	if n := len(f.state.Notifications()); n != 0 {
		t.Errorf("expected no notifications, got %d", n)
	}
}

func TestRouterViewingSuppression(t *testing.T) {
	t.Run("viewing the conversation", func(t *testing.T) {
		f := newRouterFixture(t, "USER")
		f.view.SetRoute("/real-time-messages")
		f.view.SetActiveConversationID("c1")

		f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))

		if n := f.state.UnreadCount(); n != 0 {
			t.Errorf("expected unread 0, got %d", n)
		}
		notes := f.state.Notifications()
		if len(notes) != 1 || !notes[0].IsRead {
			t.Fatalf("expected one read notification, got %+v", notes)
		}
	})

	t.Run("other conversation open", func(t *testing.T) {
		f := newRouterFixture(t, "USER")
		f.view.SetRoute("/real-time-messages")
		f.view.SetActiveConversationID("c2")

		f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))

		if n := f.state.UnreadCount(); n != 1 {
			t.Errorf("expected unread 1, got %d", n)
		}
	})

	t.Run("page hidden", func(t *testing.T) {
		f := newRouterFixture(t, "USER")
		f.view.SetRoute("/real-time-messages")
		f.view.SetActiveConversationID("c1")
		f.view.SetVisible(false)

		f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))

		if n := f.state.UnreadCount(); n != 1 {
			t.Errorf("expected unread 1, got %d", n)
		}
	})
}

func TestRouterMalformedPayload(t *testing.T) {
	t.Run("not an object", func(t *testing.T) {
		f := newRouterFixture(t, "USER")

		f.router.HandleMessage(json.RawMessage(`"hello"`))

		if n := len(f.messages()); n != 0 {
			t.Fatalf("expected no delivery, got %d", n)
		}
		notes := f.state.Notifications()
		if len(notes) != 1 || notes[0].Type != NotificationGeneral {
			t.Fatalf("expected one general notification, got %+v", notes)
		}
		if !strings.HasPrefix(notes[0].ID, "nf-") {
			t.Errorf("unexpected id %q", notes[0].ID)
		}
		if f.state.UnreadCount() != 1 {
			t.Errorf("expected unread 1, got %d", f.state.UnreadCount())
		}
	})

	t.Run("missing id uses preview", func(t *testing.T) {
		f := newRouterFixture(t, "USER")

		f.router.HandleMessage(raw(t, map[string]any{"conversation_id": "c9", "preview": "you got mail"}))

		notes := f.state.Notifications()
		if len(notes) != 1 {
			t.Fatalf("expected one notification, got %d", len(notes))
		}
		if notes[0].Content != "you got mail" || notes[0].ConversationID != "c9" {
			t.Errorf("unexpected notification: %+v", notes[0])
		}
	})

	t.Run("on messaging route no delta", func(t *testing.T) {
		f := newRouterFixture(t, "USER")
		f.view.SetRoute("/messages")

		f.router.HandleMessage(json.RawMessage(`[1,2]`))

		if len(f.state.Notifications()) != 1 {
			t.Fatal("expected the notification to be recorded")
		}
		if f.state.UnreadCount() != 0 {
			t.Errorf("expected unread 0, got %d", f.state.UnreadCount())
		}
	})
}

// ============================================================================
// Subscribers
// ============================================================================

func TestRouterSubscriberIdentity(t *testing.T) {
	f := newRouterFixture(t, "USER")

	calls := 0
	sub := NewSubscriber(func(Message) { calls++ })
	f.router.OnMessage(sub)
	f.router.OnMessage(sub)

	f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))
	if calls != 1 {
		t.Fatalf("double registration should deliver once, got %d", calls)
	}

	f.router.OffMessage(sub)
	f.router.HandleMessage(raw(t, incoming("m2", "c1", "u2")))
	if calls != 1 {
		t.Fatalf("removed subscriber was called, got %d", calls)
	}
}

func TestRouterPanickingSubscriber(t *testing.T) {
	f := newRouterFixture(t, "USER")
	f.router.OnMessage(NewSubscriber(func(Message) { panic("boom") }))

	f.router.HandleMessage(raw(t, incoming("m1", "c1", "u2")))

	if n := len(f.messages()); n != 1 {
		t.Fatalf("other subscribers should still run, got %d", n)
	}
	if f.state.UnreadCount() != 1 {
		t.Fatal("pipeline should continue after a panic")
	}
}

// ============================================================================
// Typing & reports
// ============================================================================

func TestRouterTyping(t *testing.T) {
	f := newRouterFixture(t, "USER")

	var got []TypingEvent
	f.router.OnTyping(NewSubscriber(func(e TypingEvent) { got = append(got, e) }))

	f.router.HandleTyping(raw(t, map[string]any{"userId": "u2", "userName": "Bob", "conversation_id": "c1"}), true)
	f.router.HandleTyping(raw(t, map[string]any{"userId": "u2"}), false)
	f.router.HandleTyping(json.RawMessage(`null`), true)

	if len(got) != 2 {
		t.Fatalf("expected 2 typing events, got %d", len(got))
	}
	if got[0] != (TypingEvent{UserID: "u2", UserName: "Bob", ConversationID: "c1", Typing: true}) {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if got[1].Typing {
		t.Error("stop event should not be typing")
	}
}

func TestRouterReports(t *testing.T) {
	t.Run("admin", func(t *testing.T) {
		f := newRouterFixture(t, "ADMIN")

		f.router.HandleReport(raw(t, map[string]any{"reportId": "r1", "listingTitle": "Truck"}), false)
		f.router.HandleReport(raw(t, map[string]any{"reportId": "r1", "listingTitle": "Truck", "status": "ACCEPTED"}), true)

		if n := f.state.UnreadCount(); n != 2 {
			t.Fatalf("expected unread 2, got %d", n)
		}
		notes := f.state.Notifications()
		if notes[0].ID != "report-resolved-r1" || notes[1].ID != "report-r1" {
			t.Fatalf("unexpected order: %s, %s", notes[0].ID, notes[1].ID)
		}
		if !strings.Contains(notes[0].Content, "accepted") {
			t.Errorf("unexpected content %q", notes[0].Content)
		}
		if notes[0].Type != NotificationGeneral {
			t.Errorf("expected general type, got %s", notes[0].Type)
		}
	})

	t.Run("non admin ignored", func(t *testing.T) {
		f := newRouterFixture(t, "USER")
		f.router.HandleReport(raw(t, map[string]any{"reportId": "r1"}), false)
		if f.state.UnreadCount() != 0 || len(f.state.Notifications()) != 0 {
			t.Fatal("reports must be ignored for non-admins")
		}
	})
}
