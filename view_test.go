package trucksbus

import "testing"

func TestRoutePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/real-time-messages", "/real-time-messages"},
		{"/messages?conv=1", "/messages"},
		{"#/real-time-messages?x=1", "/real-time-messages"},
		{"/app#/messages/c1", "/messages/c1"},
		{"/dashboard#top", "/dashboard"},
		{"listings", "/listings"},
		{"", "/"},
	}
	for _, tt := range tests {
		if got := routePath(tt.in); got != tt.want {
			t.Errorf("routePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsViewing(t *testing.T) {
	v := newViewState([]string{"/real-time-messages", "/messages"})
	v.SetRoute("/messages")
	v.SetActiveConversationID("c1")

	if !v.IsViewing("c1") {
		t.Fatal("expected viewing c1")
	}
	if v.IsViewing("c2") {
		t.Fatal("c2 is not open")
	}
	if v.IsViewing("") {
		t.Fatal("empty id is never viewed")
	}

	v.SetVisible(false)
	if v.IsViewing("c1") {
		t.Fatal("hidden page is not viewing")
	}

	v.SetVisible(true)
	v.SetRoute("/dashboard")
	if v.IsViewing("c1") || v.OnMessagingRoute() {
		t.Fatal("off the messaging route")
	}
}
