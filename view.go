package trucksbus

import (
	"strings"
	"sync"
)

// ViewState is what the host application reports about its UI: the current
// route, page visibility and the conversation open on screen. A CLI or test
// drives it directly.
type ViewState struct {
	mu             sync.RWMutex
	route          string
	visible        bool
	activeConvID   string
	messagingRoots []string
}

func newViewState(messagingRoutes []string) *ViewState {
	return &ViewState{visible: true, messagingRoots: messagingRoutes}
}

func (v *ViewState) SetRoute(route string) {
	v.mu.Lock()
	v.route = routePath(route)
	v.mu.Unlock()
}

func (v *ViewState) SetVisible(visible bool) {
	v.mu.Lock()
	v.visible = visible
	v.mu.Unlock()
}

func (v *ViewState) SetActiveConversationID(id string) {
	v.mu.Lock()
	v.activeConvID = id
	v.mu.Unlock()
}

func (v *ViewState) Route() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.route
}

func (v *ViewState) ActiveConversationID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeConvID
}

// OnMessagingRoute reports whether the current route is a messaging page.
func (v *ViewState) OnMessagingRoute() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.onMessagingRouteLocked()
}

func (v *ViewState) onMessagingRouteLocked() bool {
	for _, root := range v.messagingRoots {
		if strings.HasPrefix(v.route, root) {
			return true
		}
	}
	return false
}

// IsViewing reports whether the user is looking at conversationID right
// now: page visible, on a messaging route and that conversation active.
func (v *ViewState) IsViewing(conversationID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.visible && v.onMessagingRouteLocked() &&
		conversationID != "" && v.activeConvID == conversationID
}

// routePath accepts "/path?q", "#/path?q" and full "/app#/path" forms and
// returns the bare path.
func routePath(route string) string {
	if i := strings.Index(route, "#/"); i >= 0 {
		route = route[i+1:]
	} else if i := strings.Index(route, "#"); i >= 0 {
		route = route[:i]
	}
	if i := strings.Index(route, "?"); i >= 0 {
		route = route[:i]
	}
	if route == "" {
		return "/"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}
