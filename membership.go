package trucksbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// MembershipTracker records which conversation rooms this connection has
// joined. The server forgets rooms on reconnect, so RejoinAll rebuilds the
// set from scratch.
type MembershipTracker struct {
	ch     emitter
	logger *slog.Logger

	mu     sync.Mutex
	joined map[string]struct{}
}

func NewMembershipTracker(ch emitter, logger *slog.Logger) *MembershipTracker {
	return &MembershipTracker{ch: ch, logger: logger, joined: make(map[string]struct{})}
}

// EnsureJoined joins conversationID unless it is already recorded. It
// reports whether join frames were emitted. Nothing is recorded once ctx is
// done.
func (t *MembershipTracker) EnsureJoined(ctx context.Context, conversationID string) bool {
	if conversationID == "" || !t.ch.Connected() {
		return false
	}
	t.mu.Lock()
	if _, ok := t.joined[conversationID]; ok || ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	t.joined[conversationID] = struct{}{}
	t.mu.Unlock()

	t.emitAll(ctx, joinFrames(conversationID))
	return true
}

// RejoinAll replaces the recorded set with ids and joins each of them. ctx
// is the connection the listing was fetched for: once it is done the call
// changes nothing, so a late result cannot overwrite a newer connection's
// set.
func (t *MembershipTracker) RejoinAll(ctx context.Context, ids []string) {
	connected := t.ch.Connected()

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.joined = make(map[string]struct{}, len(ids))
	var fresh []string
	if connected {
		for _, id := range ids {
			if _, dup := t.joined[id]; id == "" || dup {
				continue
			}
			t.joined[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	t.mu.Unlock()

	for _, id := range fresh {
		t.emitAll(ctx, joinFrames(id))
	}
}

// Leave emits the leave aliases and forgets conversationID.
func (t *MembershipTracker) Leave(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	delete(t.joined, conversationID)
	t.mu.Unlock()

	if !t.ch.Connected() {
		return
	}
	t.emitAll(ctx, leaveFrames(conversationID))
}

// Reset forgets every room without emitting anything.
func (t *MembershipTracker) Reset() {
	t.mu.Lock()
	t.joined = make(map[string]struct{})
	t.mu.Unlock()
}

// IsJoined reports whether conversationID is recorded.
func (t *MembershipTracker) IsJoined(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[conversationID]
	return ok
}

// Joined returns the recorded ids, sorted.
func (t *MembershipTracker) Joined() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.joined))
	for id := range t.joined {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (t *MembershipTracker) emitAll(ctx context.Context, frames []frame) {
	for _, f := range frames {
		if err := t.ch.Emit(ctx, f.event, f.payload); err != nil {
			t.logger.Warn("membership emit failed", "event", f.event, "error", err)
		}
	}
}
