package trucksbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollingFallback periodically re-derives the unread badge from the
// conversation list, correcting drift from missed live events. It stays
// quiet on the messaging route, where the page keeps its own counts.
type PollingFallback struct {
	state    *NotificationState
	view     *ViewState
	session  func() Session
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPollingFallback(state *NotificationState, view *ViewState, session func() Session, config *RealtimeConfig) *PollingFallback {
	return &PollingFallback{
		state:    state,
		view:     view,
		session:  session,
		interval: config.PollInterval,
		timeout:  config.FallbackTimeout,
		logger:   config.Logger,
	}
}

// Start launches the poll loop. Calling Start while running is a no-op.
func (p *PollingFallback) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop ends the poll loop. It does not wait: a poll still in flight has its
// context cancelled and its result is dropped.
func (p *PollingFallback) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *PollingFallback) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
			p.Poll(pollCtx)
			cancel()
		}
	}
}

// Poll runs one poll cycle and reports whether the server was queried.
func (p *PollingFallback) Poll(ctx context.Context) bool {
	if !p.session().Valid() || p.view.OnMessagingRoute() {
		return false
	}
	if err := p.state.RefreshFromConversations(ctx); err != nil {
		p.logger.Warn("unread poll failed", "error", err)
	}
	return true
}
