package trucksbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SendCoordinator sends a chat message over the channel and, when no
// positive ack arrives in time, over REST. Whichever path settles first
// completes the send; every later path is a no-op.
type SendCoordinator struct {
	ch              emitter
	members         *MembershipTracker
	svc             MessagingService
	session         func() Session
	ackTimeout      time.Duration
	fallbackTimeout time.Duration
	logger          *slog.Logger
}

func NewSendCoordinator(ch emitter, members *MembershipTracker, svc MessagingService, session func() Session, config *RealtimeConfig) *SendCoordinator {
	return &SendCoordinator{
		ch:              ch,
		members:         members,
		svc:             svc,
		session:         session,
		ackTimeout:      config.SendAckTimeout,
		fallbackTimeout: config.FallbackTimeout,
		logger:          config.Logger,
	}
}

// Send starts a send and reports whether it was started. It returns false
// without side effects when the channel is down. onAck, if non-nil, is
// called at most once with the persisted message.
func (c *SendCoordinator) Send(ctx context.Context, conversationID, content string, onAck func(Message)) bool {
	if conversationID == "" || !c.ch.Connected() {
		return false
	}
	c.members.EnsureJoined(ctx, conversationID)

	op := &sendOp{
		coord:          c,
		conversationID: conversationID,
		content:        content,
		onAck:          onAck,
	}
	op.timer = time.AfterFunc(c.ackTimeout, op.fallback)

	if err := c.ch.EmitWithAck(ctx, EventMessageSend, messageSendPayload{ConversationID: conversationID, Body: content}, op.handleAck); err != nil {
		c.logger.Warn("send emit failed", "event", EventMessageSend, "conversation_id", conversationID, "error", err)
	}
	if err := c.ch.EmitWithAck(ctx, EventSendMessage, legacySendPayload{ConversationID: conversationID, Content: content}, op.handleAck); err != nil {
		c.logger.Warn("send emit failed", "event", EventSendMessage, "conversation_id", conversationID, "error", err)
	}
	return true
}

// sendOp is one in-flight send.
type sendOp struct {
	coord          *SendCoordinator
	conversationID string
	content        string
	onAck          func(Message)

	settled atomic.Bool
	timer   *time.Timer
}

func (op *sendOp) handleAck(payload json.RawMessage) {
	obj, ok := decodeObject(payload)
	if !ok {
		return
	}
	if accepted, _ := obj["ok"].(bool); !accepted {
		op.coord.logger.Warn("send rejected by server", "conversation_id", op.conversationID, "error", strOr(obj, "error", ""))
		return
	}

	var msg Message
	if inner, isObj := obj["message"].(map[string]any); isObj {
		msg, ok = op.normalize(inner)
	} else if id := strOr(obj, "id", ""); id != "" {
		msg, ok = op.reconstruct(id), true
	} else {
		ok = false
	}
	if !ok {
		return
	}
	op.timer.Stop()
	op.settle(msg, "ack")
}

// fallback runs when the ack timer fires first.
func (op *sendOp) fallback() {
	if op.settled.Load() {
		return
	}
	c := op.coord
	c.logger.Info("send ack timed out, falling back to REST", "conversation_id", op.conversationID)

	ctx, cancel := context.WithTimeout(context.Background(), c.fallbackTimeout)
	defer cancel()
	res, err := c.svc.SendMessage(ctx, SendMessageRequest{
		ConversationID: op.conversationID,
		Content:        op.content,
		Body:           op.content,
	})
	if err != nil {
		c.logger.Warn("send fallback failed", "conversation_id", op.conversationID, "error", err)
		return
	}

	obj, _ := decodeObject(res.Message)
	msg, ok := op.normalize(unwrapMessage(obj))
	if !ok {
		msg = op.reconstruct(strOr(obj, "id", "local-"+uuid.NewString()))
	}
	op.settle(msg, "fallback")
}

func (op *sendOp) settle(msg Message, via string) {
	if !op.settled.CompareAndSwap(false, true) {
		return
	}
	op.coord.logger.Debug("send settled", "conversation_id", op.conversationID, "message_id", msg.ID, "via", via)
	if op.onAck == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			op.coord.logger.Error("send callback panicked", "panic", r)
		}
	}()
	op.onAck(msg)
}

func (op *sendOp) normalize(obj map[string]any) (Message, bool) {
	if obj == nil {
		return Message{}, false
	}
	if firstStr(obj, "conversation_id", "conversationId") == "" {
		obj["conversation_id"] = op.conversationID
	}
	return normalizeObject(obj)
}

// reconstruct builds the sent message from an id-only acknowledgment.
func (op *sendOp) reconstruct(id string) Message {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return Message{
		ID:             id,
		ConversationID: op.conversationID,
		SenderID:       op.coord.session().UserID,
		Content:        op.content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
