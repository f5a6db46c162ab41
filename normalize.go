package trucksbus

import (
	"encoding/json"
	"strconv"
	"time"
)

// Backend revisions disagree on field names (snake vs camel case, body vs
// content), so every inbound message goes through normalizeObject.

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// unwrapMessage strips an optional {message: {...}} envelope.
func unwrapMessage(obj map[string]any) map[string]any {
	if inner, ok := obj["message"].(map[string]any); ok {
		return inner
	}
	return obj
}

func normalizeMessage(raw json.RawMessage) (Message, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return Message{}, false
	}
	return normalizeObject(unwrapMessage(obj))
}

// normalizeObject builds the canonical Message. It fails when the id or the
// conversation id is missing, since neither dedup nor routing can work then.
func normalizeObject(obj map[string]any) (Message, bool) {
	id := strOr(obj, "id", "")
	convID := firstStr(obj, "conversation_id", "conversationId")
	if id == "" || convID == "" {
		return Message{}, false
	}
	createdAt := firstStr(obj, "created_at", "createdAt")
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	updatedAt := firstStr(obj, "updated_at", "updatedAt")
	if updatedAt == "" {
		updatedAt = createdAt
	}
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       firstStr(obj, "sender_id", "senderId"),
		Content:        firstStr(obj, "content", "body"),
		IsRead:         firstBool(obj, "is_read", "isRead"),
		IsEdited:       firstBool(obj, "is_edited", "isEdited"),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Sender:         normalizeParticipant(obj),
	}, true
}

func normalizeParticipant(obj map[string]any) *Participant {
	for _, key := range []string{"users", "user", "sender"} {
		if u, ok := obj[key].(map[string]any); ok {
			return &Participant{
				ID:        strOr(u, "id", ""),
				FirstName: firstStr(u, "first_name", "firstName"),
				LastName:  firstStr(u, "last_name", "lastName"),
				Username:  strOr(u, "username", ""),
			}
		}
	}
	p := &Participant{
		ID:        firstStr(obj, "user_id", "userId"),
		FirstName: firstStr(obj, "first_name", "firstName"),
		LastName:  firstStr(obj, "last_name", "lastName"),
		Username:  strOr(obj, "username", ""),
	}
	if *p == (Participant{}) {
		return nil
	}
	return p
}

// ============================================================================
// Helpers
// ============================================================================

// strOr reads a string field; numeric ids are formatted without exponent.
func strOr(m map[string]any, key, fallback string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return fallback
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := strOr(m, k, ""); v != "" {
			return v
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return false
}

func intOr(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
