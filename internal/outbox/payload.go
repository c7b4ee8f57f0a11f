package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/errs"
)

// CreateConversationPayload creates the remote document of a local conversation.
type CreateConversationPayload struct {
	ConversationID string   `json:"conversationId"`
	ParticipantIDs []string `json:"participantIds"`
}

// SendMessagePayload publishes an optimistic local message.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	CreatedAt      int64  `json:"createdAt"`
}

// MarkReadPayload sets the caller's read marker.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	LastReadAt     int64  `json:"lastReadAt"`
}

// SetTypingPayload sets the caller's typing marker.
type SetTypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidPayload, err)
	}
	return nil
}
