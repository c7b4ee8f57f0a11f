package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// ensureConversationForRemote mirrors a remote conversation document into
// the local store. A document created by this device carries the local id
// of the optimistic row, which is adopted instead of duplicated.
func (c *Coordinator) ensureConversationForRemote(ctx context.Context, doc remote.Document) (*store.Conversation, bool, error) {
	createdAt := doc.GetInt64("createdAt")
	if createdAt == 0 {
		createdAt = doc.CreateTime
	}
	updatedAt := max(doc.GetInt64("updatedAt"), createdAt)
	participants := remote.Strings(doc.Fields["participantIds"])

	return c.db.EnsureConversationForRemote(ctx, doc.ID, participants, createdAt, updatedAt,
		doc.GetString("clientConversationId"))
}

// reconcileMessage applies one remote message. The caller's own messages
// first collapse into the matching optimistic row, so the upsert that
// follows finds the row by its remote id instead of inserting an echo.
func (c *Coordinator) reconcileMessage(ctx context.Context, me, convID string, doc remote.Document) (fromOther bool, serverAt int64, err error) {
	sender := doc.GetString("senderId")
	text := doc.GetString("text")
	serverAt = doc.GetInt64("serverCreatedAt")
	if serverAt == 0 {
		serverAt = doc.CreateTime
	}
	if sender == "" {
		return false, 0, fmt.Errorf("message %s: missing sender", doc.ID)
	}

	if sender == me {
		if _, err := c.db.MarkLocalAsSentByMatch(ctx, convID, sender, text, doc.ID, serverAt); err != nil {
			return false, 0, fmt.Errorf("match local message: %w", err)
		}
	}
	if err := c.db.UpsertMessageFromRemote(ctx, doc.ID, convID, sender, text, serverAt); err != nil {
		return false, 0, fmt.Errorf("upsert remote message: %w", err)
	}
	return sender != me, serverAt, nil
}

func userFromDoc(doc remote.Document) *store.User {
	online, _ := remote.Bool(doc.Fields["isOnline"])
	return &store.User{
		ID:           doc.ID,
		RemoteID:     doc.ID,
		DisplayName:  doc.GetString("displayName"),
		LastActiveAt: doc.GetInt64("lastActiveAt"),
		IsOnline:     online,
	}
}
