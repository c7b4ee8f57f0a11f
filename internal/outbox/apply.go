package outbox

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

func (o *Outbox) apply(ctx context.Context, op *store.OutboxOp) (OpApplied, error) {
	res := OpApplied{OpID: op.ID, Type: op.Type}

	switch op.Type {
	case store.OpCreateConversation:
		var p CreateConversationPayload
		if err := decode(op.Payload, &p); err != nil {
			return res, err
		}
		res.ConversationID = p.ConversationID
		rid, err := o.createConversation(ctx, p)
		res.RemoteID = rid
		return res, err

	case store.OpSendMessage:
		var p SendMessagePayload
		if err := decode(op.Payload, &p); err != nil {
			return res, err
		}
		res.ConversationID = p.ConversationID
		rid, err := o.resolve(ctx, p.ConversationID)
		if err != nil {
			return res, err
		}
		res.RemoteID = rid
		_, err = o.remote.Write(ctx, remote.MessagesPath(rid), map[string]any{
			"senderId":        p.SenderID,
			"text":            p.Text,
			"createdAt":       p.CreatedAt,
			"serverCreatedAt": remote.ServerTimestamp,
		}, remote.Overwrite)
		return res, err

	case store.OpMarkRead:
		var p MarkReadPayload
		if err := decode(op.Payload, &p); err != nil {
			return res, err
		}
		res.ConversationID = p.ConversationID
		rid, err := o.resolve(ctx, p.ConversationID)
		if err != nil {
			return res, err
		}
		res.RemoteID = rid
		_, err = o.remote.Write(ctx, remote.EphemeralPath(rid), map[string]any{
			"read": map[string]any{p.UserID: p.LastReadAt},
		}, remote.Merge)
		return res, err

	case store.OpSetTyping:
		var p SetTypingPayload
		if err := decode(op.Payload, &p); err != nil {
			return res, err
		}
		res.ConversationID = p.ConversationID
		rid, err := o.resolve(ctx, p.ConversationID)
		if err != nil {
			return res, err
		}
		res.RemoteID = rid
		_, err = o.remote.Write(ctx, remote.EphemeralPath(rid), map[string]any{
			"typing": map[string]any{
				p.UserID: map[string]any{"isTyping": p.IsTyping, "updatedAt": p.UpdatedAt},
			},
		}, remote.Merge)
		return res, err

	default:
		return res, fmt.Errorf("%w: %q", errs.ErrUnknownOpType, op.Type)
	}
}

// createConversation writes the remote document and links it. An already
// linked conversation means a previous attempt was acknowledged.
func (o *Outbox) createConversation(ctx context.Context, p CreateConversationPayload) (string, error) {
	conv, err := o.db.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return "", err
	}
	if rid, ok := store.RemoteID(conv.Ref); ok {
		return rid, nil
	}

	ids := make([]any, 0, len(p.ParticipantIDs))
	for _, id := range p.ParticipantIDs {
		ids = append(ids, id)
	}
	ack, err := o.remote.Write(ctx, remote.ConversationsCollection, map[string]any{
		"participantIds":       ids,
		"clientConversationId": p.ConversationID,
		"createdAt":            remote.ServerTimestamp,
		"updatedAt":            remote.ServerTimestamp,
	}, remote.Overwrite)
	if err != nil {
		return "", err
	}

	linked, err := o.db.LinkConversation(ctx, p.ConversationID, ack.DocID)
	if err != nil {
		return "", fmt.Errorf("link %s to %s: %w", p.ConversationID, ack.DocID, err)
	}
	rid, _ := store.RemoteID(linked.Ref)
	return rid, nil
}

func (o *Outbox) resolve(ctx context.Context, convID string) (string, error) {
	conv, err := o.db.GetConversation(ctx, convID)
	if err != nil {
		return "", err
	}
	rid, ok := store.RemoteID(conv.Ref)
	if !ok {
		return "", fmt.Errorf("conversation %s: %w", convID, errs.ErrUnresolvedRemoteID)
	}
	return rid, nil
}
