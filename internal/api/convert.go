package api

import (
	"encoding/json"
	"errors"

	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrNotRunning), errors.Is(err, errs.ErrUnresolvedRemoteID):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrInvalidPayload):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func boolField(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

func stringsField(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range in.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func required(in *structpb.Struct, key string) (string, error) {
	v := stringField(in, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func messageFields(m *store.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"remoteId":        m.RemoteID,
		"conversationId":  m.ConversationID,
		"senderId":        m.SenderID,
		"text":            m.Text,
		"createdAt":       m.CreatedAt,
		"serverCreatedAt": m.ServerCreatedAt,
		"status":          string(m.Status),
		"pending":         m.Pending(),
	}
}

func conversationFields(c *store.Conversation) map[string]any {
	rid, _ := store.RemoteID(c.Ref)
	return map[string]any{
		"id":        c.ID(),
		"remoteId":  rid,
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
}

func previewFields(p store.ConversationPreview) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"remoteId":        p.RemoteID,
		"lastMessageText": p.LastMessageText,
		"lastMessageTime": p.LastMessageTime,
		"unreadCount":     p.UnreadCount,
		"updatedAt":       p.UpdatedAt,
	}
}

func opFields(op store.OutboxOp) map[string]any {
	return map[string]any{
		"id":           op.ID,
		"type":         op.Type,
		"payload":      string(op.Payload),
		"createdAt":    op.CreatedAt,
		"attemptCount": op.AttemptCount,
		"lastError":    op.LastError,
	}
}

// payloadValue converts an event payload into a protobuf value by way of
// its JSON form.
func payloadValue(p any) *structpb.Value {
	if p == nil {
		return structpb.NewNullValue()
	}
	if v, err := structpb.NewValue(p); err == nil {
		return v
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return structpb.NewStringValue(err.Error())
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return structpb.NewStringValue(string(raw))
	}
	v, err := structpb.NewValue(generic)
	if err != nil {
		return structpb.NewStringValue(string(raw))
	}
	return v
}
