package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// SyncService exposes the coordinator to local clients.
type SyncService struct {
	coord       *intsync.Coordinator
	db          *store.DB
	bus         *bus.Bus
	profileName string
	startedAt   time.Time
}

var _ SyncServer = (*SyncService)(nil)

// NewSyncService creates a new sync service.
func NewSyncService(coord *intsync.Coordinator, db *store.DB, b *bus.Bus, profileName string) *SyncService {
	return &SyncService{
		coord:       coord,
		db:          db,
		bus:         b,
		profileName: profileName,
		startedAt:   time.Now(),
	}
}

func (s *SyncService) Start(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := required(in, "userId")
	if err != nil {
		return nil, err
	}
	if err := s.coord.Start(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	return s.GetStatus(ctx, in)
}

func (s *SyncService) Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.Stop(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.GetStatus(ctx, in)
}

func (s *SyncService) SetActiveConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.SetActiveConversation(ctx, stringField(in, "conversationId")); err != nil {
		return nil, toStatus(err)
	}
	return s.GetStatus(ctx, in)
}

func (s *SyncService) Reconnect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.OnReconnect(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.GetStatus(ctx, in)
}

func (s *SyncService) CreateConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	conv, err := s.coord.CreateConversation(ctx, stringsField(in, "participantIds"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(conversationFields(conv))
}

func (s *SyncService) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convID, err := required(in, "conversationId")
	if err != nil {
		return nil, err
	}
	text, err := required(in, "text")
	if err != nil {
		return nil, err
	}
	msg, err := s.coord.SendMessage(ctx, convID, text)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(messageFields(msg))
}

func (s *SyncService) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convID, err := required(in, "conversationId")
	if err != nil {
		return nil, err
	}
	if err := s.coord.MarkRead(ctx, convID); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"conversationId": convID})
}

func (s *SyncService) SetTyping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convID, err := required(in, "conversationId")
	if err != nil {
		return nil, err
	}
	typing := boolField(in, "isTyping")
	if err := s.coord.EnqueueTyping(ctx, convID, typing); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"conversationId": convID, "isTyping": typing})
}

func (s *SyncService) ListConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	previews, err := s.coord.Conversations(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(previews))
	for _, p := range previews {
		list = append(list, previewFields(p))
	}
	return reply(map[string]any{"conversations": list})
}

func (s *SyncService) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	msgs, err := s.coord.Messages(ctx, stringField(in, "conversationId"))
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(msgs))
	for i := range msgs {
		list = append(list, messageFields(&msgs[i]))
	}
	return reply(map[string]any{"messages": list})
}

func (s *SyncService) GetConversationStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convID, err := required(in, "conversationId")
	if err != nil {
		return nil, err
	}
	st, err := s.coord.ConversationStatus(ctx, convID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"conversationId": convID,
		"typing":         st.Typing,
		"members":        st.Members,
		"online":         st.Online,
		"text":           st.Text,
	})
}

func (s *SyncService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.coord.State(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"profile":              s.profileName,
		"state":                string(snap.State),
		"userId":               snap.UserID,
		"activeConversationId": snap.ActiveConversation,
		"queuedOps":            snap.QueuedOps,
		"backoffStage":         snap.BackoffStage,
		"droppedEvents":        s.bus.Dropped(),
		"uptimeMs":             time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *SyncService) ListOutbox(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ops, err := s.db.ListOps(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(ops))
	for _, op := range ops {
		list = append(list, opFields(op))
	}
	return reply(map[string]any{"ops": list})
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace (all events when empty) until the client goes away.
func (s *SyncService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(stringField(in, "namespace"), 256)
	defer unsub()
	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-ch:
			out := &structpb.Struct{Fields: map[string]*structpb.Value{
				"profile":   structpb.NewStringValue(s.profileName),
				"kind":      structpb.NewStringValue(evt.Kind),
				"timestamp": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
				"payload":   payloadValue(evt.Payload),
			}}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
