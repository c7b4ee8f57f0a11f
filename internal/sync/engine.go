package sync

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/remote"
	"go.uber.org/zap"
)

const bestEffortTimeout = 5 * time.Second

// engine is the state owned by the apply loop goroutine. Nothing else
// touches it, so it needs no locking.
type engine struct {
	// marks holds the last watermarks seen per conversation, re-applied when
	// new outgoing messages arrive after the ephemeral snapshot.
	marks map[string]watermarks
	// delivered is the newest delivered marker written per conversation.
	delivered map[string]int64
}

type watermarks struct {
	delivered int64
	read      int64
}

// applyLoop is the single writer for every feed-driven store change.
func (c *Coordinator) applyLoop(s *session) {
	e := &engine{
		marks:     make(map[string]watermarks),
		delivered: make(map[string]int64),
	}
	for {
		select {
		case d := <-s.deliveries:
			if !s.current(d) {
				continue
			}
			c.apply(s, e, d)
		case <-s.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) apply(s *session, e *engine, d delivery) {
	ctx := s.ctx
	switch d.src {
	case sourceConversations:
		c.applyConversations(ctx, s, d.batch)
	case sourceMessages:
		c.applyMessages(ctx, s, e, d)
	case sourceEphemeral:
		c.applyEphemeral(ctx, s, e, d)
	case sourcePresence:
		c.applyPresence(ctx, d.batch)
	}
}

func (c *Coordinator) applyConversations(ctx context.Context, s *session, b remote.Batch) {
	for _, ch := range b.Changes {
		if ch.Kind == remote.Removed {
			c.logger.Debug("conversation removed remotely", zap.String("remote_id", ch.Doc.ID))
			continue
		}
		conv, created, err := c.ensureConversationForRemote(ctx, ch.Doc)
		if err != nil {
			c.logger.Error("failed to ensure conversation", zap.String("remote_id", ch.Doc.ID), zap.Error(err))
			continue
		}
		if conv.ID() == s.activeID() {
			s.notifyLinked(conv.ID())
		}
		c.bus.Emit(bus.KindConversationSynced, map[string]any{
			"conversation_id": conv.ID(),
			"remote_id":       ch.Doc.ID,
			"created":         created,
		})
	}
}

func (c *Coordinator) applyMessages(ctx context.Context, s *session, e *engine, d delivery) {
	var newestFromOthers int64
	applied := 0
	for _, ch := range d.batch.Changes {
		if ch.Kind == remote.Removed {
			continue
		}
		fromOther, serverAt, err := c.reconcileMessage(ctx, s.userID, d.convID, ch.Doc)
		if err != nil {
			c.logger.Error("failed to apply message",
				zap.String("conversation_id", d.convID),
				zap.String("remote_msg_id", ch.Doc.ID),
				zap.Error(err),
			)
			continue
		}
		applied++
		if fromOther {
			newestFromOthers = max(newestFromOthers, serverAt)
		}
	}
	if applied == 0 {
		return
	}

	// Own messages that arrived after the ephemeral snapshot still need the
	// watermarks already known.
	if m, ok := e.marks[d.convID]; ok {
		c.applyWatermarks(ctx, s.userID, d.convID, m)
	}
	if newestFromOthers > e.delivered[d.convID] {
		e.delivered[d.convID] = newestFromOthers
		c.markDelivered(s, d.remoteID, newestFromOthers)
	}
	c.bus.Emit(bus.KindMessagesSynced, map[string]any{
		"conversation_id": d.convID,
		"count":           applied,
	})
}

func (c *Coordinator) applyEphemeral(ctx context.Context, s *session, e *engine, d delivery) {
	participants, err := c.db.ListParticipants(ctx, d.convID)
	if err != nil {
		c.logger.Error("failed to list participants", zap.String("conversation_id", d.convID), zap.Error(err))
		return
	}

	for _, ch := range d.batch.Changes {
		if ch.Kind == remote.Removed {
			continue
		}
		p := Project(d.convID, s.userID, participants, ch.Doc.Fields, c.now(), c.cfg.TypingTTL)
		for _, t := range p.Typing {
			if err := c.db.UpsertTyping(ctx, t); err != nil {
				c.logger.Error("failed to store typing", zap.String("user_id", t.UserID), zap.Error(err))
			}
		}
		for _, r := range p.Receipts {
			if err := c.db.UpsertReceipt(ctx, r.ConversationID, r.UserID, r.LastReadAt); err != nil {
				c.logger.Error("failed to store receipt", zap.String("user_id", r.UserID), zap.Error(err))
			}
		}
		m := watermarks{delivered: p.MinDelivered, read: p.MinRead}
		e.marks[d.convID] = m
		c.applyWatermarks(ctx, s.userID, d.convID, m)
	}
	c.bus.Emit(bus.KindEphemeralSynced, d.convID)
}

func (c *Coordinator) applyWatermarks(ctx context.Context, me, convID string, m watermarks) {
	n, err := c.db.ApplyStatusWatermarks(ctx, convID, me, m.delivered, m.read)
	if err != nil {
		c.logger.Error("failed to apply status watermarks", zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Debug("message status upgraded",
			zap.String("conversation_id", convID),
			zap.Int64("messages", n),
		)
	}
}

func (c *Coordinator) applyPresence(ctx context.Context, b remote.Batch) {
	for _, ch := range b.Changes {
		if ch.Kind == remote.Removed {
			continue
		}
		u := userFromDoc(ch.Doc)
		if err := c.db.UpsertUser(ctx, u); err != nil {
			c.logger.Error("failed to store presence", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	c.bus.Emit(bus.KindPresenceSynced, len(b.Changes))
}

// markDelivered tells the other participants that messages up to at have
// reached this device. Best effort.
func (c *Coordinator) markDelivered(s *session, remoteID string, at int64) {
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(s.ctx, bestEffortTimeout)
		defer cancel()
		_, err := c.remote.Write(ctx, remote.EphemeralPath(remoteID), map[string]any{
			"delivered": map[string]any{s.userID: at},
		}, remote.Merge)
		if err != nil {
			c.logger.Debug("delivered marker not written", zap.String("remote_id", remoteID), zap.Error(err))
		}
	})
}
