package sync

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/remote"
	"go.uber.org/zap"
)

// heartbeat publishes the user's presence right away and then on every tick.
// A slow write never delays the next beat.
func (c *Coordinator) heartbeat(s *session) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.spawn(func() { c.beat(s) })
	for {
		select {
		case <-ticker.C:
			s.spawn(func() { c.beat(s) })
		case <-s.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) beat(s *session) {
	now := c.now().UnixMilli()
	if err := c.db.SetPresence(s.ctx, s.userID, now, true); err != nil {
		c.logger.Debug("local presence not stored", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(s.ctx, c.cfg.HeartbeatInterval)
	defer cancel()
	if _, err := c.remote.Write(ctx, remote.UserPath(s.userID), map[string]any{
		"id":           s.userID,
		"lastActiveAt": now,
		"isOnline":     true,
	}, remote.Merge); err != nil {
		c.logger.Debug("heartbeat not written", zap.String("user_id", s.userID), zap.Error(err))
	}
}

// offlineMarkerTimeout bounds how long Stop waits on the remote offline
// marker.
const offlineMarkerTimeout = 500 * time.Millisecond

// goOffline records that userID left. Runs after the session is torn down,
// so it uses its own short deadline.
func (c *Coordinator) goOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), offlineMarkerTimeout)
	defer cancel()

	now := c.now().UnixMilli()
	if err := c.db.SetPresence(ctx, userID, now, false); err != nil {
		c.logger.Debug("local presence not stored", zap.Error(err))
	}
	if _, err := c.remote.Write(ctx, remote.UserPath(userID), map[string]any{
		"id":           userID,
		"lastActiveAt": now,
		"isOnline":     false,
	}, remote.Merge); err != nil {
		c.logger.Debug("offline marker not written", zap.String("user_id", userID), zap.Error(err))
	}
}
