// Package sync keeps the local store in step with the remote document store.
// A Coordinator owns one session per signed-in user: the conversation feed,
// the feeds of the active conversation, the presence heartbeat and the
// outbox drain loop.
package sync

import (
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Config tunes the timers and windows of a session.
type Config struct {
	TypingTTL         time.Duration
	HeartbeatInterval time.Duration
	OnlineWindow      time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		TypingTTL:         5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		OnlineWindow:      60 * time.Second,
	}
}

// Coordinator is the lifecycle owner of the sync engine. All methods are
// safe for concurrent use.
type Coordinator struct {
	db      *store.DB
	remote  remote.Store
	outbox  *outbox.Outbox
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time

	// sem serializes lifecycle changes. It is a channel so that session
	// goroutines can give up waiting when their session ends.
	sem chan struct{}

	mu   stdsync.RWMutex
	sess *session
}

// New creates a stopped coordinator.
func New(db *store.DB, rs remote.Store, ob *outbox.Outbox, b *bus.Bus, m *status.Machine, cfg Config, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = def.TypingTTL
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = def.OnlineWindow
	}
	if b == nil {
		b = bus.New()
	}
	if m == nil {
		m = status.NewMachine(b)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:      db,
		remote:  rs,
		outbox:  ob,
		bus:     b,
		machine: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		sem:     make(chan struct{}, 1),
	}
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	<-c.sem
}

func (c *Coordinator) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Coordinator) running() (*session, error) {
	s := c.current()
	if s == nil {
		return nil, errs.ErrNotRunning
	}
	return s, nil
}

// Start begins a session for userID. Starting the user that is already
// running is a no-op; any other session is stopped first. ctx only bounds
// the setup calls, the session lives until Stop.
func (c *Coordinator) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("start: empty user id")
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if s := c.current(); s != nil {
		if s.userID == userID {
			return nil
		}
		c.stopLocked()
	}

	if err := c.db.UpsertUser(ctx, &store.User{ID: userID, RemoteID: userID}); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	s := newSession(userID)
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	if err := c.machine.Settle(status.Running); err != nil {
		c.logger.Warn("status transition failed", zap.Error(err))
	}

	s.spawn(func() { c.applyLoop(s) })
	s.spawn(func() { c.watch(s) })
	s.spawn(func() { c.heartbeat(s) })
	s.spawn(func() { c.outbox.Run(s.ctx) })
	c.attachConversations(s)

	c.logger.Info("sync started", zap.String("user_id", userID))
	return nil
}

// Stop ends the session: every feed is unsubscribed and every timer
// cancelled before it returns. Stopping a stopped coordinator is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	c.stopLocked()
	return nil
}

func (c *Coordinator) stopLocked() {
	s := c.current()
	if s == nil {
		return
	}
	s.shutdown()

	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	if err := c.machine.Settle(status.Stopped); err != nil {
		c.logger.Warn("status transition failed", zap.Error(err))
	}
	c.goOffline(s.userID)
	c.logger.Info("sync stopped", zap.String("user_id", s.userID))
}

// SetActiveConversation scopes the message, ephemeral and presence feeds to
// convID, or to nothing when convID is empty. The previous feeds are fully
// detached before new ones attach.
func (c *Coordinator) SetActiveConversation(ctx context.Context, convID string) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	s, err := c.running()
	if err != nil {
		return err
	}
	if s.activeID() == convID {
		return nil
	}
	if convID != "" {
		if _, err := c.db.GetConversation(ctx, convID); err != nil {
			return err
		}
	}

	s.detach()
	s.setActive(convID)
	if convID != "" {
		c.attachScope(s)
	}
	c.bus.Emit(bus.KindActiveChanged, convID)
	return nil
}

// OnReconnect is the connectivity signal: the outbox retries at once with a
// fresh backoff, and feeds that died with the connection are re-attached.
func (c *Coordinator) OnReconnect(ctx context.Context) error {
	c.outbox.OnReconnect()

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	s := c.current()
	if s == nil {
		return nil
	}
	if !s.conversationsAlive() {
		c.attachConversations(s)
	}
	if s.activeID() != "" && !s.scopeAlive() {
		s.detach()
		c.attachScope(s)
	}
	return nil
}

// retryAttach attaches the active conversation's feeds if convID is active
// and still unattached. Called from session goroutines.
func (c *Coordinator) retryAttach(s *session, convID string) {
	if err := c.acquire(s.ctx); err != nil {
		return
	}
	defer c.release()

	if c.current() != s || s.activeID() != convID || s.scopeAlive() {
		return
	}
	s.detach()
	c.attachScope(s)
}

func (c *Coordinator) attachConversations(s *session) {
	sub, err := c.remote.Subscribe(s.ctx, remote.ConversationsFor(s.userID))
	if err != nil {
		c.logger.Warn("conversation feed attach failed", zap.String("user_id", s.userID), zap.Error(err))
		c.settle(status.Offline)
		return
	}
	s.setConversations(s.startFeed(sourceConversations, 0, "", "", sub))
	c.settle(status.Running)
}

// attachScope subscribes the active conversation's feeds. A conversation
// without a remote id stays unattached until the link shows up.
func (c *Coordinator) attachScope(s *session) {
	convID := s.activeID()
	conv, err := c.db.GetConversation(s.ctx, convID)
	if err != nil {
		c.logger.Warn("active conversation lookup failed", zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	rid, ok := store.RemoteID(conv.Ref)
	if !ok {
		c.logger.Debug("active conversation not linked yet", zap.String("conversation_id", convID))
		return
	}
	participants, err := c.db.ListParticipants(s.ctx, convID)
	if err != nil {
		c.logger.Warn("participant lookup failed", zap.String("conversation_id", convID), zap.Error(err))
		return
	}

	queries := []struct {
		src source
		q   remote.Query
	}{
		{sourceMessages, remote.MessagesIn(rid)},
		{sourceEphemeral, remote.EphemeralOf(rid)},
		{sourcePresence, remote.UsersIn(participants)},
	}
	gen := s.nextGeneration()
	sc := &scope{convID: convID, remoteID: rid, gen: gen}
	for _, q := range queries {
		sub, err := c.remote.Subscribe(s.ctx, q.q)
		if err != nil {
			c.logger.Warn("conversation feeds attach failed",
				zap.String("conversation_id", convID),
				zap.String("feed", string(q.src)),
				zap.Error(err),
			)
			sc.close()
			c.settle(status.Offline)
			return
		}
		sc.feeds = append(sc.feeds, s.startFeed(q.src, gen, convID, rid, sub))
	}
	s.setScope(sc)
	c.logger.Debug("conversation feeds attached", zap.String("conversation_id", convID), zap.String("remote_id", rid))
}

// watch reacts to outbox results: connectivity changes and conversations
// that became linked while active.
func (c *Coordinator) watch(s *session) {
	events, unsub := c.bus.Subscribe("outbox.", 64)
	defer unsub()

	for {
		select {
		case <-s.ctx.Done():
			return
		case convID := <-s.linked:
			c.retryAttach(s, convID)
		case src := <-s.lost:
			c.logger.Warn("remote feed lost", zap.String("feed", string(src)))
			c.settle(status.Offline)
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case outbox.OpApplied:
				c.settle(status.Running)
				if p.Type == store.OpCreateConversation {
					c.retryAttach(s, p.ConversationID)
				}
			case outbox.OpFailed:
				if p.Offline {
					c.settle(status.Offline)
				}
			}
		}
	}
}

// settle moves between Running and Offline while a session is active.
func (c *Coordinator) settle(to status.State) {
	if !c.machine.Active() {
		return
	}
	if err := c.machine.Settle(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}

// CreateConversation creates a conversation locally and queues its remote
// creation. The caller is always a participant.
func (c *Coordinator) CreateConversation(ctx context.Context, participantIDs []string) (*store.Conversation, error) {
	s, err := c.running()
	if err != nil {
		return nil, err
	}
	ids := []string{s.userID}
	for _, id := range participantIDs {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("create conversation: %w: need another participant", errs.ErrInvalidPayload)
	}

	conv, err := c.db.InsertConversation(ctx, ids)
	if err != nil {
		return nil, err
	}
	if _, err := c.outbox.Enqueue(ctx, store.OpCreateConversation, outbox.CreateConversationPayload{
		ConversationID: conv.ID(),
		ParticipantIDs: ids,
	}); err != nil {
		return nil, err
	}
	return conv, nil
}

// SendMessage stores an optimistic message and queues it for delivery.
func (c *Coordinator) SendMessage(ctx context.Context, convID, text string) (*store.Message, error) {
	s, err := c.running()
	if err != nil {
		return nil, err
	}
	msg, err := c.db.InsertMessage(ctx, convID, s.userID, text)
	if err != nil {
		return nil, err
	}
	if _, err := c.outbox.Enqueue(ctx, store.OpSendMessage, outbox.SendMessagePayload{
		ConversationID: convID,
		MessageID:      msg.ID,
		SenderID:       s.userID,
		Text:           text,
		CreatedAt:      msg.CreatedAt,
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead records that the caller has read everything in convID so far.
func (c *Coordinator) MarkRead(ctx context.Context, convID string) error {
	s, err := c.running()
	if err != nil {
		return err
	}
	msgs, err := c.db.ListMessagesByConversation(ctx, convID)
	if err != nil {
		return err
	}
	at := c.now().UnixMilli()
	for _, m := range msgs {
		at = max(at, m.CreatedAt, m.ServerCreatedAt)
	}

	if err := c.db.UpsertReceipt(ctx, convID, s.userID, at); err != nil {
		return err
	}
	_, err = c.outbox.Enqueue(ctx, store.OpMarkRead, outbox.MarkReadPayload{
		ConversationID: convID,
		UserID:         s.userID,
		LastReadAt:     at,
	})
	return err
}

// EnqueueTyping queues the caller's typing flag for convID.
func (c *Coordinator) EnqueueTyping(ctx context.Context, convID string, isTyping bool) error {
	s, err := c.running()
	if err != nil {
		return err
	}
	if _, err := c.db.GetConversation(ctx, convID); err != nil {
		return err
	}
	at := c.now().UnixMilli()
	if err := c.db.UpsertTyping(ctx, store.TypingState{
		ConversationID: convID,
		UserID:         s.userID,
		IsTyping:       isTyping,
		UpdatedAt:      at,
	}); err != nil {
		return err
	}
	_, err = c.outbox.Enqueue(ctx, store.OpSetTyping, outbox.SetTypingPayload{
		ConversationID: convID,
		UserID:         s.userID,
		IsTyping:       isTyping,
		UpdatedAt:      at,
	})
	return err
}

// Conversations returns the caller's conversation list.
func (c *Coordinator) Conversations(ctx context.Context) ([]store.ConversationPreview, error) {
	s, err := c.running()
	if err != nil {
		return nil, err
	}
	return c.db.ListConversationsWithPreview(ctx, s.userID)
}

// Messages returns the messages of convID, or of the active conversation
// when convID is empty.
func (c *Coordinator) Messages(ctx context.Context, convID string) ([]store.Message, error) {
	s, err := c.running()
	if err != nil {
		return nil, err
	}
	if convID == "" {
		convID = s.activeID()
	}
	if convID == "" {
		return nil, fmt.Errorf("messages: no active conversation: %w", errs.ErrNotFound)
	}
	return c.db.ListMessagesByConversation(ctx, convID)
}

// ConversationStatus returns the typing flag and status line of convID.
func (c *Coordinator) ConversationStatus(ctx context.Context, convID string) (*store.ConversationStatus, error) {
	s, err := c.running()
	if err != nil {
		return nil, err
	}
	if _, err := c.db.GetConversation(ctx, convID); err != nil {
		return nil, err
	}
	return c.db.GetConversationStatus(ctx, convID, s.userID, c.now(), c.cfg.TypingTTL, c.cfg.OnlineWindow)
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	State              status.State
	UserID             string
	ActiveConversation string
	QueuedOps          int64
	BackoffStage       int
}

// State reports the coordinator state and outbox depth.
func (c *Coordinator) State(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		State:        c.machine.Current(),
		BackoffStage: c.outbox.Backoff().Stage(),
	}
	if s := c.current(); s != nil {
		snap.UserID = s.userID
		snap.ActiveConversation = s.activeID()
	}
	n, err := c.db.CountOps(ctx)
	if err != nil {
		return snap, err
	}
	snap.QueuedOps = n
	return snap, nil
}
