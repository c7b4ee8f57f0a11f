package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Event kinds published on the bus.
const (
	EventEnqueued = "outbox.enqueued"
	EventApplied  = "outbox.applied"
	EventFailed   = "outbox.failed"
)

// OpApplied is the payload of EventApplied. RemoteID is set for ops that
// linked a conversation.
type OpApplied struct {
	OpID           int64  `json:"op_id"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	RemoteID       string `json:"remote_id,omitempty"`
}

// OpFailed is the payload of EventFailed.
type OpFailed struct {
	OpID     int64         `json:"op_id"`
	Type     string        `json:"type"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error"`
	Retry    time.Duration `json:"retry"`
	Offline  bool          `json:"offline"`
}

// Outbox applies queued mutations to the remote store, oldest first. Failed
// ops stay at the head of the queue and are retried with backoff.
type Outbox struct {
	db      *store.DB
	remote  remote.Store
	bus     *bus.Bus
	logger  *zap.Logger
	backoff *Backoff

	kick    chan struct{}
	retry   chan struct{}
	drainMu sync.Mutex
}

// New creates an outbox. Run must be called to start draining.
func New(db *store.DB, rs remote.Store, b *bus.Bus, backoff *Backoff, logger *zap.Logger) *Outbox {
	if backoff == nil {
		backoff = NewBackoff(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		db:      db,
		remote:  rs,
		bus:     b,
		logger:  logger,
		backoff: backoff,
		kick:    make(chan struct{}, 1),
		retry:   make(chan struct{}, 1),
	}
}

// Backoff returns the retry pacing state.
func (o *Outbox) Backoff() *Backoff {
	return o.backoff
}

// Enqueue stores an op and wakes the drain loop. It never touches the network.
func (o *Outbox) Enqueue(ctx context.Context, opType string, payload any) (*store.OutboxOp, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", opType, err)
	}
	op, err := o.db.EnqueueOp(ctx, opType, raw)
	if err != nil {
		return nil, err
	}
	o.publish(EventEnqueued, op.ID)
	o.Kick()
	return op, nil
}

// Kick requests a drain attempt. It is ignored while a failed op waits out
// its backoff delay.
func (o *Outbox) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// OnReconnect resets the backoff and retries right away, cutting short any
// pending backoff delay.
func (o *Outbox) OnReconnect() {
	o.backoff.Reset()
	select {
	case o.retry <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. While idle it waits for a
// kick. After a failure it waits for the backoff delay, and only
// OnReconnect ends that wait early.
func (o *Outbox) Run(ctx context.Context) {
	for {
		delay, err := o.Drain(ctx)
		if err == nil {
			select {
			case <-ctx.Done():
				return
			case <-o.kick:
			case <-o.retry:
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-o.retry:
			timer.Stop()
		}
		// Kicks that arrived during the delay are covered by this attempt.
		select {
		case <-o.kick:
		default:
		}
	}
}

// Drain applies ops until the queue is empty or one fails. On failure it
// returns the delay before the next attempt.
func (o *Outbox) Drain(ctx context.Context) (time.Duration, error) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		op, err := o.db.OldestOp(ctx)
		if errors.Is(err, errs.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return o.backoff.Next(), fmt.Errorf("read outbox: %w", err)
		}

		applied, err := o.apply(ctx, op)
		if err != nil {
			return o.fail(ctx, op, err), err
		}

		if err := o.db.DeleteOp(ctx, op.ID); err != nil {
			return o.backoff.Next(), fmt.Errorf("delete op %d: %w", op.ID, err)
		}
		o.backoff.Reset()
		o.logger.Debug("op applied",
			zap.Int64("op_id", op.ID),
			zap.String("type", op.Type),
			zap.Int("attempts", op.AttemptCount+1),
		)
		o.publish(EventApplied, applied)
	}
}

func (o *Outbox) fail(ctx context.Context, op *store.OutboxOp, cause error) time.Duration {
	if err := o.db.RecordOpFailure(ctx, op.ID, cause.Error()); err != nil {
		o.logger.Error("failed to record op failure", zap.Int64("op_id", op.ID), zap.Error(err))
	}
	delay := o.backoff.Next()
	o.logger.Warn("op failed",
		zap.Int64("op_id", op.ID),
		zap.String("type", op.Type),
		zap.Int("attempts", op.AttemptCount+1),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)
	o.publish(EventFailed, OpFailed{
		OpID:     op.ID,
		Type:     op.Type,
		Attempts: op.AttemptCount + 1,
		Error:    cause.Error(),
		Retry:    delay,
		Offline:  errors.Is(cause, errs.ErrOffline),
	})
	return delay
}

func (o *Outbox) publish(kind string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Emit(kind, payload)
}
