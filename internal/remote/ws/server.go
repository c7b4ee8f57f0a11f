package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatsync/internal/remote"
	"go.uber.org/zap"
)

const unsubscribeTimeout = 2 * time.Second

// Handler serves a remote.Store to WebSocket clients.
type Handler struct {
	store  remote.Store
	logger *zap.Logger
}

// NewHandler creates a handler backed by store.
func NewHandler(store remote.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

type serverConn struct {
	conn    *websocket.Conn
	store   remote.Store
	logger  *zap.Logger
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[int64]remote.Subscription
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sc := &serverConn{
		conn:   conn,
		store:  h.store,
		logger: h.logger,
		subs:   make(map[int64]remote.Subscription),
	}
	defer sc.closeAll()

	h.logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			h.logger.Info("client disconnected", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			return
		}
		sc.handle(ctx, f)
	}
}

func (sc *serverConn) handle(ctx context.Context, f frame) {
	switch f.Type {
	case frameSubscribe:
		if f.Query == nil {
			sc.reply(ctx, frame{Type: frameError, ID: f.ID, Error: "missing query"})
			return
		}
		sub, err := sc.store.Subscribe(ctx, *f.Query)
		if err != nil {
			sc.reply(ctx, frame{Type: frameError, ID: f.ID, Error: err.Error()})
			return
		}
		sc.mu.Lock()
		sc.subs[f.ID] = sub
		sc.mu.Unlock()
		sc.reply(ctx, frame{Type: frameSubscribed, ID: f.ID})
		go sc.forward(ctx, f.ID, sub)

	case frameUnsubscribe:
		sc.mu.Lock()
		sub, ok := sc.subs[f.Sub]
		delete(sc.subs, f.Sub)
		sc.mu.Unlock()
		if ok {
			sub.Close()
		}

	case frameWrite:
		ack, err := sc.store.Write(ctx, f.Path, f.Fields, f.Mode)
		if err != nil {
			sc.reply(ctx, frame{Type: frameError, ID: f.ID, Error: err.Error()})
			return
		}
		sc.reply(ctx, frame{Type: frameAck, ID: f.ID, Ack: &ack})

	default:
		sc.reply(ctx, frame{Type: frameError, ID: f.ID, Error: "unknown frame type " + f.Type})
	}
}

func (sc *serverConn) forward(ctx context.Context, id int64, sub remote.Subscription) {
	for b := range sub.C() {
		batch := b
		if err := sc.reply(ctx, frame{Type: frameBatch, Sub: id, Batch: &batch}); err != nil {
			sub.Close()
			return
		}
	}
}

func (sc *serverConn) reply(ctx context.Context, f frame) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	err := wsjson.Write(ctx, sc.conn, f)
	if err != nil {
		sc.logger.Debug("write frame failed", zap.String("type", f.Type), zap.Error(err))
	}
	return err
}

func (sc *serverConn) closeAll() {
	sc.mu.Lock()
	subs := sc.subs
	sc.subs = make(map[int64]remote.Subscription)
	sc.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	sc.conn.CloseNow()
}
