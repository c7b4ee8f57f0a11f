package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/remote"
	"go.uber.org/zap"
)

// Client is a remote.Store reached over WebSocket. The connection is dialed
// lazily and redialed by the next call after it drops; subscriptions alive
// at that moment are closed so their owners can re-attach.
type Client struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	nextID  int64
	pending map[int64]chan frame
	subs    map[int64]*remote.Feed

	writeMu sync.Mutex
}

var _ remote.Store = (*Client)(nil)

// New creates a client for url without dialing.
func New(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:     url,
		logger:  logger,
		pending: make(map[int64]chan frame),
		subs:    make(map[int64]*remote.Feed),
	}
}

// Close drops the connection and every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.drop(conn, errors.New("client closed"))
	return conn.Close(websocket.StatusNormalClosure, "client closed")
}

// Subscribe implements remote.Store.
func (c *Client) Subscribe(ctx context.Context, q remote.Query) (remote.Subscription, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	feed := remote.NewFeed(func() { c.unsubscribe(id) })
	c.subs[id] = feed
	c.mu.Unlock()

	qc := q
	if _, err := c.call(ctx, conn, frame{Type: frameSubscribe, ID: id, Query: &qc}); err != nil {
		feed.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-feed.Done():
		}
	}()
	return feed, nil
}

// Write implements remote.Store.
func (c *Client) Write(ctx context.Context, path string, fields map[string]any, mode remote.Mode) (remote.Ack, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return remote.Ack{}, err
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	resp, err := c.call(ctx, conn, frame{Type: frameWrite, ID: id, Path: path, Fields: fields, Mode: mode})
	if err != nil {
		return remote.Ack{}, err
	}
	if resp.Ack == nil {
		return remote.Ack{}, fmt.Errorf("write %s: empty ack", path)
	}
	return *resp.Ack, nil
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", c.url, errs.ErrOffline, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	go c.readLoop(readCtx, conn)
	c.logger.Info("remote connected", zap.String("url", c.url))
	return conn, nil
}

func (c *Client) call(ctx context.Context, conn *websocket.Conn, req frame) (frame, error) {
	replyCh := make(chan frame, 1)
	c.mu.Lock()
	c.pending[req.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, conn, req); err != nil {
		c.drop(conn, err)
		return frame{}, fmt.Errorf("send %s: %w: %w", req.Type, errs.ErrOffline, err)
	}

	select {
	case resp := <-replyCh:
		if resp.err != nil {
			return frame{}, resp.err
		}
		if resp.Type == frameError {
			return frame{}, errors.New(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, f)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.drop(conn, err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Type {
	case frameBatch:
		if feed, ok := c.subs[f.Sub]; ok && f.Batch != nil {
			feed.Push(*f.Batch)
		}
	case frameAck, frameSubscribed, frameError:
		if ch, ok := c.pending[f.ID]; ok {
			select {
			case ch <- f:
			default:
			}
		}
	default:
		c.logger.Warn("unexpected frame", zap.String("type", f.Type))
	}
}

// drop forgets conn, fails in-flight calls and closes live subscriptions.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	lost := fmt.Errorf("%w: %w", errs.ErrOffline, cause)
	for id, ch := range c.pending {
		select {
		case ch <- frame{Type: frameError, ID: id, Error: lost.Error(), err: lost}:
		default:
		}
	}
	feeds := make([]*remote.Feed, 0, len(c.subs))
	for id, feed := range c.subs {
		feeds = append(feeds, feed)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.logger.Warn("remote connection lost", zap.Error(cause))
	conn.CloseNow()
	for _, feed := range feeds {
		feed.Close()
	}
}

func (c *Client) unsubscribe(id int64) {
	c.mu.Lock()
	_, live := c.subs[id]
	delete(c.subs, id)
	conn := c.conn
	c.mu.Unlock()

	if !live || conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := c.send(ctx, conn, frame{Type: frameUnsubscribe, Sub: id}); err != nil {
		c.logger.Debug("unsubscribe failed", zap.Int64("sub", id), zap.Error(err))
	}
}
