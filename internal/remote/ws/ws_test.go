package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/remote/memory"
)

func startRelay(t *testing.T) (*memory.Store, string) {
	t.Helper()
	backing := memory.New()
	srv := httptest.NewServer(NewHandler(backing, nil))
	t.Cleanup(srv.Close)
	return backing, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextBatch(t *testing.T, sub remote.Subscription) remote.Batch {
	t.Helper()
	select {
	case b, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return remote.Batch{}
}

func TestWriteAndSubscribeOverRelay(t *testing.T) {
	backing, url := startRelay(t)
	ctx := context.Background()

	c := New(url, nil)
	defer c.Close()

	sub, err := c.Subscribe(ctx, remote.ConversationsFor("alice"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if snap := nextBatch(t, sub); len(snap.Changes) != 0 {
		t.Fatalf("snapshot: got %d changes, want 0", len(snap.Changes))
	}

	ack, err := c.Write(ctx, remote.ConversationsCollection, map[string]any{
		"participantIds": []any{"alice", "bob"},
		"createdAt":      remote.ServerTimestamp,
	}, remote.Merge)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ack.DocID == "" || ack.ServerTime == 0 {
		t.Fatalf("ack: got %+v, want id and server time", ack)
	}

	b := nextBatch(t, sub)
	if len(b.Changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(b.Changes))
	}
	doc := b.Changes[0].Doc
	if doc.ID != ack.DocID {
		t.Errorf("doc id: got %q, want %q", doc.ID, ack.DocID)
	}
	if got := doc.GetInt64("createdAt"); got != ack.ServerTime {
		t.Errorf("createdAt: got %d, want %d", got, ack.ServerTime)
	}
	if _, ok := backing.Get(ack.Path); !ok {
		t.Error("document missing from backing store")
	}
}

func TestWriteErrorIsReturned(t *testing.T) {
	backing, url := startRelay(t)
	backing.SetOffline(true)

	c := New(url, nil)
	defer c.Close()

	_, err := c.Write(context.Background(), "users/alice", map[string]any{"isOnline": true}, remote.Merge)
	if err == nil {
		t.Fatal("expected error from offline backing store")
	}
}

func TestDialFailureIsOffline(t *testing.T) {
	c := New("ws://127.0.0.1:1/v1/sync", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Write(ctx, "users/alice", map[string]any{"isOnline": true}, remote.Merge)
	if !errors.Is(err, errs.ErrOffline) {
		t.Fatalf("got %v, want ErrOffline", err)
	}
}

func TestConnectionLossDuringWriteIsOffline(t *testing.T) {
	// Reads one request and hangs up without answering.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		var req map[string]any
		_ = wsjson.Read(r.Context(), conn, &req)
		_ = conn.Close(websocket.StatusGoingAway, "bye")
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(url, nil)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Write(ctx, "users/alice", map[string]any{"isOnline": true}, remote.Merge)
	if !errors.Is(err, errs.ErrOffline) {
		t.Fatalf("got %v, want ErrOffline", err)
	}
}

func TestSubscriptionsCloseWhenRelayGoesAway(t *testing.T) {
	relayCtx, stopRelay := context.WithCancel(context.Background())
	h := NewHandler(memory.New(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(relayCtx))
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(url, nil)
	defer c.Close()

	sub, err := c.Subscribe(context.Background(), remote.UsersIn([]string{"bob"}))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	nextBatch(t, sub)

	stopRelay()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription still open after connection loss")
		}
	}
}

func TestUnsubscribeReleasesServerSide(t *testing.T) {
	backing, url := startRelay(t)
	ctx := context.Background()

	c := New(url, nil)
	defer c.Close()

	sub, err := c.Subscribe(ctx, remote.EphemeralOf("c1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	nextBatch(t, sub)
	if got := backing.SubscriberCount("conversations/c1"); got != 1 {
		t.Fatalf("subscribers: got %d, want 1", got)
	}

	sub.Close()

	deadline := time.Now().Add(3 * time.Second)
	for backing.SubscriberCount("conversations/c1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("server subscription not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
