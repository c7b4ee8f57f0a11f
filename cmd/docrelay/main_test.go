package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/remote/ws"
	"go.uber.org/zap"
)

func TestRunReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	logger, _ := zap.NewDevelopment()
	// The address is taken, so run must return instead of exiting.
	if err := run(context.Background(), ln.Addr().String(), logger); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestServeRelaysAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	logger, _ := zap.NewDevelopment()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, logger) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", resp.StatusCode)
	}

	c := ws.New("ws://"+ln.Addr().String()+ws.Path, logger)
	wctx, wcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer wcancel()
	if _, err := c.Write(wctx, remote.UserPath("alice"), map[string]any{"isOnline": true}, remote.Merge); err != nil {
		t.Fatalf("Write through relay: %v", err)
	}
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(7 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
