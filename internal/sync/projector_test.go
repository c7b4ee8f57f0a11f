package sync

import (
	"testing"
	"time"
)

func TestProjectTypingTTL(t *testing.T) {
	now := time.UnixMilli(100_000)
	fields := map[string]any{
		"typing": map[string]any{
			"fresh": map[string]any{"isTyping": true, "updatedAt": int64(99_000)},
			"stale": map[string]any{"isTyping": true, "updatedAt": int64(94_000)},
			"idle":  map[string]any{"isTyping": false, "updatedAt": float64(99_500)},
		},
	}

	p := Project("c1", "me", []string{"me", "fresh", "stale", "idle"}, fields, now, 5*time.Second)
	got := make(map[string]bool)
	for _, ts := range p.Typing {
		got[ts.UserID] = ts.IsTyping
	}
	want := map[string]bool{"fresh": true, "stale": false, "idle": false}
	for uid, w := range want {
		if got[uid] != w {
			t.Errorf("typing[%s]: got %v, want %v", uid, got[uid], w)
		}
	}
}

func TestProjectWatermarksIgnoreMe(t *testing.T) {
	fields := map[string]any{
		"delivered": map[string]any{"me": 10, "a": 500, "b": 300},
		"read":      map[string]any{"me": 999, "a": 200, "b": 250},
	}
	p := Project("c1", "me", []string{"me", "a", "b"}, fields, time.Now(), 5*time.Second)
	if p.MinDelivered != 300 {
		t.Errorf("MinDelivered: got %d, want 300", p.MinDelivered)
	}
	if p.MinRead != 200 {
		t.Errorf("MinRead: got %d, want 200", p.MinRead)
	}
	if len(p.Receipts) != 3 {
		t.Errorf("receipts: got %d, want 3", len(p.Receipts))
	}
}

func TestProjectMissingParticipantHoldsWatermark(t *testing.T) {
	fields := map[string]any{
		"delivered": map[string]any{"a": 500},
	}
	p := Project("c1", "me", []string{"me", "a", "b"}, fields, time.Now(), 5*time.Second)
	if p.MinDelivered != 0 {
		t.Errorf("MinDelivered: got %d, want 0 while b has no marker", p.MinDelivered)
	}
	if p.MinRead != 0 {
		t.Errorf("MinRead: got %d, want 0", p.MinRead)
	}
}

func TestProjectEmptyDocument(t *testing.T) {
	p := Project("c1", "me", []string{"me", "a"}, map[string]any{}, time.Now(), 5*time.Second)
	if len(p.Typing) != 0 || len(p.Receipts) != 0 || p.MinDelivered != 0 || p.MinRead != 0 {
		t.Errorf("projection of empty document = %+v, want zero", p)
	}
}
