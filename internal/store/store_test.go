package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/errs"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InitSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran InitSchema, a second run must be a no-op.
	result, err := db.InitSchema(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second InitSchema() should report Changed=false")
	}
	if result.Version != 3 {
		t.Errorf("version = %d, want 3 (core + ephemeral + outbox)", result.Version)
	}
	if result.Dirty {
		t.Error("schema reported dirty")
	}
}

func TestInitSchemaConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.InitSchema(context.Background()); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent InitSchema: %v", err)
	}
}

func TestSchemaHasRequiredTables(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"users", "conversations", "participants", "messages", "receipts", "typing", "sync_ops"} {
		t.Run(table, func(t *testing.T) {
			var n int
			err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Errorf("table %s missing", table)
			}
		})
	}
}

func TestInsertConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, err := db.InsertConversation(ctx, []string{"u1", "u2", "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := conv.Ref.(LocalOnly); !ok {
		t.Errorf("ref = %T, want LocalOnly", conv.Ref)
	}

	got, err := db.GetConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != conv.ID() {
		t.Errorf("id = %q, want %q", got.ID(), conv.ID())
	}

	members, err := db.ListParticipants(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("got %d participants, want 2 (unique per pair)", len(members))
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	_, err := db.GetConversation(context.Background(), "nope")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLinkConversationOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, err := db.InsertConversation(ctx, []string{"u1"})
	if err != nil {
		t.Fatal(err)
	}

	linked, err := db.LinkConversation(ctx, conv.ID(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if rid, ok := RemoteID(linked.Ref); !ok || rid != "r1" {
		t.Errorf("remote id = %q (%v), want r1", rid, ok)
	}

	// Same id again is fine.
	if _, err := db.LinkConversation(ctx, conv.ID(), "r1"); err != nil {
		t.Errorf("relink same id: %v", err)
	}

	// A different id must be rejected and must not change the row.
	if _, err := db.LinkConversation(ctx, conv.ID(), "r2"); !errors.Is(err, errs.ErrAlreadyLinked) {
		t.Errorf("err = %v, want ErrAlreadyLinked", err)
	}
	got, err := db.GetConversationByRemoteID(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != conv.ID() {
		t.Errorf("conversation for r1 = %q, want %q", got.ID(), conv.ID())
	}
}

func TestEnsureConversationForRemote(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, created, err := db.EnsureConversationForRemote(ctx, "r1", []string{"u1", "u2"}, 1000, 2000, "")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first ensure should create the row")
	}

	again, created, err := db.EnsureConversationForRemote(ctx, "r1", []string{"u1", "u2", "u3"}, 1000, 3000, "")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second ensure should find the existing row")
	}
	if again.ID() != conv.ID() {
		t.Errorf("id = %q, want %q", again.ID(), conv.ID())
	}
	if again.UpdatedAt != 3000 {
		t.Errorf("updated_at = %d, want 3000", again.UpdatedAt)
	}

	members, err := db.ListParticipants(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Errorf("got %d participants, want 3", len(members))
	}
}

func TestEnsureConversationAdoptsCreatorRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	local, err := db.InsertConversation(ctx, []string{"u1", "u2"})
	if err != nil {
		t.Fatal(err)
	}

	conv, created, err := db.EnsureConversationForRemote(ctx, "r1", []string{"u1", "u2"}, 1000, 1000, local.ID())
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("creator row should be adopted, not duplicated")
	}
	if conv.ID() != local.ID() {
		t.Errorf("id = %q, want %q", conv.ID(), local.ID())
	}

	previews, err := db.ListConversationsWithPreview(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 {
		t.Errorf("got %d conversations, want 1", len(previews))
	}
}

func TestListConversationsWithPreviewOrdering(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a, _, err := db.EnsureConversationForRemote(ctx, "ra", []string{"me", "x"}, 100, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := db.EnsureConversationForRemote(ctx, "rb", []string{"me", "y"}, 100, 200, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.EnsureConversationForRemote(ctx, "rc", []string{"x", "y"}, 100, 300, ""); err != nil {
		t.Fatal(err)
	}

	if err := db.UpsertMessageFromRemote(ctx, "m1", a.ID(), "x", "older", 150); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessageFromRemote(ctx, "m2", a.ID(), "x", "newest", 500); err != nil {
		t.Fatal(err)
	}

	previews, err := db.ListConversationsWithPreview(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 2 {
		t.Fatalf("got %d previews, want 2 (only conversations I take part in)", len(previews))
	}
	if previews[0].ID != a.ID() || previews[1].ID != b.ID() {
		t.Errorf("order = [%s %s], want [%s %s]", previews[0].ID, previews[1].ID, a.ID(), b.ID())
	}
	if previews[0].LastMessageText != "newest" || previews[0].LastMessageTime != 500 {
		t.Errorf("preview = %+v, want newest@500", previews[0])
	}
	if previews[1].LastMessageText != "" {
		t.Errorf("empty conversation preview text = %q, want empty", previews[1].LastMessageText)
	}
}

func TestUnreadCountFollowsReceipt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, _, err := db.EnsureConversationForRemote(ctx, "r1", []string{"me", "other"}, 100, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	for i, ts := range []int64{1000, 2000, 3000} {
		if err := db.UpsertMessageFromRemote(ctx, "m"+string(rune('a'+i)), conv.ID(), "other", "hi", ts); err != nil {
			t.Fatal(err)
		}
	}
	// My own messages never count as unread.
	if _, err := db.InsertMessage(ctx, conv.ID(), "me", "reply"); err != nil {
		t.Fatal(err)
	}

	unread := func() int {
		t.Helper()
		previews, err := db.ListConversationsWithPreview(ctx, "me")
		if err != nil {
			t.Fatal(err)
		}
		if len(previews) != 1 {
			t.Fatalf("got %d previews, want 1", len(previews))
		}
		return previews[0].UnreadCount
	}

	if got := unread(); got != 3 {
		t.Errorf("unread without receipt = %d, want 3", got)
	}

	if err := db.UpsertReceipt(ctx, conv.ID(), "me", 2000); err != nil {
		t.Fatal(err)
	}
	if got := unread(); got != 1 {
		t.Errorf("unread after reading up to 2000 = %d, want 1", got)
	}

	if err := db.UpsertReceipt(ctx, conv.ID(), "me", 3000); err != nil {
		t.Fatal(err)
	}
	if got := unread(); got != 0 {
		t.Errorf("unread after reading all = %d, want 0", got)
	}

	// Stale receipt does not move the marker back.
	if err := db.UpsertReceipt(ctx, conv.ID(), "me", 500); err != nil {
		t.Fatal(err)
	}
	if got := unread(); got != 0 {
		t.Errorf("unread after stale receipt = %d, want 0", got)
	}
}

func TestInsertMessageOptimistic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, err := db.InsertConversation(ctx, []string{"me"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := db.InsertMessage(ctx, conv.ID(), "me", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Pending() || m.Status != StatusNone {
		t.Errorf("message = %+v, want pending with no status", m)
	}

	got, err := db.GetConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.UpdatedAt < m.CreatedAt {
		t.Errorf("updated_at = %d, want >= %d", got.UpdatedAt, m.CreatedAt)
	}
}

func TestListMessagesOrderedByCreatedAt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, _, err := db.EnsureConversationForRemote(ctx, "r1", []string{"me", "x"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		id string
		ts int64
	}{{"m3", 3000}, {"m1", 1000}, {"m2", 2000}} {
		if err := db.UpsertMessageFromRemote(ctx, m.id, conv.ID(), "x", m.id, m.ts); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].Text != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Text, want)
		}
	}
}

func TestUpsertMessageFromRemoteIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, _, err := db.EnsureConversationForRemote(ctx, "r1", []string{"me", "x"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.UpsertMessageFromRemote(ctx, "m1", conv.ID(), "x", "hello", 1000); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessageFromRemote(ctx, "m1", conv.ID(), "x", "hello", 9999); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].ServerCreatedAt != 1000 {
		t.Errorf("server_created_at = %d, want 1000 (never overwritten)", msgs[0].ServerCreatedAt)
	}
}

func TestUpsertMessageFromRemoteBackfillsServerTime(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, _, err := db.EnsureConversationForRemote(ctx, "r1", []string{"me", "x"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	// First arrival before the server stamped it.
	if err := db.UpsertMessageFromRemote(ctx, "m1", conv.ID(), "x", "hello", 0); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessageFromRemote(ctx, "m1", conv.ID(), "x", "hello", 4242); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ServerCreatedAt != 4242 {
		t.Errorf("got %+v, want one row with server_created_at=4242", msgs)
	}
}

func TestMarkLocalAsSentByMatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, err := db.InsertConversation(ctx, []string{"me", "x"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := db.InsertMessage(ctx, conv.ID(), "me", "hi")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := db.InsertMessage(ctx, conv.ID(), "me", "hi")
	if err != nil {
		t.Fatal(err)
	}

	matched, err := db.MarkLocalAsSentByMatch(ctx, conv.ID(), "me", "hi", "rm1", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected a match")
	}

	got, err := db.GetMessage(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSent || got.ServerCreatedAt != 5000 || got.RemoteID != "rm1" {
		t.Errorf("most recent = %+v, want sent@5000 rm1", got)
	}
	untouched, err := db.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !untouched.Pending() {
		t.Errorf("older row = %+v, want still pending", untouched)
	}

	// The echo arriving afterwards folds into the reconciled row.
	if err := db.UpsertMessageFromRemote(ctx, "rm1", conv.ID(), "me", "hi", 5000); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}

	// No pending row left for a different text.
	matched, err = db.MarkLocalAsSentByMatch(ctx, conv.ID(), "me", "other", "rm2", 6000)
	if err != nil {
		t.Fatal(err)
	}
	if matched {
		t.Error("unexpected match for different text")
	}
}

func TestMarkLocalAsSentIgnoresRedelivery(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, err := db.InsertConversation(ctx, []string{"me", "x"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := db.InsertMessage(ctx, conv.ID(), "me", "ok")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkLocalAsSentByMatch(ctx, conv.ID(), "me", "ok", "rm1", 5000); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessageFromRemote(ctx, "rm1", conv.ID(), "me", "ok", 5000); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)
	second, err := db.InsertMessage(ctx, conv.ID(), "me", "ok")
	if err != nil {
		t.Fatal(err)
	}

	// rm1 arrives again, as it does when a feed is re-attached.
	matched, err := db.MarkLocalAsSentByMatch(ctx, conv.ID(), "me", "ok", "rm1", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if matched {
		t.Error("redelivered rm1 matched a pending row")
	}
	if err := db.UpsertMessageFromRemote(ctx, "rm1", conv.ID(), "me", "ok", 5000); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("first message lost: %v", err)
	}
	if got.RemoteID != "rm1" || got.Status != StatusSent {
		t.Errorf("first = %+v, want sent rm1", got)
	}
	pending, err := db.GetMessage(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !pending.Pending() || pending.RemoteID != "" || pending.Status != StatusNone {
		t.Errorf("second = %+v, want untouched pending row", pending)
	}

	// Its own echo still reconciles it.
	matched, err = db.MarkLocalAsSentByMatch(ctx, conv.ID(), "me", "ok", "rm2", 6000)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("rm2 did not match the pending row")
	}
	msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
}

func TestApplyStatusWatermarksMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv, _, err := db.EnsureConversationForRemote(ctx, "r1", []string{"me", "x"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		id string
		ts int64
	}{{"a", 1000}, {"b", 2000}, {"c", 3000}} {
		if err := db.UpsertMessageFromRemote(ctx, m.id, conv.ID(), "me", m.id, m.ts); err != nil {
			t.Fatal(err)
		}
	}
	// A message from someone else is never touched.
	if err := db.UpsertMessageFromRemote(ctx, "z", conv.ID(), "x", "z", 1500); err != nil {
		t.Fatal(err)
	}

	statuses := func() map[string]MessageStatus {
		t.Helper()
		msgs, err := db.ListMessagesByConversation(ctx, conv.ID())
		if err != nil {
			t.Fatal(err)
		}
		out := make(map[string]MessageStatus)
		for _, m := range msgs {
			out[m.Text] = m.Status
		}
		return out
	}

	if _, err := db.ApplyStatusWatermarks(ctx, conv.ID(), "me", 2000, 1000); err != nil {
		t.Fatal(err)
	}
	got := statuses()
	want := map[string]MessageStatus{"a": StatusRead, "b": StatusDelivered, "c": StatusNone, "z": StatusNone}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("status[%s] = %q, want %q", k, got[k], w)
		}
	}

	// Out-of-order pass with older watermarks must not downgrade anything.
	if _, err := db.ApplyStatusWatermarks(ctx, conv.ID(), "me", 3000, 0); err != nil {
		t.Fatal(err)
	}
	got = statuses()
	want = map[string]MessageStatus{"a": StatusRead, "b": StatusDelivered, "c": StatusDelivered}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("after second pass status[%s] = %q, want %q", k, got[k], w)
		}
	}
}

func TestTypingUsersTTL(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.UnixMilli(100_000)

	states := []TypingState{
		{ConversationID: "c", UserID: "fresh", IsTyping: true, UpdatedAt: now.UnixMilli() - 1000},
		{ConversationID: "c", UserID: "stale", IsTyping: true, UpdatedAt: now.UnixMilli() - 6000},
		{ConversationID: "c", UserID: "stopped", IsTyping: false, UpdatedAt: now.UnixMilli()},
		{ConversationID: "c", UserID: "me", IsTyping: true, UpdatedAt: now.UnixMilli()},
	}
	for _, s := range states {
		if err := db.UpsertTyping(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	users, err := db.TypingUsers(ctx, "c", "me", now, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "fresh" {
		t.Errorf("typing = %v, want [fresh]", users)
	}
}

func TestConversationStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.UnixMilli(1_000_000)

	direct, _, err := db.EnsureConversationForRemote(ctx, "d", []string{"me", "bob"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	group, _, err := db.EnsureConversationForRemote(ctx, "g", []string{"me", "bob", "eve", "ann"}, 1, 1, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.SetPresence(ctx, "bob", now.UnixMilli()-1000, true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPresence(ctx, "eve", now.UnixMilli()-120_000, true); err != nil {
		t.Fatal(err)
	}

	st, err := db.GetConversationStatus(ctx, direct.ID(), "me", now, 5*time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if st.Text != "online" || st.Typing {
		t.Errorf("direct status = %+v, want online, not typing", st)
	}

	st, err = db.GetConversationStatus(ctx, group.ID(), "me", now, 5*time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if st.Text != "4 members, 1 online" {
		t.Errorf("group status = %q, want %q", st.Text, "4 members, 1 online")
	}
}

func TestUserUpsertKeepsNewestPresence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertUser(ctx, &User{ID: "u1", RemoteID: "u1", DisplayName: "Ann", LastActiveAt: 2000, IsOnline: true}); err != nil {
		t.Fatal(err)
	}
	// Older push without a name.
	if err := db.UpsertUser(ctx, &User{ID: "u1", LastActiveAt: 1000, IsOnline: false}); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.DisplayName != "Ann" || u.LastActiveAt != 2000 || !u.IsOnline {
		t.Errorf("user = %+v, want Ann@2000 online", u)
	}
}

func TestOutboxFIFO(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, err := db.EnqueueOp(ctx, OpCreateConversation, []byte(`{"conversationId":"c1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnqueueOp(ctx, OpSendMessage, []byte(`{"conversationId":"c1"}`)); err != nil {
		t.Fatal(err)
	}

	head, err := db.OldestOp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != first.ID || head.Type != OpCreateConversation {
		t.Errorf("head = %+v, want first createConversation", head)
	}

	if err := db.RecordOpFailure(ctx, head.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	head, err = db.OldestOp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.AttemptCount != 1 || head.LastError != "boom" {
		t.Errorf("after failure = %+v, want attempt 1 with error", head)
	}

	if err := db.DeleteOp(ctx, head.ID); err != nil {
		t.Fatal(err)
	}
	head, err = db.OldestOp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.Type != OpSendMessage {
		t.Errorf("head type = %q, want sendMessage", head.Type)
	}

	if err := db.DeleteOp(ctx, head.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.OldestOp(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("empty outbox err = %v, want ErrNotFound", err)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnqueueOp(ctx, OpMarkRead, []byte(`{"conversationId":"c1"}`)); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}

	ops, err := db.ListOps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Type != OpMarkRead {
		t.Errorf("ops after reopen = %+v, want one markRead", ops)
	}
}
