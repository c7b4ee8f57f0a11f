package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/errs"
)

// UpsertReceipt records a read marker. The newest timestamp wins, so a stale
// push never moves a receipt backwards.
func (db *DB) UpsertReceipt(ctx context.Context, conversationID, userID string, lastReadAt int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO receipts (conversation_id, user_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			last_read_at = MAX(receipts.last_read_at, excluded.last_read_at)`,
		conversationID, userID, lastReadAt)
	return err
}

// GetReceipt returns the read marker of userID, or ErrNotFound.
func (db *DB) GetReceipt(ctx context.Context, conversationID, userID string) (*Receipt, error) {
	r := Receipt{ConversationID: conversationID, UserID: userID}
	err := db.QueryRowContext(ctx,
		`SELECT last_read_at FROM receipts WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&r.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertTyping stores a typing marker.
func (db *DB) UpsertTyping(ctx context.Context, t TypingState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO typing (conversation_id, user_id, is_typing, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			is_typing = excluded.is_typing,
			updated_at = excluded.updated_at`,
		t.ConversationID, t.UserID, t.IsTyping, t.UpdatedAt)
	return err
}

// TypingUsers returns the users other than excludeUserID currently typing.
// A marker older than ttl counts as not typing whatever its stored flag.
func (db *DB) TypingUsers(ctx context.Context, conversationID, excludeUserID string, now time.Time, ttl time.Duration) ([]string, error) {
	cutoff := now.UnixMilli() - ttl.Milliseconds()
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM typing
		WHERE conversation_id = ? AND user_id != ? AND is_typing = 1 AND updated_at >= ?
		ORDER BY user_id`,
		conversationID, excludeUserID, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertUser inserts or updates a user mirrored from a presence document.
// Empty display names do not overwrite known ones.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, remote_id, display_name, last_active_at, is_online)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_id = COALESCE(excluded.remote_id, users.remote_id),
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			last_active_at = MAX(users.last_active_at, excluded.last_active_at),
			is_online = CASE WHEN excluded.last_active_at >= users.last_active_at THEN excluded.is_online ELSE users.is_online END`,
		u.ID, nullString(u.RemoteID), u.DisplayName, u.LastActiveAt, u.IsOnline)
	return err
}

// SetPresence records the heartbeat of a user.
func (db *DB) SetPresence(ctx context.Context, userID string, lastActiveAt int64, online bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, remote_id, last_active_at, is_online)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active_at = MAX(users.last_active_at, excluded.last_active_at),
			is_online = excluded.is_online`,
		userID, userID, lastActiveAt, online)
	return err
}

// GetUser returns a user by id, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		u      User
		remote sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, remote_id, display_name, last_active_at, is_online FROM users WHERE id = ?`, id).
		Scan(&u.ID, &remote, &u.DisplayName, &u.LastActiveAt, &u.IsOnline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.RemoteID = remote.String
	return &u, nil
}

// ConversationStatus is the header state of a conversation view.
type ConversationStatus struct {
	Typing  bool
	Members int
	Online  int
	Text    string
}

// GetConversationStatus computes the typing flag and the online/member-count
// string for a conversation as seen by me. Users count as online when their
// flag is set and their last heartbeat is within onlineWindow.
func (db *DB) GetConversationStatus(ctx context.Context, conversationID, me string, now time.Time, typingTTL, onlineWindow time.Duration) (*ConversationStatus, error) {
	typing, err := db.TypingUsers(ctx, conversationID, me, now, typingTTL)
	if err != nil {
		return nil, fmt.Errorf("typing users: %w", err)
	}

	st := &ConversationStatus{Typing: len(typing) > 0}
	cutoff := now.UnixMilli() - onlineWindow.Milliseconds()
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN u.is_online = 1 AND u.last_active_at >= ? THEN 1 ELSE 0 END), 0)
		FROM participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ? AND p.user_id != ?`,
		cutoff, conversationID, me).Scan(&st.Members, &st.Online)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}

	switch {
	case st.Members == 1 && st.Online == 1:
		st.Text = "online"
	case st.Members == 1:
		st.Text = "offline"
	default:
		// Members counts the others; include the caller in the group size.
		st.Text = fmt.Sprintf("%d members, %d online", st.Members+1, st.Online)
	}
	return st, nil
}
