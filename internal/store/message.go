package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/errs"
)

const (
	selectMessageSQL = `
		SELECT id, remote_id, conversation_id, sender_id, text, created_at, server_created_at, status
		FROM messages`

	upsertRemoteMessageSQL = `
		INSERT INTO messages (id, remote_id, conversation_id, sender_id, text, created_at, server_created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(remote_id) DO UPDATE SET
			server_created_at = COALESCE(messages.server_created_at, excluded.server_created_at)`

	findPendingMatchSQL = `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND text = ?
			AND server_created_at IS NULL AND remote_id IS NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	countByRemoteIDSQL = `SELECT COUNT(*) FROM messages WHERE remote_id = ?`

	markDeliveredSQL = `
		UPDATE messages SET status = 'delivered'
		WHERE conversation_id = ? AND sender_id = ?
			AND server_created_at IS NOT NULL AND server_created_at <= ?
			AND (status IS NULL OR status = 'sent')`

	markReadSQL = `
		UPDATE messages SET status = 'read'
		WHERE conversation_id = ? AND sender_id = ?
			AND server_created_at IS NOT NULL AND server_created_at <= ?
			AND (status IS NULL OR status != 'read')`
)

// InsertMessage stores an optimistic outgoing message and bumps the conversation.
func (db *DB) InsertMessage(ctx context.Context, conversationID, senderID, text string) (*Message, error) {
	now := time.Now().UnixMilli()
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      now,
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, remote_id, conversation_id, sender_id, text, created_at, server_created_at, status)
			VALUES (?, NULL, ?, ?, ?, ?, NULL, NULL)`,
			m.ID, conversationID, senderID, text, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return touchConversation(ctx, tx, conversationID, now)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage returns a message by local id, or ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, selectMessageSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return m, err
}

// ListMessagesByConversation returns the messages of a conversation, oldest first.
func (db *DB) ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := db.QueryContext(ctx,
		selectMessageSQL+` WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m       Message
		remote  sql.NullString
		serverT sql.NullInt64
		status  sql.NullString
	)
	if err := row.Scan(&m.ID, &remote, &m.ConversationID, &m.SenderID, &m.Text, &m.CreatedAt, &serverT, &status); err != nil {
		return nil, err
	}
	m.RemoteID = remote.String
	m.ServerCreatedAt = serverT.Int64
	m.Status = statusFrom(status)
	return &m, nil
}

// UpsertMessageFromRemote mirrors a remote message. The row is keyed by
// remoteMsgID so duplicate deliveries are ignored; an existing row only has
// its server timestamp backfilled when it was still unset.
func (db *DB) UpsertMessageFromRemote(ctx context.Context, remoteMsgID, conversationID, senderID, text string, serverCreatedAt int64) error {
	createdAt := serverCreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	serverT := sql.NullInt64{Int64: serverCreatedAt, Valid: serverCreatedAt > 0}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertRemoteMessageSQL,
			uuid.NewString(), remoteMsgID, conversationID, senderID, text, createdAt, serverT); err != nil {
			return fmt.Errorf("upsert remote message: %w", err)
		}
		return touchConversation(ctx, tx, conversationID, createdAt)
	})
}

// MarkLocalAsSentByMatch reconciles an optimistic row with its echo: the most
// recently created pending row with the same conversation, sender and text
// becomes 'sent', takes the server timestamp and adopts remoteMsgID. A remote
// message that is already stored under remoteMsgID has been reconciled
// before, so redeliveries never match. Two pending rows with identical text
// cannot be told apart.
func (db *DB) MarkLocalAsSentByMatch(ctx context.Context, conversationID, senderID, text, remoteMsgID string, serverCreatedAt int64) (bool, error) {
	matched := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if remoteMsgID != "" {
			var n int
			if err := tx.QueryRowContext(ctx, countByRemoteIDSQL, remoteMsgID).Scan(&n); err != nil {
				return fmt.Errorf("check remote id: %w", err)
			}
			if n > 0 {
				return nil
			}
		}

		var localID string
		err := tx.QueryRowContext(ctx, findPendingMatchSQL, conversationID, senderID, text).Scan(&localID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find pending match: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET
				status = CASE WHEN status IS NULL THEN 'sent' ELSE status END,
				server_created_at = ?,
				remote_id = ?
			WHERE id = ?`,
			serverCreatedAt, nullString(remoteMsgID), localID); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		matched = true
		return nil
	})
	return matched, err
}

// ApplyStatusWatermarks upgrades the status of senderID's acknowledged
// messages: up to minDelivered become 'delivered' (only from none/sent), up
// to minRead become 'read'. A status is never lowered. Non-positive
// watermarks are skipped.
func (db *DB) ApplyStatusWatermarks(ctx context.Context, conversationID, senderID string, minDelivered, minRead int64) (int64, error) {
	var changed int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if minDelivered > 0 {
			res, err := tx.ExecContext(ctx, markDeliveredSQL, conversationID, senderID, minDelivered)
			if err != nil {
				return fmt.Errorf("mark delivered: %w", err)
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		if minRead > 0 {
			res, err := tx.ExecContext(ctx, markReadSQL, conversationID, senderID, minRead)
			if err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return nil
	})
	return changed, err
}
