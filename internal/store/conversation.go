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
	selectConversationSQL = `SELECT id, remote_id, created_at, updated_at FROM conversations`

	insertParticipantSQL = `
		INSERT INTO participants (conversation_id, user_id, role)
		VALUES (?, ?, 'member')
		ON CONFLICT(conversation_id, user_id) DO NOTHING`

	listPreviewsSQL = `
		SELECT c.id, c.remote_id, c.updated_at,
			(SELECT m.text FROM messages m WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.rowid DESC LIMIT 1),
			(SELECT m.created_at FROM messages m WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.rowid DESC LIMIT 1),
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id
				AND m.sender_id != ?
				AND m.created_at > COALESCE(
					(SELECT r.last_read_at FROM receipts r WHERE r.conversation_id = c.id AND r.user_id = ?),
					-1))
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id AND p.user_id = ?
		ORDER BY c.updated_at DESC, c.rowid DESC`
)

// InsertConversation creates an optimistic conversation with the given members.
// No remote interaction happens here.
func (db *DB) InsertConversation(ctx context.Context, participantIDs []string) (*Conversation, error) {
	now := time.Now().UnixMilli()
	conv := &Conversation{
		Ref:       LocalOnly{Local: uuid.NewString()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, remote_id, created_at, updated_at) VALUES (?, NULL, ?, ?)`,
			conv.ID(), now, now); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return insertParticipants(ctx, tx, conv.ID(), participantIDs)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func insertParticipants(ctx context.Context, tx *sql.Tx, convID string, userIDs []string) error {
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertParticipantSQL, convID, uid); err != nil {
			return fmt.Errorf("insert participant %q: %w", uid, err)
		}
	}
	return nil
}

// GetConversation returns a conversation by local id, or ErrNotFound.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx, selectConversationSQL+` WHERE id = ?`, id))
}

// GetConversationByRemoteID returns the conversation linked to remoteID, or ErrNotFound.
func (db *DB) GetConversationByRemoteID(ctx context.Context, remoteID string) (*Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx, selectConversationSQL+` WHERE remote_id = ?`, remoteID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		id     string
		remote sql.NullString
		c      Conversation
	)
	err := row.Scan(&id, &remote, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Ref = refFrom(id, remote)
	return &c, nil
}

// ListParticipants returns the user ids in a conversation.
func (db *DB) ListParticipants(ctx context.Context, convID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id`, convID)
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

// LinkConversation assigns the remote id of a conversation. The assignment
// happens at most once: relinking to the same id is a no-op, a different id
// returns ErrAlreadyLinked.
func (db *DB) LinkConversation(ctx context.Context, localID, remoteID string) (*Conversation, error) {
	var conv *Conversation
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanConversation(tx.QueryRowContext(ctx, selectConversationSQL+` WHERE id = ?`, localID))
		if err != nil {
			return err
		}
		if rid, ok := RemoteID(c.Ref); ok {
			if rid != remoteID {
				return fmt.Errorf("link %s to %s (has %s): %w", localID, remoteID, rid, errs.ErrAlreadyLinked)
			}
			conv = c
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET remote_id = ? WHERE id = ? AND remote_id IS NULL`,
			remoteID, localID); err != nil {
			return fmt.Errorf("link conversation: %w", err)
		}
		c.Ref = Linked{Local: localID, Remote: remoteID}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// EnsureConversationForRemote finds or creates the local row for a remote
// conversation and upserts its participants. When no row carries remoteID
// yet, an unlinked row whose local id equals clientID (the creator's own
// optimistic row) is adopted instead of inserting a duplicate.
func (db *DB) EnsureConversationForRemote(ctx context.Context, remoteID string, participantIDs []string, createdAt, updatedAt int64, clientID string) (*Conversation, bool, error) {
	var (
		conv    *Conversation
		created bool
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanConversation(tx.QueryRowContext(ctx, selectConversationSQL+` WHERE remote_id = ?`, remoteID))
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrNotFound):
			c, created, err = adoptOrInsert(ctx, tx, remoteID, createdAt, updatedAt, clientID)
			if err != nil {
				return err
			}
		default:
			return err
		}

		if updatedAt > c.UpdatedAt {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?`,
				updatedAt, c.ID(), updatedAt); err != nil {
				return fmt.Errorf("bump conversation: %w", err)
			}
			c.UpdatedAt = updatedAt
		}
		conv = c
		return insertParticipants(ctx, tx, c.ID(), participantIDs)
	})
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func adoptOrInsert(ctx context.Context, tx *sql.Tx, remoteID string, createdAt, updatedAt int64, clientID string) (*Conversation, bool, error) {
	if clientID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET remote_id = ? WHERE id = ? AND remote_id IS NULL`, remoteID, clientID)
		if err != nil {
			return nil, false, fmt.Errorf("adopt conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			c, err := scanConversation(tx.QueryRowContext(ctx, selectConversationSQL+` WHERE id = ?`, clientID))
			return c, false, err
		}
	}

	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	if updatedAt < createdAt {
		updatedAt = createdAt
	}
	c := &Conversation{
		Ref:       Linked{Local: uuid.NewString(), Remote: remoteID},
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, remote_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID(), remoteID, createdAt, updatedAt); err != nil {
		return nil, false, fmt.Errorf("insert remote conversation: %w", err)
	}
	return c, true, nil
}

// ListConversationsWithPreview returns the conversations userID takes part
// in, most recently updated first. UnreadCount counts messages from other
// senders newer than the caller's receipt (all of them without a receipt).
func (db *DB) ListConversationsWithPreview(ctx context.Context, userID string) ([]ConversationPreview, error) {
	rows, err := db.QueryContext(ctx, listPreviewsSQL, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var previews []ConversationPreview
	for rows.Next() {
		var (
			p        ConversationPreview
			remote   sql.NullString
			lastText sql.NullString
			lastTime sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &remote, &p.UpdatedAt, &lastText, &lastTime, &p.UnreadCount); err != nil {
			return nil, err
		}
		p.RemoteID = remote.String
		p.LastMessageText = lastText.String
		p.LastMessageTime = lastTime.Int64
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

func touchConversation(ctx context.Context, ex execer, convID string, at int64) error {
	_, err := ex.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?`, at, convID, at)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
