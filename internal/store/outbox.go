package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/chatsync/internal/errs"
)

const selectOpSQL = `SELECT id, type, payload, created_at, attempt_count, last_error FROM sync_ops`

// EnqueueOp appends a pending mutation to the outbox.
func (db *DB) EnqueueOp(ctx context.Context, opType string, payload []byte) (*OutboxOp, error) {
	op := &OutboxOp{
		Type:      opType,
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO sync_ops (type, payload, created_at, attempt_count, last_error) VALUES (?, ?, ?, 0, '')`,
		opType, string(payload), op.CreatedAt)
	if err != nil {
		return nil, err
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return op, nil
}

// OldestOp returns the head of the outbox, or ErrNotFound when empty.
func (db *DB) OldestOp(ctx context.Context) (*OutboxOp, error) {
	op, err := scanOp(db.QueryRowContext(ctx, selectOpSQL+` ORDER BY created_at ASC, id ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return op, err
}

// DeleteOp removes an op after its remote effect was confirmed.
func (db *DB) DeleteOp(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sync_ops WHERE id = ?`, id)
	return err
}

// RecordOpFailure increments the attempt counter and stores the error text.
func (db *DB) RecordOpFailure(ctx context.Context, id int64, errMsg string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sync_ops SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ?`, errMsg, id)
	return err
}

// ListOps returns the outbox in drain order.
func (db *DB) ListOps(ctx context.Context) ([]OutboxOp, error) {
	rows, err := db.QueryContext(ctx, selectOpSQL+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []OutboxOp
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// CountOps returns the number of pending ops.
func (db *DB) CountOps(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_ops`).Scan(&n)
	return n, err
}

func scanOp(row rowScanner) (*OutboxOp, error) {
	var (
		op      OutboxOp
		payload string
	)
	if err := row.Scan(&op.ID, &op.Type, &payload, &op.CreatedAt, &op.AttemptCount, &op.LastError); err != nil {
		return nil, err
	}
	op.Payload = []byte(payload)
	return &op, nil
}
