// Idempotent-consumer (inbox) dedupe fence: records each processed
// message ID so redeliveries are no-ops.
package eventbus

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TryMarkProcessedTx inserts (messageID, handlerName) and reports whether
// this is the first time it has been seen, within the caller's tx.
func TryMarkProcessedTx(ctx context.Context, tx pgx.Tx, messageID, handlerName string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_messages (message_id, handler_name, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (message_id, handler_name) DO NOTHING
	`, messageID, handlerName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ProcessOnce wraps the dedupe fence and the business logic fn in a
// single transaction: fn only runs if this messageID/handlerName pair
// hasn't been processed before. Returns processed=false (no error) on a
// duplicate delivery, which the caller acks without reapplying effects.
func ProcessOnce(ctx context.Context, pool *pgxpool.Pool, messageID, handlerName string, fn func(ctx context.Context, tx pgx.Tx) error) (processed bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if messageID == "" {
		// best-effort: no dedupe key available, just run it
		if err := fn(ctx, tx); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	first, err := TryMarkProcessedTx(ctx, tx, messageID, handlerName)
	if err != nil {
		return false, err
	}
	if !first {
		return false, tx.Commit(ctx)
	}

	if err := fn(ctx, tx); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
