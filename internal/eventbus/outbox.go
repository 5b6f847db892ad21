package eventbus

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EnqueueTx inserts a pending outbox row in the same transaction as a
// business mutation, guaranteeing the message is never lost between
// commit and publish (SPEC_FULL §4.5, grounded on this pattern
// outbox-per-mutation pattern in infrastructure/postgres/repository.go).
func EnqueueTx(ctx context.Context, tx pgx.Tx, traceID, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (id, message_id, trace_id, routing_key, payload, occurred_at, attempt, next_retry_at, status)
		VALUES ($1, $2, $3, $4, $5, NOW(), 0, NOW(), 'pending')
	`, uuid.New(), uuid.New(), traceID, routingKey, body)
	return err
}
