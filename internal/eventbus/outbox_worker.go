// Background outbox publisher: claims pending rows, publishes with
// confirms, retries with exponential backoff + jitter, dead-letters
// after outboxMaxAttempts. Operates against a standalone pgxpool.Pool
// rather than a repository method.
package eventbus

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/evently/bookings-core/internal/platform/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	outboxBatchSize   = 20
	outboxMaxAttempts = 12
	confirmWait       = 300 * time.Millisecond
)

func computeNextRetry(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	sec := math.Pow(2, float64(attempt))
	if sec < 5 {
		sec = 5
	}
	if sec > 1800 {
		sec = 1800
	}
	d := time.Duration(sec) * time.Second
	j := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + j
}

type OutboxWorker struct {
	pool     *pgxpool.Pool
	rabbitURL string
	exchange  string
}

func NewOutboxWorker(pool *pgxpool.Pool, rabbitURL, exchange string) *OutboxWorker {
	return &OutboxWorker{pool: pool, rabbitURL: rabbitURL, exchange: exchange}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	go func() {
		log := logger.Logger.With().Str("component", "outbox_worker").Logger()

		conn, err := amqp.Dial(w.rabbitURL)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect rabbitmq for outbox publishing")
			return
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Error().Err(err).Msg("failed to open rabbitmq channel for outbox publishing")
			return
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare(w.exchange, "topic", true, false, false, false, nil); err != nil {
			log.Error().Err(err).Str("exchange", w.exchange).Msg("exchange declare failed")
			return
		}
		if err := ch.Confirm(false); err != nil {
			log.Error().Err(err).Msg("publisher confirm enable failed")
			return
		}
		confirmCh := ch.NotifyPublish(make(chan amqp.Confirmation, 100))
		returnCh := ch.NotifyReturn(make(chan amqp.Return, 100))

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		var lastErr string
		var lastAt time.Time

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				if err := w.processBatch(ctx, ch, confirmCh, returnCh); err != nil {
					if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
						log.Warn().Err(err).Msg("outbox batch failed")
						lastErr = err.Error()
						lastAt = time.Now()
					}
				} else {
					lastErr = ""
				}
			}
		}
	}()
}

type outboxMsg struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	TraceID    string
	RoutingKey string
	Payload    []byte
	Attempt    int
}

func (w *OutboxWorker) processBatch(ctx context.Context, ch *amqp.Channel, confirmCh <-chan amqp.Confirmation, returnCh <-chan amqp.Return) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, message_id, trace_id, routing_key, payload, attempt
		FROM outbox
		WHERE status = 'pending' AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC, occurred_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, outboxBatchSize)
	if err != nil {
		return err
	}

	var messages []outboxMsg
	for rows.Next() {
		var m outboxMsg
		if err := rows.Scan(&m.ID, &m.MessageID, &m.TraceID, &m.RoutingKey, &m.Payload, &m.Attempt); err == nil {
			messages = append(messages, m)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(messages) == 0 {
		return tx.Commit(ctx)
	}

	inFlightUntil := time.Now().Add(15 * time.Second)
	for _, m := range messages {
		_, _ = tx.Exec(ctx, `UPDATE outbox SET next_retry_at = $2 WHERE id = $1`, m.ID, inFlightUntil)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log := logger.Logger.With().Str("component", "outbox_worker").Logger()

	for _, m := range messages {
	drain:
		for {
			select {
			case <-returnCh:
				continue
			case <-confirmCh:
				continue
			default:
				break drain
			}
		}

		pub := amqp.Publishing{
			ContentType:   "application/json",
			Body:          m.Payload,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now().UTC(),
			MessageId:     m.MessageID.String(),
			CorrelationId: m.TraceID,
			AppId:         "bookings-core",
		}

		if err := ch.PublishWithContext(ctx, w.exchange, m.RoutingKey, true, false, pub); err != nil {
			w.fail(ctx, m, fmt.Sprintf("publish error: %v", err))
			continue
		}

		var gotReturn, gotConfirm bool
		var conf amqp.Confirmation
		deadline := time.After(confirmWait * 2)

	waitLoop:
		for !gotConfirm {
			select {
			case ret := <-returnCh:
				gotReturn = true
				w.fail(ctx, m, fmt.Sprintf("NO_ROUTE: code=%d text=%s exchange=%s rk=%s",
					ret.ReplyCode, ret.ReplyText, ret.Exchange, ret.RoutingKey))
			case c := <-confirmCh:
				gotConfirm = true
				conf = c
			case <-deadline:
				w.fail(ctx, m, "confirm/return timeout")
				break waitLoop
			}
		}

		if gotReturn || !gotConfirm {
			continue
		}
		if !conf.Ack {
			w.fail(ctx, m, fmt.Sprintf("NACK: delivery_tag=%d", conf.DeliveryTag))
			continue
		}

		_, _ = w.pool.Exec(ctx, `UPDATE outbox SET status='sent', last_error=NULL WHERE id=$1`, m.ID)
		log.Info().
			Str("outbox_id", m.ID.String()).
			Str("message_id", m.MessageID.String()).
			Str("routing_key", m.RoutingKey).
			Msg("published")
	}

	return nil
}

func (w *OutboxWorker) fail(ctx context.Context, m outboxMsg, errMsg string) {
	log := logger.Logger.With().Str("component", "outbox_worker").Logger()

	nextAttempt := m.Attempt + 1
	if nextAttempt >= outboxMaxAttempts {
		_, _ = w.pool.Exec(ctx, `UPDATE outbox SET status='dead', attempt=$2, last_error=$3 WHERE id=$1`,
			m.ID, nextAttempt, errMsg)
		log.Error().
			Str("outbox_id", m.ID.String()).
			Str("routing_key", m.RoutingKey).
			Int("attempt", nextAttempt).
			Msg("outbox moved to DEAD")
		return
	}

	delay := computeNextRetry(nextAttempt)
	_, _ = w.pool.Exec(ctx, `
		UPDATE outbox SET attempt=$2, next_retry_at = NOW() + $3::interval, last_error=$4 WHERE id=$1
	`, m.ID, nextAttempt, fmt.Sprintf("%f seconds", delay.Seconds()), errMsg)
	log.Warn().
		Str("outbox_id", m.ID.String()).
		Str("routing_key", m.RoutingKey).
		Int("attempt", nextAttempt).
		Dur("retry_in", delay).
		Msg("outbox publish failed; scheduled retry")
}
