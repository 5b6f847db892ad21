// Subscriber consumes catalog-originated events to sync the local
// Capacity Ledger (SPEC_FULL §4.5) using an idempotent dispatch backed
// by the inbox fence.
package eventbus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/eventbus/contracts"
	"github.com/evently/bookings-core/internal/platform/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

const supportedVersion = 1

type Subscriber struct {
	rabbitURL string
	exchange  string
	pool      *pgxpool.Pool
	ledger    domain.CapacityLedger
}

func NewSubscriber(rabbitURL, exchange string, pool *pgxpool.Pool, ledger domain.CapacityLedger) *Subscriber {
	return &Subscriber{rabbitURL: rabbitURL, exchange: exchange, pool: pool, ledger: ledger}
}

func (s *Subscriber) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "event_subscriber").Logger()

	conn, err := amqp.Dial(s.rabbitURL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q, err := ch.QueueDeclare("bookings-core.event-snapshots", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	for _, rk := range []string{"evently.events.created", "evently.events.updated", "evently.events.deleted"} {
		if err := ch.QueueBind(q.Name, rk, s.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	go func() {
		defer conn.Close()
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := s.handleDelivery(ctx, d); err != nil {
					log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("handler failed, requeueing")
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (s *Subscriber) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	var env contracts.DomainEventEnvelope[json.RawMessage]
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logger.Logger.Error().Err(err).Msg("malformed envelope, dropping")
		return nil // poison message: drop, don't requeue forever
	}
	if env.Version != 0 && env.Version != supportedVersion {
		logger.Logger.Warn().Int("version", env.Version).Msg("unsupported envelope version, dropping")
		return nil
	}

	msgID := env.MessageID
	if msgID == "" {
		msgID = d.MessageId
	}
	if msgID == "" {
		sum := sha256.Sum256(d.Body)
		msgID = hex.EncodeToString(sum[:])
	}

	processed, err := ProcessOnce(ctx, s.pool, msgID, d.RoutingKey, func(ctx context.Context, _ pgx.Tx) error {
		return s.apply(ctx, d.RoutingKey, env.Payload)
	})
	if err != nil {
		return err
	}
	if !processed {
		logger.Logger.Debug().Str("message_id", msgID).Msg("duplicate delivery, skipped")
	}
	return nil
}

// apply performs the idempotent-by-construction ledger sync. EventCreated
// uses ON CONFLICT DO NOTHING (idempotent); EventUpdated recomputes from
// the payload (idempotent); EventDeleted is a no-op if the row is already
// gone (idempotent) — so these don't strictly need the inbox fence, but
// ProcessOnce still dedupes at-least-once redelivery noise in logs.
func (s *Subscriber) apply(ctx context.Context, routingKey string, raw json.RawMessage) error {
	switch routingKey {
	case "evently.events.created", "evently.events.updated":
		var p contracts.EventPublishedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		eventID, err := uuid.Parse(p.EventID)
		if err != nil {
			return nil // malformed id, drop
		}
		capacity := 0
		if p.Capacity != nil {
			capacity = *p.Capacity
		}
		if routingKey == "evently.events.created" {
			_, err = s.ledger.Create(ctx, eventID, capacity, firstNonEmptyPrice(p.Price), p.Name)
			return err
		}
		if _, err := s.ledger.Get(ctx, eventID); err != nil {
			if err == domain.ErrEventNotFound {
				_, err = s.ledger.Create(ctx, eventID, capacity, firstNonEmptyPrice(p.Price), p.Name)
				return err
			}
			return err
		}
		_, err = s.ledger.UpdateDetails(ctx, eventID, capacity, firstNonEmptyPrice(p.Price), p.Name)
		return err

	case "evently.events.deleted":
		var p contracts.EventDeletedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		eventID, err := uuid.Parse(p.EventID)
		if err != nil {
			return nil
		}
		return s.ledger.Delete(ctx, eventID)

	default:
		logger.Logger.Debug().Str("routing_key", routingKey).Msg("ignoring unrecognized routing key")
		return nil
	}
}

func firstNonEmptyPrice(p string) string {
	if p == "" {
		return "0"
	}
	return p
}
