// Direct fire-and-forget publisher, grounded on event-service's
// rabbitmq/publisher.go: publisher-confirm mode with mandatory returns
// and lazy reconnect, used for publishes that don't need the
// transactional-outbox exactly-once-enqueue guarantee (SPEC_FULL §4.5).
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/platform/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishWait = 150 * time.Millisecond

type Publisher struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("missing rabbit url")
	}
	if exchange == "" {
		return nil, errors.New("missing rabbit exchange")
	}
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}

var _ domain.Publisher = (*Publisher)(nil)

// Publish implements domain.Publisher. Failures are logged by callers,
// not retried here — publishes are best-effort per SPEC_FULL §7.
func (p *Publisher) Publish(ctx context.Context, routingKey string, message any) error {
	if routingKey == "" {
		return errors.New("missing routing key")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.conn == nil || p.conn.IsClosed() {
		_ = p.Close()
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("rabbit reconnect failed: %w", err)
		}
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, true, false, pub); err != nil {
		return err
	}

	timer := time.NewTimer(publishWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ret := <-p.returnCh:
			logger.Logger.Error().
				Str("exchange", p.exchange).
				Str("routing_key", routingKey).
				Int("code", int(ret.ReplyCode)).
				Str("reason", ret.ReplyText).
				Msg("publish returned (no route)")
			return fmt.Errorf("rabbit returned: %d %s", ret.ReplyCode, ret.ReplyText)

		case conf := <-p.confirmCh:
			if !conf.Ack {
				return errors.New("publish not acked")
			}
			return nil

		case <-timer.C:
			logger.Logger.Warn().
				Str("exchange", p.exchange).
				Str("routing_key", routingKey).
				Msg("publish confirm/return timeout window elapsed")
			return nil
		}
	}
}
