package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

// Publisher sends an envelope under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher dials url and declares exchange as a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &rmqPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish opens a channel per call; amqp channels are not safe for concurrent use.
func (p *rmqPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	var correlationID string
	if env.Meta.CorrelationID != nil {
		correlationID = *env.Meta.CorrelationID
	}

	if err := ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Type:          env.Meta.Type,
		Body:          body,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	p.logger.Debug("event published", zap.String("routing_key", key), zap.String("exchange", p.exchange))
	return nil
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// Bridge forwards realtime events to the broker so other services can react to them.
type Bridge struct {
	publisher Publisher
	producer  string
}

func NewBridge(publisher Publisher, producer string) *Bridge {
	if publisher == nil {
		panic("events publisher is required")
	}
	return &Bridge{publisher: publisher, producer: producer}
}

// Publish implements realtime.Publisher. Rooms are a websocket concern and are
// not forwarded.
func (b *Bridge) Publish(ctx context.Context, ev realtime.Event, _ ...string) error {
	env := NewEnvelope(ev.Type, b.producer, middleware.GetReqID(ctx), ev)
	return b.publisher.Publish(ctx, env.Meta.Type, env)
}
