package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// ExchangeName is the topic exchange events are published to
	ExchangeName = "papertrader.events"
	ExchangeType = "topic"
)

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
// Routing key: papertrader.<event_type> (e.g. papertrader.trade_completed).
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

// NewAMQPPublisher connects to the broker and declares the exchange
func NewAMQPPublisher(url string, log zerolog.Logger) (*AMQPPublisher, error) {
	l := log.With().Str("client", "amqp").Logger()

	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("invalid AMQP URL: %w", err)
	}

	var conn *amqp.Connection
	var err error
	// Broker may still be starting alongside us
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		l.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to RabbitMQ")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	l.Info().Str("exchange", ExchangeName).Msg("Connected to RabbitMQ")
	return &AMQPPublisher{conn: conn, ch: ch, log: l}, nil
}

// RoutingKey returns the routing key for an event type
func RoutingKey(eventType EventType) string {
	return "papertrader." + strings.ToLower(string(eventType))
}

// Publish sends one event as a persistent JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, event EventWithData) error {
	body, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	// amqp.Channel is not safe for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx,
		ExchangeName,           // exchange
		RoutingKey(event.Type), // routing key
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
}

// Close closes the channel and connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Failed to close AMQP channel")
	}
	return p.conn.Close()
}
