// Package events publishes pipeline audit events to RabbitMQ when a broker
// is configured. Publishing is best-effort: a broker failure never fails the
// pipeline operation that emitted the event.
package events

import (
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Event types emitted by the pipeline.
const (
	TypeMessageDispatched = "message.dispatched"
	TypeMessageReceived   = "message.received"
	TypeArchiveCompleted  = "archive.completed"
)

// Publisher writes audit events to one durable queue.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

type envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewPublisher connects to the broker. An empty URL disables publishing
// entirely; a connection failure also degrades to disabled, since audit
// events are not worth taking the pipeline down for.
func NewPublisher(url, queue string) *Publisher {
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set, event publishing disabled")
		return &Publisher{}
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event publishing disabled")
		return &Publisher{}
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event publishing disabled")
		_ = conn.Close()
		return &Publisher{}
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &Publisher{conn: conn, channel: channel, queue: queue, enabled: true}
}

// Publish emits one event. Errors are logged, never returned. A nil
// publisher is valid and silent.
func (p *Publisher) Publish(eventType string, data interface{}) {
	if p == nil || !p.enabled {
		return
	}

	body, err := json.Marshal(envelope{Event: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to marshal event payload")
		return
	}

	// Declare is idempotent.
	if _, err := p.channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish("", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Str("queue", p.queue).Msg("Could not publish event")
		return
	}
	log.Debug().Str("eventType", eventType).Str("queue", p.queue).Msg("Published event")
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	if p == nil || !p.enabled {
		return
	}
	_ = p.channel.Close()
	_ = p.conn.Close()
}
