// Package events publishes helpdesk domain events to an AMQP topic exchange.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Meta describes one published event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the versioned event name, e.g. helpdesk.message.created.v1.
	Type string `json:"type"`
}

// Envelope is the message body on the wire.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// RoutingKey maps a realtime event type such as message.created to its
// versioned routing key.
func RoutingKey(eventType string) string {
	return "helpdesk." + eventType + ".v1"
}

// NewEnvelope wraps data for eventType. Empty producer or correlation id are omitted.
func NewEnvelope(eventType, producer, correlationID string, data any) Envelope {
	meta := Meta{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Type: RoutingKey(eventType),
	}
	if producer != "" {
		meta.Producer = &producer
	}
	if correlationID != "" {
		meta.CorrelationID = &correlationID
	}
	return Envelope{Meta: meta, Data: data}
}
