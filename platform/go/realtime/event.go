// Package realtime fans helpdesk events out to websocket subscribers.
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to subscribers.
const (
	EventMessageCreated      = "message.created"
	EventMessageStatus       = "message.status"
	EventConversationUpdated = "conversation.updated"
	EventWebChatMessage      = "webchat.message"
)

// Event is the frame written to websocket clients.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"`
	TenantID       uuid.UUID  `json:"tenantId"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Data           any        `json:"data,omitempty"`
	At             time.Time  `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType string, tenantID uuid.UUID, conversationID *uuid.UUID, data any) Event {
	return Event{
		ID:             uuid.New(),
		Type:           eventType,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Data:           data,
		At:             time.Now().UTC(),
	}
}

// Publisher delivers an event to the subscribers of the given rooms.
type Publisher interface {
	Publish(ctx context.Context, ev Event, rooms ...string) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event, rooms ...string) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev, rooms...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event, ...string) error { return nil }

func TenantRoom(tenantID uuid.UUID) string { return "tenant:" + tenantID.String() }

func ConversationRoom(conversationID uuid.UUID) string { return "conversation:" + conversationID.String() }

// WebChatRoom is the room of one widget visitor on one connector.
func WebChatRoom(connectorID uuid.UUID, senderID string) string {
	return "webchat:" + connectorID.String() + ":" + senderID
}

// Rooms returns the tenant room plus the conversation room when known.
func Rooms(tenantID uuid.UUID, conversationID *uuid.UUID) []string {
	rooms := []string{TenantRoom(tenantID)}
	if conversationID != nil {
		rooms = append(rooms, ConversationRoom(*conversationID))
	}
	return rooms
}
