package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
)

// MaxBodyLength bounds the text of outbound messages and notes.
const MaxBodyLength = 4096

// Direction tells who wrote a message.
type Direction string

const (
	DirectionIn       Direction = "IN"
	DirectionOut      Direction = "OUT"
	DirectionInternal Direction = "INTERNAL"
)

// Message is the domain view of a stored message.
type Message struct {
	ID                uuid.UUID              `json:"id"`
	TenantID          uuid.UUID              `json:"tenantId"`
	ConversationID    uuid.UUID              `json:"conversationId"`
	Direction         Direction              `json:"direction"`
	SenderExternalID  *string                `json:"senderExternalId,omitempty"`
	SenderUserID      *uuid.UUID             `json:"senderUserId,omitempty"`
	Body              string                 `json:"body"`
	MediaType         *string                `json:"mediaType,omitempty"`
	MediaURL          *string                `json:"mediaUrl,omitempty"`
	ExternalMessageID *string                `json:"externalMessageId,omitempty"`
	Status            channel.DeliveryStatus `json:"status"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// StatusChange is the payload of a message.status event.
type StatusChange struct {
	ExternalMessageID string                 `json:"externalMessageId"`
	Status            channel.DeliveryStatus `json:"status"`
}

// ListOptions pages backwards through a conversation.
type ListOptions struct {
	Limit  int
	Before *time.Time
}

// Service appends messages to conversations and tracks delivery receipts.
type Service interface {
	SaveInbound(ctx context.Context, tenantID, conversationID uuid.UUID, in channel.Inbound) (Message, error)
	SaveOutbound(ctx context.Context, tenantID, conversationID uuid.UUID, text string, externalMessageID *string, senderUserID *uuid.UUID) (Message, error)
	SaveInternalNote(ctx context.Context, tenantID, conversationID uuid.UUID, text string, authorID *uuid.UUID) (Message, error)
	// UpdateMessageStatus returns the conversation id of the message, or nil when
	// no message carries externalMessageID.
	UpdateMessageStatus(ctx context.Context, tenantID uuid.UUID, externalMessageID string, status channel.DeliveryStatus) (*uuid.UUID, error)
	List(ctx context.Context, tenantID, conversationID uuid.UUID, opts ListOptions) ([]Message, error)
}

type service struct {
	repo      repo.Repository
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a messages Service. A nil publisher drops notifications.
func New(r repo.Repository, publisher realtime.Publisher, logger *zap.Logger) Service {
	if r == nil {
		panic("messages repository is required")
	}
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		repo:      r,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) SaveInbound(ctx context.Context, tenantID, conversationID uuid.UUID, in channel.Inbound) (Message, error) {
	body := in.Body()
	if body == "" {
		return Message{}, newValidationError("body", "inbound message has neither text nor media")
	}

	rec := persistence.MessageRecord{
		ID:                uuid.New(),
		TenantID:          tenantID,
		ConversationID:    conversationID,
		Direction:         string(DirectionIn),
		SenderExternalID:  optional(in.ExternalUserID),
		Body:              body,
		MediaType:         optional(in.MediaType),
		MediaURL:          optional(in.MediaURL),
		ExternalMessageID: optional(in.ExternalMessageID),
		Status:            string(channel.StatusDelivered),
		CreatedAt:         s.now(),
	}
	if !in.Timestamp.IsZero() {
		rec.CreatedAt = in.Timestamp.UTC()
	}

	var raw []byte
	if len(in.Raw) > 0 {
		raw = in.Raw
	}
	return s.insert(ctx, rec, raw)
}

func (s *service) SaveOutbound(ctx context.Context, tenantID, conversationID uuid.UUID, text string, externalMessageID *string, senderUserID *uuid.UUID) (Message, error) {
	body, err := validBody("text", text)
	if err != nil {
		return Message{}, err
	}
	if externalMessageID != nil && strings.TrimSpace(*externalMessageID) == "" {
		externalMessageID = nil
	}

	return s.insert(ctx, persistence.MessageRecord{
		ID:                uuid.New(),
		TenantID:          tenantID,
		ConversationID:    conversationID,
		Direction:         string(DirectionOut),
		SenderUserID:      senderUserID,
		Body:              body,
		ExternalMessageID: externalMessageID,
		Status:            string(channel.StatusSent),
		CreatedAt:         s.now(),
	}, nil)
}

func (s *service) SaveInternalNote(ctx context.Context, tenantID, conversationID uuid.UUID, text string, authorID *uuid.UUID) (Message, error) {
	body, err := validBody("text", text)
	if err != nil {
		return Message{}, err
	}

	return s.insert(ctx, persistence.MessageRecord{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      string(DirectionInternal),
		SenderUserID:   authorID,
		Body:           body,
		Status:         string(channel.StatusSent),
		CreatedAt:      s.now(),
	}, nil)
}

func (s *service) insert(ctx context.Context, rec persistence.MessageRecord, raw []byte) (Message, error) {
	if err := s.repo.Insert(ctx, rec, raw); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Message{}, ErrConversationNotFound
		}
		return Message{}, fmt.Errorf("save %s message: %w", strings.ToLower(rec.Direction), err)
	}

	msg := mapMessage(rec)
	s.notify(ctx, realtime.NewEvent(realtime.EventMessageCreated, msg.TenantID, &msg.ConversationID, msg))
	return msg, nil
}

func (s *service) UpdateMessageStatus(ctx context.Context, tenantID uuid.UUID, externalMessageID string, status channel.DeliveryStatus) (*uuid.UUID, error) {
	externalMessageID = strings.TrimSpace(externalMessageID)
	if externalMessageID == "" {
		return nil, nil
	}

	result, err := s.repo.UpdateStatusIfForward(ctx, tenantID, externalMessageID, string(status), status.Rank())
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	metrics.StatusUpdates.WithLabelValues(string(status), strconv.FormatBool(result.Applied)).Inc()
	if result.Applied {
		convID := result.ConversationID
		s.notify(ctx, realtime.NewEvent(realtime.EventMessageStatus, tenantID, &convID, StatusChange{
			ExternalMessageID: externalMessageID,
			Status:            status,
		}))
	}
	return &result.ConversationID, nil
}

func (s *service) List(ctx context.Context, tenantID, conversationID uuid.UUID, opts ListOptions) ([]Message, error) {
	if opts.Limit < 0 || opts.Limit > 200 {
		return nil, newValidationError("limit", "limit must be between 1 and 200")
	}

	records, err := s.repo.ListByConversation(ctx, tenantID, conversationID, opts.Limit, opts.Before)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(records))
	for _, rec := range records {
		out = append(out, mapMessage(rec))
	}
	return out, nil
}

// notify fans an event out. Delivery is best effort; the write already happened.
func (s *service) notify(ctx context.Context, ev realtime.Event) {
	if err := s.publisher.Publish(ctx, ev, realtime.Rooms(ev.TenantID, ev.ConversationID)...); err != nil {
		platformlogging.Ctx(ctx, s.logger).Warn("publish message event",
			zap.String("event", ev.Type), zap.Error(err))
	}
}

func validBody(field, text string) (string, error) {
	body := strings.TrimSpace(text)
	switch {
	case body == "":
		return "", newValidationError(field, field+" is required")
	case utf8.RuneCountInString(body) > MaxBodyLength:
		return "", newValidationError(field, fmt.Sprintf("%s must be at most %d characters", field, MaxBodyLength))
	}
	return body, nil
}

func mapMessage(rec persistence.MessageRecord) Message {
	return Message{
		ID:                rec.ID,
		TenantID:          rec.TenantID,
		ConversationID:    rec.ConversationID,
		Direction:         Direction(rec.Direction),
		SenderExternalID:  rec.SenderExternalID,
		SenderUserID:      rec.SenderUserID,
		Body:              rec.Body,
		MediaType:         rec.MediaType,
		MediaURL:          rec.MediaURL,
		ExternalMessageID: rec.ExternalMessageID,
		Status:            channel.DeliveryStatus(rec.Status),
		CreatedAt:         rec.CreatedAt,
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func newValidationError(field, message string) error {
	return &ValidationError{Fields: FieldErrors{field: {message}}}
}
