// Package webchat adapts the first-party website widget.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

// Payload is the body the widget posts for each visitor message.
type Payload struct {
	ConnectorID string              `json:"connectorId" validate:"required,uuid"`
	SenderID    string              `json:"senderId" validate:"required,max=128,excludesall=:"`
	SenderName  string              `json:"senderName,omitempty" validate:"omitempty,max=120"`
	Text        string              `json:"text" validate:"required_without=MediaURL,max=4096"`
	MediaURL    string              `json:"mediaUrl,omitempty" validate:"required_with=MediaType,omitempty,url"`
	MediaType   string              `json:"mediaType,omitempty" validate:"required_with=MediaURL,omitempty,oneof=image video audio document"`
	Timestamp   *channel.FlexString `json:"timestamp,omitempty"`
}

// ExternalUserID is the id a visitor is known by in the thread map.
func ExternalUserID(senderID string) string { return channel.WebChatPrefix + senderID }

// SenderID recovers the widget sender id from an external user id.
func SenderID(externalUserID string) string {
	return strings.TrimPrefix(externalUserID, channel.WebChatPrefix)
}

// Adapter implements channel.Adapter for the widget. Replies are pushed to the
// visitor's realtime room instead of a vendor API.
type Adapter struct {
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func New(publisher realtime.Publisher, logger *zap.Logger) *Adapter {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{publisher: publisher, logger: logger, now: time.Now}
}

func (a *Adapter) Provider() channel.Provider { return channel.ProviderWebChat }

func (a *Adapter) ParseInbound(raw []byte, conn channel.Connector) (channel.Inbound, bool) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return channel.Inbound{}, false
	}

	sender := strings.TrimSpace(p.SenderID)
	if sender == "" {
		return channel.Inbound{}, false
	}
	if id, err := uuid.Parse(p.ConnectorID); err == nil && conn.ID != uuid.Nil && id != conn.ID {
		a.logger.Warn("webchat payload for another connector",
			zap.String("connector_id", conn.ID.String()),
			zap.String("payload_connector_id", p.ConnectorID),
		)
		return channel.Inbound{}, false
	}

	userID := ExternalUserID(sender)
	in := channel.Inbound{
		Provider:       channel.ProviderWebChat,
		ExternalUserID: userID,
		ExternalChatID: userID,
		SenderName:     strings.TrimSpace(p.SenderName),
		Text:           strings.TrimSpace(p.Text),
		Raw:            json.RawMessage(raw),
	}
	if p.MediaURL != "" && p.MediaType != "" {
		in.MediaType = p.MediaType
		in.MediaURL = p.MediaURL
	}
	if in.Text == "" && !in.HasMedia() {
		return channel.Inbound{}, false
	}

	if p.Timestamp != nil {
		if ts, ok := p.Timestamp.UnixTime(); ok {
			in.Timestamp = ts
		} else if ts, err := time.Parse(time.RFC3339, p.Timestamp.String()); err == nil {
			in.Timestamp = ts.UTC()
		}
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = a.now().UTC()
	}
	return in, true
}

// OutboundMessage is the data of a webchat.message event.
type OutboundMessage struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

func (a *Adapter) SendText(ctx context.Context, conn channel.Connector, externalUserID, text string) (channel.SendResult, error) {
	if _, err := channel.WebChatConfigOf(conn); err != nil {
		return channel.SendResult{}, err
	}
	sender := SenderID(externalUserID)
	if sender == "" {
		return channel.SendResult{}, errors.New("webchat recipient is required")
	}

	id := "webchat-" + uuid.NewString()
	msg := OutboundMessage{ID: id, Text: text, At: a.now().UTC()}
	ev := realtime.NewEvent(realtime.EventWebChatMessage, conn.TenantID, nil, msg)
	if err := a.publisher.Publish(ctx, ev, realtime.WebChatRoom(conn.ID, sender)); err != nil {
		return channel.SendResult{}, err
	}
	return channel.SendResult{ExternalMessageID: id}, nil
}
