// Package gti adapts uazapi-style WhatsApp bridges.
package gti

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
)

const inboundEvent = "messages"

var statusEvents = map[string]struct{}{
	"messages_update": {},
	"message_ack":     {},
	"ack":             {},
}

var mediaKinds = map[string]struct{}{
	"image":    {},
	"video":    {},
	"audio":    {},
	"ptt":      {},
	"document": {},
	"sticker":  {},
}

type envelope struct {
	EventType string          `json:"EventType"`
	Message   json.RawMessage `json:"message"`
	Event     json.RawMessage `json:"event"`
	Data      json.RawMessage `json:"data"`
}

type messageKey struct {
	ID channel.FlexString `json:"id"`
}

type message struct {
	SenderPN         string             `json:"sender_pn"`
	Sender           string             `json:"sender"`
	ChatID           string             `json:"chatid"`
	Type             string             `json:"type"`
	MessageType      string             `json:"messageType"`
	Text             string             `json:"text"`
	Content          json.RawMessage    `json:"content"`
	MediaType        string             `json:"mediaType"`
	FileURL          string             `json:"fileURL"`
	MessageID        channel.FlexString `json:"messageid"`
	ID               channel.FlexString `json:"id"`
	Key              *messageKey        `json:"key"`
	MessageTimestamp channel.FlexString `json:"messageTimestamp"`
	SenderName       string             `json:"senderName"`
	FromMe           channel.FlexString `json:"fromMe"`
	IsGroup          channel.FlexString `json:"isGroup"`
	Status           channel.FlexString `json:"status"`
	Ack              channel.FlexString `json:"ack"`
	State            channel.FlexString `json:"state"`
}

func (m message) externalID() string {
	var keyID string
	if m.Key != nil {
		keyID = m.Key.ID.String()
	}
	return channel.FirstNonEmpty(m.MessageID.String(), m.ID.String(), keyID)
}

type contentBody struct {
	Text    string `json:"text"`
	Caption string `json:"caption"`
	URL     string `json:"URL"`
}

// content returns the text and media URL carried in the content field, which
// is a plain string for text messages and an object for media.
func (m message) content() (text, url string) {
	if len(m.Content) == 0 {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s, ""
	}
	var body contentBody
	if err := json.Unmarshal(m.Content, &body); err == nil {
		return channel.FirstNonEmpty(body.Caption, body.Text), body.URL
	}
	return "", ""
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendResponse struct {
	MessageID channel.FlexString `json:"messageid"`
	ID        channel.FlexString `json:"id"`
	Key       *messageKey        `json:"key"`
}

// Adapter implements channel.Adapter and channel.StatusParser for GTI.
type Adapter struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func New(client *http.Client, logger *zap.Logger) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, logger: logger, now: time.Now}
}

func (a *Adapter) Provider() channel.Provider { return channel.ProviderGTI }

func (a *Adapter) ParseInbound(raw []byte, conn channel.Connector) (channel.Inbound, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Debug("gti payload is not json", zap.Error(err))
		return channel.Inbound{}, false
	}
	if env.EventType != inboundEvent || len(env.Message) == 0 {
		return channel.Inbound{}, false
	}

	var msg message
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		a.logger.Debug("gti message has unexpected shape", zap.Error(err))
		return channel.Inbound{}, false
	}
	if msg.FromMe.String() == "true" {
		return channel.Inbound{}, false
	}

	userID := channel.FirstNonEmpty(msg.SenderPN, msg.Sender)
	if userID == "" {
		return channel.Inbound{}, false
	}

	contentText, contentURL := msg.content()
	in := channel.Inbound{
		Provider:          channel.ProviderGTI,
		ExternalUserID:    userID,
		ExternalChatID:    channel.FirstNonEmpty(msg.ChatID, userID),
		ExternalMessageID: msg.externalID(),
		SenderName:        strings.TrimSpace(msg.SenderName),
		Text:              channel.FirstNonEmpty(msg.Text, contentText),
		IsGroup:           msg.IsGroup.String() == "true",
		Raw:               json.RawMessage(raw),
	}

	if kind := mediaKind(msg); kind != "" {
		if url := channel.FirstNonEmpty(msg.FileURL, contentURL); url != "" {
			in.MediaType = kind
			in.MediaURL = url
		} else if in.Text == "" {
			in.Text = "[" + kind + "]"
		}
	}

	if in.Text == "" && !in.HasMedia() {
		return channel.Inbound{}, false
	}

	if ts, ok := msg.MessageTimestamp.UnixTime(); ok {
		in.Timestamp = ts
	} else {
		in.Timestamp = a.now().UTC()
	}
	return in, true
}

func mediaKind(msg message) string {
	for _, candidate := range []string{msg.MediaType, msg.Type, msg.MessageType} {
		kind := strings.ToLower(strings.TrimSpace(candidate))
		kind = strings.TrimSuffix(kind, "message")
		if kind == "ptt" {
			return "audio"
		}
		if _, ok := mediaKinds[kind]; ok {
			return kind
		}
	}
	return ""
}

func (a *Adapter) ParseStatusUpdate(raw []byte, conn channel.Connector) (channel.StatusUpdate, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return channel.StatusUpdate{}, false
	}
	if _, ok := statusEvents[env.EventType]; !ok {
		return channel.StatusUpdate{}, false
	}

	var msg message
	decoded := false
	for _, part := range []json.RawMessage{env.Message, env.Event, env.Data} {
		if len(part) == 0 {
			continue
		}
		if err := json.Unmarshal(part, &msg); err == nil {
			decoded = true
			break
		}
	}
	if !decoded {
		return channel.StatusUpdate{}, false
	}

	id := msg.externalID()
	status, ok := mapStatus(channel.FirstNonEmpty(msg.Status.String(), msg.Ack.String(), msg.State.String()))
	if id == "" || !ok {
		return channel.StatusUpdate{}, false
	}

	ts, ok := msg.MessageTimestamp.UnixTime()
	if !ok {
		ts = a.now().UTC()
	}
	return channel.StatusUpdate{ExternalMessageID: id, Status: status, Timestamp: ts}, true
}

func mapStatus(raw string) (channel.DeliveryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "delivered", "delivery", "delivery_ack", "3":
		return channel.StatusDelivered, true
	case "read", "read_ack", "4", "played", "5":
		return channel.StatusRead, true
	default:
		return "", false
	}
}

func (a *Adapter) SendText(ctx context.Context, conn channel.Connector, externalUserID, text string) (channel.SendResult, error) {
	cfg, err := channel.GTIConfigOf(conn)
	if err != nil {
		return channel.SendResult{}, err
	}

	var resp sendResponse
	err = channel.DoJSON(ctx, a.client, channel.ProviderGTI, http.MethodPost, cfg.BaseURL+"/send/text",
		map[string]string{"token": cfg.AuthToken()},
		sendTextRequest{Number: channel.StripJID(externalUserID), Text: text},
		&resp,
	)
	if err != nil {
		return channel.SendResult{}, err
	}

	var keyID string
	if resp.Key != nil {
		keyID = resp.Key.ID.String()
	}
	return channel.SendResult{ExternalMessageID: channel.FirstNonEmpty(resp.MessageID.String(), resp.ID.String(), keyID)}, nil
}

// SendMenu is not offered by the bridge.
func (a *Adapter) SendMenu(ctx context.Context, conn channel.Connector, externalUserID string, menu channel.Menu) (channel.SendResult, error) {
	return channel.SendResult{}, channel.ErrNotImplemented
}
