// Package official adapts the Meta WhatsApp Cloud API.
package official

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
)

const maxListRows = 10

type webhook struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value value  `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type value struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []message `json:"messages"`
	Statuses []struct {
		ID        string             `json:"id"`
		Status    string             `json:"status"`
		Timestamp channel.FlexString `json:"timestamp"`
	} `json:"statuses"`
}

type media struct {
	ID      string `json:"id"`
	Link    string `json:"link"`
	Caption string `json:"caption"`
}

type message struct {
	From      string             `json:"from"`
	ID        string             `json:"id"`
	Timestamp channel.FlexString `json:"timestamp"`
	Type      string             `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Audio    *media `json:"audio"`
	Document *media `json:"document"`
	Sticker  *media `json:"sticker"`
	Button   *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

func (m message) media() (string, *media) {
	switch {
	case m.Image != nil:
		return "image", m.Image
	case m.Video != nil:
		return "video", m.Video
	case m.Audio != nil:
		return "audio", m.Audio
	case m.Document != nil:
		return "document", m.Document
	case m.Sticker != nil:
		return "sticker", m.Sticker
	default:
		return "", nil
	}
}

func (m message) text() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	default:
		return ""
	}
}

// Adapter implements channel.Adapter, channel.StatusParser and channel.MenuSender
// for the Cloud API.
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

func (a *Adapter) Provider() channel.Provider { return channel.ProviderOfficial }

// firstValue returns entry[0].changes[0].value.
func firstValue(raw []byte) (value, error) {
	var hook webhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return value{}, err
	}
	if len(hook.Entry) == 0 || len(hook.Entry[0].Changes) == 0 {
		return value{}, fmt.Errorf("webhook has no changes")
	}
	return hook.Entry[0].Changes[0].Value, nil
}

func (a *Adapter) ParseInbound(raw []byte, conn channel.Connector) (in channel.Inbound, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("official inbound parse panicked",
				zap.Any("panic", r),
				zap.String("connector_id", conn.ID.String()),
			)
			in, ok = channel.Inbound{}, false
		}
	}()

	val, err := firstValue(raw)
	if err != nil || len(val.Messages) == 0 {
		return channel.Inbound{}, false
	}
	cfg, _ := channel.OfficialConfigOf(conn)
	if !a.forThisNumber(val, cfg, conn) {
		return channel.Inbound{}, false
	}

	msg := val.Messages[0]
	from := strings.TrimSpace(msg.From)
	if from == "" {
		return channel.Inbound{}, false
	}
	userID := channel.NormalizeWhatsAppID(from)
	if userID == "" {
		return channel.Inbound{}, false
	}

	in = channel.Inbound{
		Provider:          channel.ProviderOfficial,
		ExternalUserID:    userID,
		ExternalChatID:    userID,
		ExternalMessageID: msg.ID,
		Text:              msg.text(),
		Raw:               json.RawMessage(raw),
	}
	if len(val.Contacts) > 0 {
		in.SenderName = strings.TrimSpace(val.Contacts[0].Profile.Name)
	}

	if kind, m := msg.media(); m != nil {
		if url := mediaURL(cfg, m); url != "" {
			in.MediaType = kind
			in.MediaURL = url
		}
		if m.Caption != "" {
			in.Text = m.Caption
		} else if in.Text == "" && !in.HasMedia() {
			in.Text = "[" + kind + "]"
		}
	}

	if in.Text == "" && !in.HasMedia() {
		return channel.Inbound{}, false
	}

	if ts, ok := msg.Timestamp.UnixTime(); ok {
		in.Timestamp = ts
	} else {
		in.Timestamp = a.now().UTC()
	}
	return in, true
}

// forThisNumber drops webhooks addressed to another phone number id, which
// happens when one app serves several numbers.
func (a *Adapter) forThisNumber(val value, cfg channel.OfficialConfig, conn channel.Connector) bool {
	got := val.Metadata.PhoneNumberID
	if got == "" || cfg.PhoneNumberID == "" || got == cfg.PhoneNumberID {
		return true
	}
	a.logger.Warn("official webhook for another phone number",
		zap.String("connector_id", conn.ID.String()),
		zap.String("phone_number_id", got),
	)
	return false
}

func mediaURL(cfg channel.OfficialConfig, m *media) string {
	if m.Link != "" {
		return m.Link
	}
	if m.ID == "" {
		return ""
	}
	base := channel.FirstNonEmpty(cfg.GraphBaseURL, channel.DefaultGraphBaseURL)
	version := channel.FirstNonEmpty(cfg.APIVersion, channel.DefaultOfficialAPIVersion)
	return base + "/" + version + "/" + m.ID
}

func (a *Adapter) ParseStatusUpdate(raw []byte, conn channel.Connector) (update channel.StatusUpdate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("official status parse panicked", zap.Any("panic", r))
			update, ok = channel.StatusUpdate{}, false
		}
	}()

	val, err := firstValue(raw)
	if err != nil || len(val.Statuses) == 0 {
		return channel.StatusUpdate{}, false
	}

	st := val.Statuses[0]
	var status channel.DeliveryStatus
	switch strings.ToLower(st.Status) {
	case "delivered":
		status = channel.StatusDelivered
	case "read":
		status = channel.StatusRead
	default:
		return channel.StatusUpdate{}, false
	}
	if st.ID == "" {
		return channel.StatusUpdate{}, false
	}

	ts, ok := st.Timestamp.UnixTime()
	if !ok {
		ts = a.now().UTC()
	}
	return channel.StatusUpdate{ExternalMessageID: st.ID, Status: status, Timestamp: ts}, true
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *Adapter) send(ctx context.Context, conn channel.Connector, body map[string]any) (channel.SendResult, error) {
	cfg, err := channel.OfficialConfigOf(conn)
	if err != nil {
		return channel.SendResult{}, err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", cfg.GraphBaseURL, cfg.APIVersion, cfg.PhoneNumberID)
	var resp sendResponse
	if err := channel.DoJSON(ctx, a.client, channel.ProviderOfficial, http.MethodPost, url,
		map[string]string{"Authorization": "Bearer " + cfg.AccessToken}, body, &resp,
	); err != nil {
		return channel.SendResult{}, err
	}

	var result channel.SendResult
	if len(resp.Messages) > 0 {
		result.ExternalMessageID = resp.Messages[0].ID
	}
	return result, nil
}

func (a *Adapter) SendText(ctx context.Context, conn channel.Connector, externalUserID, text string) (channel.SendResult, error) {
	return a.send(ctx, conn, map[string]any{
		"messaging_product": "whatsapp",
		"to":                channel.StripJID(externalUserID),
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

// SendMenu sends an interactive list with one section.
func (a *Adapter) SendMenu(ctx context.Context, conn channel.Connector, externalUserID string, menu channel.Menu) (channel.SendResult, error) {
	if strings.TrimSpace(menu.Body) == "" || len(menu.Options) == 0 || len(menu.Options) > maxListRows {
		return channel.SendResult{}, fmt.Errorf("%w: body and 1 to %d options are required", channel.ErrInvalidMenu, maxListRows)
	}

	rows := make([]map[string]string, 0, len(menu.Options))
	for _, opt := range menu.Options {
		row := map[string]string{"id": opt.ID, "title": opt.Title}
		if opt.Description != "" {
			row["description"] = opt.Description
		}
		rows = append(rows, row)
	}

	interactive := map[string]any{
		"type": "list",
		"body": map[string]string{"text": menu.Body},
		"action": map[string]any{
			"button":   channel.FirstNonEmpty(menu.Button, "Opções"),
			"sections": []map[string]any{{"title": channel.FirstNonEmpty(menu.Header, "Opções"), "rows": rows}},
		},
	}
	if menu.Header != "" {
		interactive["header"] = map[string]string{"type": "text", "text": menu.Header}
	}

	return a.send(ctx, conn, map[string]any{
		"messaging_product": "whatsapp",
		"to":                channel.StripJID(externalUserID),
		"type":              "interactive",
		"interactive":       interactive,
	})
}
