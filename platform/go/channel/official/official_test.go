package official

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
)

func testConnector(graphURL string) channel.Connector {
	return channel.Connector{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Provider: channel.ProviderOfficial,
		Config: channel.OfficialConfig{
			PhoneNumberID: "1055",
			AccessToken:   "EAAG",
			APIVersion:    "v20.0",
			GraphBaseURL:  graphURL,
		},
	}
}

func wrap(value string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":` + value + `}]}]}`)
}

func TestParseInboundText(t *testing.T) {
	t.Parallel()

	raw := wrap(`{"metadata":{"phone_number_id":"1055"},"contacts":[{"profile":{"name":"Maria"},"wa_id":"5511999"}],
		"messages":[{"from":"5511999","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"Oi"}}]}`)

	in, ok := New(nil, zaptest.NewLogger(t)).ParseInbound(raw, testConnector("https://graph.example.com"))
	require.True(t, ok)
	require.Equal(t, "5511999@s.whatsapp.net", in.ExternalUserID)
	require.Equal(t, in.ExternalUserID, in.ExternalChatID)
	require.Equal(t, "wamid.1", in.ExternalMessageID)
	require.Equal(t, "Maria", in.SenderName)
	require.Equal(t, "Oi", in.Text)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), in.Timestamp)
}

func TestParseInboundMedia(t *testing.T) {
	t.Parallel()

	a := New(nil, zaptest.NewLogger(t))

	in, ok := a.ParseInbound(wrap(`{"messages":[{"from":"5511","id":"w2","type":"image","image":{"id":"MEDIA1","caption":"receipt"}}]}`),
		testConnector("https://graph.example.com"))
	require.True(t, ok)
	require.Equal(t, "image", in.MediaType)
	require.Equal(t, "https://graph.example.com/v20.0/MEDIA1", in.MediaURL)
	require.Equal(t, "receipt", in.Text)

	in, ok = a.ParseInbound(wrap(`{"messages":[{"from":"5511","id":"w3","type":"document","document":{"link":"https://files.example.com/x.pdf"}}]}`),
		testConnector("https://graph.example.com"))
	require.True(t, ok)
	require.Equal(t, "document", in.MediaType)
	require.Equal(t, "https://files.example.com/x.pdf", in.MediaURL)
	require.Empty(t, in.Text)
	require.Equal(t, "[document]", in.Body())
}

func TestParseInboundInteractiveReply(t *testing.T) {
	t.Parallel()

	in, ok := New(nil, zaptest.NewLogger(t)).ParseInbound(
		wrap(`{"messages":[{"from":"5511","id":"w4","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"1","title":"Suporte"}}}]}`),
		testConnector(""))
	require.True(t, ok)
	require.Equal(t, "Suporte", in.Text)
}

func TestParseInboundIgnored(t *testing.T) {
	t.Parallel()

	a := New(nil, zaptest.NewLogger(t))
	cases := [][]byte{
		wrap(`{"statuses":[{"id":"w1","status":"read"}]}`),
		wrap(`{"messages":[{"id":"w1","type":"text","text":{"body":"no sender"}}]}`),
		wrap(`{"metadata":{"phone_number_id":"999"},"messages":[{"from":"5511","id":"w1","type":"text","text":{"body":"other number"}}]}`),
		wrap(`{"messages":[{"from":"5511","id":"w1","type":"reaction"}]}`),
		[]byte(`{"entry":[]}`),
		[]byte(`{"entry":[{"changes":[]}]}`),
		[]byte(`{"entry":"broken"}`),
		[]byte(`garbage`),
	}
	for _, raw := range cases {
		require.NotPanics(t, func() {
			_, ok := a.ParseInbound(raw, testConnector(""))
			require.False(t, ok, string(raw))
		})
	}
}

func TestParseStatusUpdate(t *testing.T) {
	t.Parallel()

	a := New(nil, zaptest.NewLogger(t))

	update, ok := a.ParseStatusUpdate(wrap(`{"statuses":[{"id":"wamid.9","status":"delivered","timestamp":"1700000001"}]}`), testConnector(""))
	require.True(t, ok)
	require.Equal(t, "wamid.9", update.ExternalMessageID)
	require.Equal(t, channel.StatusDelivered, update.Status)

	update, ok = a.ParseStatusUpdate(wrap(`{"statuses":[{"id":"wamid.9","status":"read"}]}`), testConnector(""))
	require.True(t, ok)
	require.Equal(t, channel.StatusRead, update.Status)

	_, ok = a.ParseStatusUpdate(wrap(`{"statuses":[{"id":"wamid.9","status":"sent"}]}`), testConnector(""))
	require.False(t, ok)

	_, ok = a.ParseStatusUpdate(wrap(`{"statuses":[{"id":"wamid.9","status":"failed"}]}`), testConnector(""))
	require.False(t, ok)
}

func TestSendText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v20.0/1055/messages", r.URL.Path)
		require.Equal(t, "Bearer EAAG", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "whatsapp", body["messaging_product"])
		require.Equal(t, "5511999", body["to"])
		require.Equal(t, "text", body["type"])
		require.Equal(t, map[string]any{"body": "Olá"}, body["text"])

		_, _ = io.WriteString(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`)
	}))
	defer server.Close()

	res, err := New(server.Client(), zaptest.NewLogger(t)).SendText(context.Background(), testConnector(server.URL), "5511999@s.whatsapp.net", "Olá")
	require.NoError(t, err)
	require.Equal(t, "wamid.OUT", res.ExternalMessageID)
}

func TestSendMenu(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type        string `json:"type"`
			Interactive struct {
				Type   string `json:"type"`
				Action struct {
					Sections []struct {
						Rows []map[string]string `json:"rows"`
					} `json:"sections"`
				} `json:"action"`
			} `json:"interactive"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "interactive", body.Type)
		require.Equal(t, "list", body.Interactive.Type)
		require.Len(t, body.Interactive.Action.Sections[0].Rows, 2)
		_, _ = io.WriteString(w, `{"messages":[{"id":"wamid.MENU"}]}`)
	}))
	defer server.Close()

	a := New(server.Client(), zaptest.NewLogger(t))
	res, err := a.SendMenu(context.Background(), testConnector(server.URL), "5511", channel.Menu{
		Body:    "Como podemos ajudar?",
		Options: []channel.MenuOption{{ID: "1", Title: "Vendas"}, {ID: "2", Title: "Suporte"}},
	})
	require.NoError(t, err)
	require.Equal(t, "wamid.MENU", res.ExternalMessageID)

	_, err = a.SendMenu(context.Background(), testConnector(server.URL), "5511", channel.Menu{Body: "empty"})
	require.ErrorIs(t, err, channel.ErrInvalidMenu)
}

func TestSendTextVendorError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid parameter"}}`)
	}))
	defer server.Close()

	_, err := New(server.Client(), zaptest.NewLogger(t)).SendText(context.Background(), testConnector(server.URL), "5511", "x")
	var vendorErr *channel.VendorError
	require.True(t, errors.As(err, &vendorErr))
	require.Equal(t, channel.ProviderOfficial, vendorErr.Provider)
	require.Equal(t, http.StatusBadRequest, vendorErr.StatusCode)
}
