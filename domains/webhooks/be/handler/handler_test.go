package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/webhooks/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

type mockService struct {
	webhookFn   func(ctx context.Context, provider string, connectorID uuid.UUID, raw []byte) (service.Outcome, error)
	webchatFn   func(ctx context.Context, connectorID uuid.UUID, raw []byte) (service.Outcome, error)
	connectorFn func(ctx context.Context, connectorID uuid.UUID) (channel.Connector, error)
}

func (m *mockService) HandleWebhook(ctx context.Context, provider string, connectorID uuid.UUID, raw []byte) (service.Outcome, error) {
	if m.webhookFn == nil {
		panic("webhookFn not configured")
	}
	return m.webhookFn(ctx, provider, connectorID, raw)
}

func (m *mockService) HandleWebChat(ctx context.Context, connectorID uuid.UUID, raw []byte) (service.Outcome, error) {
	if m.webchatFn == nil {
		panic("webchatFn not configured")
	}
	return m.webchatFn(ctx, connectorID, raw)
}

func (m *mockService) WebChatConnector(ctx context.Context, connectorID uuid.UUID) (channel.Connector, error) {
	if m.connectorFn == nil {
		panic("connectorFn not configured")
	}
	return m.connectorFn(ctx, connectorID)
}

func (m *mockService) Wait() {}

type recordingWidgets struct {
	rooms []string
}

func (r *recordingWidgets) ServeWidget(w http.ResponseWriter, _ *http.Request, room string) error {
	r.rooms = append(r.rooms, room)
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func newRouter(t *testing.T, svc service.Service, widgets WidgetServer, cfg Config) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(svc, widgets, cfg, zaptest.NewLogger(t)).Routes(r)
	return r
}

func TestWebhookOutcomes(t *testing.T) {
	t.Parallel()

	connectorID := uuid.New()
	convID := uuid.New()
	cases := []struct {
		name        string
		outcome     service.Outcome
		contentType string
		check       func(t *testing.T, body string)
	}{
		{
			name:        "message",
			outcome:     service.Outcome{Kind: metrics.OutcomeMessage, ConversationID: &convID},
			contentType: "application/json",
			check: func(t *testing.T, body string) {
				require.JSONEq(t, `{"ok":true,"conversationId":"`+convID.String()+`"}`, body)
			},
		},
		{
			name:        "status",
			outcome:     service.Outcome{Kind: metrics.OutcomeStatus, ConversationID: &convID, Status: channel.StatusRead},
			contentType: "application/json",
			check: func(t *testing.T, body string) {
				require.JSONEq(t, `{"ok":true,"status":"READ","conversationId":"`+convID.String()+`"}`, body)
			},
		},
		{
			name:        "ignored",
			outcome:     service.Outcome{Kind: metrics.OutcomeIgnored},
			contentType: "text/plain",
			check: func(t *testing.T, body string) {
				require.Equal(t, "ignored", body)
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{
				webhookFn: func(_ context.Context, provider string, id uuid.UUID, raw []byte) (service.Outcome, error) {
					require.Equal(t, "gti", provider)
					require.Equal(t, connectorID, id)
					require.JSONEq(t, `{"EventType":"messages"}`, string(raw))
					return tc.outcome, nil
				},
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/gti/"+connectorID.String()+"/messages", strings.NewReader(`{"EventType":"messages"}`))
			newRouter(t, svc, &recordingWidgets{}, Config{}).ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Contains(t, rec.Header().Get("Content-Type"), tc.contentType)
			tc.check(t, rec.Body.String())
		})
	}
}

func TestWebhookErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		err  error
		want int
	}{
		{name: "unknown provider", path: "/webhooks/telegram/" + uuid.NewString(), err: service.ErrUnknownProvider, want: http.StatusNotFound},
		{name: "unknown connector", path: "/webhooks/gti/" + uuid.NewString(), err: service.ErrConnectorNotFound, want: http.StatusNotFound},
		{name: "connector id not a uuid", path: "/webhooks/gti/abc", want: http.StatusNotFound},
		{name: "unexpected", path: "/webhooks/official/" + uuid.NewString(), err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{
				webhookFn: func(context.Context, string, uuid.UUID, []byte) (service.Outcome, error) {
					return service.Outcome{}, tc.err
				},
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{}`))
			newRouter(t, svc, &recordingWidgets{}, Config{}).ServeHTTP(rec, req)

			require.Equal(t, tc.want, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gti/"+uuid.NewString(), strings.NewReader(strings.Repeat("x", 64)))
	newRouter(t, &mockService{}, &recordingWidgets{}, Config{MaxBodyBytes: 16}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebChatMessage(t *testing.T) {
	t.Parallel()

	connectorID, convID := uuid.New(), uuid.New()
	svc := &mockService{
		webchatFn: func(_ context.Context, id uuid.UUID, raw []byte) (service.Outcome, error) {
			if id != connectorID {
				return service.Outcome{}, service.ErrNotWebChat
			}
			return service.Outcome{Kind: metrics.OutcomeMessage, ConversationID: &convID}, nil
		},
	}
	router := newRouter(t, svc, &recordingWidgets{}, Config{})

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "accepted", body: `{"connectorId":"` + connectorID.String() + `","senderId":"v1","text":"oi"}`, want: http.StatusOK},
		{name: "connector not a uuid", body: `{"connectorId":"nope","senderId":"v1","text":"oi"}`, want: http.StatusBadRequest},
		{name: "no text or media", body: `{"connectorId":"` + connectorID.String() + `","senderId":"v1"}`, want: http.StatusBadRequest},
		{name: "sender with colon", body: `{"connectorId":"` + connectorID.String() + `","senderId":"a:b","text":"oi"}`, want: http.StatusBadRequest},
		{name: "not a webchat connector", body: `{"connectorId":"` + uuid.NewString() + `","senderId":"v1","text":"oi"}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{`, want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/external/webchat/message", strings.NewReader(tc.body)))
		require.Equal(t, tc.want, rec.Code, tc.name)
		if tc.want == http.StatusOK {
			require.JSONEq(t, `{"ok":true,"conversationId":"`+convID.String()+`"}`, rec.Body.String())
		}
	}
}

func TestWebChatSocket(t *testing.T) {
	t.Parallel()

	connectorID := uuid.New()
	svc := &mockService{
		connectorFn: func(_ context.Context, id uuid.UUID) (channel.Connector, error) {
			if id != connectorID {
				return channel.Connector{}, service.ErrConnectorNotFound
			}
			return channel.Connector{
				ID:       id,
				Provider: channel.ProviderWebChat,
				Config:   channel.WebChatConfig{AllowedOrigins: []string{"https://shop.example.com"}},
			}, nil
		},
	}
	widgets := &recordingWidgets{}
	router := newRouter(t, svc, widgets, Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/external/webchat/ws?connectorId="+connectorID.String()+"&senderId=v1", nil)
	req.Header.Set("Origin", "https://shop.example.com/")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	require.Equal(t, []string{realtime.WebChatRoom(connectorID, "v1")}, widgets.rooms)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/external/webchat/ws?connectorId="+connectorID.String()+"&senderId=v1", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/external/webchat/ws?connectorId="+connectorID.String(), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/external/webchat/ws?connectorId="+uuid.NewString()+"&senderId=v1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, widgets.rooms, 1)
}
