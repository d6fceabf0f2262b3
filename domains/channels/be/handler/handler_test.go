package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

func newRouter(t *testing.T, tenantID uuid.UUID) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := New(service.New(repo.NewMemoryRepository(), logger), logger)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), tenant.Space{TenantID: tenantID})))
		})
	})
	h.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	h.ServeHTTP(rec, req)
	return rec
}

func createChannel(t *testing.T, router http.Handler) ChannelResponse {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/channels", `{"name":"WhatsApp Principal"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ch ChannelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	return ch
}

func TestConnectorConfigIsRedacted(t *testing.T) {
	t.Parallel()
	router := newRouter(t, uuid.New())
	ch := createChannel(t, router)

	rec := do(t, router, http.MethodPost, "/channels/"+ch.ID.String()+"/connectors",
		`{"provider":"gti","config":{"baseUrl":"https://gti.example.com/","token":"super-secret"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotContains(t, rec.Body.String(), "super-secret")

	var conn ConnectorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conn))
	require.Equal(t, "GTI", conn.Provider)
	require.Equal(t, "https://gti.example.com", conn.Config["baseUrl"])
	require.Equal(t, redacted, conn.Config["token"])

	rec = do(t, router, http.MethodGet, "/channels/"+ch.ID.String()+"/connectors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "super-secret")
}

func TestConnectorUpdateAndBulkDelete(t *testing.T) {
	t.Parallel()
	router := newRouter(t, uuid.New())
	ch := createChannel(t, router)

	rec := do(t, router, http.MethodPost, "/channels/"+ch.ID.String()+"/connectors", `{"provider":"WEBCHAT"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conn ConnectorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conn))

	rec = do(t, router, http.MethodPatch, "/connectors/"+conn.ID.String(), `{"state":"DISABLED","config":{"allowedOrigins":["https://a.example.com"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conn))
	require.Equal(t, "DISABLED", conn.State)
	require.Equal(t, []any{"https://a.example.com"}, conn.Config["allowedOrigins"])

	missing := uuid.New()
	rec = do(t, router, http.MethodPost, "/connectors:bulk-delete", `{"ids":["`+conn.ID.String()+`","`+missing.String()+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deleted":["`+conn.ID.String()+`"]}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/channels/"+ch.ID.String()+"/connectors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestChannelErrors(t *testing.T) {
	t.Parallel()
	router := newRouter(t, uuid.New())
	ch := createChannel(t, router)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		field  string
	}{
		{name: "missing name", method: http.MethodPost, path: "/channels", body: `{}`, want: http.StatusBadRequest, field: "name"},
		{name: "unknown provider", method: http.MethodPost, path: "/channels/" + ch.ID.String() + "/connectors", body: `{"provider":"telegram"}`, want: http.StatusBadRequest, field: "provider"},
		{name: "invalid config", method: http.MethodPost, path: "/channels/" + ch.ID.String() + "/connectors", body: `{"provider":"OFFICIAL","config":{"phoneNumberId":"1"}}`, want: http.StatusBadRequest, field: "config"},
		{name: "unknown channel", method: http.MethodGet, path: "/channels/" + uuid.NewString(), want: http.StatusNotFound},
		{name: "bad channel id", method: http.MethodGet, path: "/channels/x/connectors", want: http.StatusBadRequest, field: "channelId"},
		{name: "unknown connector", method: http.MethodPatch, path: "/connectors/" + uuid.NewString(), body: `{"state":"ACTIVE"}`, want: http.StatusNotFound},
		{name: "empty bulk", method: http.MethodPost, path: "/connectors:bulk-delete", body: `{"ids":[]}`, want: http.StatusBadRequest, field: "ids"},
	}

	for _, tc := range cases {
		rec := do(t, router, tc.method, tc.path, tc.body)
		require.Equal(t, tc.want, rec.Code, tc.name)
		var problem httpx.Problem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem), tc.name)
		if tc.field != "" {
			require.Contains(t, problem.Errors, tc.field, tc.name)
		}
	}
}
