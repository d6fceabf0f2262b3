package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/service"
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
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rec, req.WithContext(context.Background()))
	return rec
}

func TestQueueLifecycle(t *testing.T) {
	t.Parallel()
	router := newRouter(t, uuid.New())

	rec := do(t, router, http.MethodPost, "/queues", `{"name":"Suporte"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "ACTIVE", created.State)

	rec = do(t, router, http.MethodPost, "/queues", `{"name":"suporte"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPatch, "/queues/"+created.ID.String(), `{"name":"Suporte N1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Suporte N1")

	rec = do(t, router, http.MethodDelete, "/queues/"+created.ID.String(), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/queues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/queues?includeInactive=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, "DISABLED", list.Items[0].State)
}

func TestQueueErrors(t *testing.T) {
	t.Parallel()
	router := newRouter(t, uuid.New())

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		field  string
	}{
		{name: "missing name", method: http.MethodPost, path: "/queues", body: `{}`, want: http.StatusBadRequest, field: "name"},
		{name: "unknown field", method: http.MethodPost, path: "/queues", body: `{"name":"a","color":"red"}`, want: http.StatusBadRequest, field: "body"},
		{name: "bad state", method: http.MethodPatch, path: "/queues/" + uuid.NewString(), body: `{"state":"DELETED"}`, want: http.StatusBadRequest, field: "state"},
		{name: "bad id", method: http.MethodDelete, path: "/queues/nope", want: http.StatusBadRequest, field: "queueId"},
		{name: "bad flag", method: http.MethodGet, path: "/queues?includeInactive=maybe", want: http.StatusBadRequest, field: "includeInactive"},
		{name: "unknown queue", method: http.MethodDelete, path: "/queues/" + uuid.NewString(), want: http.StatusNotFound},
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
