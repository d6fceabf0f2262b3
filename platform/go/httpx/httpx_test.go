package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriteProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, ValidationProblem("bad input", map[string][]string{"text": {"is required"}}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ProblemTypeValidation, body.Type)
	require.Equal(t, []string{"is required"}, body.Errors["text"])
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Text string `json:"text"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi"}`))
	var p payload
	require.NoError(t, DecodeJSON(req, &p))
	require.Equal(t, "hi", p.Text)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi","extra":1}`))
	require.Error(t, DecodeJSON(req, &p))

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	require.ErrorIs(t, DecodeJSON(req, &p), ErrEmptyBody)
}

func TestPathUUID(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	var gotErr error

	r := chi.NewRouter()
	r.Get("/items/{itemId}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = PathUUID(r, "itemId")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id.String(), nil))
	require.NoError(t, gotErr)
	require.Equal(t, id, got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/not-a-uuid", nil))
	require.Error(t, gotErr)
}

func TestQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&status=OPEN", nil)

	var page int
	present, err := QueryParam(req, "page", &page)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, 3, page)

	var size int
	present, err = QueryParam(req, "pageSize", &size)
	require.NoError(t, err)
	require.False(t, present)

	req = httptest.NewRequest(http.MethodGet, "/?page=abc", nil)
	_, err = QueryParam(req, "page", &page)
	require.Error(t, err)
}

func TestValidateUsesJSONNames(t *testing.T) {
	type payload struct {
		ConnectorID string `json:"connectorId" validate:"required,uuid"`
		Text        string `json:"text" validate:"max=3"`
	}

	require.Nil(t, Validate(payload{ConnectorID: uuid.NewString(), Text: "ok"}))

	errs := Validate(payload{Text: "too long"})
	require.Contains(t, errs, "connectorId")
	require.Contains(t, errs, "text")
}

func TestTotalPages(t *testing.T) {
	require.Equal(t, 0, TotalPages(0, 20))
	require.Equal(t, 1, TotalPages(20, 20))
	require.Equal(t, 2, TotalPages(21, 20))
}
