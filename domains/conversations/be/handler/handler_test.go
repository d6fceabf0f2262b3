package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/service"
	messages "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type mockService struct {
	resolveFn   func(ctx context.Context, in channel.Inbound, conn channel.Connector) (uuid.UUID, error)
	findFn      func(ctx context.Context, tenantID uuid.UUID, phone string, name *string, assignee *uuid.UUID) (service.Conversation, error)
	getFn       func(ctx context.Context, tenantID, id uuid.UUID) (service.Conversation, error)
	listFn      func(ctx context.Context, tenantID uuid.UUID, params service.ListParams) (service.ListResult, error)
	updateFn    func(ctx context.Context, tenantID, id uuid.UUID, input service.UpdateInput) (service.Conversation, error)
	deleteFn    func(ctx context.Context, tenantID, id uuid.UUID) error
	replyFn     func(ctx context.Context, tenantID, id uuid.UUID, text string, sender *uuid.UUID) (messages.Message, error)
	replyMenuFn func(ctx context.Context, tenantID, id uuid.UUID, menu channel.Menu, sender *uuid.UUID) (messages.Message, error)
}

func (m *mockService) ResolveConversationForInbound(ctx context.Context, in channel.Inbound, conn channel.Connector) (uuid.UUID, error) {
	if m.resolveFn == nil {
		panic("resolveFn not configured")
	}
	return m.resolveFn(ctx, in, conn)
}

func (m *mockService) FindOrCreateConversation(ctx context.Context, tenantID uuid.UUID, phone string, name *string, assignee *uuid.UUID) (service.Conversation, error) {
	if m.findFn == nil {
		panic("findFn not configured")
	}
	return m.findFn(ctx, tenantID, phone, name, assignee)
}

func (m *mockService) Get(ctx context.Context, tenantID, id uuid.UUID) (service.Conversation, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, tenantID, id)
}

func (m *mockService) List(ctx context.Context, tenantID uuid.UUID, params service.ListParams) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, tenantID, params)
}

func (m *mockService) Update(ctx context.Context, tenantID, id uuid.UUID, input service.UpdateInput) (service.Conversation, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, tenantID, id, input)
}

func (m *mockService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if m.deleteFn == nil {
		panic("deleteFn not configured")
	}
	return m.deleteFn(ctx, tenantID, id)
}

func (m *mockService) Reply(ctx context.Context, tenantID, id uuid.UUID, text string, sender *uuid.UUID) (messages.Message, error) {
	if m.replyFn == nil {
		panic("replyFn not configured")
	}
	return m.replyFn(ctx, tenantID, id, text, sender)
}

func (m *mockService) ReplyMenu(ctx context.Context, tenantID, id uuid.UUID, menu channel.Menu, sender *uuid.UUID) (messages.Message, error) {
	if m.replyMenuFn == nil {
		panic("replyMenuFn not configured")
	}
	return m.replyMenuFn(ctx, tenantID, id, menu, sender)
}

func newRouter(t *testing.T, svc service.Service, tenantID uuid.UUID, agentID string) http.Handler {
	t.Helper()
	h := New(svc, zaptest.NewLogger(t))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tenant.WithSpace(r.Context(), tenant.Space{TenantID: tenantID})
			ctx = requesttrace.IntoContext(ctx, requesttrace.AuditInfo{ActorKind: requesttrace.ActorKindUser, UserID: &agentID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.Routes(r)
	return r
}

func sampleConversation(id uuid.UUID) service.Conversation {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return service.Conversation{
		ID:        id,
		ChannelID: uuid.New(),
		Title:     "WhatsApp • 5511999999999",
		Kind:      service.KindDirect,
		Status:    service.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestListConversations(t *testing.T) {
	t.Parallel()

	tenantID, queueID := uuid.New(), uuid.New()
	svc := &mockService{
		listFn: func(ctx context.Context, tid uuid.UUID, params service.ListParams) (service.ListResult, error) {
			require.Equal(t, tenantID, tid)
			require.NotNil(t, params.Status)
			require.Equal(t, service.StatusPending, *params.Status)
			require.Equal(t, queueID, *params.QueueID)
			require.Nil(t, params.AssignedTo)
			require.Equal(t, 2, params.Page)
			require.Equal(t, 5, params.PageSize)
			return service.ListResult{
				Conversations: []service.Conversation{sampleConversation(uuid.New())},
				Page:          2,
				PageSize:      5,
				TotalItems:    6,
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/conversations?status=pending&queueId=%s&page=2&pageSize=5", queueID)
	newRouter(t, svc, tenantID, uuid.NewString()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body httpx.Page[ConversationResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, 2, body.TotalPages)
	require.Equal(t, "DIRECT", body.Items[0].Kind)
}

func TestListConversationsBadQuery(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations?queueId=nope&page=x", nil)
	newRouter(t, &mockService{}, uuid.New(), uuid.NewString()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem httpx.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors, "queueId")
	require.Contains(t, problem.Errors, "page")
}

func TestCreateConversationAssignsCaller(t *testing.T) {
	t.Parallel()

	agentID := uuid.New()
	convID := uuid.New()
	svc := &mockService{
		findFn: func(ctx context.Context, _ uuid.UUID, phone string, name *string, assignee *uuid.UUID) (service.Conversation, error) {
			require.Equal(t, "+55 11 99999-9999", phone)
			require.Equal(t, "Ana", *name)
			require.NotNil(t, assignee)
			require.Equal(t, agentID, *assignee)
			return sampleConversation(convID), nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations", strings.NewReader(`{"phone":"+55 11 99999-9999","name":"Ana","assign":true}`))
	newRouter(t, svc, uuid.New(), agentID.String()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, convID, body.ID)
}

func TestCreateConversationWithoutConnector(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		findFn: func(context.Context, uuid.UUID, string, *string, *uuid.UUID) (service.Conversation, error) {
			return service.Conversation{}, service.ErrNoActiveConnector
		},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations", strings.NewReader(`{"phone":"5511999999999"}`))
	newRouter(t, svc, uuid.New(), uuid.NewString()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestUpdateConversationNullClears(t *testing.T) {
	t.Parallel()

	convID, queueID := uuid.New(), uuid.New()
	svc := &mockService{
		updateFn: func(ctx context.Context, _ uuid.UUID, id uuid.UUID, input service.UpdateInput) (service.Conversation, error) {
			require.Equal(t, convID, id)
			require.True(t, input.AssignedUserID.Set)
			require.Nil(t, input.AssignedUserID.Value)
			require.True(t, input.QueueID.Set)
			require.Equal(t, queueID, *input.QueueID.Value)
			require.Equal(t, service.StatusResolved, *input.Status)
			require.Nil(t, input.Title)
			return sampleConversation(convID), nil
		},
	}

	rec := httptest.NewRecorder()
	body := fmt.Sprintf(`{"status":"RESOLVED","queueId":%q,"assignedUserId":null}`, queueID)
	req := httptest.NewRequest(http.MethodPatch, "/conversations/"+convID.String(), strings.NewReader(body))
	newRouter(t, svc, uuid.New(), uuid.NewString()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateConversationRejectsBadFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "unknown status", body: `{"status":"CLOSED"}`, field: "status"},
		{name: "queue not a uuid", body: `{"queueId":"abc"}`, field: "queueId"},
		{name: "assignee wrong type", body: `{"assignedUserId":42}`, field: "assignedUserId"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPatch, "/conversations/"+uuid.NewString(), strings.NewReader(tc.body))
			newRouter(t, &mockService{}, uuid.New(), uuid.NewString()).ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var problem httpx.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Contains(t, problem.Errors, tc.field)
		})
	}
}

func TestGetAndDeleteConversation(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	svc := &mockService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (service.Conversation, error) {
			return service.Conversation{}, service.ErrConversationNotFound
		},
		deleteFn: func(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
			require.Equal(t, convID, id)
			return nil
		},
	}
	router := newRouter(t, svc, uuid.New(), uuid.NewString())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+convID.String(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/"+convID.String(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReply(t *testing.T) {
	t.Parallel()

	tenantID, convID, agentID := uuid.New(), uuid.New(), uuid.New()
	ext := "gti-1"
	svc := &mockService{
		replyFn: func(_ context.Context, tid, id uuid.UUID, text string, sender *uuid.UUID) (messages.Message, error) {
			require.Equal(t, tenantID, tid)
			require.Equal(t, convID, id)
			require.Equal(t, "Olá!", text)
			require.Equal(t, agentID, *sender)
			return messages.Message{
				ID:                uuid.New(),
				ConversationID:    id,
				Direction:         messages.DirectionOut,
				Body:              text,
				ExternalMessageID: &ext,
				Status:            channel.StatusSent,
				SenderUserID:      sender,
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+convID.String()+"/reply", strings.NewReader(`{"text":"Olá!"}`))
	newRouter(t, svc, tenantID, agentID.String()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "OUT", body["direction"])
	require.Equal(t, "SENT", body["status"])
	require.Equal(t, "gti-1", body["externalMessageId"])
}

func TestReplyErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "vendor rejected", err: fmt.Errorf("%w: %w", service.ErrSendFailed, &channel.VendorError{Provider: channel.ProviderGTI, StatusCode: 401, Body: "bad token"}), want: http.StatusBadGateway},
		{name: "vendor unreachable", err: fmt.Errorf("%w: dial tcp: timeout", service.ErrSendFailed), want: http.StatusBadGateway},
		{name: "no thread", err: service.ErrNoThread, want: http.StatusUnprocessableEntity},
		{name: "connector disabled", err: service.ErrConnectorInactive, want: http.StatusUnprocessableEntity},
		{name: "missing conversation", err: service.ErrConversationNotFound, want: http.StatusNotFound},
		{name: "unexpected", err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{
				replyFn: func(context.Context, uuid.UUID, uuid.UUID, string, *uuid.UUID) (messages.Message, error) {
					return messages.Message{}, tc.err
				},
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/reply", strings.NewReader(`{"text":"hi"}`))
			newRouter(t, svc, uuid.New(), uuid.NewString()).ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestReplyMenu(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		replyMenuFn: func(_ context.Context, _, id uuid.UUID, menu channel.Menu, _ *uuid.UUID) (messages.Message, error) {
			require.Equal(t, "Como podemos ajudar?", menu.Body)
			require.Len(t, menu.Options, 2)
			require.Equal(t, "support", menu.Options[1].ID)
			return messages.Message{ID: uuid.New(), ConversationID: id, Direction: messages.DirectionOut, Body: menu.Body, Status: channel.StatusSent}, nil
		},
	}
	router := newRouter(t, svc, uuid.New(), uuid.NewString())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/menu",
		strings.NewReader(`{"body":"Como podemos ajudar?","options":[{"id":"sales","title":"Vendas"},{"id":"support","title":"Suporte"}]}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/menu", strings.NewReader(`{"body":"x","options":[]}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
