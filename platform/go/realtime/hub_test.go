package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestHubAgentJoinsTenantAndConversationRooms(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{}, zaptest.NewLogger(t))
	defer hub.Close()

	tenantID := uuid.New()
	allowed := uuid.New()
	denied := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeAgent(w, r, tenantID, func(_ context.Context, id uuid.UUID) bool { return id == allowed })
	}))
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.RoomSize(TenantRoom(tenantID)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), NewEvent(EventMessageCreated, tenantID, nil, map[string]string{"body": "hi"}), TenantRoom(tenantID)))
	ev := readEvent(t, conn)
	require.Equal(t, EventMessageCreated, ev.Type)
	require.Equal(t, tenantID, ev.TenantID)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "join", ConversationID: denied.String()}))
	require.NoError(t, conn.WriteJSON(controlMessage{Action: "join", ConversationID: allowed.String()}))
	require.Eventually(t, func() bool { return hub.RoomSize(ConversationRoom(allowed)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, hub.RoomSize(ConversationRoom(denied)))

	// In both rooms, delivered once.
	require.NoError(t, hub.Publish(context.Background(), NewEvent(EventMessageStatus, tenantID, &allowed, nil), Rooms(tenantID, &allowed)...))
	ev = readEvent(t, conn)
	require.Equal(t, EventMessageStatus, ev.Type)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "leave", ConversationID: allowed.String()}))
	require.Eventually(t, func() bool { return hub.RoomSize(ConversationRoom(allowed)) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "join", ConversationID: allowed.String()}))
	require.Eventually(t, func() bool { return hub.RoomSize(ConversationRoom(allowed)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), NewEvent(EventConversationUpdated, tenantID, &allowed, nil), ConversationRoom(allowed)))
	ev = readEvent(t, conn)
	require.Equal(t, EventConversationUpdated, ev.Type)
}

func TestHubWidgetRoomAndDisconnect(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://shop.example.com"}}, zaptest.NewLogger(t))
	room := WebChatRoom(uuid.New(), "visitor-1")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWidget(w, r, room)
	}))
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), NewEvent(EventWebChatMessage, uuid.New(), nil, "hello"), room))
	require.Equal(t, EventWebChatMessage, readEvent(t, conn).Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://app.example.com"}}, zaptest.NewLogger(t))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWidget(w, r, "room")
	}))
	defer server.Close()

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event, ...string) error { return f.err }

func TestFanoutJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	err := Fanout{Discard{}, failingPublisher{err: boom}, nil}.Publish(context.Background(), NewEvent("x", uuid.New(), nil, nil), "room")
	require.ErrorIs(t, err, boom)

	require.NoError(t, Fanout{Discard{}}.Publish(context.Background(), Event{}, "room"))
}

func TestRooms(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	convID := uuid.New()
	require.Equal(t, []string{"tenant:" + tenantID.String()}, Rooms(tenantID, nil))
	require.Equal(t, []string{"tenant:" + tenantID.String(), "conversation:" + convID.String()}, Rooms(tenantID, &convID))
}
