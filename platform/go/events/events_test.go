package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

type capture struct {
	keys []string
	envs []Envelope
}

func (c *capture) Publish(_ context.Context, key string, env Envelope) error {
	c.keys = append(c.keys, key)
	c.envs = append(c.envs, env)
	return nil
}

func (c *capture) Close() error { return nil }

func TestRoutingKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "helpdesk.message.created.v1", RoutingKey(realtime.EventMessageCreated))
	require.Equal(t, "helpdesk.conversation.updated.v1", RoutingKey(realtime.EventConversationUpdated))
}

func TestNewEnvelopeOmitsEmptyMeta(t *testing.T) {
	t.Parallel()

	env := NewEnvelope(realtime.EventMessageStatus, "", "", map[string]string{"status": "READ"})
	require.NotEmpty(t, env.Meta.ID)
	require.Nil(t, env.Meta.Producer)
	require.Nil(t, env.Meta.CorrelationID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "correlation_id")
	require.Contains(t, string(raw), `"type":"helpdesk.message.status.v1"`)
}

func TestBridgeForwardsWithRequestID(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	bridge := NewBridge(sink, "helpdesk-api")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ev := realtime.NewEvent(realtime.EventMessageCreated, uuid.New(), nil, nil)
	require.NoError(t, bridge.Publish(ctx, ev, "tenant:x"))

	require.Equal(t, []string{"helpdesk.message.created.v1"}, sink.keys)
	env := sink.envs[0]
	require.Equal(t, "req-1", *env.Meta.CorrelationID)
	require.Equal(t, "helpdesk-api", *env.Meta.Producer)
	require.Equal(t, ev, env.Data)
}
