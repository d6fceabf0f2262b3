package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

const realtimeOperation operation = "realtimeConnect"

// AgentServer upgrades agent sockets and joins them to their tenant room.
type AgentServer interface {
	ServeAgent(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, authorize realtime.JoinAuthorizer) error
}

// Realtime serves the agent websocket. Conversation rooms may only be joined
// for conversations of the caller's tenant.
type Realtime struct {
	svc    service.Service
	agents AgentServer
	logger *zap.Logger
}

func NewRealtime(svc service.Service, agents AgentServer, logger *zap.Logger) *Realtime {
	if svc == nil {
		panic("conversations service is required")
	}
	if agents == nil {
		panic("agent server is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Realtime{svc: svc, agents: agents, logger: logger}
}

func (h *Realtime) Routes(r chi.Router) {
	r.Get("/realtime/ws", h.Socket)
}

// Socket implements GET /realtime/ws
func (h *Realtime) Socket(w http.ResponseWriter, r *http.Request) {
	base := &Handler{svc: h.svc, logger: h.logger}
	tenantID, ok := base.tenantScope(w, r, realtimeOperation)
	if !ok {
		return
	}

	authorize := func(ctx context.Context, conversationID uuid.UUID) bool {
		_, err := h.svc.Get(ctx, tenantID, conversationID)
		return err == nil
	}
	if err := h.agents.ServeAgent(w, r, tenantID, authorize); err != nil {
		platformlogging.Ctx(r.Context(), h.logger).Debug("agent socket not opened",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}
