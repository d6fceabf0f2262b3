package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/webhooks/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel/webchat"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
)

// DefaultMaxBodyBytes caps webhook bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// WidgetServer upgrades widget sockets into their realtime room.
type WidgetServer interface {
	ServeWidget(w http.ResponseWriter, r *http.Request, room string) error
}

// Config tunes the public ingress.
type Config struct {
	MaxBodyBytes int64
}

// Handler serves vendor webhooks and the webchat widget endpoints. None of its
// routes are authenticated; connectors are addressed by id.
type Handler struct {
	svc     service.Service
	widgets WidgetServer
	cfg     Config
	logger  *zap.Logger
}

func New(svc service.Service, widgets WidgetServer, cfg Config, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("webhooks service is required")
	}
	if widgets == nil {
		panic("widget server is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{svc: svc, widgets: widgets, cfg: cfg, logger: logger}
}

// Routes mounts the public ingress routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/{provider}/{connectorId}", h.Webhook)
	r.Post("/webhooks/{provider}/{connectorId}/*", h.Webhook)
	r.Post("/external/webchat/message", h.WebChatMessage)
	r.Get("/external/webchat/ws", h.WebChatSocket)
}

type webhookResponse struct {
	OK             bool       `json:"ok"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Status         string     `json:"status,omitempty"`
}

// Webhook implements POST /webhooks/{provider}/{connectorId}/*. Vendors only need
// a 2xx to stop retrying, so ignored payloads still answer 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	logger := platformlogging.Ctx(ctx, h.logger)

	providerKey := strings.ToLower(chi.URLParam(r, "provider"))
	label := providerLabel(providerKey)

	connectorID, err := uuid.Parse(chi.URLParam(r, "connectorId"))
	if err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		httpx.WriteError(w, http.StatusNotFound, "connector not found")
		return
	}

	raw, status, err := h.readBody(w, r)
	if err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		logger.Warn("webhook body rejected", zap.String("provider", label), zap.Error(err))
		httpx.WriteError(w, status, err.Error())
		return
	}

	out, err := h.svc.HandleWebhook(ctx, providerKey, connectorID, raw)
	if err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		h.writeWebhookError(w, logger, label, connectorID, err)
		return
	}

	metrics.ObserveWebhook(label, out.Kind, time.Since(start))
	writeOutcome(w, out)
}

type webchatResponse struct {
	OK             bool      `json:"ok"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// WebChatMessage implements POST /external/webchat/message
func (h *Handler) WebChatMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	logger := platformlogging.Ctx(ctx, h.logger)
	label := channel.ProviderWebChat.RouteKey()

	raw, status, err := h.readBody(w, r)
	if err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		httpx.WriteError(w, status, err.Error())
		return
	}

	var payload webchat.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		httpx.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	connectorID, err := uuid.Parse(strings.TrimSpace(payload.ConnectorID))
	if err != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		httpx.WriteError(w, http.StatusBadRequest, "connectorId must be a UUID")
		return
	}
	if fields := httpx.Validate(payload); fields != nil {
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload", "fields": fields})
		return
	}

	out, err := h.svc.HandleWebChat(ctx, connectorID, raw)
	switch {
	case errors.Is(err, service.ErrNotWebChat), errors.Is(err, service.ErrConnectorNotFound):
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		logger.Warn("webchat message rejected", zap.String("connector_id", connectorID.String()), zap.Error(err))
		httpx.WriteError(w, http.StatusBadRequest, "connector is not an active webchat connector")
		return
	case err != nil:
		metrics.ObserveWebhook(label, metrics.OutcomeError, time.Since(start))
		h.writeWebhookError(w, logger, label, connectorID, err)
		return
	}

	metrics.ObserveWebhook(label, out.Kind, time.Since(start))
	if out.Ignored() || out.ConversationID == nil {
		httpx.WriteError(w, http.StatusBadRequest, "message has neither text nor media")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webchatResponse{OK: true, ConversationID: *out.ConversationID})
}

// WebChatSocket implements GET /external/webchat/ws?connectorId&senderId
func (h *Handler) WebChatSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformlogging.Ctx(ctx, h.logger)

	connectorID, err := uuid.Parse(r.URL.Query().Get("connectorId"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "connectorId must be a UUID")
		return
	}
	senderID := strings.TrimSpace(r.URL.Query().Get("senderId"))
	if senderID == "" || len(senderID) > 128 || strings.Contains(senderID, ":") {
		httpx.WriteError(w, http.StatusBadRequest, "senderId is required")
		return
	}

	conn, err := h.svc.WebChatConnector(ctx, connectorID)
	switch {
	case errors.Is(err, service.ErrNotWebChat), errors.Is(err, service.ErrConnectorNotFound):
		httpx.WriteError(w, http.StatusBadRequest, "connector is not an active webchat connector")
		return
	case err != nil:
		logger.Error("load webchat connector", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !originAllowed(conn, r.Header.Get("Origin")) {
		httpx.WriteError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	if err := h.widgets.ServeWidget(w, r, realtime.WebChatRoom(connectorID, senderID)); err != nil {
		logger.Debug("widget socket not opened", zap.Error(err))
	}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("payload too large")
		}
		return nil, http.StatusBadRequest, errors.New("unreadable body")
	}
	return raw, http.StatusOK, nil
}

func (h *Handler) writeWebhookError(w http.ResponseWriter, logger *zap.Logger, provider string, connectorID uuid.UUID, err error) {
	fields := []zap.Field{zap.String("provider", provider), zap.String("connector_id", connectorID.String()), zap.Error(err)}
	switch {
	case errors.Is(err, service.ErrUnknownProvider):
		logger.Info("webhook for unknown provider", fields...)
		httpx.WriteError(w, http.StatusNotFound, "unknown provider")
	case errors.Is(err, service.ErrConnectorNotFound):
		logger.Info("webhook for unknown connector", fields...)
		httpx.WriteError(w, http.StatusNotFound, "connector not found")
	default:
		logger.Error("webhook processing failed", fields...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeOutcome(w http.ResponseWriter, out service.Outcome) {
	switch out.Kind {
	case metrics.OutcomeMessage:
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, ConversationID: out.ConversationID})
	case metrics.OutcomeStatus:
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, ConversationID: out.ConversationID, Status: string(out.Status)})
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
	}
}

// providerLabel keeps metric cardinality bounded to known providers.
func providerLabel(key string) string {
	if p, err := channel.ParseProvider(key); err == nil {
		return p.RouteKey()
	}
	return "unknown"
}

func originAllowed(conn channel.Connector, origin string) bool {
	cfg, err := channel.WebChatConfigOf(conn)
	if err != nil || len(cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, allowed := range cfg.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
