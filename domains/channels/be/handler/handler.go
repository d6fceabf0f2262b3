package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type operation string

const (
	listChannelsOperation    operation = "channelsList"
	createChannelOperation   operation = "channelsCreate"
	getChannelOperation      operation = "channelsGet"
	listConnectorsOperation  operation = "connectorsList"
	createConnectorOperation operation = "connectorsCreate"
	updateConnectorOperation operation = "connectorsUpdate"
	bulkDeleteOperation      operation = "connectorsBulkDelete"
)

// redacted replaces credential values in connector responses.
const redacted = "********"

var secretKeys = map[string]struct{}{"token": {}, "apiKey": {}, "accessToken": {}}

type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("channels service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/channels", h.ListChannels)
	r.Post("/channels", h.CreateChannel)
	r.Get("/channels/{channelId}", h.GetChannel)
	r.Get("/channels/{channelId}/connectors", h.ListConnectors)
	r.Post("/channels/{channelId}/connectors", h.CreateConnector)
	r.Patch("/connectors/{connectorId}", h.UpdateConnector)
	r.Post("/connectors:bulk-delete", h.BulkDeleteConnectors)
}

type ChannelResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConnectorResponse carries the connector config with credentials redacted.
type ConnectorResponse struct {
	ID        uuid.UUID      `json:"id"`
	ChannelID uuid.UUID      `json:"channelId"`
	Provider  string         `json:"provider"`
	Config    map[string]any `json:"config"`
	State     string         `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

type createChannelRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type createConnectorRequest struct {
	Provider string          `json:"provider" validate:"required,oneof=GTI OFFICIAL WEBCHAT gti official webchat"`
	Config   json.RawMessage `json:"config,omitempty"`
}

type updateConnectorRequest struct {
	Config json.RawMessage `json:"config,omitempty"`
	State  *string         `json:"state,omitempty" validate:"omitempty,oneof=ACTIVE DISABLED"`
}

type bulkDeleteRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1,max=100"`
}

type bulkDeleteResponse struct {
	Deleted []uuid.UUID `json:"deleted"`
}

// ListChannels implements GET /channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, listChannelsOperation)
	if !ok {
		return
	}
	channels, err := h.svc.ListChannels(ctx, tenantID)
	if err != nil {
		h.writeError(w, ctx, err, listChannelsOperation)
		return
	}
	items := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		items = append(items, toChannelResponse(ch))
	}
	httpx.WriteJSON(w, http.StatusOK, itemsResponse[ChannelResponse]{Items: items})
}

// CreateChannel implements POST /channels
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, createChannelOperation)
	if !ok {
		return
	}
	var body createChannelRequest
	if !h.decode(w, r, &body, createChannelOperation) {
		return
	}
	ch, err := h.svc.CreateChannel(ctx, tenantID, body.Name)
	if err != nil {
		h.writeError(w, ctx, err, createChannelOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toChannelResponse(ch))
}

// GetChannel implements GET /channels/{channelId}
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, channelID, ok := h.scope(w, r, "channelId", getChannelOperation)
	if !ok {
		return
	}
	ch, err := h.svc.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		h.writeError(w, ctx, err, getChannelOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toChannelResponse(ch))
}

// ListConnectors implements GET /channels/{channelId}/connectors
func (h *Handler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, channelID, ok := h.scope(w, r, "channelId", listConnectorsOperation)
	if !ok {
		return
	}
	connectors, err := h.svc.ListConnectors(ctx, tenantID, channelID)
	if err != nil {
		h.writeError(w, ctx, err, listConnectorsOperation)
		return
	}
	items := make([]ConnectorResponse, 0, len(connectors))
	for _, conn := range connectors {
		items = append(items, toConnectorResponse(conn))
	}
	httpx.WriteJSON(w, http.StatusOK, itemsResponse[ConnectorResponse]{Items: items})
}

// CreateConnector implements POST /channels/{channelId}/connectors
func (h *Handler) CreateConnector(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, channelID, ok := h.scope(w, r, "channelId", createConnectorOperation)
	if !ok {
		return
	}
	var body createConnectorRequest
	if !h.decode(w, r, &body, createConnectorOperation) {
		return
	}
	conn, err := h.svc.CreateConnector(ctx, tenantID, channelID, service.CreateConnectorInput{
		Provider: body.Provider,
		Config:   body.Config,
	})
	if err != nil {
		h.writeError(w, ctx, err, createConnectorOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toConnectorResponse(conn))
}

// UpdateConnector implements PATCH /connectors/{connectorId}. A config replaces
// the stored document as a whole.
func (h *Handler) UpdateConnector(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, connectorID, ok := h.scope(w, r, "connectorId", updateConnectorOperation)
	if !ok {
		return
	}
	var body updateConnectorRequest
	if !h.decode(w, r, &body, updateConnectorOperation) {
		return
	}

	input := service.UpdateConnectorInput{}
	if len(body.Config) > 0 && string(body.Config) != "null" {
		input.Config = body.Config
	}
	if body.State != nil {
		state := lifecycle.State(*body.State)
		input.State = &state
	}

	conn, err := h.svc.UpdateConnector(ctx, tenantID, connectorID, input)
	if err != nil {
		h.writeError(w, ctx, err, updateConnectorOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toConnectorResponse(conn))
}

// BulkDeleteConnectors implements POST /connectors:bulk-delete
func (h *Handler) BulkDeleteConnectors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, bulkDeleteOperation)
	if !ok {
		return
	}
	var body bulkDeleteRequest
	if !h.decode(w, r, &body, bulkDeleteOperation) {
		return
	}
	deleted, err := h.svc.BulkDeleteConnectors(ctx, tenantID, body.IDs)
	if err != nil {
		h.writeError(w, ctx, err, bulkDeleteOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: deleted})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, op operation) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"body": {err.Error()}}}, op)
		return false
	}
	if fields := httpx.Validate(dst); fields != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: fields}, op)
		return false
	}
	return true
}

func (h *Handler) tenantScope(w http.ResponseWriter, r *http.Request, op operation) (uuid.UUID, bool) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		h.writeError(w, r.Context(), errMissingTenant, op)
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request, param string, op operation) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenantScope(w, r, op)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := httpx.PathUUID(r, param)
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{param: {err.Error()}}}, op)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func toChannelResponse(ch service.Channel) ChannelResponse {
	return ChannelResponse{
		ID:        ch.ID,
		Name:      ch.Name,
		State:     ch.State.String(),
		CreatedAt: ch.CreatedAt,
		UpdatedAt: ch.UpdatedAt,
	}
}

func toConnectorResponse(conn service.Connector) ConnectorResponse {
	return ConnectorResponse{
		ID:        conn.ID,
		ChannelID: conn.ChannelID,
		Provider:  conn.Provider.String(),
		Config:    redactConfig(conn.Config),
		State:     conn.State.String(),
		CreatedAt: conn.CreatedAt,
		UpdatedAt: conn.UpdatedAt,
	}
}

func redactConfig(cfg channel.Config) map[string]any {
	out := map[string]any{}
	raw, err := channel.EncodeConfig(cfg)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	for key, value := range out {
		if _, secret := secretKeys[key]; secret {
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				out[key] = redacted
			}
		}
	}
	return out
}

var errMissingTenant = errors.New("tenant scope missing")

func (h *Handler) writeError(w http.ResponseWriter, ctx context.Context, err error, op operation) {
	httpx.WriteProblem(w, h.problemForError(ctx, err, op))
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) httpx.Problem {
	status, title, detail, problemType, fields := h.classifyError(err)

	logger := h.loggerFrom(ctx)
	fieldsForLog := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
		zap.Error(err),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("channels operation failed", fieldsForLog...)
	case status == http.StatusNotFound:
		logger.Info("channels resource not found", fieldsForLog...)
	default:
		logger.Warn("channels request rejected", fieldsForLog...)
	}

	return httpx.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", httpx.ProblemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrChannelNotFound):
		return http.StatusNotFound, "Resource not found", "channel not found", httpx.ProblemTypeNotFound, nil
	case errors.Is(err, service.ErrConnectorNotFound):
		return http.StatusNotFound, "Resource not found", "connector not found", httpx.ProblemTypeNotFound, nil
	case errors.Is(err, service.ErrChannelInactive):
		return http.StatusUnprocessableEntity, "Unprocessable request", "channel is not active", httpx.ProblemTypeUnprocessable, nil
	case errors.Is(err, errMissingTenant):
		return http.StatusUnauthorized, "Unauthorized", "tenant scope missing", httpx.ProblemTypeUnauthorized, nil
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", httpx.ProblemTypeInternal, nil
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
