package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type operation string

const (
	listOperation   operation = "queuesList"
	createOperation operation = "queuesCreate"
	updateOperation operation = "queuesUpdate"
	deleteOperation operation = "queuesDelete"
)

type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("queues service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/queues", h.List)
	r.Post("/queues", h.Create)
	r.Patch("/queues/{queueId}", h.Update)
	r.Delete("/queues/{queueId}", h.Delete)
}

type QueueResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type listResponse struct {
	Items []QueueResponse `json:"items"`
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type updateRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,max=120"`
	State *string `json:"state,omitempty" validate:"omitempty,oneof=ACTIVE DISABLED"`
}

// List implements GET /queues
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, listOperation)
	if !ok {
		return
	}

	var includeInactive bool
	if _, err := httpx.QueryParam(r, "includeInactive", &includeInactive); err != nil {
		h.writeError(w, ctx, &service.ValidationError{Fields: service.FieldErrors{"includeInactive": {err.Error()}}}, listOperation)
		return
	}

	queues, err := h.svc.List(ctx, tenantID, includeInactive)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}
	items := make([]QueueResponse, 0, len(queues))
	for _, q := range queues {
		items = append(items, toResponse(q))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

// Create implements POST /queues
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, createOperation)
	if !ok {
		return
	}

	var body createRequest
	if !h.decode(w, r, &body, createOperation) {
		return
	}

	q, err := h.svc.Create(ctx, tenantID, body.Name)
	if err != nil {
		h.writeError(w, ctx, err, createOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(q))
}

// Update implements PATCH /queues/{queueId}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, queueID, ok := h.scope(w, r, updateOperation)
	if !ok {
		return
	}

	var body updateRequest
	if !h.decode(w, r, &body, updateOperation) {
		return
	}

	input := service.UpdateInput{Name: body.Name}
	if body.State != nil {
		state := lifecycle.State(*body.State)
		input.State = &state
	}

	q, err := h.svc.Update(ctx, tenantID, queueID, input)
	if err != nil {
		h.writeError(w, ctx, err, updateOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(q))
}

// Delete implements DELETE /queues/{queueId}. Queues are only deactivated.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, queueID, ok := h.scope(w, r, deleteOperation)
	if !ok {
		return
	}

	if err := h.svc.Deactivate(ctx, tenantID, queueID); err != nil {
		h.writeError(w, ctx, err, deleteOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

func (h *Handler) scope(w http.ResponseWriter, r *http.Request, op operation) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenantScope(w, r, op)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	queueID, err := httpx.PathUUID(r, "queueId")
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"queueId": {err.Error()}}}, op)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, queueID, true
}

func toResponse(q service.Queue) QueueResponse {
	return QueueResponse{
		ID:        q.ID,
		Name:      q.Name,
		State:     q.State.String(),
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
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
		logger.Error("queues operation failed", fieldsForLog...)
	case status == http.StatusNotFound:
		logger.Info("queue not found", fieldsForLog...)
	default:
		logger.Warn("queues request rejected", fieldsForLog...)
	}

	return httpx.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", httpx.ProblemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrQueueNotFound):
		return http.StatusNotFound, "Resource not found", "queue not found", httpx.ProblemTypeNotFound, nil
	case errors.Is(err, service.ErrQueueNameTaken):
		return http.StatusConflict, "Conflict", "a queue with this name already exists", httpx.ProblemTypeConflict, nil
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
