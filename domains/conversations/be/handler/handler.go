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

	"github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/service"
	messageshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/handler"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type operation string

const (
	listOperation      operation = "conversationsList"
	createOperation    operation = "conversationsCreate"
	getOperation       operation = "conversationsGet"
	updateOperation    operation = "conversationsUpdate"
	deleteOperation    operation = "conversationsDelete"
	replyOperation     operation = "conversationsReply"
	replyMenuOperation operation = "conversationsReplyMenu"
)

// Handler serves the agent inbox.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("conversations service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the handler under the authenticated API router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/conversations", h.List)
	r.Post("/conversations", h.Create)
	r.Get("/conversations/{conversationId}", h.Get)
	r.Patch("/conversations/{conversationId}", h.Update)
	r.Delete("/conversations/{conversationId}", h.Delete)
	r.Post("/conversations/{conversationId}/reply", h.Reply)
	r.Post("/conversations/{conversationId}/menu", h.ReplyMenu)
}

// ConversationResponse is the API shape of a conversation.
type ConversationResponse struct {
	ID             uuid.UUID  `json:"id"`
	ChannelID      uuid.UUID  `json:"channelId"`
	Title          string     `json:"title"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	AssignedUserID *uuid.UUID `json:"assignedUserId,omitempty"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type createRequest struct {
	Phone  string  `json:"phone" validate:"required,max=64"`
	Name   *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Assign bool    `json:"assign,omitempty"`
}

type updateRequest struct {
	Title          *string         `json:"title,omitempty"`
	Status         *string         `json:"status,omitempty" validate:"omitempty,oneof=OPEN PENDING RESOLVED"`
	QueueID        json.RawMessage `json:"queueId,omitempty"`
	AssignedUserID json.RawMessage `json:"assignedUserId,omitempty"`
}

type replyRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type menuOptionRequest struct {
	ID          string `json:"id" validate:"required,max=200"`
	Title       string `json:"title" validate:"required,max=24"`
	Description string `json:"description,omitempty" validate:"max=72"`
}

type menuRequest struct {
	Header  string              `json:"header,omitempty" validate:"max=60"`
	Body    string              `json:"body" validate:"required,max=1024"`
	Button  string              `json:"button,omitempty" validate:"max=20"`
	Options []menuOptionRequest `json:"options" validate:"required,min=1,max=10,dive"`
}

// List implements GET /conversations
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, listOperation)
	if !ok {
		return
	}

	params, err := listParams(r)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	result, err := h.svc.List(ctx, tenantID, params)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	items := make([]ConversationResponse, 0, len(result.Conversations))
	for _, c := range result.Conversations {
		items = append(items, toResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Page[ConversationResponse]{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: httpx.TotalPages(result.TotalItems, result.PageSize),
	})
}

func listParams(r *http.Request) (service.ListParams, error) {
	verr := &service.ValidationError{Fields: service.FieldErrors{}}
	var params service.ListParams

	var status string
	if present, err := httpx.QueryParam(r, "status", &status); err != nil {
		verr.Fields["status"] = append(verr.Fields["status"], err.Error())
	} else if present {
		s := service.Status(strings.ToUpper(strings.TrimSpace(status)))
		params.Status = &s
	}

	var queueID uuid.UUID
	if present, err := httpx.QueryParam(r, "queueId", &queueID); err != nil {
		verr.Fields["queueId"] = append(verr.Fields["queueId"], err.Error())
	} else if present {
		params.QueueID = &queueID
	}

	var assignedTo uuid.UUID
	if present, err := httpx.QueryParam(r, "assignedTo", &assignedTo); err != nil {
		verr.Fields["assignedTo"] = append(verr.Fields["assignedTo"], err.Error())
	} else if present {
		params.AssignedTo = &assignedTo
	}

	if _, err := httpx.QueryParam(r, "page", &params.Page); err != nil {
		verr.Fields["page"] = append(verr.Fields["page"], err.Error())
	}
	if _, err := httpx.QueryParam(r, "pageSize", &params.PageSize); err != nil {
		verr.Fields["pageSize"] = append(verr.Fields["pageSize"], err.Error())
	}

	if len(verr.Fields) > 0 {
		return service.ListParams{}, verr
	}
	return params, nil
}

// Create implements POST /conversations
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

	var assignee *uuid.UUID
	if body.Assign {
		assignee = requesttrace.FromContextOrAnonymous(ctx).UserUUID()
	}

	conv, err := h.svc.FindOrCreateConversation(ctx, tenantID, body.Phone, body.Name, assignee)
	if err != nil {
		h.writeError(w, ctx, err, createOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(conv))
}

// Get implements GET /conversations/{conversationId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, getOperation)
	if !ok {
		return
	}

	conv, err := h.svc.Get(ctx, tenantID, convID)
	if err != nil {
		h.writeError(w, ctx, err, getOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(conv))
}

// Update implements PATCH /conversations/{conversationId}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, updateOperation)
	if !ok {
		return
	}

	var body updateRequest
	if !h.decode(w, r, &body, updateOperation) {
		return
	}

	input := service.UpdateInput{Title: body.Title}
	if body.Status != nil {
		s := service.Status(*body.Status)
		input.Status = &s
	}
	verr := &service.ValidationError{Fields: service.FieldErrors{}}
	var err error
	if input.QueueID, err = optionalUUID(body.QueueID); err != nil {
		verr.Fields["queueId"] = []string{err.Error()}
	}
	if input.AssignedUserID, err = optionalUUID(body.AssignedUserID); err != nil {
		verr.Fields["assignedUserId"] = []string{err.Error()}
	}
	if len(verr.Fields) > 0 {
		h.writeError(w, ctx, verr, updateOperation)
		return
	}

	conv, err := h.svc.Update(ctx, tenantID, convID, input)
	if err != nil {
		h.writeError(w, ctx, err, updateOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(conv))
}

// optionalUUID reads a nullable uuid field of a PATCH body. An absent field is
// unset, null clears the value.
func optionalUUID(raw json.RawMessage) (service.OptionalUUID, error) {
	if len(raw) == 0 {
		return service.OptionalUUID{}, nil
	}
	if string(raw) == "null" {
		return service.OptionalUUID{Set: true}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return service.OptionalUUID{}, errors.New("must be a UUID or null")
	}
	id, err := uuid.Parse(text)
	if err != nil {
		return service.OptionalUUID{}, errors.New("must be a UUID or null")
	}
	return service.OptionalUUID{Set: true, Value: &id}, nil
}

// Delete implements DELETE /conversations/{conversationId}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, deleteOperation)
	if !ok {
		return
	}

	if err := h.svc.Delete(ctx, tenantID, convID); err != nil {
		h.writeError(w, ctx, err, deleteOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reply implements POST /conversations/{conversationId}/reply
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, replyOperation)
	if !ok {
		return
	}

	var body replyRequest
	if !h.decode(w, r, &body, replyOperation) {
		return
	}

	sender := requesttrace.FromContextOrAnonymous(ctx).UserUUID()
	msg, err := h.svc.Reply(ctx, tenantID, convID, body.Text, sender)
	if err != nil {
		h.writeError(w, ctx, err, replyOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, messageshandler.ToResponse(msg))
}

// ReplyMenu implements POST /conversations/{conversationId}/menu
func (h *Handler) ReplyMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, replyMenuOperation)
	if !ok {
		return
	}

	var body menuRequest
	if !h.decode(w, r, &body, replyMenuOperation) {
		return
	}

	menu := channel.Menu{Header: body.Header, Body: body.Body, Button: body.Button}
	for _, opt := range body.Options {
		menu.Options = append(menu.Options, channel.MenuOption{ID: opt.ID, Title: opt.Title, Description: opt.Description})
	}

	sender := requesttrace.FromContextOrAnonymous(ctx).UserUUID()
	msg, err := h.svc.ReplyMenu(ctx, tenantID, convID, menu, sender)
	if err != nil {
		h.writeError(w, ctx, err, replyMenuOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, messageshandler.ToResponse(msg))
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
	convID, err := httpx.PathUUID(r, "conversationId")
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"conversationId": {err.Error()}}}, op)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, convID, true
}

func toResponse(c service.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID,
		ChannelID:      c.ChannelID,
		Title:          c.Title,
		Kind:           string(c.Kind),
		Status:         string(c.Status),
		LastMessageAt:  c.LastMessageAt,
		AssignedUserID: c.AssignedUserID,
		QueueID:        c.QueueID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
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
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("conversations operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("conversations resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("conversations request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return httpx.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	var vendorErr *channel.VendorError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			"one or more fields are invalid",
			httpx.ProblemTypeValidation,
			validationErr.Fields
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"conversation not found",
			httpx.ProblemTypeNotFound,
			nil
	case errors.Is(err, service.ErrNoActiveConnector),
		errors.Is(err, service.ErrNoThread),
		errors.Is(err, service.ErrConnectorInactive),
		errors.Is(err, service.ErrMenuNotSupported),
		errors.Is(err, channel.ErrInvalidConfig),
		errors.Is(err, channel.ErrUnknownProvider):
		return http.StatusUnprocessableEntity,
			"Unprocessable request",
			err.Error(),
			httpx.ProblemTypeUnprocessable,
			nil
	case errors.As(err, &vendorErr):
		return http.StatusBadGateway,
			"Vendor rejected the message",
			vendorErr.Error(),
			httpx.ProblemTypeBadGateway,
			nil
	case errors.Is(err, service.ErrSendFailed):
		return http.StatusBadGateway,
			"Vendor unavailable",
			"the message could not be delivered to the provider",
			httpx.ProblemTypeBadGateway,
			nil
	case errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict,
			"Conflict",
			"the conversation was changed concurrently",
			httpx.ProblemTypeConflict,
			nil
	case errors.Is(err, errMissingTenant):
		return http.StatusUnauthorized,
			"Unauthorized",
			"tenant scope missing",
			httpx.ProblemTypeUnauthorized,
			nil
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			httpx.ProblemTypeInternal,
			nil
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
