package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type operation string

const (
	listOperation    operation = "messagesList"
	addNoteOperation operation = "messagesAddNote"
)

// Handler serves the message history and internal notes of a conversation.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("messages service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the handler under the authenticated API router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/conversations/{conversationId}/messages", h.List)
	r.Post("/conversations/{conversationId}/notes", h.AddNote)
}

// MessageResponse is the API shape of a message.
type MessageResponse struct {
	ID                uuid.UUID  `json:"id"`
	ConversationID    uuid.UUID  `json:"conversationId"`
	Direction         string     `json:"direction"`
	SenderExternalID  *string    `json:"senderExternalId,omitempty"`
	SenderUserID      *uuid.UUID `json:"senderUserId,omitempty"`
	Body              string     `json:"body"`
	MediaType         *string    `json:"mediaType,omitempty"`
	MediaURL          *string    `json:"mediaUrl,omitempty"`
	ExternalMessageID *string    `json:"externalMessageId,omitempty"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type listResponse struct {
	Items []MessageResponse `json:"items"`
}

type noteRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

// List implements GET /conversations/{conversationId}/messages
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, listOperation)
	if !ok {
		return
	}

	var opts service.ListOptions
	if _, err := httpx.QueryParam(r, "limit", &opts.Limit); err != nil {
		h.writeError(w, ctx, &service.ValidationError{Fields: service.FieldErrors{"limit": {err.Error()}}}, listOperation)
		return
	}
	before, err := httpx.QueryTime(r, "before")
	if err != nil {
		h.writeError(w, ctx, &service.ValidationError{Fields: service.FieldErrors{"before": {err.Error()}}}, listOperation)
		return
	}
	opts.Before = before

	msgs, err := h.svc.List(ctx, tenantID, convID, opts)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	items := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, ToResponse(m))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

// AddNote implements POST /conversations/{conversationId}/notes
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, convID, ok := h.scope(w, r, addNoteOperation)
	if !ok {
		return
	}

	var body noteRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeError(w, ctx, &service.ValidationError{Fields: service.FieldErrors{"body": {err.Error()}}}, addNoteOperation)
		return
	}
	if fields := httpx.Validate(body); fields != nil {
		h.writeError(w, ctx, &service.ValidationError{Fields: fields}, addNoteOperation)
		return
	}

	author := requesttrace.FromContextOrAnonymous(ctx).UserUUID()
	msg, err := h.svc.SaveInternalNote(ctx, tenantID, convID, body.Text, author)
	if err != nil {
		h.writeError(w, ctx, err, addNoteOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ToResponse(msg))
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request, op operation) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := tenant.IDFromContext(r.Context())
	if !ok {
		h.writeError(w, r.Context(), errMissingTenant, op)
		return uuid.Nil, uuid.Nil, false
	}
	convID, err := httpx.PathUUID(r, "conversationId")
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"conversationId": {err.Error()}}}, op)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, convID, true
}

// ToResponse maps a service message to its API shape.
func ToResponse(m service.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		Direction:         string(m.Direction),
		SenderExternalID:  m.SenderExternalID,
		SenderUserID:      m.SenderUserID,
		Body:              m.Body,
		MediaType:         m.MediaType,
		MediaURL:          m.MediaURL,
		ExternalMessageID: m.ExternalMessageID,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
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
		logger.Error("messages operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("messages resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("messages request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return httpx.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
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
