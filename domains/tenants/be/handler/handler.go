package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
)

type operation string

const (
	listOperation            operation = "tenantsList"
	createOperation          operation = "tenantsCreate"
	getOperation             operation = "tenantsGet"
	updateOperation          operation = "tenantsUpdate"
	provisionOperation       operation = "tenantsProvision"
	provisionStatusOperation operation = "tenantsProvisionStatus"
)

// Handler serves the tenant registry to platform admins.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts /admin/tenants. Every route requires the admin role.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin/tenants", func(r chi.Router) {
		r.Use(platformauth.RequireRole(platformauth.RoleAdmin))
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{tenantId}", h.Get)
		r.Patch("/{tenantId}", h.Update)
		r.Post("/{tenantId}/provision", h.Provision)
		r.Get("/{tenantId}/provision-status", h.ProvisionStatus)
	})
}

// TenantResponse is the API shape of a tenant.
type TenantResponse struct {
	ID                    uuid.UUID            `json:"id"`
	Slug                  string               `json:"slug"`
	DisplayName           string               `json:"displayName"`
	DefaultProvider       *string              `json:"defaultProvider"`
	State                 string               `json:"state"`
	SubscriptionExpiresAt *time.Time           `json:"subscriptionExpiresAt"`
	BasePrefix            string               `json:"basePrefix"`
	ShortTenantID         string               `json:"shortTenantId"`
	Provisioning          ProvisioningResponse `json:"provisioning"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

type ProvisioningResponse struct {
	StorageReady      bool       `json:"storageReady"`
	LastProvisionedAt *time.Time `json:"lastProvisionedAt,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
}

type createRequest struct {
	Slug                  string     `json:"slug" validate:"required,max=63"`
	DisplayName           string     `json:"displayName" validate:"max=200"`
	DefaultProvider       *string    `json:"defaultProvider,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
}

type updateRequest struct {
	DisplayName           *string    `json:"displayName,omitempty" validate:"omitempty,max=200"`
	DefaultProvider       *string    `json:"defaultProvider,omitempty"`
	State                 *string    `json:"state,omitempty" validate:"omitempty,oneof=ACTIVE DISABLED DELETED"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
}

// List implements GET /admin/tenants
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts, err := buildListOptions(r)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	result, err := h.svc.List(ctx, opts)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	items := make([]TenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Page[TenantResponse]{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// Create implements POST /admin/tenants
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createRequest
	if !h.decode(w, r, &body, createOperation) {
		return
	}

	t, err := h.svc.Create(ctx, service.CreateInput{
		Slug:                  body.Slug,
		DisplayName:           body.DisplayName,
		DefaultProvider:       body.DefaultProvider,
		SubscriptionExpiresAt: body.SubscriptionExpiresAt,
	})
	if err != nil {
		h.writeError(w, ctx, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/tenants/%s", t.ID))
	httpx.WriteJSON(w, http.StatusCreated, toResponse(t))
}

// Get implements GET /admin/tenants/{tenantId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.tenantID(w, r, getOperation)
	if !ok {
		return
	}

	t, err := h.svc.Get(ctx, id)
	if err != nil {
		h.writeError(w, ctx, err, getOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(t))
}

// Update implements PATCH /admin/tenants/{tenantId}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.tenantID(w, r, updateOperation)
	if !ok {
		return
	}

	var body updateRequest
	if !h.decode(w, r, &body, updateOperation) {
		return
	}

	input := service.UpdateInput{
		DisplayName:           body.DisplayName,
		DefaultProvider:       body.DefaultProvider,
		SubscriptionExpiresAt: body.SubscriptionExpiresAt,
	}
	if body.State != nil {
		state := lifecycle.State(*body.State)
		input.State = &state
	}

	updated, err := h.svc.Update(ctx, id, input)
	if err != nil {
		h.writeError(w, ctx, err, updateOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(updated))
}

// Provision implements POST /admin/tenants/{tenantId}/provision
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.tenantID(w, r, provisionOperation)
	if !ok {
		return
	}

	t, err := h.svc.Provision(ctx, id)
	if err != nil {
		h.writeError(w, ctx, err, provisionOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, toResponse(t))
}

// ProvisionStatus implements GET /admin/tenants/{tenantId}/provision-status
func (h *Handler) ProvisionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.tenantID(w, r, provisionStatusOperation)
	if !ok {
		return
	}

	status, err := h.svc.ProvisionStatus(ctx, id)
	if err != nil {
		h.writeError(w, ctx, err, provisionStatusOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProvisioning(status))
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

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request, op operation) (uuid.UUID, bool) {
	id, err := httpx.PathUUID(r, "tenantId")
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"tenantId": {err.Error()}}}, op)
		return uuid.Nil, false
	}
	return id, true
}

func buildListOptions(r *http.Request) (service.ListOptions, error) {
	opts := service.ListOptions{}
	fields := service.FieldErrors{}

	if _, err := httpx.QueryParam(r, "page", &opts.Page); err != nil {
		fields["page"] = append(fields["page"], err.Error())
	}
	if _, err := httpx.QueryParam(r, "pageSize", &opts.PageSize); err != nil {
		fields["pageSize"] = append(fields["pageSize"], err.Error())
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		state, err := lifecycle.Parse(raw)
		if err != nil {
			fields["state"] = append(fields["state"], "must be one of ACTIVE, DISABLED, DELETED")
		} else {
			opts.State = &state
		}
	}

	if len(fields) > 0 {
		return service.ListOptions{}, &service.ValidationError{Fields: fields}
	}
	return opts, nil
}

func toResponse(t service.Tenant) TenantResponse {
	resp := TenantResponse{
		ID:                    t.ID,
		Slug:                  t.Slug,
		DisplayName:           t.DisplayName,
		State:                 t.State.String(),
		SubscriptionExpiresAt: t.SubscriptionExpiresAt,
		BasePrefix:            t.BasePrefix,
		ShortTenantID:         t.ShortTenantID,
		Provisioning:          toProvisioning(t.Provisioning),
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
	if t.DefaultProvider != nil {
		p := t.DefaultProvider.String()
		resp.DefaultProvider = &p
	}
	return resp
}

func toProvisioning(p service.ProvisioningStatus) ProvisioningResponse {
	return ProvisioningResponse{
		StorageReady:      p.StorageReady,
		LastProvisionedAt: p.LastProvisionedAt,
		LastError:         p.LastError,
	}
}

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
		logger.Error("tenants operation failed", fieldsForLog...)
	case status == http.StatusNotFound:
		logger.Info("tenant not found", fieldsForLog...)
	default:
		logger.Warn("tenants request rejected", fieldsForLog...)
	}

	return httpx.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", httpx.ProblemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "tenant not found", httpx.ProblemTypeNotFound, nil
	case errors.Is(err, service.ErrConflictSlug):
		return http.StatusConflict, "Conflict", "a tenant with this slug already exists", httpx.ProblemTypeConflict, nil
	case errors.Is(err, service.ErrNoStorage):
		return http.StatusConflict, "Conflict", "storage provisioning is not configured", httpx.ProblemTypeConflict, nil
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
