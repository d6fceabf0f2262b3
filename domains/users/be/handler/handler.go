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

	"github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/service"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type operation string

const (
	loginOperation    operation = "authLogin"
	createOperation   operation = "usersCreate"
	listOperation     operation = "usersList"
	getOperation      operation = "usersGet"
	updateOperation   operation = "usersUpdate"
	meGetOperation    operation = "usersMe"
	meUpdateOperation operation = "usersUpdateMe"
	deleteOperation   operation = "usersDelete"
)

// Handler serves agent accounts and the login endpoint.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("users service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// LoginRoutes mounts the unauthenticated sign-in route.
func (h *Handler) LoginRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// Routes mounts the agent routes. Account management is limited to admins.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users", h.List)
	r.Get("/users/me", h.Me)
	r.Patch("/users/me", h.UpdateMe)
	r.Get("/users/{userId}", h.Get)

	admin := r.With(platformauth.RequireRole(platformauth.RoleAdmin))
	admin.Post("/users", h.Create)
	admin.Patch("/users/{userId}", h.Update)
	admin.Delete("/users/{userId}", h.Delete)
}

// UserResponse is the API shape of an agent. The password hash never leaves the service.
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type loginRequest struct {
	TenantSlug string `json:"tenantSlug" validate:"required,max=63"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

type createRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required,max=200"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=ADMIN AGENT"`
	Password string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

type updateRequest struct {
	FullName *string `json:"fullName,omitempty" validate:"omitempty,max=200"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=ADMIN AGENT"`
	State    *string `json:"state,omitempty" validate:"omitempty,oneof=ACTIVE DISABLED"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

type updateMeRequest struct {
	FullName *string `json:"fullName,omitempty" validate:"omitempty,max=200"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

// Login implements POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body loginRequest
	if !h.decode(w, r, &body, loginOperation) {
		return
	}

	result, err := h.svc.Login(ctx, service.LoginInput{
		TenantSlug: body.TenantSlug,
		Email:      body.Email,
		Password:   body.Password,
	})
	if err != nil {
		h.writeError(w, ctx, err, loginOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{Token: result.Token, ExpiresAt: result.ExpiresAt, User: toResponse(result.User)})
}

// List implements GET /users
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, listOperation)
	if !ok {
		return
	}

	opts, err := buildListOptions(r)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	result, err := h.svc.List(ctx, tenantID, opts)
	if err != nil {
		h.writeError(w, ctx, err, listOperation)
		return
	}

	items := make([]UserResponse, 0, len(result.Users))
	for _, user := range result.Users {
		items = append(items, toResponse(user))
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Page[UserResponse]{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// Create implements POST /users
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

	created, err := h.svc.Create(ctx, tenantID, service.CreateInput{
		Email:    body.Email,
		FullName: body.FullName,
		Role:     body.Role,
		Password: body.Password,
	})
	if err != nil {
		h.writeError(w, ctx, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/users/%s", created.ID))
	httpx.WriteJSON(w, http.StatusCreated, toResponse(created))
}

// Get implements GET /users/{userId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, userID, ok := h.scope(w, r, getOperation)
	if !ok {
		return
	}

	user, err := h.svc.Get(ctx, tenantID, userID)
	if err != nil {
		h.writeError(w, ctx, err, getOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(user))
}

// Update implements PATCH /users/{userId}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, userID, ok := h.scope(w, r, updateOperation)
	if !ok {
		return
	}

	var body updateRequest
	if !h.decode(w, r, &body, updateOperation) {
		return
	}

	input := service.UpdateInput{FullName: body.FullName, Role: body.Role, Password: body.Password}
	if body.State != nil {
		state := lifecycle.State(*body.State)
		input.State = &state
	}

	updated, err := h.svc.Update(ctx, tenantID, userID, input)
	if err != nil {
		h.writeError(w, ctx, err, updateOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(updated))
}

// Me implements GET /users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, meGetOperation)
	if !ok {
		return
	}
	userID, err := h.extractUserID(ctx)
	if err != nil {
		h.writeError(w, ctx, err, meGetOperation)
		return
	}

	user, err := h.svc.Get(ctx, tenantID, userID)
	if err != nil {
		h.writeError(w, ctx, err, meGetOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(user))
}

// UpdateMe implements PATCH /users/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantScope(w, r, meUpdateOperation)
	if !ok {
		return
	}
	userID, err := h.extractUserID(ctx)
	if err != nil {
		h.writeError(w, ctx, err, meUpdateOperation)
		return
	}

	var body updateMeRequest
	if !h.decode(w, r, &body, meUpdateOperation) {
		return
	}

	updated, err := h.svc.UpdateSelf(ctx, tenantID, userID, service.UpdateSelfInput{FullName: body.FullName, Password: body.Password})
	if err != nil {
		h.writeError(w, ctx, err, meUpdateOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(updated))
}

// Delete implements DELETE /users/{userId}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, userID, ok := h.scope(w, r, deleteOperation)
	if !ok {
		return
	}

	if err := h.svc.Delete(ctx, tenantID, userID); err != nil {
		h.writeError(w, ctx, err, deleteOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		opts.Email = &email
	}

	if len(fields) > 0 {
		return service.ListOptions{}, &service.ValidationError{Fields: fields}
	}
	return opts, nil
}

func toResponse(user service.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      string(user.Role),
		State:     user.State.String(),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

var (
	errMissingCredentials = errors.New("missing credentials")
	errMissingTenant      = errors.New("tenant scope missing")
)

func (h *Handler) extractUserID(ctx context.Context) (uuid.UUID, error) {
	credentials, ok := platformauth.UserFromContext(ctx)
	if !ok || credentials == nil {
		return uuid.Nil, errMissingCredentials
	}

	id, err := uuid.Parse(credentials.Id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", errMissingCredentials)
	}

	return id, nil
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
	userID, err := httpx.PathUUID(r, "userId")
	if err != nil {
		h.writeError(w, r.Context(), &service.ValidationError{Fields: service.FieldErrors{"userId": {err.Error()}}}, op)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, ctx context.Context, err error, op operation) {
	if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, errMissingCredentials) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
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
		logger.Error("users operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("users resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("users request rejected", append(fieldsForLog, zap.Error(err))...)
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
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"user not found",
			httpx.ProblemTypeNotFound,
			nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict,
			"Conflict",
			"a user with this email already exists",
			httpx.ProblemTypeConflict,
			nil
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized,
			"Unauthorized",
			"invalid tenant, email or password",
			httpx.ProblemTypeUnauthorized,
			nil
	case errors.Is(err, errMissingCredentials), errors.Is(err, errMissingTenant):
		return http.StatusUnauthorized,
			"Unauthorized",
			err.Error(),
			httpx.ProblemTypeUnauthorized,
			nil
	case errors.Is(err, service.ErrTenantDisabled):
		return http.StatusForbidden,
			"Forbidden",
			"tenant is disabled",
			httpx.ProblemTypeForbidden,
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
