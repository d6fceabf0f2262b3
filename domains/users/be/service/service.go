package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/repo"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrNotFound           = errors.New("user not found")
	ErrConflict           = errors.New("user conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTenantDisabled     = errors.New("tenant disabled")
)

// Role is the permission level of an agent.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleAgent Role = "AGENT"
)

// ParseRole accepts the role name in any case.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleAgent:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// User represents the domain view of an agent.
type User struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Email     string
	FullName  string
	Role      Role
	State     lifecycle.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Email    *string
	Page     int
	PageSize int
}

// ListResult wraps a page of users with pagination metadata.
type ListResult struct {
	Users      []User
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// CreateInput represents the payload required to create a new agent.
type CreateInput struct {
	Email    string
	FullName string
	Role     string
	Password string
}

// UpdateInput encapsulates fields that can be modified by administrators.
type UpdateInput struct {
	FullName *string
	Role     *string
	State    *lifecycle.State
	Password *string
}

// UpdateSelfInput encapsulates fields that the authenticated agent can modify.
type UpdateSelfInput struct {
	FullName *string
	Password *string
}

// LoginInput identifies an agent by tenant slug and email.
type LoginInput struct {
	TenantSlug string
	Email      string
	Password   string
}

// LoginResult carries the signed access token.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(subject string, claims platformauth.TokenClaims, now time.Time) (string, time.Time, error)
}

// Service defines the business operations for the users domain.
type Service interface {
	Create(ctx context.Context, tenantID uuid.UUID, input CreateInput) (User, error)
	List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (User, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (User, error)
	UpdateSelf(ctx context.Context, tenantID, id uuid.UUID, input UpdateSelfInput) (User, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	Login(ctx context.Context, input LoginInput) (LoginResult, error)
}

type service struct {
	repo    repo.Repository
	tenants repo.TenantDirectory
	issuer  TokenIssuer
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a users Service. A nil issuer disables Login.
func New(r repo.Repository, tenants repo.TenantDirectory, issuer TokenIssuer, logger *zap.Logger) Service {
	if r == nil {
		panic("users repository is required")
	}
	if tenants == nil {
		panic("tenant directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: r, tenants: tenants, issuer: issuer, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	repoParams := persistence.ListUsersParams{Page: page, PageSize: pageSize}
	if opts.Email != nil && strings.TrimSpace(*opts.Email) != "" {
		email := strings.TrimSpace(*opts.Email)
		repoParams.Email = &email
	}

	result, err := s.repo.List(ctx, tenantID, repoParams)
	if err != nil {
		return ListResult{}, err
	}

	users := make([]User, 0, len(result.Users))
	for _, record := range result.Users {
		users = append(users, mapUser(record))
	}

	totalPages := 0
	if result.TotalItems > 0 {
		totalPages = (result.TotalItems + pageSize - 1) / pageSize
	}

	return ListResult{
		Users:      users,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: result.TotalItems,
		TotalPages: totalPages,
	}, nil
}

func (s *service) Create(ctx context.Context, tenantID uuid.UUID, input CreateInput) (User, error) {
	fieldErrors := FieldErrors{}

	email := strings.TrimSpace(input.Email)
	if email == "" {
		fieldErrors.add("email", "email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		fieldErrors.add("email", "email must be a valid address")
	}

	fullName := strings.TrimSpace(input.FullName)
	if fullName == "" {
		fieldErrors.add("fullName", "fullName is required")
	}

	role := RoleAgent
	if strings.TrimSpace(input.Role) != "" {
		parsed, err := ParseRole(input.Role)
		if err != nil {
			fieldErrors.add("role", "role must be ADMIN or AGENT")
		}
		role = parsed
	}

	var hash *string
	if input.Password != "" {
		h, err := platformauth.HashPassword(input.Password)
		if err != nil {
			fieldErrors.add("password", err.Error())
		}
		hash = &h
	}

	if len(fieldErrors) > 0 {
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.Create(ctx, persistence.UserRecord{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        strings.ToLower(email),
		FullName:     fullName,
		Role:         string(role),
		PasswordHash: hash,
		State:        lifecycle.Active.String(),
		CreatedAt:    s.now(),
	})
	if err != nil {
		return User{}, mapPersistenceError(err)
	}

	platformlogging.Ctx(ctx, s.logger).Info("agent created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", record.ID.String()),
		zap.String("role", record.Role))
	return mapUser(record), nil
}

func (s *service) Get(ctx context.Context, tenantID, id uuid.UUID) (User, error) {
	record, err := s.load(ctx, tenantID, id)
	if err != nil {
		return User{}, err
	}
	return mapUser(record), nil
}

func (s *service) Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (User, error) {
	record, err := s.load(ctx, tenantID, id)
	if err != nil {
		return User{}, err
	}

	fieldErrors := FieldErrors{}
	fieldsSet := 0

	if input.FullName != nil {
		fieldsSet++
		if name := strings.TrimSpace(*input.FullName); name == "" {
			fieldErrors.add("fullName", "fullName cannot be empty")
		} else {
			record.FullName = name
		}
	}
	if input.Role != nil {
		fieldsSet++
		if role, err := ParseRole(*input.Role); err != nil {
			fieldErrors.add("role", "role must be ADMIN or AGENT")
		} else {
			record.Role = string(role)
		}
	}
	if input.State != nil {
		fieldsSet++
		if next, err := lifecycle.State(record.State).Transition(*input.State); err != nil {
			fieldErrors.add("state", err.Error())
		} else {
			record.State = next.String()
		}
	}
	if input.Password != nil {
		fieldsSet++
		s.setPassword(&record, *input.Password, fieldErrors)
	}

	if fieldsSet == 0 {
		fieldErrors.add("payload", "at least one field must be provided")
	}
	if len(fieldErrors) > 0 {
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	updated, err := s.repo.Update(ctx, record)
	if err != nil {
		return User{}, mapPersistenceError(err)
	}
	return mapUser(updated), nil
}

func (s *service) UpdateSelf(ctx context.Context, tenantID, id uuid.UUID, input UpdateSelfInput) (User, error) {
	if input.FullName == nil && input.Password == nil {
		return User{}, newValidationError(map[string]string{"payload": "at least one field must be provided"})
	}

	record, err := s.load(ctx, tenantID, id)
	if err != nil {
		return User{}, err
	}

	fieldErrors := FieldErrors{}
	if input.FullName != nil {
		if name := strings.TrimSpace(*input.FullName); name == "" {
			fieldErrors.add("fullName", "fullName cannot be empty")
		} else {
			record.FullName = name
		}
	}
	if input.Password != nil {
		s.setPassword(&record, *input.Password, fieldErrors)
	}
	if len(fieldErrors) > 0 {
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	updated, err := s.repo.Update(ctx, record)
	if err != nil {
		return User{}, mapPersistenceError(err)
	}
	return mapUser(updated), nil
}

// Delete soft deletes the agent. Conversations keep their assignee id.
func (s *service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	record, err := s.load(ctx, tenantID, id)
	if err != nil {
		return err
	}
	record.State = lifecycle.Deleted.String()
	if _, err := s.repo.Update(ctx, record); err != nil {
		return mapPersistenceError(err)
	}
	platformlogging.Ctx(ctx, s.logger).Info("agent deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", id.String()))
	return nil
}

// Login checks the agent's password and signs an access token. Unknown tenants,
// unknown emails, inactive agents and wrong passwords all fail the same way.
func (s *service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	if s.issuer == nil {
		return LoginResult{}, errors.New("token issuer not configured")
	}
	fieldErrors := FieldErrors{}
	if strings.TrimSpace(input.TenantSlug) == "" {
		fieldErrors.add("tenantSlug", "tenantSlug is required")
	}
	if strings.TrimSpace(input.Email) == "" {
		fieldErrors.add("email", "email is required")
	}
	if input.Password == "" {
		fieldErrors.add("password", "password is required")
	}
	if len(fieldErrors) > 0 {
		return LoginResult{}, &ValidationError{Fields: fieldErrors}
	}

	logger := platformlogging.Ctx(ctx, s.logger)

	tenantRec, err := s.tenants.GetBySlug(ctx, strings.TrimSpace(input.TenantSlug))
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return LoginResult{}, ErrInvalidCredentials
	case err != nil:
		return LoginResult{}, fmt.Errorf("load tenant: %w", err)
	}
	now := s.now()
	if tenantRec.State != lifecycle.Active.String() ||
		(tenantRec.SubscriptionExpiresAt != nil && tenantRec.SubscriptionExpiresAt.Before(now)) {
		logger.Warn("login to inactive tenant", zap.String("tenant_id", tenantRec.ID.String()))
		return LoginResult{}, ErrTenantDisabled
	}

	record, err := s.repo.GetByEmail(ctx, tenantRec.ID, strings.TrimSpace(input.Email))
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return LoginResult{}, ErrInvalidCredentials
	case err != nil:
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if record.State != lifecycle.Active.String() || record.PasswordHash == nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := platformauth.ComparePassword(*record.PasswordHash, input.Password); err != nil {
		logger.Info("login rejected", zap.String("tenant_id", tenantRec.ID.String()), zap.String("user_id", record.ID.String()))
		return LoginResult{}, ErrInvalidCredentials
	}

	role := Role(record.Role)
	token, expiresAt, err := s.issuer.Issue(record.ID.String(), platformauth.TokenClaims{
		TenantID: tenantRec.ID.String(),
		Email:    record.Email,
		Name:     record.FullName,
		Role:     strings.ToLower(string(role)),
		IsAdmin:  role == RoleAdmin,
	}, now)
	if err != nil {
		return LoginResult{}, err
	}

	logger.Info("agent signed in", zap.String("tenant_id", tenantRec.ID.String()), zap.String("user_id", record.ID.String()))
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: mapUser(record)}, nil
}

func (s *service) load(ctx context.Context, tenantID, id uuid.UUID) (persistence.UserRecord, error) {
	if id == uuid.Nil {
		return persistence.UserRecord{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return persistence.UserRecord{}, mapPersistenceError(err)
	}
	if record.State == lifecycle.Deleted.String() {
		return persistence.UserRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *service) setPassword(record *persistence.UserRecord, password string, fieldErrors FieldErrors) {
	hash, err := platformauth.HashPassword(password)
	if err != nil {
		fieldErrors.add("password", err.Error())
		return
	}
	record.PasswordHash = &hash
}

func mapUser(record persistence.UserRecord) User {
	return User{
		ID:        record.ID,
		TenantID:  record.TenantID,
		Email:     record.Email,
		FullName:  record.FullName,
		Role:      Role(record.Role),
		State:     lifecycle.State(record.State),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for key, message := range fields {
		fe.add(key, message)
	}
	return &ValidationError{Fields: fe}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
