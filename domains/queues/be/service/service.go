// Package service manages the queues conversations are routed into.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

const maxNameLength = 120

var (
	ErrQueueNotFound  = errors.New("queue not found")
	ErrQueueNameTaken = errors.New("queue name already in use")
)

// FieldErrors maps a field to its validation messages.
type FieldErrors map[string][]string

// ValidationError is returned when input fails validation.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string { return "validation failed" }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(FieldErrors)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// Queue is a named bucket of conversations.
type Queue struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenantId"`
	Name      string          `json:"name"`
	State     lifecycle.State `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UpdateInput carries the mutable fields of a queue. Nil fields stay unchanged.
type UpdateInput struct {
	Name  *string
	State *lifecycle.State
}

// Service exposes queue management to the agent API.
type Service interface {
	Create(ctx context.Context, tenantID uuid.UUID, name string) (Queue, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (Queue, error)
	List(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Queue, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (Queue, error)
	// Deactivate is the soft delete of a queue: it keeps its conversations and
	// frees nothing, but stops listing it as ACTIVE.
	Deactivate(ctx context.Context, tenantID, id uuid.UUID) error
}

type service struct {
	repo   repo.Repository
	logger *zap.Logger
	now    func() time.Time
}

func New(repository repo.Repository, logger *zap.Logger) Service {
	if repository == nil {
		panic("queues repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repository, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) Create(ctx context.Context, tenantID uuid.UUID, name string) (Queue, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	name = normalizeName(name, verr)
	if !verr.empty() {
		return Queue{}, verr
	}

	rec, err := s.repo.Create(ctx, persistence.QueueRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		State:     lifecycle.Active.String(),
		CreatedAt: s.now(),
	})
	if err != nil {
		return Queue{}, mapPersistenceError(err)
	}

	platformlogging.Ctx(ctx, s.logger).Info("queue created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("queue_id", rec.ID.String()))
	return toQueue(rec), nil
}

func (s *service) Get(ctx context.Context, tenantID, id uuid.UUID) (Queue, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Queue{}, mapPersistenceError(err)
	}
	if rec.State == lifecycle.Deleted.String() {
		return Queue{}, ErrQueueNotFound
	}
	return toQueue(rec), nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Queue, error) {
	recs, err := s.repo.List(ctx, tenantID, includeInactive)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	out := make([]Queue, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toQueue(rec))
	}
	return out, nil
}

func (s *service) Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (Queue, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	if input.Name == nil && input.State == nil {
		verr.add("body", "at least one field must be provided")
		return Queue{}, verr
	}

	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Queue{}, err
	}

	rec := persistence.QueueRecord{ID: id, TenantID: tenantID, Name: current.Name, State: current.State.String()}
	if input.Name != nil {
		rec.Name = normalizeName(*input.Name, verr)
	}
	if input.State != nil {
		next, err := current.State.Transition(*input.State)
		if err != nil {
			verr.add("state", err.Error())
		}
		rec.State = next.String()
	}
	if !verr.empty() {
		return Queue{}, verr
	}

	updated, err := s.repo.Update(ctx, rec)
	if err != nil {
		return Queue{}, mapPersistenceError(err)
	}
	return toQueue(updated), nil
}

func (s *service) Deactivate(ctx context.Context, tenantID, id uuid.UUID) error {
	disabled := lifecycle.Disabled
	if _, err := s.Update(ctx, tenantID, id, UpdateInput{State: &disabled}); err != nil {
		return err
	}
	platformlogging.Ctx(ctx, s.logger).Info("queue deactivated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("queue_id", id.String()))
	return nil
}

func normalizeName(name string, verr *ValidationError) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		verr.add("name", "must not be empty")
	case len(name) > maxNameLength:
		verr.add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	return name
}

func toQueue(rec persistence.QueueRecord) Queue {
	state, err := lifecycle.Parse(rec.State)
	if err != nil {
		state = lifecycle.State(rec.State)
	}
	return Queue{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Name:      rec.Name,
		State:     state,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrQueueNotFound
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %w", ErrQueueNameTaken, err)
	default:
		return err
	}
}
