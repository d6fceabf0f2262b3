// Package service runs vendor webhooks through the inbound pipeline: adapter,
// thread resolver, message writer and a detached triage pass.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	messages "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/service"
	triage "github.com/zenGate-Global/palmyra-helpdesk/domains/triage/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrConnectorNotFound = errors.New("connector not found or inactive")
	ErrNotWebChat        = errors.New("connector is not a webchat connector")
)

// DefaultTriageTimeout bounds a detached triage run.
const DefaultTriageTimeout = 10 * time.Second

// Outcome says what a webhook turned out to be.
type Outcome struct {
	Kind           string
	ConversationID *uuid.UUID
	Status         channel.DeliveryStatus
}

// Ignored reports whether the payload was neither a message nor a receipt.
func (o Outcome) Ignored() bool { return o.Kind == metrics.OutcomeIgnored }

// ConnectorLoader finds connectors that may receive traffic.
type ConnectorLoader interface {
	LoadActiveConnector(ctx context.Context, id uuid.UUID) (persistence.ConnectorRecord, error)
}

// Adapters resolves the parsing capabilities of a provider.
type Adapters interface {
	Adapter(p channel.Provider) (channel.Adapter, bool)
	StatusParser(p channel.Provider) (channel.StatusParser, bool)
}

// Resolver maps an inbound message to its conversation.
type Resolver interface {
	ResolveConversationForInbound(ctx context.Context, in channel.Inbound, conn channel.Connector) (uuid.UUID, error)
}

// MessageStore persists inbound messages and delivery receipts.
type MessageStore interface {
	SaveInbound(ctx context.Context, tenantID, conversationID uuid.UUID, in channel.Inbound) (messages.Message, error)
	UpdateMessageStatus(ctx context.Context, tenantID uuid.UUID, externalMessageID string, status channel.DeliveryStatus) (*uuid.UUID, error)
}

// Triager runs a named agent over a message.
type Triager interface {
	Run(ctx context.Context, agentName, input string, tc triage.TriageContext) ([]triage.Decision, error)
}

// Config tunes the pipeline.
type Config struct {
	TriageTimeout time.Duration
}

// Service handles vendor webhooks and widget posts.
type Service interface {
	HandleWebhook(ctx context.Context, provider string, connectorID uuid.UUID, raw []byte) (Outcome, error)
	HandleWebChat(ctx context.Context, connectorID uuid.UUID, raw []byte) (Outcome, error)
	// WebChatConnector loads an active webchat connector for a widget socket.
	WebChatConnector(ctx context.Context, connectorID uuid.UUID) (channel.Connector, error)
	// Wait blocks until detached triage runs have finished.
	Wait()
}

type service struct {
	connectors ConnectorLoader
	adapters   Adapters
	resolver   Resolver
	store      MessageStore
	triage     Triager
	cfg        Config
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New constructs the pipeline. A nil triager disables triage.
func New(connectors ConnectorLoader, adapters Adapters, resolver Resolver, store MessageStore, triager Triager, cfg Config, logger *zap.Logger) Service {
	if connectors == nil {
		panic("connector loader is required")
	}
	if adapters == nil {
		panic("channel registry is required")
	}
	if resolver == nil {
		panic("thread resolver is required")
	}
	if store == nil {
		panic("message store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TriageTimeout <= 0 {
		cfg.TriageTimeout = DefaultTriageTimeout
	}
	return &service{
		connectors: connectors,
		adapters:   adapters,
		resolver:   resolver,
		store:      store,
		triage:     triager,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *service) HandleWebhook(ctx context.Context, provider string, connectorID uuid.UUID, raw []byte) (Outcome, error) {
	p, err := channel.ParseProvider(provider)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	adapter, ok := s.adapters.Adapter(p)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	conn, err := s.loadConnector(ctx, connectorID)
	if err != nil {
		return Outcome{}, err
	}
	if conn.Provider != p {
		return Outcome{}, fmt.Errorf("%w: %s is bound to %s", ErrConnectorNotFound, connectorID, conn.Provider)
	}
	return s.process(ctx, adapter, conn, raw)
}

func (s *service) HandleWebChat(ctx context.Context, connectorID uuid.UUID, raw []byte) (Outcome, error) {
	conn, err := s.WebChatConnector(ctx, connectorID)
	if err != nil {
		return Outcome{}, err
	}
	adapter, ok := s.adapters.Adapter(channel.ProviderWebChat)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownProvider, channel.ProviderWebChat)
	}
	return s.process(ctx, adapter, conn, raw)
}

func (s *service) WebChatConnector(ctx context.Context, connectorID uuid.UUID) (channel.Connector, error) {
	conn, err := s.loadConnector(ctx, connectorID)
	if err != nil {
		return channel.Connector{}, err
	}
	if conn.Provider != channel.ProviderWebChat {
		return channel.Connector{}, fmt.Errorf("%w: %s", ErrNotWebChat, connectorID)
	}
	return conn, nil
}

func (s *service) loadConnector(ctx context.Context, id uuid.UUID) (channel.Connector, error) {
	rec, err := s.connectors.LoadActiveConnector(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return channel.Connector{}, fmt.Errorf("%w: %s", ErrConnectorNotFound, id)
	case err != nil:
		return channel.Connector{}, fmt.Errorf("load connector: %w", err)
	}

	provider, err := channel.ParseProvider(rec.Provider)
	if err != nil {
		return channel.Connector{}, fmt.Errorf("connector %s: %w", id, err)
	}
	return channel.LoadConnector(channel.Connector{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		ChannelID: rec.ChannelID,
		Provider:  provider,
	}, rec.Config)
}

func (s *service) process(ctx context.Context, adapter channel.Adapter, conn channel.Connector, raw []byte) (Outcome, error) {
	logger := platformlogging.Ctx(ctx, s.logger).With(
		zap.String("provider", conn.Provider.String()),
		zap.String("connector_id", conn.ID.String()),
		zap.String("tenant_id", conn.TenantID.String()),
	)

	if in, ok := adapter.ParseInbound(raw, conn); ok {
		convID, err := s.resolver.ResolveConversationForInbound(ctx, in, conn)
		if err != nil {
			return Outcome{}, err
		}
		msg, err := s.store.SaveInbound(ctx, conn.TenantID, convID, in)
		if err != nil {
			return Outcome{}, fmt.Errorf("save inbound: %w", err)
		}
		logger.Info("inbound message stored",
			zap.String("conversation_id", convID.String()),
			zap.String("message_id", msg.ID.String()))

		s.runTriage(ctx, in, conn, convID)
		return Outcome{Kind: metrics.OutcomeMessage, ConversationID: &convID}, nil
	}

	if parser, ok := s.adapters.StatusParser(conn.Provider); ok {
		if update, ok := parser.ParseStatusUpdate(raw, conn); ok {
			convID, err := s.store.UpdateMessageStatus(ctx, conn.TenantID, update.ExternalMessageID, update.Status)
			if err != nil {
				return Outcome{}, err
			}
			logger.Debug("delivery receipt processed",
				zap.String("external_message_id", update.ExternalMessageID),
				zap.String("status", string(update.Status)),
				zap.Bool("known", convID != nil))
			return Outcome{Kind: metrics.OutcomeStatus, ConversationID: convID, Status: update.Status}, nil
		}
	}

	logger.Debug("webhook ignored")
	return Outcome{Kind: metrics.OutcomeIgnored}, nil
}

// runTriage classifies the message off the request path. The request context is
// detached so the run outlives the response; only the timeout bounds it.
func (s *service) runTriage(ctx context.Context, in channel.Inbound, conn channel.Connector, convID uuid.UUID) {
	text := strings.TrimSpace(in.Text)
	if s.triage == nil || text == "" {
		return
	}

	logger := platformlogging.Ctx(ctx, s.logger)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TriageTimeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("triage panicked", zap.Any("panic", r), zap.String("conversation_id", convID.String()))
			}
		}()

		decisions, err := s.triage.Run(runCtx, triage.TriageAgentName, text, triage.TriageContext{
			TenantID:       conn.TenantID,
			ConversationID: convID,
			Provider:       conn.Provider,
			ExternalUserID: in.ExternalUserID,
		})
		if err != nil {
			logger.Warn("triage failed", zap.Error(err), zap.String("conversation_id", convID.String()))
			return
		}
		for _, d := range decisions {
			logger.Debug("triage decision",
				zap.String("conversation_id", convID.String()),
				zap.String("type", string(d.Type)),
				zap.String("priority", string(d.Priority)),
				zap.String("hint", d.Hint))
		}
	}()
}

func (s *service) Wait() {
	s.wg.Wait()
}
