package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/repo"
	messages "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
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

func (v *ValidationError) add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(FieldErrors)
	}
	v.Fields[field] = append(v.Fields[field], message)
}

func (v *ValidationError) empty() bool { return len(v.Fields) == 0 }

// Domain sentinel errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoActiveConnector    = errors.New("tenant has no active connector")
	ErrNoThread             = errors.New("conversation has no external thread")
	ErrConnectorInactive    = errors.New("connector is not active")
	ErrSendFailed           = errors.New("vendor send failed")
	ErrMenuNotSupported     = errors.New("provider cannot send menus")
)

// Status of a conversation in the inbox.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusPending  Status = "PENDING"
	StatusResolved Status = "RESOLVED"
)

func (s Status) valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved:
		return true
	}
	return false
}

// Kind of conversation.
type Kind string

const (
	KindDirect Kind = "DIRECT"
	KindGroup  Kind = "GROUP"
)

const (
	maxTitleLength = 200
	maxPageSize    = 100

	// defaultTitlePrefix marks titles generated from the external id. Only those are
	// replaced once the contact's name is known.
	defaultTitlePrefix = "WhatsApp"
)

// Conversation is the domain view of a conversation.
type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenantId"`
	ChannelID      uuid.UUID  `json:"channelId"`
	Title          string     `json:"title"`
	Kind           Kind       `json:"kind"`
	Status         Status     `json:"status"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	AssignedUserID *uuid.UUID `json:"assignedUserId,omitempty"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ListParams filters the inbox.
type ListParams struct {
	Status     *Status
	QueueID    *uuid.UUID
	AssignedTo *uuid.UUID
	Page       int
	PageSize   int
}

// ListResult is one page of the inbox.
type ListResult struct {
	Conversations []Conversation
	Page          int
	PageSize      int
	TotalItems    int
}

// OptionalUUID distinguishes "leave unchanged" from "clear" in partial updates.
type OptionalUUID struct {
	Set   bool
	Value *uuid.UUID
}

// UpdateInput carries the fields of a partial update. Nil or unset fields are kept.
type UpdateInput struct {
	Title          *string
	Status         *Status
	QueueID        OptionalUUID
	AssignedUserID OptionalUUID
}

// MessageWriter persists the outbound copy of a reply.
type MessageWriter interface {
	SaveOutbound(ctx context.Context, tenantID, conversationID uuid.UUID, text string, externalMessageID *string, senderUserID *uuid.UUID) (messages.Message, error)
}

// Senders resolves the outbound capabilities of a provider.
type Senders interface {
	Adapter(p channel.Provider) (channel.Adapter, bool)
	MenuSender(p channel.Provider) (channel.MenuSender, bool)
}

// Service maps vendor threads to conversations and serves the agent inbox.
type Service interface {
	// ResolveConversationForInbound always returns a conversation id for in, creating one when needed.
	ResolveConversationForInbound(ctx context.Context, in channel.Inbound, conn channel.Connector) (uuid.UUID, error)
	FindOrCreateConversation(ctx context.Context, tenantID uuid.UUID, phone string, name *string, assignedUserID *uuid.UUID) (Conversation, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (Conversation, error)
	List(ctx context.Context, tenantID uuid.UUID, params ListParams) (ListResult, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (Conversation, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	Reply(ctx context.Context, tenantID, id uuid.UUID, text string, senderUserID *uuid.UUID) (messages.Message, error)
	ReplyMenu(ctx context.Context, tenantID, id uuid.UUID, menu channel.Menu, senderUserID *uuid.UUID) (messages.Message, error)
}

type service struct {
	repo      repo.Repository
	senders   Senders
	writer    MessageWriter
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a conversations Service. A nil publisher drops notifications.
func New(r repo.Repository, senders Senders, writer MessageWriter, publisher realtime.Publisher, logger *zap.Logger) Service {
	if r == nil {
		panic("conversations repository is required")
	}
	if senders == nil {
		panic("channel registry is required")
	}
	if writer == nil {
		panic("message writer is required")
	}
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		repo:      r,
		senders:   senders,
		writer:    writer,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// threadLockKeys covers both lookups thread resolution makes: the chat for
// tier 1 and the user for tiers 2 and 3. A direct chat has one key.
func threadLockKeys(userID, chatID string) []string {
	if chatID == "" || chatID == userID {
		return []string{userID}
	}
	return []string{userID, "chat:" + chatID}
}

func (s *service) ResolveConversationForInbound(ctx context.Context, in channel.Inbound, conn channel.Connector) (uuid.UUID, error) {
	userID := strings.TrimSpace(in.ExternalUserID)
	if userID == "" {
		return uuid.Nil, &ValidationError{Fields: FieldErrors{"externalUserId": {"external user id is required"}}}
	}
	chatID := strings.TrimSpace(in.ExternalChatID)
	if chatID == "" {
		chatID = userID
	}
	tenantID := conn.TenantID
	logger := platformlogging.Ctx(ctx, s.logger)

	var (
		convID  uuid.UUID
		changed *persistence.ConversationRecord
	)
	err := s.repo.WithThreadLock(ctx, tenantID, threadLockKeys(userID, chatID), func(tx repo.ThreadTx) error {
		thread, err := tx.FindByChat(ctx, tenantID, conn.ID, chatID)
		switch {
		case err == nil:
			convID = thread.ConversationID
			updated, err := s.upgradeTitle(ctx, tx, tenantID, convID, in.SenderName)
			if err != nil {
				return err
			}
			changed = updated
			return nil
		case !errors.Is(err, persistence.ErrNotFound):
			return fmt.Errorf("find thread by chat: %w", err)
		}

		thread, err = tx.FindByUser(ctx, tenantID, userID)
		switch {
		case err == nil:
			logger.Warn("re-homing external thread to new connector",
				zap.String("conversation_id", thread.ConversationID.String()),
				zap.String("from_connector_id", thread.ConnectorID.String()),
				zap.String("to_connector_id", conn.ID.String()),
				zap.String("external_chat_id", chatID))
			if err := tx.Rehome(ctx, thread.ID, conn.ID, chatID); err != nil {
				return fmt.Errorf("re-home thread: %w", err)
			}
			convID = thread.ConversationID
			return nil
		case !errors.Is(err, persistence.ErrNotFound):
			return fmt.Errorf("find thread by user: %w", err)
		}

		created, err := tx.InsertConversation(ctx,
			s.newConversation(tenantID, conn.ChannelID, titleFor(in.SenderName, userID), nil),
			persistence.ThreadRecord{
				ID:             uuid.New(),
				TenantID:       tenantID,
				ConnectorID:    conn.ID,
				ExternalChatID: chatID,
				ExternalUserID: userID,
			})
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		convID = created.ID
		changed = &created
		logger.Info("conversation created from inbound",
			zap.String("conversation_id", created.ID.String()),
			zap.String("connector_id", conn.ID.String()),
			zap.String("provider", conn.Provider.String()))
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve conversation: %w", err)
	}

	if changed != nil {
		s.notify(ctx, mapConversation(*changed))
	}
	return convID, nil
}

// upgradeTitle replaces a generated title with the contact's name. Custom titles stay.
func (s *service) upgradeTitle(ctx context.Context, tx repo.ThreadTx, tenantID, convID uuid.UUID, senderName string) (*persistence.ConversationRecord, error) {
	senderName = strings.TrimSpace(senderName)
	if senderName == "" {
		return nil, nil
	}
	conv, err := tx.GetConversation(ctx, tenantID, convID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !strings.HasPrefix(conv.Title, defaultTitlePrefix) || conv.Title == senderName {
		return nil, nil
	}
	if err := tx.UpdateTitle(ctx, tenantID, convID, senderName); err != nil {
		return nil, fmt.Errorf("update title: %w", err)
	}
	conv.Title = senderName
	return &conv, nil
}

func (s *service) FindOrCreateConversation(ctx context.Context, tenantID uuid.UUID, phone string, name *string, assignedUserID *uuid.UUID) (Conversation, error) {
	userID := channel.NormalizeWhatsAppID(phone)
	if userID == "" {
		return Conversation{}, &ValidationError{Fields: FieldErrors{"phone": {"phone must contain digits, a JID or a webchat id"}}}
	}
	var senderName string
	if name != nil {
		senderName = strings.TrimSpace(*name)
	}

	var (
		result  persistence.ConversationRecord
		created bool
	)
	err := s.repo.WithThreadLock(ctx, tenantID, threadLockKeys(userID, userID), func(tx repo.ThreadTx) error {
		thread, err := tx.FindByUser(ctx, tenantID, userID)
		switch {
		case err == nil:
			if assignedUserID != nil {
				if _, err := tx.AssignIfUnowned(ctx, tenantID, thread.ConversationID, *assignedUserID); err != nil {
					return fmt.Errorf("assign conversation: %w", err)
				}
			}
			result, err = tx.GetConversation(ctx, tenantID, thread.ConversationID)
			if err != nil {
				return fmt.Errorf("load conversation: %w", err)
			}
			return nil
		case !errors.Is(err, persistence.ErrNotFound):
			return fmt.Errorf("find thread by user: %w", err)
		}

		connectors, _, err := s.repo.ListActiveConnectors(ctx, tenantID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("list active connectors: %w", err)
		}
		if len(connectors) == 0 {
			return ErrNoActiveConnector
		}
		conn := connectors[0]

		result, err = tx.InsertConversation(ctx,
			s.newConversation(tenantID, conn.ChannelID, titleFor(senderName, userID), assignedUserID),
			persistence.ThreadRecord{
				ID:             uuid.New(),
				TenantID:       tenantID,
				ConnectorID:    conn.ID,
				ExternalChatID: userID,
				ExternalUserID: userID,
			})
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoActiveConnector) {
			return Conversation{}, ErrNoActiveConnector
		}
		return Conversation{}, err
	}

	conv := mapConversation(result)
	if created {
		s.notify(ctx, conv)
	}
	return conv, nil
}

func (s *service) Get(ctx context.Context, tenantID, id uuid.UUID) (Conversation, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Conversation{}, mapPersistenceError(err)
	}
	return mapConversation(rec), nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, params ListParams) (ListResult, error) {
	verr := &ValidationError{}
	if params.Status != nil && !params.Status.valid() {
		verr.add("status", "status must be OPEN, PENDING or RESOLVED")
	}
	if params.Page < 0 {
		verr.add("page", "page must be at least 1")
	}
	if params.PageSize < 0 || params.PageSize > maxPageSize {
		verr.add("pageSize", fmt.Sprintf("pageSize must be between 1 and %d", maxPageSize))
	}
	if !verr.empty() {
		return ListResult{}, verr
	}

	page, pageSize := params.Page, params.PageSize
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 20
	}

	var status *string
	if params.Status != nil {
		raw := string(*params.Status)
		status = &raw
	}
	res, err := s.repo.List(ctx, tenantID, persistence.ListConversationsParams{
		Status:     status,
		QueueID:    params.QueueID,
		AssignedTo: params.AssignedTo,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list conversations: %w", err)
	}

	out := ListResult{
		Conversations: make([]Conversation, 0, len(res.Conversations)),
		Page:          page,
		PageSize:      pageSize,
		TotalItems:    res.TotalItems,
	}
	for _, rec := range res.Conversations {
		out.Conversations = append(out.Conversations, mapConversation(rec))
	}
	return out, nil
}

func (s *service) Update(ctx context.Context, tenantID, id uuid.UUID, input UpdateInput) (Conversation, error) {
	verr := &ValidationError{}
	if input.Title == nil && input.Status == nil && !input.QueueID.Set && !input.AssignedUserID.Set {
		verr.add("body", "at least one field must be provided")
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		switch {
		case title == "":
			verr.add("title", "title cannot be blank")
		case utf8.RuneCountInString(title) > maxTitleLength:
			verr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
		}
		input.Title = &title
	}
	if input.Status != nil && !input.Status.valid() {
		verr.add("status", "status must be OPEN, PENDING or RESOLVED")
	}
	if !verr.empty() {
		return Conversation{}, verr
	}

	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Conversation{}, mapPersistenceError(err)
	}

	if input.QueueID.Set && input.QueueID.Value != nil {
		queue, err := s.repo.GetQueue(ctx, tenantID, *input.QueueID.Value)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			return Conversation{}, &ValidationError{Fields: FieldErrors{"queueId": {"queue not found"}}}
		case err != nil:
			return Conversation{}, fmt.Errorf("load queue: %w", err)
		case !lifecycle.State(queue.State).IsActive():
			return Conversation{}, &ValidationError{Fields: FieldErrors{"queueId": {"queue is not active"}}}
		}
	}

	if input.Title != nil {
		current.Title = *input.Title
	}
	if input.Status != nil {
		current.Status = string(*input.Status)
	}
	if input.QueueID.Set {
		current.QueueID = input.QueueID.Value
	}
	if input.AssignedUserID.Set {
		current.AssignedUserID = input.AssignedUserID.Value
	}

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return Conversation{}, mapPersistenceError(err)
	}
	conv := mapConversation(updated)
	s.notify(ctx, conv)
	return conv, nil
}

func (s *service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return mapPersistenceError(err)
	}
	return nil
}

func (s *service) Reply(ctx context.Context, tenantID, id uuid.UUID, text string, senderUserID *uuid.UUID) (messages.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return messages.Message{}, &ValidationError{Fields: FieldErrors{"text": {"text is required"}}}
	case utf8.RuneCountInString(text) > messages.MaxBodyLength:
		return messages.Message{}, &ValidationError{Fields: FieldErrors{"text": {fmt.Sprintf("text must be at most %d characters", messages.MaxBodyLength)}}}
	}

	thread, conn, err := s.outboundRoute(ctx, tenantID, id)
	if err != nil {
		return messages.Message{}, err
	}
	adapter, ok := s.senders.Adapter(conn.Provider)
	if !ok {
		return messages.Message{}, fmt.Errorf("%w: %s", channel.ErrUnknownProvider, conn.Provider)
	}

	res, err := adapter.SendText(ctx, conn, thread.ExternalUserID, text)
	metrics.OutboundSends.WithLabelValues(conn.Provider.String(), metrics.Result(err)).Inc()
	if err != nil {
		return messages.Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return s.writer.SaveOutbound(ctx, tenantID, id, text, optional(res.ExternalMessageID), senderUserID)
}

func (s *service) ReplyMenu(ctx context.Context, tenantID, id uuid.UUID, menu channel.Menu, senderUserID *uuid.UUID) (messages.Message, error) {
	thread, conn, err := s.outboundRoute(ctx, tenantID, id)
	if err != nil {
		return messages.Message{}, err
	}
	sender, ok := s.senders.MenuSender(conn.Provider)
	if !ok {
		return messages.Message{}, fmt.Errorf("%w: %s", ErrMenuNotSupported, conn.Provider)
	}

	res, err := sender.SendMenu(ctx, conn, thread.ExternalUserID, menu)
	switch {
	case errors.Is(err, channel.ErrNotImplemented):
		return messages.Message{}, fmt.Errorf("%w: %s", ErrMenuNotSupported, conn.Provider)
	case errors.Is(err, channel.ErrInvalidMenu):
		return messages.Message{}, &ValidationError{Fields: FieldErrors{"menu": {err.Error()}}}
	}
	metrics.OutboundSends.WithLabelValues(conn.Provider.String(), metrics.Result(err)).Inc()
	if err != nil {
		return messages.Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return s.writer.SaveOutbound(ctx, tenantID, id, menuTranscript(menu), optional(res.ExternalMessageID), senderUserID)
}

// outboundRoute finds the thread and loaded connector a reply goes through.
func (s *service) outboundRoute(ctx context.Context, tenantID, id uuid.UUID) (persistence.ThreadRecord, channel.Connector, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return persistence.ThreadRecord{}, channel.Connector{}, mapPersistenceError(err)
	}

	thread, rec, err := s.repo.LatestThread(ctx, tenantID, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return persistence.ThreadRecord{}, channel.Connector{}, ErrNoThread
	case err != nil:
		return persistence.ThreadRecord{}, channel.Connector{}, fmt.Errorf("load thread: %w", err)
	}
	if !lifecycle.State(rec.State).IsActive() {
		return persistence.ThreadRecord{}, channel.Connector{}, fmt.Errorf("%w: %s", ErrConnectorInactive, rec.ID)
	}

	provider, err := channel.ParseProvider(rec.Provider)
	if err != nil {
		return persistence.ThreadRecord{}, channel.Connector{}, err
	}
	conn, err := channel.LoadConnector(channel.Connector{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		ChannelID: rec.ChannelID,
		Provider:  provider,
	}, rec.Config)
	if err != nil {
		return persistence.ThreadRecord{}, channel.Connector{}, err
	}
	return thread, conn, nil
}

func (s *service) newConversation(tenantID, channelID uuid.UUID, title string, assignee *uuid.UUID) persistence.ConversationRecord {
	return persistence.ConversationRecord{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ChannelID:      channelID,
		Title:          title,
		Kind:           string(KindDirect),
		Status:         string(StatusOpen),
		AssignedUserID: assignee,
		CreatedAt:      s.now(),
	}
}

func (s *service) notify(ctx context.Context, conv Conversation) {
	ev := realtime.NewEvent(realtime.EventConversationUpdated, conv.TenantID, &conv.ID, conv)
	if err := s.publisher.Publish(ctx, ev, realtime.Rooms(conv.TenantID, &conv.ID)...); err != nil {
		platformlogging.Ctx(ctx, s.logger).Warn("publish conversation event", zap.Error(err))
	}
}

func titleFor(senderName, externalUserID string) string {
	if name := strings.TrimSpace(senderName); name != "" {
		return name
	}
	return defaultTitlePrefix + " • " + channel.StripJID(externalUserID)
}

func menuTranscript(menu channel.Menu) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(menu.Body))
	for _, opt := range menu.Options {
		b.WriteString("\n- ")
		b.WriteString(opt.Title)
	}
	return strings.TrimSpace(b.String())
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrConversationNotFound
	default:
		return err
	}
}

func mapConversation(rec persistence.ConversationRecord) Conversation {
	return Conversation{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		ChannelID:      rec.ChannelID,
		Title:          rec.Title,
		Kind:           Kind(rec.Kind),
		Status:         Status(rec.Status),
		LastMessageAt:  rec.LastMessageAt,
		AssignedUserID: rec.AssignedUserID,
		QueueID:        rec.QueueID,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
