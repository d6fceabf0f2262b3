// Package channel normalizes vendor messaging payloads and sends replies through
// the vendor a connector is bound to.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNotImplemented  = errors.New("capability not implemented")
	ErrInvalidConfig   = errors.New("invalid connector config")
	ErrConfigMismatch  = errors.New("connector config does not match provider")
	ErrInvalidMenu     = errors.New("invalid menu")
)

// Connector is a loaded, validated provider binding.
type Connector struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ChannelID uuid.UUID
	Provider  Provider
	Config    Config
}

// Inbound is a vendor message normalized into the shape the helpdesk stores.
// MediaType and MediaURL are either both set or both empty.
type Inbound struct {
	Provider          Provider
	ExternalUserID    string
	ExternalChatID    string
	ExternalMessageID string
	SenderName        string
	Text              string
	MediaType         string
	MediaURL          string
	IsGroup           bool
	Timestamp         time.Time
	Raw               json.RawMessage
}

func (in Inbound) HasMedia() bool { return in.MediaType != "" && in.MediaURL != "" }

// Body is the stored message text: the text itself, or a [type] placeholder for
// media without a caption.
func (in Inbound) Body() string {
	if in.Text != "" {
		return in.Text
	}
	if in.MediaType != "" {
		return "[" + in.MediaType + "]"
	}
	return ""
}

// StatusUpdate is a delivery receipt for a message sent earlier.
type StatusUpdate struct {
	ExternalMessageID string
	Status            DeliveryStatus
	Timestamp         time.Time
}

// SendResult carries the vendor's id for a sent message when it returns one.
type SendResult struct {
	ExternalMessageID string
}

// Menu is an interactive list message.
type Menu struct {
	Header  string
	Body    string
	Button  string
	Options []MenuOption
}

type MenuOption struct {
	ID          string
	Title       string
	Description string
}

// InboundParser turns a raw webhook body into an Inbound. The bool is false when
// the payload is not a new user message and should be ignored.
type InboundParser interface {
	ParseInbound(raw []byte, conn Connector) (Inbound, bool)
}

// StatusParser turns a raw webhook body into a delivery receipt.
type StatusParser interface {
	ParseStatusUpdate(raw []byte, conn Connector) (StatusUpdate, bool)
}

type TextSender interface {
	SendText(ctx context.Context, conn Connector, externalUserID, text string) (SendResult, error)
}

type MenuSender interface {
	SendMenu(ctx context.Context, conn Connector, externalUserID string, menu Menu) (SendResult, error)
}

// Adapter is the capability every provider must offer.
type Adapter interface {
	Provider() Provider
	InboundParser
	TextSender
}

// VendorError is a non-2xx answer from a vendor API.
type VendorError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s vendor call failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}
