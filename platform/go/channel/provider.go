package channel

import (
	"fmt"
	"strings"
)

// Provider is the closed set of messaging vendors a connector can bind to.
type Provider string

const (
	ProviderGTI      Provider = "GTI"
	ProviderOfficial Provider = "OFFICIAL"
	ProviderWebChat  Provider = "WEBCHAT"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderGTI, ProviderOfficial, ProviderWebChat}

// ParseProvider accepts either the stored form ("GTI") or the webhook route key ("gti").
func ParseProvider(raw string) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ProviderGTI):
		return ProviderGTI, nil
	case string(ProviderOfficial):
		return ProviderOfficial, nil
	case string(ProviderWebChat):
		return ProviderWebChat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
}

// RouteKey is the lower-case segment used in webhook URLs.
func (p Provider) RouteKey() string { return strings.ToLower(string(p)) }

func (p Provider) String() string { return string(p) }

// DeliveryStatus is the lifecycle of an outbound message as reported by the vendor.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
	StatusFailed    DeliveryStatus = "FAILED"
)

// Rank orders statuses so updates only move forward. FAILED ranks 0.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	switch s := DeliveryStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown delivery status %q", raw)
	}
}
