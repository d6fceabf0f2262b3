package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	DefaultOfficialAPIVersion = "v20.0"
	DefaultGraphBaseURL       = "https://graph.facebook.com"
)

// Config is the typed configuration of one provider. The concrete type always
// matches Provider().
type Config interface {
	Provider() Provider
}

// GTIConfig binds a connector to a uazapi-style WhatsApp bridge instance.
type GTIConfig struct {
	BaseURL  string `json:"baseUrl"`
	Instance string `json:"instance,omitempty"`
	Token    string `json:"token,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

func (GTIConfig) Provider() Provider { return ProviderGTI }

// AuthToken is the credential sent in the token header.
func (c GTIConfig) AuthToken() string {
	if c.Token != "" {
		return c.Token
	}
	return c.APIKey
}

// OfficialConfig binds a connector to a WhatsApp Cloud API phone number.
type OfficialConfig struct {
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
	APIVersion    string `json:"apiVersion,omitempty"`
	GraphBaseURL  string `json:"graphBaseUrl,omitempty"`
}

func (OfficialConfig) Provider() Provider { return ProviderOfficial }

// WebChatConfig configures the first-party widget.
type WebChatConfig struct {
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

func (WebChatConfig) Provider() Provider { return ProviderWebChat }

var configSchemas = map[Provider]string{
	ProviderGTI: `{
		"type": "object",
		"properties": {
			"baseUrl": {"type": "string", "minLength": 1, "pattern": "^https?://"},
			"instance": {"type": "string"},
			"token": {"type": "string", "minLength": 1},
			"apiKey": {"type": "string", "minLength": 1}
		},
		"required": ["baseUrl"],
		"anyOf": [{"required": ["token"]}, {"required": ["apiKey"]}],
		"additionalProperties": false
	}`,
	ProviderOfficial: `{
		"type": "object",
		"properties": {
			"phoneNumberId": {"type": "string", "minLength": 1},
			"accessToken": {"type": "string", "minLength": 1},
			"apiVersion": {"type": "string", "pattern": "^v[0-9]+\\.[0-9]+$"},
			"graphBaseUrl": {"type": "string", "pattern": "^https?://"}
		},
		"required": ["phoneNumberId", "accessToken"],
		"additionalProperties": false
	}`,
	ProviderWebChat: `{
		"type": "object",
		"properties": {
			"allowedOrigins": {"type": "array", "items": {"type": "string", "minLength": 1}}
		},
		"additionalProperties": false
	}`,
}

var compiledSchemas = sync.OnceValues(func() (map[Provider]*jsonschema.Schema, error) {
	out := make(map[Provider]*jsonschema.Schema, len(configSchemas))
	for provider, doc := range configSchemas {
		url := "memory://connectors/" + provider.RouteKey() + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("register %s schema: %w", provider, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", provider, err)
		}
		out[provider] = compiled
	}
	return out, nil
})

// DecodeConfig validates raw against the provider's schema and decodes it into
// the matching Config type with defaults applied.
func DecodeConfig(provider Provider, raw []byte) (Config, error) {
	schemas, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	schema, ok := schemas[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(document); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidation(validationErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch provider {
	case ProviderGTI:
		var cfg GTIConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		return cfg, nil
	case ProviderOfficial:
		var cfg OfficialConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if cfg.APIVersion == "" {
			cfg.APIVersion = DefaultOfficialAPIVersion
		}
		if cfg.GraphBaseURL == "" {
			cfg.GraphBaseURL = DefaultGraphBaseURL
		}
		cfg.GraphBaseURL = strings.TrimRight(cfg.GraphBaseURL, "/")
		return cfg, nil
	default:
		var cfg WebChatConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return cfg, nil
	}
}

// EncodeConfig serializes cfg for storage.
func EncodeConfig(cfg Config) ([]byte, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	return json.Marshal(cfg)
}

// LoadConnector builds a Connector from its stored parts.
func LoadConnector(conn Connector, rawConfig []byte) (Connector, error) {
	cfg, err := DecodeConfig(conn.Provider, rawConfig)
	if err != nil {
		return Connector{}, fmt.Errorf("connector %s: %w", conn.ID, err)
	}
	conn.Config = cfg
	return conn, nil
}

func describeValidation(err *jsonschema.ValidationError) string {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if leaf.InstanceLocation == "" {
		return leaf.Message
	}
	return leaf.InstanceLocation + ": " + leaf.Message
}

// configAs returns conn's config as T or ErrConfigMismatch.
func configAs[T Config](conn Connector) (T, error) {
	cfg, ok := conn.Config.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: connector %s has %T", ErrConfigMismatch, conn.ID, conn.Config)
	}
	return cfg, nil
}

// GTIConfigOf returns the GTI config of conn.
func GTIConfigOf(conn Connector) (GTIConfig, error) { return configAs[GTIConfig](conn) }

// OfficialConfigOf returns the Official config of conn.
func OfficialConfigOf(conn Connector) (OfficialConfig, error) { return configAs[OfficialConfig](conn) }

// WebChatConfigOf returns the WebChat config of conn.
func WebChatConfigOf(conn Connector) (WebChatConfig, error) { return configAs[WebChatConfig](conn) }
