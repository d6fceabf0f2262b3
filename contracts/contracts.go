// Package contracts embeds the OpenAPI contract of the agent API.
package contracts

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Name is the public name of the contract in the docs UI.
const Name = "helpdesk"

//go:embed helpdesk.yaml
var helpdeskYAML []byte

// Raw returns the contract as written.
func Raw() []byte { return helpdeskYAML }

// Load parses and validates the embedded contract.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(helpdeskYAML)
	if err != nil {
		return nil, fmt.Errorf("load %s contract: %w", Name, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate %s contract: %w", Name, err)
	}
	return doc, nil
}
