package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3filter"

	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
)

// ValidateAuthenticationViaSwagger satisfies operations that declare bearerAuth in the
// contract. The JWT middleware has already verified the token, so this only checks that
// credentials reached the context and that admin-scoped operations carry the admin role.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}

	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}

	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok {
		return errors.New("missing credentials")
	}

	for _, scope := range input.Scopes {
		if scope == platformauth.RoleAdmin && !creds.IsAdmin {
			return fmt.Errorf("role %q required", scope)
		}
	}

	return nil
}
