package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tenantsservice "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/gcp"
)

// buildAuthMiddleware constructs the JWT middleware with tenant claim enforcement.
// The tenant claim is either the tenant UUID (our own tokens) or its slug (IdP tokens).
func buildAuthMiddleware(ctx context.Context, cfg config, tenants *tenantsservice.Service, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseCredentialsFile, cfg.FirebaseProjectID)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "jwt":
		if cfg.JWTSecret == "" {
			logger.Fatal("JWT_SECRET required when AUTH_PROVIDER=jwt")
		}
		verify = platformauth.HS256TokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	authExtractor := func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}
		if creds.TenantID == nil || strings.TrimSpace(*creds.TenantID) == "" {
			return nil, errors.New("tenant claim required")
		}

		// Already an internal UUID? keep it.
		if tid, parseErr := uuid.Parse(*creds.TenantID); parseErr == nil {
			idStr := tid.String()
			creds.TenantID = &idStr
			return creds, nil
		}

		t, resolveErr := tenants.GetBySlug(context.Background(), strings.ToLower(*creds.TenantID))
		if resolveErr != nil {
			return nil, resolveErr
		}
		idStr := t.ID.String()
		creds.TenantID = &idStr
		return creds, nil
	}

	return platformauth.JWT(verify, authExtractor)
}
