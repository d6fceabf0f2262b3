package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the claims of an unsigned agent token for local and CI
// environments. No environment variables are read so the builder stays
// deterministic for tooling.
type Params struct {
	TenantID  string        // tenantId claim (required)
	UserID    string        // sub claim (required)
	Email     string        // email claim (required)
	Name      string        // display name (optional)
	Role      string        // role claim; defaults to "agent", or "admin" when IsAdmin
	IsAdmin   bool          // isAdmin claim for admin route checks
	ExpiresIn time.Duration // relative expiry; default 1h if zero
	Issuer    string        // optional iss claim
}

// BuildUnsignedToken returns a JWT string with alg "none" and no signature.
// It is accepted by the auth middleware only when AUTH_PROVIDER=dev.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.TenantID) == "" {
		return "", errors.New("tenantID is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	role := strings.ToLower(strings.TrimSpace(p.Role))
	if role == "" {
		role = "agent"
		if p.IsAdmin {
			role = "admin"
		}
	}

	payload := map[string]interface{}{
		"sub":      p.UserID,
		"tenantId": p.TenantID,
		"email":    p.Email,
		"role":     role,
		"isAdmin":  p.IsAdmin || role == "admin",
		"iat":      now.Unix(),
		"exp":      now.Add(expiresIn).Unix(),
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if p.Issuer != "" {
		payload["iss"] = p.Issuer
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s.", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
