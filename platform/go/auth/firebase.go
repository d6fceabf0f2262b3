package auth

import (
	"context"

	"firebase.google.com/go/v4/auth"
)

// FirebaseTokenVerifier returns a VerifyFunc that validates tokens via Firebase Auth.
func FirebaseTokenVerifier(fbAuth *auth.Client) VerifyFunc {
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		t, err := fbAuth.VerifyIDToken(ctx, token)
		if err != nil {
			return nil, err
		}

		claims := make(map[string]interface{}, len(t.Claims)+2)
		for k, v := range t.Claims {
			claims[k] = v
		}
		claims["uid"] = t.UID
		claims["sub"] = t.Subject
		if tenant := t.Firebase.Tenant; tenant != "" {
			firebaseClaim, _ := claims["firebase"].(map[string]interface{})
			if firebaseClaim == nil {
				firebaseClaim = map[string]interface{}{}
			}
			firebaseClaim["tenant"] = tenant
			claims["firebase"] = firebaseClaim
		}

		return claims, nil
	}
}
