package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Authentication is delegated: the control plane only verifies a
// principal is present (Bearer JWT or X-API-Key), per spec.md §6.
// Grounded verbatim on the teacher's internal/webhooks/auth.go.

type contextKey string

const principalKey contextKey = "principal"

// APIKeyLookup resolves a hashed API key to a principal id; the key
// store backing it is out of scope here.
type APIKeyLookup func(ctx context.Context, keyHash string) (principal string, err error)

type AuthMiddleware struct {
	jwtSecret    []byte
	apiKeyLookup APIKeyLookup
	demoAllowed  map[string]bool
}

func NewAuthMiddleware(jwtSecret string, apiKeyLookup APIKeyLookup) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: []byte(jwtSecret), apiKeyLookup: apiKeyLookup}
}

// WithDemoPrincipals lets an explicit allow-list of principal ids
// (DEMO_WALLETS per spec.md §6) skip JWT/API-key verification via the
// X-Demo-Principal header, so a demo deployment can be driven without
// issuing real credentials.
func (a *AuthMiddleware) WithDemoPrincipals(allowed []string) *AuthMiddleware {
	a.demoAllowed = make(map[string]bool, len(allowed))
	for _, p := range allowed {
		a.demoAllowed[p] = true
	}
	return a
}

func (a *AuthMiddleware) ExtractPrincipal(r *http.Request) (string, error) {
	if demo := r.Header.Get("X-Demo-Principal"); demo != "" && a.demoAllowed[demo] {
		return demo, nil
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if a.apiKeyLookup == nil {
			return "", fmt.Errorf("API key auth not configured")
		}
		hash := sha256.Sum256([]byte(apiKey))
		keyHash := hex.EncodeToString(hash[:])
		principal, err := a.apiKeyLookup(r.Context(), keyHash)
		if err != nil {
			return "", fmt.Errorf("API key lookup failed: %w", err)
		}
		if principal == "" {
			return "", fmt.Errorf("invalid API key")
		}
		return principal, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header or X-API-Key")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid JWT claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("JWT missing sub claim")
	}
	return sub, nil
}

func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.ExtractPrincipal(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFromContext(ctx context.Context) string {
	v, _ := ctx.Value(principalKey).(string)
	return v
}
