package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractPrincipal_JWT(t *testing.T) {
	secret := "super-secret-jwt-token-with-at-least-32-characters-long"

	claims := jwt.MapClaims{
		"sub": "550e8400-e29b-41d4-a716-446655440000",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	auth := NewAuthMiddleware(secret, nil)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	principal, err := auth.ExtractPrincipal(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("expected principal 550e..., got %s", principal)
	}
}

func TestExtractPrincipal_ExpiredJWT(t *testing.T) {
	secret := "super-secret-jwt-token-with-at-least-32-characters-long"
	claims := jwt.MapClaims{
		"sub": "550e8400-e29b-41d4-a716-446655440000",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, _ := token.SignedString([]byte(secret))

	auth := NewAuthMiddleware(secret, nil)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	if _, err := auth.ExtractPrincipal(req); err == nil {
		t.Fatal("expected error for expired JWT")
	}
}

func TestExtractPrincipal_NoAuth(t *testing.T) {
	auth := NewAuthMiddleware("secret", nil)
	req := httptest.NewRequest("GET", "/", nil)
	if _, err := auth.ExtractPrincipal(req); err == nil {
		t.Fatal("expected error for missing auth")
	}
}

func TestAuthMiddleware_InjectsPrincipal(t *testing.T) {
	secret := "super-secret-jwt-token-with-at-least-32-characters-long"
	claims := jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, _ := token.SignedString([]byte(secret))

	auth := NewAuthMiddleware(secret, nil)

	var captured string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PrincipalFromContext(r.Context())
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if captured != "user-123" {
		t.Errorf("expected user-123, got %s", captured)
	}
}
