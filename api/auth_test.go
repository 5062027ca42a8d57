package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerToken("   "); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenRejectsMalformed(t *testing.T) {
	cases := []string{
		"Basic abc.def.ghi",
		"Bearer ",
		"Bearer no-periods",
		"Bearer " + strings.Repeat(".", 1000),
	}
	for _, h := range cases {
		if _, err := bearerToken(h); err != errBadAuthorization {
			t.Fatalf("header %q: expected bad auth header error, got %v", h, err)
		}
	}
}

func signedHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func localAuth(secret []byte) *Auth {
	return &Auth{
		Audience:    "api://boards",
		Issuer:      "https://issuer/",
		LocalMode:   true,
		LocalSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://boards",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	userID, err := localAuth(secret).UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})

	if _, err := localAuth(secret).UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := localAuth(secret).UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := localAuth(secret).UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}
