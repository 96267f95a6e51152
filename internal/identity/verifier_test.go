package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-value"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func TestVerifySubject(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-a"))

	subject, err := v.VerifySubject(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-a" {
		t.Fatalf("unexpected subject: %q", subject)
	}
}

func TestVerifySubjectRejects(t *testing.T) {
	v := newTestVerifier(t)

	expired := validClaims("user-a")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAud := validClaims("user-a")
	wrongAud.Audience = jwt.ClaimStrings{"other"}
	wrongIss := validClaims("user-a")
	wrongIss.Issuer = "other"
	noExp := validClaims("user-a")
	noExp.ExpiresAt = nil

	cases := map[string]string{
		"expired":        signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong audience": signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud),
		"wrong issuer":   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIss),
		"no expiry":      signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExp),
		"wrong secret":   signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), validClaims("user-a")),
		"wrong method":   signToken(t, jwt.SigningMethodHS384, []byte(testSecret), validClaims("user-a")),
		"empty subject":  signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("  ")),
		"garbage":        "not-a-token",
	}
	for name, token := range cases {
		if _, err := v.VerifySubject(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyRequest(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-b"))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	if _, err := v.VerifyRequest(req); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, err := v.VerifyRequest(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for non-bearer, got %v", err)
	}

	req.Header.Set("Authorization", "bearer "+token)
	subject, err := v.VerifyRequest(req)
	if err != nil {
		t.Fatalf("verify request: %v", err)
	}
	if subject != "user-b" {
		t.Fatalf("unexpected subject: %q", subject)
	}
}
