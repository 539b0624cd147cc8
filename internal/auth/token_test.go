package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "secret"
	testIssuer        = "ddlkit"
	testSubject       = "ci-runner"
)

func newTestPair(t *testing.T, now time.Time) (*TokenIssuer, *TokenValidator) {
	t.Helper()
	clock := func() time.Time { return now }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewTokenValidator(TokenValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return issuer, validator
}

func TestIssuedTokenValidates(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, now)

	token, expiresAt, err := issuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	subject, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if subject != testSubject {
		t.Fatalf("unexpected subject %s", subject)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != Audience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, now)

	expiredIssuer, _ := newTestPair(t, now.Add(-2*time.Hour))
	expired, _, err := expiredIssuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	otherIssuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: "someone-else", Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	foreign, _, err := otherIssuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: testSubject, Issuer: testIssuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	valid, _, err := issuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", " ", ErrMissingToken},
		{"expired", expired, ErrExpiredToken},
		{"other issuer", foreign, ErrInvalidToken},
		{"unsigned", unsigned, ErrInvalidToken},
		{"tampered", valid + "x", ErrInvalidToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestValidateRequestUsesBearerHeader(t *testing.T) {
	issuer, validator := newTestPair(t, time.Now())
	token, _, err := issuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/v1/generate", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+token)
	subject, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if subject != testSubject {
		t.Fatalf("unexpected subject %s", subject)
	}

	request.Header.Set("Authorization", "Basic "+token)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token for basic scheme, got %v", err)
	}
}

func TestConstructorsRequireSecretAndIssuer(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret, got %v", err)
	}
	if _, err := NewTokenValidator(TokenValidatorConfig{SigningSecret: []byte(testSigningSecret)}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer, got %v", err)
	}
	issuer, _ := newTestPair(t, time.Now())
	if _, _, err := issuer.Issue(""); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject, got %v", err)
	}
}
