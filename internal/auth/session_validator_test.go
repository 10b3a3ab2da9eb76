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
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "courtside_session"
	testSessionUserID        = "user-123"
	testSessionAthleteID     = "athlete-1"
)

var testClockNow = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock:         func() time.Time { return testClockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signSession(t *testing.T, claims SessionClaims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func sessionClaims(issuer string, issuedAt, expiresAt time.Time) SessionClaims {
	return SessionClaims{
		UserID:    testSessionUserID,
		AthleteID: testSessionAthleteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
}

func TestNewSessionValidatorValidatesConfig(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{CookieName: testSessionCookieName}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("x")}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie name, got %v", err)
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	validator := newTestValidator(t)
	valid := sessionClaims(defaultSessionIssuer, testClockNow.Add(-time.Minute), testClockNow.Add(time.Hour))
	noSubject := valid
	noSubject.UserID = ""

	testCases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "valid", token: signSession(t, valid, jwt.SigningMethodHS256, testSessionSigningSecret)},
		{name: "empty", token: "  ", wantErr: ErrMissingSessionToken},
		{
			name:    "expired",
			token:   signSession(t, sessionClaims(defaultSessionIssuer, testClockNow.Add(-2*time.Hour), testClockNow.Add(-time.Hour)), jwt.SigningMethodHS256, testSessionSigningSecret),
			wantErr: ErrExpiredSessionToken,
		},
		{
			name:    "foreign issuer",
			token:   signSession(t, sessionClaims("someone-else", testClockNow, testClockNow.Add(time.Hour)), jwt.SigningMethodHS256, testSessionSigningSecret),
			wantErr: ErrInvalidSessionToken,
		},
		{
			name:    "wrong secret",
			token:   signSession(t, valid, jwt.SigningMethodHS256, "other-secret"),
			wantErr: ErrInvalidSessionToken,
		},
		{
			name:    "wrong algorithm",
			token:   signSession(t, valid, jwt.SigningMethodHS512, testSessionSigningSecret),
			wantErr: ErrInvalidSessionToken,
		},
		{
			name:    "missing user id",
			token:   signSession(t, noSubject, jwt.SigningMethodHS256, testSessionSigningSecret),
			wantErr: ErrMissingSessionSubject,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			claims, err := validator.ValidateToken(testCase.token)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation failure: %v", err)
			}
			if claims.UserID != testSessionUserID || claims.AthleteID != testSessionAthleteID {
				t.Fatalf("unexpected claims %+v", claims)
			}
		})
	}
}

func TestSessionValidatorValidateRequestSources(t *testing.T) {
	validator := newTestValidator(t)
	signed := signSession(t, sessionClaims(defaultSessionIssuer, testClockNow, testClockNow.Add(time.Hour)), jwt.SigningMethodHS256, testSessionSigningSecret)

	fromCookie := httptest.NewRequest(http.MethodGet, "/rest/game_sessions", http.NoBody)
	fromCookie.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if _, err := validator.ValidateRequest(fromCookie); err != nil {
		t.Fatalf("cookie validation failed: %v", err)
	}

	bearerWins := httptest.NewRequest(http.MethodGet, "/rest/goals", http.NoBody)
	bearerWins.Header.Set("Authorization", "Bearer "+signed)
	bearerWins.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "garbage"})
	if _, err := validator.ValidateRequest(bearerWins); err != nil {
		t.Fatalf("bearer validation failed: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/rest/goals", http.NoBody)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestParseUnverifiedReadsClaimsWithoutSecret(t *testing.T) {
	signed := signSession(t, sessionClaims(defaultSessionIssuer, testClockNow, testClockNow.Add(time.Hour)), jwt.SigningMethodHS256, "server-only-secret")

	claims, err := ParseUnverified(signed)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.AthleteID != testSessionAthleteID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseUnverified("not-a-jwt"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestSplitUserID(t *testing.T) {
	testCases := []struct {
		raw          string
		wantProvider string
		wantSubject  string
	}{
		{raw: "google:12345", wantProvider: "google", wantSubject: "12345"},
		{raw: "user-1", wantProvider: "", wantSubject: "user-1"},
		{raw: " :orphan", wantProvider: "", wantSubject: ":orphan"},
		{raw: "apple: 99 ", wantProvider: "apple", wantSubject: "99"},
	}
	for _, testCase := range testCases {
		provider, subject := SplitUserID(testCase.raw)
		if provider != testCase.wantProvider || subject != testCase.wantSubject {
			t.Fatalf("SplitUserID(%q) = (%q, %q)", testCase.raw, provider, subject)
		}
	}
}
