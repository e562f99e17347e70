package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/groundwire/ptt-signal/internal/auth"
	"github.com/groundwire/ptt-signal/internal/health"
	"github.com/groundwire/ptt-signal/internal/middleware"
	"github.com/groundwire/ptt-signal/internal/ratelimit"
	"github.com/groundwire/ptt-signal/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct{}

func (fakeVerifier) ValidateToken(token string) (*auth.CustomClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return &auth.CustomClaims{
		Name:             "Alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, nil
}

type fakeRouter struct{}

func (fakeRouter) Dispatch(ctx context.Context, s *session.Session, frameType string, raw []byte) {}
func (fakeRouter) Leave(ctx context.Context, s *session.Session, roomID string)                  {}

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	limiter, err := ratelimit.New("1000-M", "1000-M", nil)
	require.NoError(t, err)

	return New(Config{
		ListenAddress:  ":0",
		AllowedOrigins: []string{"https://app.example.com"},
		AuthTimeout:    time.Second,
		IdleTimeout:    time.Second,
		Verifier:       fakeVerifier{},
		Router:         fakeRouter{},
		RateLimiter:    limiter,
		Health:         health.NewHandler(nil),
	})
}

func TestVerifierAdapter_MapsSubjectAndName(t *testing.T) {
	a := verifierAdapter{v: fakeVerifier{}}
	claims, err := a.ValidateToken("good")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestVerifierAdapter_PropagatesError(t *testing.T) {
	a := verifierAdapter{v: fakeVerifier{}}
	_, err := a.ValidateToken("bad")
	assert.Error(t, err)
}

func TestHealthEndpoints_RespondViaEngine(t *testing.T) {
	l := newTestListener(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	l.engine.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestCheckOriginFunc_AllowsConfiguredOrigin(t *testing.T) {
	check := checkOriginFunc([]string{"https://app.example.com"})
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))
}

func TestCheckOriginFunc_RejectsUnknownOrigin(t *testing.T) {
	check := checkOriginFunc([]string{"https://app.example.com"})
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}

func TestCheckOriginFunc_AllowsMissingOriginHeader(t *testing.T) {
	check := checkOriginFunc([]string{"https://app.example.com"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))
}

func TestListener_CorrelationIDMiddlewareIsRegistered(t *testing.T) {
	l := newTestListener(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	l.engine.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXCorrelationID), "every response must carry a correlation ID generated by the registered middleware")
}
