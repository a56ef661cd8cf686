package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/config"
	"github.com/shinyyama/komemarche-backend/internal/reqctx"
	"github.com/stretchr/testify/assert"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifyUID(_ context.Context, idToken string) (string, error) {
	if uid, ok := s[idToken]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

func TestRequireAuthAndAdmin(t *testing.T) {
	e := echo.New()
	m := NewAuthMiddleware(stubVerifier{"t-user": "user-1", "t-admin": "admin-1"}, func(uid string) bool { return uid == "admin-1" })
	ok := func(c echo.Context) error {
		return c.String(http.StatusOK, reqctx.UID(c.Request().Context()))
	}
	e.GET("/me", ok, m.RequireAuth)
	e.GET("/admin", ok, m.RequireAuth, m.RequireAdmin)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"no header", "/me", "", http.StatusUnauthorized, ""},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized, ""},
		{"user", "/me", "Bearer t-user", http.StatusOK, "user-1"},
		{"user on admin route", "/admin", "Bearer t-user", http.StatusForbidden, ""},
		{"admin", "/admin", "Bearer t-admin", http.StatusOK, "admin-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	mw := NewRateLimit(config.RateLimit{Enabled: true}, nil)
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mw)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/reservations/cancel", nil)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/reservations/cancel")
	assert.Equal(t, "rl:ip:203.0.113.7:user:anon:route:POST /api/reservations/cancel", rateKey("rl", c))

	c.Set("uid", "u1")
	assert.Equal(t, "rl:ip:203.0.113.7:user:u1:route:POST /api/reservations/cancel", rateKey("rl", c))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(1))
	assert.Equal(t, 3, retryAfterSeconds(2500))
	assert.Equal(t, 0, retryAfterSeconds(-10))
}
