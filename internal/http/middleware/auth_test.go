package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/service"
)

type stubAuthenticator struct {
	identity *service.Identity
	err      error
	header   string
	meta     service.RequestMeta
}

func (s *stubAuthenticator) Authenticate(_ context.Context, header string, meta service.RequestMeta) (*service.Identity, error) {
	s.header = header
	s.meta = meta
	return s.identity, s.err
}

func newAuthRouter(stub *stubAuthenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m := &Auth{Authenticator: stub}
	r.GET("/protected", m.Require, func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": identity.User.ID})
	})
	return r
}

func TestAuthMiddleware_Success(t *testing.T) {
	stub := &stubAuthenticator{identity: &service.Identity{
		User: domain.User{ID: 7},
		App:  domain.App{ID: 10},
	}}
	r := newAuthRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("User-Agent", "test-client")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"user_id":7`)
	require.Equal(t, "Bearer token", stub.header)
	require.Equal(t, "test-client", stub.meta.UserAgent)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	stub := &stubAuthenticator{err: domain.ErrInvalidHeader}
	r := newAuthRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "invalid_request")
}

func TestAuthMiddleware_InvalidCredential(t *testing.T) {
	stub := &stubAuthenticator{err: domain.ErrInvalidCredential}
	r := newAuthRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "invalid_token")
}
