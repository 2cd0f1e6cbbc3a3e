package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/service"
)

const identityKey = "authIdentity"

// RequestAuthenticator resolves Authorization headers into identities.
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, header string, meta service.RequestMeta) (*service.Identity, error)
}

// Auth validates the Authorization header and attaches the caller identity.
type Auth struct {
	Authenticator RequestAuthenticator
}

// Require ensures the request carries a valid credential.
func (m *Auth) Require(c *gin.Context) {
	header := c.GetHeader("Authorization")
	meta := service.RequestMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	identity, err := m.Authenticator.Authenticate(c.Request.Context(), header, meta)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidHeader) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_request", "error_description": "Bearer credential required."})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid or inactive credential."})
		return
	}

	c.Set(identityKey, identity)
	c.Next()
}

// GetIdentity exposes the resolved identity to handlers.
func GetIdentity(c *gin.Context) (*service.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*service.Identity)
	return identity, ok
}
