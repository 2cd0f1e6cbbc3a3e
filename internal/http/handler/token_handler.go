package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/http/middleware"
	"github.com/sachigoyal/echo-auth/internal/permission"
	"github.com/sachigoyal/echo-auth/internal/service"
)

// TokenHandler exposes the OAuth token endpoint and the identity probe.
type TokenHandler struct {
	Tokens   *service.TokenService
	Auth     *service.Authenticator
	Resolver *permission.Resolver
}

// NewTokenHandler wires the HTTP handler.
func NewTokenHandler(tokens *service.TokenService, auth *service.Authenticator, resolver *permission.Resolver) *TokenHandler {
	return &TokenHandler{Tokens: tokens, Auth: auth, Resolver: resolver}
}

// Token handles OAuth token grant exchanges.
func (h *TokenHandler) Token(c *gin.Context) {
	var req struct {
		GrantType    string `form:"grant_type" binding:"required"`
		Code         string `form:"code"`
		RedirectURI  string `form:"redirect_uri"`
		ClientID     string `form:"client_id"`
		CodeVerifier string `form:"code_verifier"`
		RefreshToken string `form:"refresh_token"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	var (
		resp *service.TokenResponse
		err  error
	)

	switch strings.ToLower(req.GrantType) {
	case "authorization_code":
		resp, err = h.Tokens.ExchangeAuthorizationCode(c.Request.Context(), service.ExchangeInput{
			Code:         req.Code,
			RedirectURI:  req.RedirectURI,
			ClientID:     req.ClientID,
			CodeVerifier: req.CodeVerifier,
		})
	case "refresh_token":
		resp, err = h.Tokens.Refresh(c.Request.Context(), req.RefreshToken)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}

	if err != nil {
		if oauthErr, ok := err.(*service.OAuthError); ok {
			c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me returns the identity resolved by the auth middleware along with the
// caller's role and permission set on the authenticated app.
func (h *TokenHandler) Me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Not authenticated."})
		return
	}

	role, err := h.Resolver.ResolveRole(c.Request.Context(), identity.User.ID, identity.App.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not resolve role."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    identity.User.ID,
			"email": identity.User.Email,
			"name":  identity.User.Name,
		},
		"echo_app": gin.H{
			"id":          identity.App.ID,
			"name":        identity.App.Name,
			"description": identity.App.Description,
		},
		"scope":          identity.Scope,
		"role":           role,
		"permissions":    permission.Permissions(role),
		"via_api_key":    identity.ViaAPIKey,
		"should_refresh": h.Auth.ShouldRefresh(identity),
	})
}

// Apps lists every app the caller can reach, tagged with their role. An
// optional role query narrows the list.
func (h *TokenHandler) Apps(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Not authenticated."})
		return
	}

	filter, err := parseRoleFilter(c.Query("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Unknown role filter."})
		return
	}

	access, err := h.Resolver.AccessibleApps(c.Request.Context(), identity.User.ID, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not list apps."})
		return
	}

	apps := make([]gin.H, 0, len(access))
	for _, entry := range access {
		apps = append(apps, gin.H{
			"id":          entry.App.ID,
			"name":        entry.App.Name,
			"description": entry.App.Description,
			"role":        entry.Role,
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func parseRoleFilter(raw string) (*domain.Role, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	role := domain.Role(strings.ToLower(trimmed))
	switch role {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleCustomer:
		return &role, nil
	}
	return nil, fmt.Errorf("unknown role %q", raw)
}
