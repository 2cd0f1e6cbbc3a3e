package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sachigoyal/echo-auth/internal/config"
	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/permission"
	"github.com/sachigoyal/echo-auth/internal/repository"
	"github.com/sachigoyal/echo-auth/internal/token"
)

// TokenResponse is the OAuth token endpoint success shape.
type TokenResponse struct {
	AccessToken           string      `json:"access_token"`
	TokenType             string      `json:"token_type"`
	ExpiresIn             int         `json:"expires_in"`
	RefreshToken          string      `json:"refresh_token"`
	RefreshTokenExpiresIn int         `json:"refresh_token_expires_in"`
	Scope                 string      `json:"scope"`
	User                  UserSummary `json:"user"`
	EchoApp               AppSummary  `json:"echo_app"`
}

// UserSummary is the minimal user shape returned with a token grant.
type UserSummary struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AppSummary is the minimal app shape returned with a token grant.
type AppSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

const (
	codeVerifierMinLen = 43
	codeVerifierMaxLen = 128
)

// ExchangeInput carries the authorization-code grant request fields.
type ExchangeInput struct {
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// TokenService implements the authorization-code exchange and refresh-token
// rotation flows.
type TokenService struct {
	users         repository.UserRepository
	apps          repository.AppRepository
	memberships   repository.MembershipRepository
	refreshTokens repository.RefreshTokenRepository
	codes         repository.CodeConsumer
	resolver      *permission.Resolver
	minter        *token.Minter
	snowflake     *snowflake.Node
	cfg           config.Config
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewTokenService wires dependencies.
func NewTokenService(
	users repository.UserRepository,
	apps repository.AppRepository,
	memberships repository.MembershipRepository,
	refreshTokens repository.RefreshTokenRepository,
	codes repository.CodeConsumer,
	resolver *permission.Resolver,
	minter *token.Minter,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		users:         users,
		apps:          apps,
		memberships:   memberships,
		refreshTokens: refreshTokens,
		codes:         codes,
		resolver:      resolver,
		minter:        minter,
		snowflake:     node,
		cfg:           cfg,
		logger:        logger,
		tracer:        otel.Tracer("github.com/sachigoyal/echo-auth/internal/service"),
	}
}

// ExchangeAuthorizationCode redeems a signed authorization code plus PKCE
// verifier for the first access/refresh token pair. The one mutation allowed
// to survive a later-step failure is customer membership auto-creation.
func (s *TokenService) ExchangeAuthorizationCode(ctx context.Context, in ExchangeInput) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.ExchangeAuthorizationCode")
	defer span.End()

	if err := validateCodeVerifier(in.CodeVerifier); err != nil {
		return nil, err
	}

	payload, err := s.minter.VerifyAuthorizationCode(in.Code)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError("invalid_grant", "Invalid or expired authorization code.", http.StatusBadRequest)
	}

	if payload.ClientID != strings.TrimSpace(in.ClientID) || payload.RedirectURI != strings.TrimSpace(in.RedirectURI) {
		return nil, newOAuthError("invalid_grant", "client_id or redirect_uri mismatch.", http.StatusBadRequest)
	}

	if payload.CodeChallengeMethod != "" && payload.CodeChallengeMethod != "S256" {
		return nil, newOAuthError("invalid_grant", "Unsupported code_challenge_method.", http.StatusBadRequest)
	}
	if pkceChallenge(in.CodeVerifier) != payload.CodeChallenge {
		return nil, newOAuthError("invalid_grant", "PKCE verification failed.", http.StatusBadRequest)
	}

	first, err := s.codes.Consume(ctx, payload.Code, time.Until(payload.ExpiresAt))
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError("server_error", "Could not record code use.", http.StatusInternalServerError)
	}
	if !first {
		return nil, newOAuthError("invalid_grant", "Authorization code already used.", http.StatusBadRequest)
	}

	user, err := s.users.GetByID(ctx, payload.UserID)
	if err != nil || user.Archived() {
		if err != nil {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_grant", "User no longer exists.", http.StatusBadRequest)
	}

	app, err := s.lookupClientApp(ctx, payload.ClientID)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError("invalid_client", "Unknown or inactive client.", http.StatusUnauthorized)
	}

	if !redirectURIAllowed(app, payload.RedirectURI) {
		return nil, newOAuthError("invalid_grant", "redirect_uri is not authorized for this client.", http.StatusBadRequest)
	}

	role, err := s.ensureMembership(ctx, user, app)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !role.Member() {
		return nil, newOAuthError("invalid_grant", "client does not belong to the authenticated user.", http.StatusBadRequest)
	}

	if err := s.refreshTokens.ArchiveActiveByUserApp(ctx, user.ID, app.ID); err != nil {
		span.RecordError(err)
		return nil, newOAuthError("server_error", "Could not retire prior refresh tokens.", http.StatusInternalServerError)
	}

	resp, err := s.issueTokens(ctx, user, app, payload.Scope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.exchange.success", "user_id", user.ID, "app_id", app.ID, "role", role)
	return resp, nil
}

// Refresh rotates a refresh token: the presented value is claimed with an
// atomic conditional archive, then a successor pair is minted. A token that
// lost the claim race fails exactly like an unknown token.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Refresh")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return nil, newOAuthError("invalid_grant", "Invalid or expired refresh token.", http.StatusBadRequest)
	}

	stored, err := s.refreshTokens.GetActiveByToken(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_grant", "Invalid or expired refresh token.", http.StatusBadRequest)
	}

	if time.Now().After(stored.ExpiresAt) {
		if err := s.refreshTokens.Archive(ctx, stored.ID); err != nil {
			s.log().Warn("archive expired refresh token", zap.Error(err))
		}
		return nil, newOAuthError("invalid_grant", "Refresh token has expired.", http.StatusBadRequest)
	}

	app, err := s.apps.GetByID(ctx, stored.AppID)
	if err != nil || app.Archived() {
		if err != nil {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_grant", "Echo app is no longer active.", http.StatusBadRequest)
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil || user.Archived() {
		if err != nil {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_grant", "User no longer exists.", http.StatusBadRequest)
	}

	if _, err := s.refreshTokens.ArchiveIfActive(ctx, refreshToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent rotation spent the token first.
			return nil, newOAuthError("invalid_grant", "Invalid or expired refresh token.", http.StatusBadRequest)
		}
		span.RecordError(err)
		return nil, newOAuthError("server_error", "Could not rotate refresh token.", http.StatusInternalServerError)
	}

	resp, err := s.issueTokens(ctx, user, app, stored.Scope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.refresh.success", "user_id", user.ID, "app_id", app.ID)
	return resp, nil
}

func (s *TokenService) lookupClientApp(ctx context.Context, clientID string) (domain.App, error) {
	appID, err := parseClientID(clientID)
	if err != nil {
		return domain.App{}, err
	}
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return domain.App{}, err
	}
	if app.Archived() {
		return domain.App{}, fmt.Errorf("app %d is archived", app.ID)
	}
	return app, nil
}

// ensureMembership resolves the caller's role, lazily creating a customer
// membership on first exchange for an unjoined app.
func (s *TokenService) ensureMembership(ctx context.Context, user domain.User, app domain.App) (domain.Role, error) {
	role, err := s.resolver.ResolveRole(ctx, user.ID, app.ID)
	if err != nil {
		return domain.RolePublic, newOAuthError("server_error", "Could not resolve membership.", http.StatusInternalServerError)
	}
	if role != domain.RolePublic {
		return role, nil
	}

	membership := domain.Membership{
		ID:     s.snowflake.Generate().Int64(),
		UserID: user.ID,
		AppID:  app.ID,
		Role:   domain.RoleCustomer,
		Status: domain.MembershipStatusActive,
	}
	if _, err := s.memberships.Create(ctx, membership); err != nil {
		return domain.RolePublic, newOAuthError("server_error", "Could not establish membership.", http.StatusInternalServerError)
	}
	s.audit("membership.autocreated", "user_id", user.ID, "app_id", app.ID)
	return domain.RoleCustomer, nil
}

func (s *TokenService) issueTokens(ctx context.Context, user domain.User, app domain.App, scope string) (*TokenResponse, error) {
	now := time.Now()
	refresh := domain.RefreshToken{
		ID:        s.snowflake.Generate().Int64(),
		Token:     randomString(s.cfg.RefreshTokenBytes),
		UserID:    user.ID,
		AppID:     app.ID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	created, err := s.refreshTokens.Create(ctx, refresh)
	if err != nil {
		return nil, newOAuthError("server_error", "Could not persist refresh token.", http.StatusInternalServerError)
	}

	access, err := s.minter.Mint(user.ID, app.ID, scope, now.Add(s.cfg.AccessTokenTTL), 1)
	if err != nil {
		return nil, newOAuthError("server_error", "Could not mint access token.", http.StatusInternalServerError)
	}

	return &TokenResponse{
		AccessToken:           access,
		TokenType:             "Bearer",
		ExpiresIn:             int(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken:          created.Token,
		RefreshTokenExpiresIn: int(s.cfg.RefreshTokenTTL.Seconds()),
		Scope:                 scope,
		User:                  UserSummary{ID: user.ID, Email: user.Email, Name: user.Name},
		EchoApp:               AppSummary{ID: app.ID, Name: app.Name, Description: app.Description},
	}, nil
}

func validateCodeVerifier(verifier string) error {
	if len(verifier) < codeVerifierMinLen || len(verifier) > codeVerifierMaxLen {
		return newOAuthError("invalid_request", "code_verifier length must be between 43 and 128 characters.", http.StatusBadRequest)
	}
	for _, r := range verifier {
		if !isUnreserved(r) {
			return newOAuthError("invalid_request", "code_verifier contains invalid characters.", http.StatusBadRequest)
		}
	}
	return nil
}

// Unreserved characters per RFC 7636 section 4.1.
func isUnreserved(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '.', r == '_', r == '~':
		return true
	}
	return false
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// redirectURIAllowed requires an exact match against the registered callback
// list, with a development carve-out for any http://localhost URI.
func redirectURIAllowed(app domain.App, redirectURI string) bool {
	if isLocalhostRedirect(redirectURI) {
		return true
	}
	for _, allowed := range app.AuthorizedCallbackURLs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

func isLocalhostRedirect(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return u.Scheme == "http" && u.Hostname() == "localhost"
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func parseClientID(clientID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(clientID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed client_id %q", clientID)
	}
	return id, nil
}

func randomString(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
