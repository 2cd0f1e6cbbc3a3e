package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sachigoyal/echo-auth/internal/apikey"
	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/repository"
	"github.com/sachigoyal/echo-auth/internal/token"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	User  domain.User
	App   domain.App
	Scope string
	// TokenPayload is set only on the access-token path.
	TokenPayload *token.Payload
	// ViaAPIKey marks identities resolved from a static key.
	ViaAPIKey bool
}

// RequestMeta carries request attributes recorded against API key usage.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Authenticator resolves Authorization headers into identities. Access tokens
// verify statelessly; API keys hash to a single joined lookup.
type Authenticator struct {
	users        repository.UserRepository
	apps         repository.AppRepository
	keys         repository.APIKeyRepository
	hasher       *apikey.Hasher
	minter       *token.Minter
	logger       *zap.Logger
	tracer       trace.Tracer
	usageTimeout time.Duration
}

// NewAuthenticator wires the dual-path authenticator.
func NewAuthenticator(
	users repository.UserRepository,
	apps repository.AppRepository,
	keys repository.APIKeyRepository,
	hasher *apikey.Hasher,
	minter *token.Minter,
	usageTimeout time.Duration,
	logger *zap.Logger,
) *Authenticator {
	if usageTimeout <= 0 {
		usageTimeout = 3 * time.Second
	}
	return &Authenticator{
		users:        users,
		apps:         apps,
		keys:         keys,
		hasher:       hasher,
		minter:       minter,
		logger:       logger,
		tracer:       otel.Tracer("github.com/sachigoyal/echo-auth/internal/service"),
		usageTimeout: usageTimeout,
	}
}

// Authenticate parses the Authorization header and resolves the credential.
// Malformed headers return ErrInvalidHeader; a well-formed credential that
// fails on the API key path always collapses to ErrInvalidCredential so
// callers cannot distinguish unknown keys from archived ones.
func (a *Authenticator) Authenticate(ctx context.Context, header string, meta RequestMeta) (*Identity, error) {
	ctx, span := a.startSpan(ctx, "Authenticator.Authenticate")
	defer span.End()

	credential, err := bearerCredential(header)
	if err != nil {
		return nil, err
	}

	if apikey.LooksLikeKey(credential) {
		return a.authenticateAPIKey(ctx, credential, meta)
	}
	if strings.Count(credential, ".") == 2 {
		return a.authenticateAccessToken(ctx, credential)
	}
	// Legacy keys predate the prefix; anything that is not a JWT falls
	// through to the key path.
	return a.authenticateAPIKey(ctx, credential, meta)
}

func (a *Authenticator) authenticateAccessToken(ctx context.Context, raw string) (*Identity, error) {
	payload, err := a.minter.Verify(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}

	user, err := a.users.GetByID(ctx, payload.UserID)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	if user.Archived() {
		return nil, domain.ErrInvalidCredential
	}

	app, err := a.apps.GetByID(ctx, payload.AppID)
	if err != nil {
		return nil, domain.ErrAppNotFound
	}
	if app.Archived() {
		return nil, domain.ErrInvalidCredential
	}

	return &Identity{
		User:         user,
		App:          app,
		Scope:        payload.Scope,
		TokenPayload: payload,
	}, nil
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, credential string, meta RequestMeta) (*Identity, error) {
	hash, err := a.hasher.Hash(credential)
	if err != nil {
		return nil, domain.ErrInvalidCredential
	}

	key, user, app, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, domain.ErrInvalidCredential
	}
	if key.Archived() || user.Archived() || app.Archived() {
		return nil, domain.ErrInvalidCredential
	}

	a.touchUsageAsync(key.ID, meta)

	return &Identity{
		User:      user,
		App:       app,
		Scope:     key.Scope,
		ViaAPIKey: true,
	}, nil
}

// touchUsageAsync records last-used metadata off the request path. The write
// runs on a detached context so a finished request cannot cancel it, and a
// failure never affects the authentication result.
func (a *Authenticator) touchUsageAsync(keyID int64, meta RequestMeta) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.usageTimeout)
		defer cancel()
		usage := domain.APIKeyUsage{IP: meta.IP, UserAgent: meta.UserAgent, SeenAt: time.Now().UTC()}
		if err := a.keys.TouchUsage(ctx, keyID, usage); err != nil {
			a.log().Warn("api key usage update failed", zap.Int64("key_id", keyID), zap.Error(err))
		}
	}()
}

// ShouldRefresh reports whether the identity's access token is close enough
// to expiry that the client should renew. API key identities never refresh.
func (a *Authenticator) ShouldRefresh(id *Identity) bool {
	if id == nil || id.TokenPayload == nil {
		return false
	}
	return a.minter.ShouldRefresh(id.TokenPayload)
}

func bearerCredential(header string) (string, error) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", domain.ErrInvalidHeader
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", domain.ErrInvalidHeader
	}
	credential := strings.TrimSpace(parts[1])
	if credential == "" {
		return "", domain.ErrInvalidHeader
	}
	return credential, nil
}

func (a *Authenticator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if a == nil || a.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return a.tracer.Start(ctx, name)
}

func (a *Authenticator) log() *zap.Logger {
	if a != nil && a.logger != nil {
		return a.logger
	}
	return zap.L()
}
