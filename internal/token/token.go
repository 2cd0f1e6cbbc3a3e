package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid indicates a token that fails signature or time checks.
	ErrTokenInvalid = errors.New("token: invalid")
	// ErrMissingClaims indicates a token that verified cryptographically but
	// lacks the identity claims required by the platform.
	ErrMissingClaims = errors.New("token: required claims missing")
)

// Minter signs and verifies the stateless access tokens used on every
// resource request. Verification performs no I/O.
type Minter struct {
	secret     []byte
	keyID      string
	maxTTL     time.Duration
	leeway     time.Duration
	renewAhead time.Duration
}

// NewMinter constructs a Minter around an injected HS256 secret.
func NewMinter(secret []byte, keyID string, maxTTL, leeway, renewAhead time.Duration) *Minter {
	return &Minter{
		secret:     secret,
		keyID:      keyID,
		maxTTL:     maxTTL,
		leeway:     leeway,
		renewAhead: renewAhead,
	}
}

// Payload is the decoded body of a verified access token.
type Payload struct {
	TokenID    string
	UserID     int64
	AppID      int64
	Scope      string
	KeyVersion int
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type accessClaims struct {
	UserID     string `json:"user_id"`
	AppID      string `json:"app_id"`
	Scope      string `json:"scope"`
	KeyVersion int    `json:"key_version"`
}

// Mint produces a signed access token bound to (userID, appID, scope).
// The expiry is clamped to the configured ceiling; a zero expiry requests
// the full ceiling.
func (m *Minter) Mint(userID, appID int64, scope string, expiresAt time.Time, keyVersion int) (string, error) {
	if keyVersion <= 0 {
		keyVersion = 1
	}

	now := time.Now().UTC()
	ceiling := now.Add(m.maxTTL)
	if expiresAt.IsZero() || expiresAt.After(ceiling) {
		expiresAt = ceiling
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: m.secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", m.keyID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	std := gojwt.Claims{
		Subject:  strconv.FormatInt(userID, 10),
		Audience: gojwt.Audience{strconv.FormatInt(appID, 10)},
		ID:       uuid.NewString(),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(expiresAt),
	}
	custom := accessClaims{
		UserID:     strconv.FormatInt(userID, 10),
		AppID:      strconv.FormatInt(appID, 10),
		Scope:      scope,
		KeyVersion: keyVersion,
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return raw, nil
}

// Verify checks the signature and time claims with a small clock-skew leeway
// and requires the platform identity claims to be present. It never touches
// the database.
func (m *Minter) Verify(raw string) (*Payload, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var std gojwt.Claims
	var custom accessClaims
	if err := parsed.Claims(m.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if err := std.ValidateWithLeeway(gojwt.Expected{Time: time.Now()}, m.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if custom.UserID == "" || custom.AppID == "" || custom.Scope == "" {
		return nil, ErrMissingClaims
	}

	userID, err := strconv.ParseInt(custom.UserID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: user_id", ErrMissingClaims)
	}
	appID, err := strconv.ParseInt(custom.AppID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: app_id", ErrMissingClaims)
	}

	payload := &Payload{
		TokenID:    std.ID,
		UserID:     userID,
		AppID:      appID,
		Scope:      custom.Scope,
		KeyVersion: custom.KeyVersion,
	}
	if std.IssuedAt != nil {
		payload.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		payload.ExpiresAt = std.Expiry.Time()
	}
	return payload, nil
}

// ShouldRefresh reports whether a client should proactively renew rather than
// wait for expiry.
func (m *Minter) ShouldRefresh(p *Payload) bool {
	if p == nil {
		return true
	}
	return time.Until(p.ExpiresAt) < m.renewAhead
}
