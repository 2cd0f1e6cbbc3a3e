package token

import (
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// AuthorizationCodePayload is the body of a signed authorization code. It is
// never persisted; the code is stateless until the exchanger marks its
// correlation value consumed.
type AuthorizationCodePayload struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	UserID              int64
	Code                string
	ExpiresAt           time.Time
}

type codeClaims struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Scope               string `json:"scope"`
	UserID              string `json:"user_id"`
	Code                string `json:"code"`
}

// MintAuthorizationCode encodes the payload as a signed, time-boxed token.
// The Code correlation value is generated when the payload carries none.
func (m *Minter) MintAuthorizationCode(p AuthorizationCodePayload, ttl time.Duration) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: m.secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", m.keyID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	if p.Code == "" {
		p.Code = uuid.NewString()
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  strconv.FormatInt(p.UserID, 10),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := codeClaims{
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Scope:               p.Scope,
		UserID:              strconv.FormatInt(p.UserID, 10),
		Code:                p.Code,
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize authorization code: %w", err)
	}
	return raw, nil
}

// VerifyAuthorizationCode validates the signature and expiry of a code and
// decodes its payload.
func (m *Minter) VerifyAuthorizationCode(raw string) (*AuthorizationCodePayload, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var std gojwt.Claims
	var custom codeClaims
	if err := parsed.Claims(m.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Time: time.Now()}, m.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	userID, err := strconv.ParseInt(custom.UserID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: user_id", ErrMissingClaims)
	}

	payload := &AuthorizationCodePayload{
		ClientID:            custom.ClientID,
		RedirectURI:         custom.RedirectURI,
		CodeChallenge:       custom.CodeChallenge,
		CodeChallengeMethod: custom.CodeChallengeMethod,
		Scope:               custom.Scope,
		UserID:              userID,
		Code:                custom.Code,
	}
	if std.Expiry != nil {
		payload.ExpiresAt = std.Expiry.Time()
	}
	return payload, nil
}
