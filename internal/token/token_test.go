package token

import (
	"strconv"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestMinter() *Minter {
	return NewMinter(testSecret, "primary", time.Hour, 5*time.Second, 5*time.Minute)
}

func TestMinter_MintVerifyRoundTrip(t *testing.T) {
	m := newTestMinter()

	raw, err := m.Mint(42, 7, "read write", time.Now().Add(30*time.Minute), 2)
	require.NoError(t, err)

	payload, err := m.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, int64(42), payload.UserID)
	require.Equal(t, int64(7), payload.AppID)
	require.Equal(t, "read write", payload.Scope)
	require.Equal(t, 2, payload.KeyVersion)
	require.NotEmpty(t, payload.TokenID)
	require.WithinDuration(t, time.Now().Add(30*time.Minute), payload.ExpiresAt, 2*time.Second)
}

func TestMinter_ExpiryClampedToCeiling(t *testing.T) {
	m := newTestMinter()

	raw, err := m.Mint(1, 1, "read", time.Now().Add(48*time.Hour), 1)
	require.NoError(t, err)

	payload, err := m.Verify(raw)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), payload.ExpiresAt, 2*time.Second)
}

func TestMinter_RejectsTamperedToken(t *testing.T) {
	m := newTestMinter()

	raw, err := m.Mint(1, 1, "read", time.Time{}, 1)
	require.NoError(t, err)

	tampered := []byte(raw)
	tampered[len(tampered)-1] ^= 0x01
	_, err = m.Verify(string(tampered))
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMinter_RejectsWrongSecret(t *testing.T) {
	m := newTestMinter()
	other := NewMinter([]byte("ffffffffffffffffffffffffffffffff"), "primary", time.Hour, 5*time.Second, 5*time.Minute)

	raw, err := other.Mint(1, 1, "read", time.Time{}, 1)
	require.NoError(t, err)

	_, err = m.Verify(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMinter_RejectsExpiredBeyondLeeway(t *testing.T) {
	m := newTestMinter()

	raw := signRawToken(t, gojwt.Claims{
		Subject:  "1",
		Audience: gojwt.Audience{"1"},
		ID:       "expired",
		IssuedAt: gojwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		Expiry:   gojwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}, accessClaims{UserID: "1", AppID: "1", Scope: "read", KeyVersion: 1})

	_, err := m.Verify(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMinter_AcceptsExpiryWithinLeeway(t *testing.T) {
	m := newTestMinter()

	raw := signRawToken(t, gojwt.Claims{
		Subject:  "1",
		Audience: gojwt.Audience{"1"},
		ID:       "leeway",
		IssuedAt: gojwt.NewNumericDate(time.Now().Add(-time.Hour)),
		Expiry:   gojwt.NewNumericDate(time.Now().Add(-time.Second)),
	}, accessClaims{UserID: "1", AppID: "1", Scope: "read", KeyVersion: 1})

	_, err := m.Verify(raw)
	require.NoError(t, err)
}

func TestMinter_RejectsMissingIdentityClaims(t *testing.T) {
	m := newTestMinter()

	raw := signRawToken(t, gojwt.Claims{
		Subject:  "1",
		ID:       "incomplete",
		IssuedAt: gojwt.NewNumericDate(time.Now()),
		Expiry:   gojwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, accessClaims{UserID: "1", Scope: "read"})

	_, err := m.Verify(raw)
	require.ErrorIs(t, err, ErrMissingClaims)
}

func TestMinter_ShouldRefresh(t *testing.T) {
	m := newTestMinter()

	require.True(t, m.ShouldRefresh(nil))
	require.True(t, m.ShouldRefresh(&Payload{ExpiresAt: time.Now().Add(time.Minute)}))
	require.False(t, m.ShouldRefresh(&Payload{ExpiresAt: time.Now().Add(30 * time.Minute)}))
}

func TestMinter_AuthorizationCodeRoundTrip(t *testing.T) {
	m := newTestMinter()

	raw, err := m.MintAuthorizationCode(AuthorizationCodePayload{
		ClientID:            "123",
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		Scope:               "read",
		UserID:              42,
	}, 10*time.Minute)
	require.NoError(t, err)

	payload, err := m.VerifyAuthorizationCode(raw)
	require.NoError(t, err)
	require.Equal(t, "123", payload.ClientID)
	require.Equal(t, "https://app.example.com/callback", payload.RedirectURI)
	require.Equal(t, "challenge", payload.CodeChallenge)
	require.Equal(t, int64(42), payload.UserID)
	require.NotEmpty(t, payload.Code)
}

func TestMinter_AuthorizationCodeExpired(t *testing.T) {
	m := newTestMinter()

	raw, err := m.MintAuthorizationCode(AuthorizationCodePayload{
		ClientID:    "123",
		RedirectURI: "https://app.example.com/callback",
		UserID:      1,
	}, -time.Minute)
	require.NoError(t, err)

	_, err = m.VerifyAuthorizationCode(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func signRawToken(t *testing.T, std gojwt.Claims, custom accessClaims) string {
	t.Helper()
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: testSecret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)
	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

func TestMinter_SubjectMatchesUserID(t *testing.T) {
	m := newTestMinter()

	raw, err := m.Mint(9001, 3, "read", time.Time{}, 1)
	require.NoError(t, err)

	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	require.NoError(t, err)
	var std gojwt.Claims
	require.NoError(t, parsed.Claims(testSecret, &std))
	require.Equal(t, strconv.FormatInt(9001, 10), std.Subject)
	require.Contains(t, std.Audience, "3")
}
