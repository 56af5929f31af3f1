package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/memory"
)

const testSecret = "test-secret"

func newManager(t *testing.T, now func() time.Time) (*auth.Manager, *memory.RevocationStore) {
	t.Helper()

	revocations := memory.NewRevocationStore()
	m, err := auth.NewManager(auth.Config{Secret: testSecret, TTL: time.Hour}, revocations, auth.WithClock(now))
	require.NoError(t, err)
	return m, revocations
}

func TestManager_IssueAndVerify(t *testing.T) {
	m, _ := newManager(t, time.Now)

	token, claims, err := m.Issue("client-1", domain.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)
	require.Equal(t, auth.DefaultIssuer, claims.Issuer)

	caller, err := m.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "client-1", caller.ClientID)
	require.Equal(t, claims.ID, caller.TokenID)
	require.True(t, caller.IsAdmin())
}

func TestManager_RequiresSecretAndClient(t *testing.T) {
	_, err := auth.NewManager(auth.Config{}, nil)
	require.ErrorIs(t, err, auth.ErrSecretRequired)

	m, _ := newManager(t, time.Now)
	_, _, err = m.Issue(" ", "")
	require.ErrorIs(t, err, domain.ErrClientIDRequired)
}

func TestManager_RejectsExpiredToken(t *testing.T) {
	issuedAt := time.Now().Add(-2 * time.Hour)
	issuer, _ := newManager(t, func() time.Time { return issuedAt })
	token, _, err := issuer.Issue("client-1", "")
	require.NoError(t, err)

	verifier, _ := newManager(t, time.Now)
	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	require.True(t, domain.IsUnauthorized(err))
}

func TestManager_RejectsForeignSecretAndIssuer(t *testing.T) {
	m, _ := newManager(t, time.Now)

	other, err := auth.NewManager(auth.Config{Secret: "other-secret"}, nil)
	require.NoError(t, err)
	token, _, err := other.Issue("client-1", "")
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	foreign, err := auth.NewManager(auth.Config{Secret: testSecret, Issuer: "someone-else"}, nil)
	require.NoError(t, err)
	token, _, err = foreign.Issue("client-1", "")
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	trusting, err := auth.NewManager(auth.Config{Secret: testSecret, AllowedIssuers: []string{"someone-else"}}, nil)
	require.NoError(t, err)
	_, err = trusting.Verify(context.Background(), token)
	require.NoError(t, err)
}

func TestManager_RejectsUnexpectedAlgorithm(t *testing.T) {
	m, _ := newManager(t, time.Now)

	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "client-1",
		Issuer:    auth.DefaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestManager_RejectsTokenWithoutID(t *testing.T) {
	m, revocations := newManager(t, time.Now)

	now := time.Now()
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "client-1",
		Issuer:    auth.DefaultIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	require.True(t, domain.IsUnauthorized(err))

	require.ErrorIs(t, m.Revoke(context.Background(), token), auth.ErrInvalidToken)
	require.Zero(t, revocations.Len())
}

func TestManager_RevokeRejectsFurtherUse(t *testing.T) {
	m, revocations := newManager(t, time.Now)

	token, _, err := m.Issue("client-1", "")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), token))
	require.Equal(t, 1, revocations.Len())

	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)

	other, _, err := m.Issue("client-1", "")
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), other)
	require.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	token, ok := auth.BearerToken("Bearer abc.def")
	require.True(t, ok)
	require.Equal(t, "abc.def", token)

	token, ok = auth.BearerToken("bearer   xyz ")
	require.True(t, ok)
	require.Equal(t, "xyz", token)

	_, ok = auth.BearerToken("Basic abc")
	require.False(t, ok)
	_, ok = auth.BearerToken("Bearer")
	require.False(t, ok)
}
