package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

func TestTokenServiceIssueAndVerify(t *testing.T) {
	env := newTestEnv(t)
	account := models.Account{ID: 42, Email: "ada@example.com", Role: models.RoleTeacher}

	token, expiresAt, err := env.tokens.IssueAccess(account)
	require.NoError(t, err)
	require.Equal(t, testEpoch.Add(time.Hour), expiresAt)

	claims, err := env.tokens.Verify(context.Background(), token)
	require.NoError(t, err)
	id, err := claims.AccountID()
	require.NoError(t, err)
	require.Equal(t, uint(42), id)
	require.Equal(t, models.RoleTeacher, claims.Role)
	require.Equal(t, "ada@example.com", claims.Email)
	require.NotEmpty(t, claims.ID)
}

func TestTokenServiceRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.tokens.IssueAccess(models.Account{ID: 1, Role: models.RoleStudent})
	require.NoError(t, err)

	env.clock.Advance(time.Hour + time.Second)

	_, err = env.tokens.Verify(context.Background(), token)
	require.ErrorIs(t, err, apperror.ErrTokenExpired)
}

func TestTokenServiceRejectsWrongTypeAndTampering(t *testing.T) {
	env := newTestEnv(t)
	account := models.Account{ID: 1, Role: models.RoleStudent}

	refresh, _, err := env.tokens.IssueRefresh(account)
	require.NoError(t, err)
	_, err = env.tokens.Verify(context.Background(), refresh)
	require.ErrorIs(t, err, apperror.ErrInvalidToken)

	access, _, err := env.tokens.IssueAccess(account)
	require.NoError(t, err)
	_, err = env.tokens.VerifyRefresh(access)
	require.ErrorIs(t, err, apperror.ErrInvalidToken)

	_, err = env.tokens.Verify(context.Background(), access+"x")
	require.ErrorIs(t, err, apperror.ErrInvalidToken)

	_, err = env.tokens.Verify(context.Background(), "")
	require.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestTokenServiceRejectsUnsignedToken(t *testing.T) {
	env := newTestEnv(t)
	claims := SessionClaims{
		Role: models.RoleAdmin,
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(testEpoch.Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = env.tokens.Verify(context.Background(), unsigned)
	require.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestTokenServiceRevokeBlacklistsUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, _, err := env.tokens.IssueAccess(models.Account{ID: 5, Role: models.RoleStudent})
	require.NoError(t, err)

	env.tokens.Revoke(ctx, token)

	_, err = env.tokens.Verify(ctx, token)
	require.ErrorIs(t, err, apperror.ErrTokenBlacklisted)

	ttl := env.mini.TTL("auth:blacklist:" + repository.HashToken(token))
	require.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 1)

	other, _, err := env.tokens.IssueAccess(models.Account{ID: 5, Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = env.tokens.Verify(ctx, other)
	require.NoError(t, err)
}

func TestTokenServiceBlacklistOutageFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.tokens.IssueAccess(models.Account{ID: 5, Role: models.RoleStudent})
	require.NoError(t, err)

	env.mini.Close()

	_, err = env.tokens.Verify(context.Background(), token)
	require.NoError(t, err)
}
