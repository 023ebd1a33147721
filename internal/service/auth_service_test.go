package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/pkg/identity"
)

func TestAccountGuardTransitions(t *testing.T) {
	guard := NewAccountGuard(0, 0)
	now := testEpoch
	account := models.Account{ID: 1}

	for i := 1; i < 5; i++ {
		state, locked := guard.RecordFailure(account, now)
		require.False(t, locked)
		require.Equal(t, i, state.FailedLoginAttempts)
		account.FailedLoginAttempts = state.FailedLoginAttempts
	}

	state, locked := guard.RecordFailure(account, now)
	require.True(t, locked)
	require.Equal(t, now.Add(2*time.Hour), *state.LockedUntil)
	account.FailedLoginAttempts = state.FailedLoginAttempts
	account.LockedUntil = state.LockedUntil

	require.ErrorIs(t, guard.Check(account, now.Add(time.Hour)), apperror.ErrAccountLocked)
	require.NoError(t, guard.Check(account, now.Add(2*time.Hour)))

	state, locked = guard.RecordFailure(account, now.Add(3*time.Hour))
	require.False(t, locked)
	require.Equal(t, 1, state.FailedLoginAttempts)

	success := guard.RecordSuccess(now)
	require.Zero(t, success.FailedLoginAttempts)
	require.Nil(t, success.LockedUntil)
	require.Equal(t, now, *success.LastLoginAt)
}

func TestAuthServiceRegisterRejectsDuplicateEmailAnyCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Foo", Email: "foo@bar.com", Password: "password123"})
	require.NoError(t, err)

	_, err = env.auth.Register(ctx, dto.RegisterRequest{Name: "Foo Again", Email: "Foo@Bar.com", Password: "password123"})
	require.ErrorIs(t, err, apperror.ErrUserExists)
}

func TestAuthServiceRegisterRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	response, err := env.auth.Register(ctx, dto.RegisterRequest{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Password: "password123", Role: "teacher"})
	require.NoError(t, err)
	require.Equal(t, "Grace Hopper", response.User.Name)
	require.Equal(t, models.RoleTeacher, response.User.Role)
	require.NotEmpty(t, response.AccessToken)
	require.NotEmpty(t, response.RefreshToken)

	_, err = env.auth.Register(ctx, dto.RegisterRequest{Name: "Root", Email: "root@example.com", Password: "password123", Role: "admin"})
	require.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.auth.Register(ctx, dto.RegisterRequest{Name: "Short", Email: "short@example.com", Password: "pw"})
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Equal(t, "min=8", appErr.Details["password"])

	_, err = env.auth.Register(ctx, dto.RegisterRequest{Email: "noname@example.com", Password: "password123"})
	require.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAuthServiceLoginLocksAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, models.RoleStudent, "lock@example.com", "correct-horse")

	for i := 0; i < 4; i++ {
		_, err := env.auth.Login(ctx, dto.LoginRequest{Email: "lock@example.com", Password: "wrong"})
		require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
		var appErr *apperror.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, 4-i, appErr.Details["attempts_remaining"])
	}

	_, err := env.auth.Login(ctx, dto.LoginRequest{Email: "lock@example.com", Password: "wrong"})
	require.ErrorIs(t, err, apperror.ErrAccountLocked)

	stored, err := env.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	require.WithinDuration(t, testEpoch.Add(2*time.Hour), *stored.LockedUntil, time.Second)

	_, err = env.auth.Login(ctx, dto.LoginRequest{Email: "lock@example.com", Password: "correct-horse"})
	require.ErrorIs(t, err, apperror.ErrAccountLocked)

	stored, err = env.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stored.FailedLoginAttempts, "attempts while locked must not count")

	env.clock.Advance(2*time.Hour + time.Second)
	response, err := env.auth.Login(ctx, dto.LoginRequest{Email: "LOCK@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.Equal(t, account.ID, response.User.ID)

	stored, err = env.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginAttempts)
	require.Nil(t, stored.LockedUntil)
	require.NotNil(t, stored.LastLoginAt)
}

func TestAuthServiceSuccessfulLoginResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, models.RoleStudent, "reset@example.com", "correct-horse")

	for i := 0; i < 3; i++ {
		_, err := env.auth.Login(ctx, dto.LoginRequest{Email: "reset@example.com", Password: "wrong"})
		require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	}

	_, err := env.auth.Login(ctx, dto.LoginRequest{Email: "reset@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	stored, err := env.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginAttempts)
}

func TestAuthServiceLoginUnknownEmailAndDeactivated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Login(ctx, dto.LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	require.ErrorIs(t, err, apperror.ErrInvalidCredentials)

	account := env.createAccount(t, models.RoleTeacher, "off@example.com", "correct-horse")
	account.IsActive = false
	require.NoError(t, env.accounts.Update(ctx, &account))

	_, err = env.auth.Login(ctx, dto.LoginRequest{Email: "off@example.com", Password: "correct-horse"})
	require.ErrorIs(t, err, apperror.ErrAccountDeactivated)
}

func TestAuthServiceRegisterLoginVerifyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	login, err := env.auth.Login(ctx, dto.LoginRequest{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	account, err := env.auth.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, account.ID)
	require.Equal(t, models.RoleStudent, account.Role)
}

func TestAuthServiceRejectsTokenAfterRoleChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createAccount(t, models.RoleAdmin, "admin@example.com", "password123")
	session, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = env.accountS.UpdateRole(ctx, admin.ID, session.User.ID, dto.RoleUpdateRequest{Role: "teacher"})
	require.NoError(t, err)

	_, err = env.auth.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, apperror.ErrTokenRoleMismatch)

	_, err = env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: session.RefreshToken})
	require.ErrorIs(t, err, apperror.ErrTokenRoleMismatch)
}

func TestAuthServiceAuthenticateRejectsDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createAccount(t, models.RoleAdmin, "admin@example.com", "password123")
	session, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Carol", Email: "carol@example.com", Password: "password123"})
	require.NoError(t, err)

	inactive := false
	_, err = env.accountS.UpdateStatus(ctx, admin.ID, session.User.ID, dto.StatusUpdateRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = env.auth.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, apperror.ErrAccountDeactivated)

	_, err = env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: session.RefreshToken})
	require.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestAuthServiceRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Dan", Email: "dan@example.com", Password: "password123"})
	require.NoError(t, err)

	rotated, err := env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: session.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	_, err = env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: session.RefreshToken})
	require.ErrorIs(t, err, apperror.ErrInvalidToken)

	// reuse of the old token revoked the whole family
	_, err = env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: rotated.RefreshToken})
	require.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestAuthServiceLogoutRevokesBothTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.auth.Register(ctx, dto.RegisterRequest{Name: "Eve", Email: "eve@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, session.AccessToken, session.RefreshToken))

	_, err = env.auth.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, apperror.ErrTokenBlacklisted)

	_, err = env.auth.Refresh(ctx, dto.RefreshRequest{RefreshToken: session.RefreshToken})
	require.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestAuthServiceIdentityLoginMapsAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-1", EmailVerified: true, Email: "new@example.com", Name: "New Person"})
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, created.User.Role)
	require.True(t, created.User.EmailVerified)

	again, err := env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-1", EmailVerified: true, Email: "new@example.com"})
	require.NoError(t, err)
	require.Equal(t, created.User.ID, again.User.ID)

	teacher := env.createAccount(t, models.RoleTeacher, "teach@example.com", "password123")
	linked, err := env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-2", EmailVerified: true, Email: "Teach@Example.com"})
	require.NoError(t, err)
	require.Equal(t, teacher.ID, linked.User.ID)
	require.Equal(t, models.RoleTeacher, linked.User.Role)

	stored, err := env.accounts.GetByGoogleID(ctx, "g-2")
	require.NoError(t, err)
	require.Equal(t, teacher.ID, stored.ID)

	_, err = env.auth.LoginWithIdentity(ctx, identity.Profile{Email: "missing-subject@example.com"})
	require.ErrorIs(t, err, apperror.ErrOAuthIdentity)
}

func TestAuthServiceIdentityLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	victim := env.createAccount(t, models.RoleTeacher, "victim@example.com", "password123")

	_, err := env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-attacker", Email: "Victim@Example.com"})
	require.ErrorIs(t, err, apperror.ErrOAuthUnverified)

	stored, err := env.accounts.GetByID(ctx, victim.ID)
	require.NoError(t, err)
	require.Nil(t, stored.GoogleID)
	require.False(t, stored.EmailVerified)

	_, err = env.accounts.GetByGoogleID(ctx, "g-attacker")
	require.Error(t, err)

	_, err = env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-new", Email: "fresh@example.com"})
	require.ErrorIs(t, err, apperror.ErrOAuthUnverified)
	_, err = env.accounts.GetByEmail(ctx, "fresh@example.com")
	require.Error(t, err)
}

func TestAuthServiceIdentityLoginBypassesLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.createAccount(t, models.RoleStudent, "locked@example.com", "password123")

	for i := 0; i < 5; i++ {
		_, _ = env.auth.Login(ctx, dto.LoginRequest{Email: "locked@example.com", Password: "wrong"})
	}

	response, err := env.auth.LoginWithIdentity(ctx, identity.Profile{Subject: "g-9", EmailVerified: true, Email: "locked@example.com"})
	require.NoError(t, err)
	require.Equal(t, account.ID, response.User.ID)

	stored, err := env.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, stored.IsLocked(env.clock.Now()), "identity login leaves the password lock untouched")
}
