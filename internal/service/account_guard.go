package service

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 2 * time.Hour
)

// AccountGuard decides lock transitions for password logins. It holds no
// state; counters live on the account and are evaluated against now lazily.
type AccountGuard struct {
	threshold int
	duration  time.Duration
}

// NewAccountGuard builds a guard, falling back to 5 failures / 2 hours.
func NewAccountGuard(threshold int, duration time.Duration) AccountGuard {
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}
	if duration <= 0 {
		duration = defaultLockoutDuration
	}
	return AccountGuard{threshold: threshold, duration: duration}
}

// Check rejects the attempt while the lock window is open.
func (g AccountGuard) Check(account models.Account, now time.Time) error {
	if account.IsLocked(now) {
		return apperror.ErrAccountLocked.WithDetail("lock_until", account.LockedUntil.UTC())
	}
	return nil
}

// RecordFailure counts a wrong password and reports whether this failure locked the account.
// A lock that has already lapsed starts a fresh count.
func (g AccountGuard) RecordFailure(account models.Account, now time.Time) (repository.LoginState, bool) {
	failures := account.FailedLoginAttempts
	if account.LockedUntil != nil && !now.Before(*account.LockedUntil) {
		failures = 0
	}
	failures++

	state := repository.LoginState{FailedLoginAttempts: failures, LastLoginAt: account.LastLoginAt}
	if failures >= g.threshold {
		until := now.Add(g.duration)
		state.LockedUntil = &until
		return state, true
	}
	return state, false
}

// RecordSuccess clears the counter and any lapsed lock.
func (g AccountGuard) RecordSuccess(now time.Time) repository.LoginState {
	return repository.LoginState{FailedLoginAttempts: 0, LockedUntil: nil, LastLoginAt: &now}
}
