// Package lockout decides whether an account may attempt a login.
//
// An account is locked once its failed-attempt counter reaches Threshold and
// stays locked for Window. Expired locks are cleared lazily, the first time
// they are observed, rather than by a background sweep.
package lockout

import (
	"context"
	"fmt"
	"time"

	"uk.co.dudmesh.sentinel/internal/model"
)

const (
	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Minute
)

type Config struct {
	Threshold int
	Window    time.Duration
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Window: DefaultWindow}
}

type Store interface {
	ClearLock(ctx context.Context, id model.UserID) (*model.Account, error)
}

type Policy struct {
	config Config
	store  Store
	now    func() time.Time
}

func New(config Config, store Store, now func() time.Time) (*Policy, error) {
	if config.Threshold < 1 {
		return nil, fmt.Errorf("lockout threshold must be positive, got %d", config.Threshold)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("lockout window must be positive, got %s", config.Window)
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{config: config, store: store, now: now}, nil
}

// Rule is what stores apply when recording a failed login.
func (p *Policy) Rule() model.LockoutRule {
	return model.LockoutRule{MaxAttempts: p.config.Threshold, Duration: p.config.Window}
}

// IsLocked reports whether the account is inside a lockout window. A lock
// that has already expired is cleared in the store and on account itself.
func (p *Policy) IsLocked(ctx context.Context, account *model.Account) (bool, error) {
	if account.AccountLockedUntil == nil {
		return false, nil
	}
	if account.AccountLockedUntil.After(p.now()) {
		return true, nil
	}

	cleared, err := p.store.ClearLock(ctx, account.ID)
	if err != nil {
		return false, fmt.Errorf("clearing expired lock: %w", err)
	}
	account.AccountLockedUntil = cleared.AccountLockedUntil
	account.FailedLoginAttempts = cleared.FailedLoginAttempts
	account.UpdatedAt = cleared.UpdatedAt
	return false, nil
}

// Remaining is the time left in the account's lockout window, zero if unlocked.
func (p *Policy) Remaining(account *model.Account) time.Duration {
	if account.AccountLockedUntil == nil {
		return 0
	}
	if d := account.AccountLockedUntil.Sub(p.now()); d > 0 {
		return d
	}
	return 0
}
