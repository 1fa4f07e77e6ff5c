// Package credstore persists user accounts. Three backings share one
// contract: Memory for tests, File for a single-process deployment and
// SQLite when per-row atomic updates are required.
package credstore

import (
	"context"
	"time"

	"uk.co.dudmesh.sentinel/internal/model"
)

type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByID(ctx context.Context, id model.UserID) (*model.Account, error)
	Create(ctx context.Context, params *model.NewAccount) (*model.Account, error)
	RecordSuccessfulLogin(ctx context.Context, id model.UserID, ipAddress string) (*model.Account, error)
	RecordFailedLogin(ctx context.Context, email string, rule model.LockoutRule) (*model.Account, error)
	ClearLock(ctx context.Context, id model.UserID) (*model.Account, error)
	UpdateProfile(ctx context.Context, id model.UserID, update *model.ProfileUpdate) (*model.Account, error)
	List(ctx context.Context) ([]model.PublicAccount, error)
	Close() error
}

type Option func(*options)

type options struct {
	now func() time.Time
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) timestamp() time.Time {
	return o.now().UTC()
}
