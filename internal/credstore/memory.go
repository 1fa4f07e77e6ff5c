package credstore

import (
	"context"
	"sync"

	"uk.co.dudmesh.sentinel/internal/model"
)

type Memory struct {
	mu   sync.RWMutex
	opts options
	c    *collection
}

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts: newOptions(opts),
		c:    &collection{},
	}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.c.byEmail(email); a != nil {
		return a.Clone(), nil
	}
	return nil, model.ErrorUserNotFound
}

func (m *Memory) FindByID(_ context.Context, id model.UserID) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.c.byID(id); a != nil {
		return a.Clone(), nil
	}
	return nil, model.ErrorUserNotFound
}

func (m *Memory) Create(_ context.Context, params *model.NewAccount) (*model.Account, error) {
	return m.mutate(func(c *collection) (*model.Account, error) {
		return c.create(params, m.opts.timestamp())
	})
}

func (m *Memory) RecordSuccessfulLogin(_ context.Context, id model.UserID, ipAddress string) (*model.Account, error) {
	return m.mutate(func(c *collection) (*model.Account, error) {
		return c.recordSuccessfulLogin(id, ipAddress, m.opts.timestamp())
	})
}

func (m *Memory) RecordFailedLogin(_ context.Context, email string, rule model.LockoutRule) (*model.Account, error) {
	return m.mutate(func(c *collection) (*model.Account, error) {
		return c.recordFailedLogin(email, rule, m.opts.timestamp())
	})
}

func (m *Memory) ClearLock(_ context.Context, id model.UserID) (*model.Account, error) {
	return m.mutate(func(c *collection) (*model.Account, error) {
		return c.clearLock(id, m.opts.timestamp())
	})
}

func (m *Memory) UpdateProfile(_ context.Context, id model.UserID, update *model.ProfileUpdate) (*model.Account, error) {
	return m.mutate(func(c *collection) (*model.Account, error) {
		return c.updateProfile(id, update, m.opts.timestamp())
	})
}

func (m *Memory) List(_ context.Context) ([]model.PublicAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c.list(), nil
}

func (m *Memory) mutate(fn func(*collection) (*model.Account, error)) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := fn(m.c)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}
