package credstore

import (
	"sort"
	"time"

	"uk.co.dudmesh.sentinel/internal/model"
)

// collection holds every account in memory. It is the state shared by the
// Memory and File stores; callers provide their own locking.
type collection struct {
	Accounts []*model.Account `json:"accounts"`
}

func (c *collection) clone() *collection {
	out := &collection{Accounts: make([]*model.Account, 0, len(c.Accounts))}
	for _, a := range c.Accounts {
		out.Accounts = append(out.Accounts, a.Clone())
	}
	return out
}

func (c *collection) byEmail(email string) *model.Account {
	key := model.NormalizeEmail(email)
	for _, a := range c.Accounts {
		if model.NormalizeEmail(a.Email) == key {
			return a
		}
	}
	return nil
}

func (c *collection) byID(id model.UserID) *model.Account {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (c *collection) nextID() model.UserID {
	var max model.UserID
	for _, a := range c.Accounts {
		if a.ID > max {
			max = a.ID
		}
	}
	return max + 1
}

func (c *collection) create(params *model.NewAccount, now time.Time) (*model.Account, error) {
	if c.byEmail(params.Email) != nil {
		return nil, model.ErrorDuplicateEmail
	}
	account := &model.Account{
		ID:            c.nextID(),
		Email:         model.NormalizeEmail(params.Email),
		Name:          params.Name,
		Department:    params.Department,
		PasswordHash:  params.PasswordHash,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
		SecurityLevel: model.SecurityLevelMedium,
	}
	c.Accounts = append(c.Accounts, account)
	return account, nil
}

func (c *collection) recordSuccessfulLogin(id model.UserID, ipAddress string, now time.Time) (*model.Account, error) {
	account := c.byID(id)
	if account == nil {
		return nil, model.ErrorUserNotFound
	}
	account.LastLogin = &now
	account.LoginCount++
	account.FailedLoginAttempts = 0
	if ipAddress != "" {
		ip := ipAddress
		account.LastIPAddress = &ip
	}
	account.UpdatedAt = now
	return account, nil
}

func (c *collection) recordFailedLogin(email string, rule model.LockoutRule, now time.Time) (*model.Account, error) {
	account := c.byEmail(email)
	if account == nil {
		return nil, model.ErrorUserNotFound
	}
	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= rule.MaxAttempts {
		until := now.Add(rule.Duration)
		account.AccountLockedUntil = &until
	}
	account.UpdatedAt = now
	return account, nil
}

func (c *collection) clearLock(id model.UserID, now time.Time) (*model.Account, error) {
	account := c.byID(id)
	if account == nil {
		return nil, model.ErrorUserNotFound
	}
	account.AccountLockedUntil = nil
	account.FailedLoginAttempts = 0
	account.UpdatedAt = now
	return account, nil
}

func (c *collection) updateProfile(id model.UserID, update *model.ProfileUpdate, now time.Time) (*model.Account, error) {
	account := c.byID(id)
	if account == nil {
		return nil, model.ErrorUserNotFound
	}
	update.Apply(account)
	account.UpdatedAt = now
	return account, nil
}

func (c *collection) list() []model.PublicAccount {
	accounts := make([]model.PublicAccount, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts = append(accounts, a.Public())
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}
