package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityLevelOrdering(t *testing.T) {
	assert := assert.New(t)

	assert.Less(SecurityLevelLow.Rank(), SecurityLevelMedium.Rank())
	assert.Less(SecurityLevelMedium.Rank(), SecurityLevelHigh.Rank())
	assert.Less(SecurityLevelHigh.Rank(), SecurityLevelCritical.Rank())
	assert.Equal(-1, SecurityLevel("extreme").Rank())

	level, err := ParseSecurityLevel(" HIGH ")
	assert.Nil(err)
	assert.Equal(SecurityLevelHigh, level)

	_, err = ParseSecurityLevel("extreme")
	assert.Error(err)
}

func TestRoleIs(t *testing.T) {
	assert := assert.New(t)

	assert.True(Role("Admin").Is(RoleAdmin))
	assert.True(Role(" analyst ").Is(RoleAnalyst))
	assert.False(Role("Eng").Is(RoleAdmin))
}

func TestPublicAccountHasNoPasswordHash(t *testing.T) {
	ip := "10.0.0.1"
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	account := &Account{
		ID:            7,
		Email:         "alice@example.com",
		PasswordHash:  "$2a$12$secret",
		LastLogin:     &now,
		LastIPAddress: &ip,
	}

	public := account.Public()
	raw, err := json.Marshal(public)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "passwordHash")
	assert.NotContains(t, string(raw), "$2a$12$secret")
	assert.Contains(t, string(raw), `"lastIpAddress":"10.0.0.1"`)

	// the projection must not alias the account's pointers
	*account.LastIPAddress = "changed"
	assert.Equal(t, "10.0.0.1", *public.LastIPAddress)
}

func TestProfileLeavesOutSecurityState(t *testing.T) {
	ip := "10.0.0.1"
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	locked := now.Add(15 * time.Minute)
	account := &Account{
		ID:                  7,
		Email:               "alice@example.com",
		PasswordHash:        "$2a$12$secret",
		LastLogin:           &now,
		LoginCount:          3,
		LastIPAddress:       &ip,
		FailedLoginAttempts: 4,
		AccountLockedUntil:  &locked,
	}

	profile := account.Profile()
	raw, err := json.Marshal(profile)
	require.NoError(t, err)

	for _, field := range []string{"passwordHash", "failedLoginAttempts", "accountLockedUntil", "lastIpAddress", "10.0.0.1"} {
		assert.NotContains(t, string(raw), field)
	}
	assert.Equal(t, 3, profile.LoginCount)

	*account.LastLogin = now.Add(time.Hour)
	assert.True(t, now.Equal(*profile.LastLogin))
}

func TestProfileUpdateApply(t *testing.T) {
	name := "Bob"
	level := SecurityLevelCritical
	inactive := false
	account := &Account{Name: "Alice", Department: "Eng", SecurityLevel: SecurityLevelMedium, IsActive: true}

	(&ProfileUpdate{Name: &name, SecurityLevel: &level, IsActive: &inactive}).Apply(account)

	assert.Equal(t, "Bob", account.Name)
	assert.Equal(t, "Eng", account.Department)
	assert.Equal(t, SecurityLevelCritical, account.SecurityLevel)
	assert.False(t, account.IsActive)
}

func TestNewTokenID(t *testing.T) {
	a, err := NewTokenID()
	require.NoError(t, err)
	b, err := NewTokenID()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
