package credstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.sentinel/internal/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *testClock) CredentialStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"Memory": func(t *testing.T, clock *testClock) CredentialStore {
			return NewMemory(WithClock(clock.Now))
		},
		"File": func(t *testing.T, clock *testClock) CredentialStore {
			store, err := NewFile(t.TempDir(), WithClock(clock.Now))
			require.NoError(t, err)
			return store
		},
		"SQLite": func(t *testing.T, clock *testClock) CredentialStore {
			store, err := NewSQLite(t.TempDir(), WithClock(clock.Now))
			require.NoError(t, err)
			return store
		},
	}
}

var rule = model.LockoutRule{MaxAttempts: 5, Duration: 15 * time.Minute}

func newAccount(email string) *model.NewAccount {
	return &model.NewAccount{
		Name:         "Alice",
		Email:        email,
		Department:   "Eng",
		PasswordHash: "$2a$04$notarealhashnotarealhashnotarealhashnotarealhash",
	}
}

func TestCredentialStores(t *testing.T) {
	for name, factory := range factories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("Create", func(t *testing.T) { testCreate(t, factory) })
			t.Run("Duplicate email", func(t *testing.T) { testDuplicateEmail(t, factory) })
			t.Run("Find", func(t *testing.T) { testFind(t, factory) })
			t.Run("Successful login", func(t *testing.T) { testSuccessfulLogin(t, factory) })
			t.Run("Failed login", func(t *testing.T) { testFailedLogin(t, factory) })
			t.Run("Clear lock", func(t *testing.T) { testClearLock(t, factory) })
			t.Run("Update profile", func(t *testing.T) { testUpdateProfile(t, factory) })
			t.Run("List", func(t *testing.T) { testList(t, factory) })
			t.Run("Returns copies", func(t *testing.T) { testReturnsCopies(t, factory) })
		})
	}
}

func testCreate(t *testing.T, factory storeFactory) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := newTestClock()
	store := factory(t, clock)
	defer store.Close()

	first, err := store.Create(ctx, newAccount("Alice@Example.com"))
	require.NoError(t, err)
	assert.Equal(model.UserID(1), first.ID)
	assert.Equal("alice@example.com", first.Email)
	assert.True(first.IsActive)
	assert.Equal(0, first.LoginCount)
	assert.Equal(0, first.FailedLoginAttempts)
	assert.Nil(first.AccountLockedUntil)
	assert.Nil(first.LastLogin)
	assert.Nil(first.LastIPAddress)
	assert.Equal(model.SecurityLevelMedium, first.SecurityLevel)
	assert.False(first.TwoFactorEnabled)
	assert.True(clock.Now().Equal(first.CreatedAt))
	assert.True(clock.Now().Equal(first.UpdatedAt))

	second, err := store.Create(ctx, newAccount("bob@example.com"))
	require.NoError(t, err)
	assert.Equal(model.UserID(2), second.ID)
}

func testDuplicateEmail(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	store := factory(t, newTestClock())
	defer store.Close()

	_, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)

	_, err = store.Create(ctx, newAccount("ALICE@example.COM"))
	assert.ErrorIs(t, err, model.ErrorDuplicateEmail)

	accounts, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func testFind(t *testing.T, factory storeFactory) {
	assert := assert.New(t)
	ctx := context.Background()
	store := factory(t, newTestClock())
	defer store.Close()

	created, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)

	byEmail, err := store.FindByEmail(ctx, "  ALICE@example.com")
	assert.Nil(err)
	assert.Equal(created.ID, byEmail.ID)
	assert.Equal(created.PasswordHash, byEmail.PasswordHash)

	byID, err := store.FindByID(ctx, created.ID)
	assert.Nil(err)
	assert.Equal("alice@example.com", byID.Email)

	_, err = store.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(err, model.ErrorUserNotFound)

	_, err = store.FindByID(ctx, 99)
	assert.ErrorIs(err, model.ErrorUserNotFound)
}

func testSuccessfulLogin(t *testing.T, factory storeFactory) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := newTestClock()
	store := factory(t, clock)
	defer store.Close()

	created, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)
	_, err = store.RecordFailedLogin(ctx, created.Email, rule)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	account, err := store.RecordSuccessfulLogin(ctx, created.ID, "192.0.2.10")
	require.NoError(t, err)
	assert.Equal(1, account.LoginCount)
	assert.Equal(0, account.FailedLoginAttempts)
	require.NotNil(t, account.LastLogin)
	assert.True(clock.Now().Equal(*account.LastLogin))
	require.NotNil(t, account.LastIPAddress)
	assert.Equal("192.0.2.10", *account.LastIPAddress)
	assert.True(clock.Now().Equal(account.UpdatedAt))

	// an empty address keeps the previous one
	account, err = store.RecordSuccessfulLogin(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(2, account.LoginCount)
	assert.Equal("192.0.2.10", *account.LastIPAddress)

	persisted, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(2, persisted.LoginCount)

	_, err = store.RecordSuccessfulLogin(ctx, 42, "")
	assert.ErrorIs(err, model.ErrorUserNotFound)
}

func testFailedLogin(t *testing.T, factory storeFactory) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := newTestClock()
	store := factory(t, clock)
	defer store.Close()

	_, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)

	for i := 1; i < rule.MaxAttempts; i++ {
		account, err := store.RecordFailedLogin(ctx, "Alice@example.com", rule)
		require.NoError(t, err)
		assert.Equal(i, account.FailedLoginAttempts)
		assert.Nil(account.AccountLockedUntil)
	}

	account, err := store.RecordFailedLogin(ctx, "alice@example.com", rule)
	require.NoError(t, err)
	assert.Equal(rule.MaxAttempts, account.FailedLoginAttempts)
	require.NotNil(t, account.AccountLockedUntil)
	assert.True(clock.Now().Add(15 * time.Minute).Equal(*account.AccountLockedUntil))

	_, err = store.RecordFailedLogin(ctx, "nobody@example.com", rule)
	assert.ErrorIs(err, model.ErrorUserNotFound)
}

func testClearLock(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	store := factory(t, newTestClock())
	defer store.Close()

	created, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)
	for i := 0; i < rule.MaxAttempts; i++ {
		_, err = store.RecordFailedLogin(ctx, created.Email, rule)
		require.NoError(t, err)
	}

	account, err := store.ClearLock(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, account.AccountLockedUntil)
	assert.Equal(t, 0, account.FailedLoginAttempts)

	persisted, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, persisted.AccountLockedUntil)
	assert.Equal(t, 0, persisted.FailedLoginAttempts)
}

func testUpdateProfile(t *testing.T, factory storeFactory) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := newTestClock()
	store := factory(t, clock)
	defer store.Close()

	created, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	level := model.SecurityLevelHigh
	inactive := false
	twoFactor := true
	account, err := store.UpdateProfile(ctx, created.ID, &model.ProfileUpdate{
		SecurityLevel:    &level,
		IsActive:         &inactive,
		TwoFactorEnabled: &twoFactor,
	})
	require.NoError(t, err)
	assert.Equal(model.SecurityLevelHigh, account.SecurityLevel)
	assert.False(account.IsActive)
	assert.True(account.TwoFactorEnabled)
	assert.Equal("Alice", account.Name)
	assert.True(clock.Now().Equal(account.UpdatedAt))

	persisted, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(persisted.IsActive)

	_, err = store.UpdateProfile(ctx, 99, &model.ProfileUpdate{})
	assert.ErrorIs(err, model.ErrorUserNotFound)
}

func testList(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	store := factory(t, newTestClock())
	defer store.Close()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := store.Create(ctx, newAccount(email))
		require.NoError(t, err)
	}

	accounts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	for i, a := range accounts {
		assert.Equal(t, model.UserID(i+1), a.ID)
	}
}

func testReturnsCopies(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	store := factory(t, newTestClock())
	defer store.Close()

	created, err := store.Create(ctx, newAccount("alice@example.com"))
	require.NoError(t, err)
	created.LoginCount = 100
	created.Email = "mallory@example.com"

	persisted, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, persisted.LoginCount)
	assert.Equal(t, "alice@example.com", persisted.Email)
}
