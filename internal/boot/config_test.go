package boot

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func load(env map[string]string) (*Config, error) {
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestDefaults(t *testing.T) {
	assert := assert.New(t)

	config, err := load(map[string]string{"TOKEN_SECRET": secret})
	require.NoError(t, err)

	assert.True(config.IsDevelopment())
	assert.Equal("./data", config.DataDirectory)
	assert.Equal(8080, config.Port)
	assert.Equal(8081, config.MetricsPort)
	assert.Equal([]string{"*"}, config.AllowedOrigins)
	assert.Equal(BackendFile, config.StoreBackend)
	assert.Equal(24*time.Hour, config.TokenTTL)
	assert.Equal("auth-token", config.TokenCookie)
	assert.Equal(5, config.LockoutThreshold)
	assert.Equal(15*time.Minute, config.LockoutDuration)
	assert.Equal(12, config.BcryptCost)
	assert.Equal([]string{
		"/dashboard",
		"/threat-intelligence",
		"/network-infiltration",
		"/identity",
		"/pentest-arsenal",
		"/advanced-exploitation",
		"/wifi-hacking",
	}, config.ProtectedPrefixes)
	assert.Equal("/auth/signin", config.SignInPath)
	assert.NoError(config.Validate())
	assert.False(config.AllowAdminSignup)
	assert.Nil(config.BootstrapAdmin())

	policy := config.PasswordPolicy()
	assert.Equal(8, policy.MinLength)
	assert.True(policy.RequireUpper && policy.RequireLower && policy.RequireDigit)
	assert.Equal(5, config.Lockout().Threshold)
}

func TestOverrides(t *testing.T) {
	assert := assert.New(t)

	config, err := load(map[string]string{
		"ENV":                "prod",
		"TOKEN_SECRET":       secret,
		"STORE_BACKEND":      "sqlite",
		"LOCKOUT_THRESHOLD":  "3",
		"LOCKOUT_DURATION":   "1h",
		"PROTECTED_PREFIXES": "/ops,/reports",
		"ALLOWED_ORIGINS":    "https://a.example,https://b.example",
		"ADMIN_EMAIL":        "root@example.com",
		"ADMIN_PASSWORD":     "Adm1nPassword",
	})
	require.NoError(t, err)

	assert.True(config.IsProduction())
	assert.Equal(BackendSQLite, config.StoreBackend)
	assert.Equal(3, config.Lockout().Threshold)
	assert.Equal(time.Hour, config.Lockout().Window)
	assert.Equal([]string{"/ops", "/reports"}, config.ProtectedPrefixes)
	assert.Equal([]string{"https://a.example", "https://b.example"}, config.AllowedOrigins)
	require.NotNil(t, config.BootstrapAdmin())
	assert.Equal("root@example.com", config.BootstrapAdmin().Email)
}

func TestSecretRequiredOutsideTest(t *testing.T) {
	_, err := load(map[string]string{})
	assert.ErrorContains(t, err, "TOKEN_SECRET")

	_, err = load(map[string]string{"TOKEN_SECRET": "short"})
	assert.ErrorContains(t, err, "TOKEN_SECRET")
}

func TestTestModeGeneratesSecret(t *testing.T) {
	first, err := load(map[string]string{"ENV": "test", "BCRYPT_COST": "4"})
	require.NoError(t, err)
	second, err := load(map[string]string{"ENV": "test"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(first.TokenSecret), MinSecretLength)
	assert.NotEqual(t, first.TokenSecret, second.TokenSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"low bcrypt cost", map[string]string{"BCRYPT_COST": "10"}, "BCRYPT_COST"},
		{"bcrypt cost out of range", map[string]string{"BCRYPT_COST": "40"}, "BCRYPT_COST"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "postgres"}, "STORE_BACKEND"},
		{"unknown env", map[string]string{"ENV": "staging"}, "ENV"},
		{"zero threshold", map[string]string{"LOCKOUT_THRESHOLD": "0"}, "LOCKOUT_THRESHOLD"},
		{"negative ttl", map[string]string{"TOKEN_TTL": "-1h"}, "TOKEN_TTL"},
		{"relative prefix", map[string]string{"PROTECTED_PREFIXES": "dashboard"}, "PROTECTED_PREFIXES"},
		{"root prefix", map[string]string{"PROTECTED_PREFIXES": "/"}, "PROTECTED_PREFIXES"},
		{"signin under protected prefix", map[string]string{"SIGNIN_PATH": "/dashboard/login"}, "SIGNIN_PATH"},
		{"signin equals protected prefix", map[string]string{"PROTECTED_PREFIXES": "/auth/signin"}, "SIGNIN_PATH"},
		{"admin email without password", map[string]string{"ADMIN_EMAIL": "root@example.com"}, "ADMIN_PASSWORD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env["TOKEN_SECRET"] = secret
			_, err := load(tt.env)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOpenStore(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			config, err := load(map[string]string{
				"TOKEN_SECRET":  secret,
				"STORE_BACKEND": backend,
				"DATA_DIR":      t.TempDir(),
			})
			require.NoError(t, err)

			store, err := config.OpenStore()
			require.NoError(t, err)
			defer store.Close()

			accounts, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, accounts)
		})
	}
}
