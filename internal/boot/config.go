package boot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/sethvargo/go-envconfig"

	"uk.co.dudmesh.sentinel/internal/credstore"
	"uk.co.dudmesh.sentinel/internal/guard"
	"uk.co.dudmesh.sentinel/internal/lockout"
	"uk.co.dudmesh.sentinel/internal/model"
	"uk.co.dudmesh.sentinel/internal/password"
)

const (
	EnvDevelopment = "dev"
	EnvTest        = "test"
	EnvProduction  = "prod"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	MinSecretLength = 32
)

type Config struct {
	Env            string   `env:"ENV,default=dev"`
	DataDirectory  string   `env:"DATA_DIR,default=./data"`
	Port           int      `env:"PORT,default=8080"`
	MetricsPort    int      `env:"METRICS_PORT,default=8081"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=*"`
	ViewsDirectory string   `env:"VIEWS_DIR,default=ui/views"`
	StoreBackend   string   `env:"STORE_BACKEND,default=file"`

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL,default=24h"`
	TokenCookie string        `env:"TOKEN_COOKIE,default=auth-token"`
	TokenIssuer string        `env:"TOKEN_ISSUER,default=sentinel"`

	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD,default=5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION,default=15m"`

	PasswordMinLength    int  `env:"PASSWORD_MIN_LENGTH,default=8"`
	PasswordRequireUpper bool `env:"PASSWORD_REQUIRE_UPPER,default=true"`
	PasswordRequireLower bool `env:"PASSWORD_REQUIRE_LOWER,default=true"`
	PasswordRequireDigit bool `env:"PASSWORD_REQUIRE_DIGIT,default=true"`
	BcryptCost           int  `env:"BCRYPT_COST,default=12"`

	ProtectedPrefixes []string `env:"PROTECTED_PREFIXES,default=/dashboard,/threat-intelligence,/network-infiltration,/identity,/pentest-arsenal,/advanced-exploitation,/wifi-hacking"`
	SignInPath        string   `env:"SIGNIN_PATH,default=/auth/signin"`

	AuthRateBurst    int           `env:"AUTH_RATE_BURST,default=10"`
	AuthRateInterval time.Duration `env:"AUTH_RATE_INTERVAL,default=6s"`

	AllowAdminSignup bool   `env:"ALLOW_ADMIN_SIGNUP,default=false"`
	AdminEmail       string `env:"ADMIN_EMAIL"`
	AdminPassword    string `env:"ADMIN_PASSWORD"`
	AdminName        string `env:"ADMIN_NAME"`
}

func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(ctx, config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}

	if config.TokenSecret == "" && config.IsTest() {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		log.Warnf("TOKEN_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
		config.TokenSecret = secret
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		add("ENV must be one of dev, test, prod, got %q", c.Env)
	}

	switch c.StoreBackend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		add("STORE_BACKEND must be one of file, sqlite, memory, got %q", c.StoreBackend)
	}
	if c.StoreBackend != BackendMemory && c.DataDirectory == "" {
		add("DATA_DIR is required for the %s backend", c.StoreBackend)
	}

	if !c.IsTest() && len(c.TokenSecret) < MinSecretLength {
		add("TOKEN_SECRET must be at least %d bytes", MinSecretLength)
	}
	if c.TokenTTL <= 0 {
		add("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.TokenCookie == "" {
		add("TOKEN_COOKIE is required")
	}

	if c.LockoutThreshold < 1 {
		add("LOCKOUT_THRESHOLD must be positive, got %d", c.LockoutThreshold)
	}
	if c.LockoutDuration <= 0 {
		add("LOCKOUT_DURATION must be positive, got %s", c.LockoutDuration)
	}

	if c.PasswordMinLength < 1 || c.PasswordMinLength > password.MaxLength {
		add("PASSWORD_MIN_LENGTH must be between 1 and %d, got %d", password.MaxLength, c.PasswordMinLength)
	}
	if _, err := password.NewHasher(c.BcryptCost); err != nil {
		add("BCRYPT_COST: %v", err)
	} else if !c.IsTest() && c.BcryptCost < password.DefaultCost {
		add("BCRYPT_COST must be at least %d, got %d", password.DefaultCost, c.BcryptCost)
	}

	for _, prefix := range c.ProtectedPrefixes {
		if !strings.HasPrefix(prefix, "/") || strings.TrimRight(prefix, "/") == "" {
			add("PROTECTED_PREFIXES entry %q must be a path below /", prefix)
		}
	}
	if !strings.HasPrefix(c.SignInPath, "/") {
		add("SIGNIN_PATH must start with /, got %q", c.SignInPath)
	} else if guard.Protects(c.ProtectedPrefixes, c.SignInPath) {
		// the page guard would bounce the sign-in page back to itself
		add("SIGNIN_PATH %q must not be under a protected prefix", c.SignInPath)
	}

	if c.AuthRateBurst < 1 {
		add("AUTH_RATE_BURST must be positive, got %d", c.AuthRateBurst)
	}
	if c.AuthRateInterval <= 0 {
		add("AUTH_RATE_INTERVAL must be positive, got %s", c.AuthRateInterval)
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		add("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) PasswordPolicy() password.Policy {
	return password.Policy{
		MinLength:    c.PasswordMinLength,
		RequireUpper: c.PasswordRequireUpper,
		RequireLower: c.PasswordRequireLower,
		RequireDigit: c.PasswordRequireDigit,
	}
}

func (c *Config) Lockout() lockout.Config {
	return lockout.Config{Threshold: c.LockoutThreshold, Window: c.LockoutDuration}
}

// BootstrapAdmin returns the administrator to create at startup, nil when
// none is configured.
func (c *Config) BootstrapAdmin() *model.RegisterParams {
	if c.AdminEmail == "" {
		return nil
	}
	return &model.RegisterParams{
		Name:     c.AdminName,
		Email:    c.AdminEmail,
		Password: c.AdminPassword,
	}
}

func (c *Config) OpenStore(opts ...credstore.Option) (credstore.CredentialStore, error) {
	switch c.StoreBackend {
	case BackendFile:
		store, err := credstore.NewFile(c.DataDirectory, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := credstore.NewSQLite(c.DataDirectory, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return credstore.NewMemory(opts...), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.StoreBackend)
}

func randomSecret() (string, error) {
	buf := make([]byte, MinSecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
