package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.sentinel/internal/lockout"
	"uk.co.dudmesh.sentinel/internal/metrics"
	"uk.co.dudmesh.sentinel/internal/model"
	"uk.co.dudmesh.sentinel/internal/password"
	"uk.co.dudmesh.sentinel/internal/token"
)

const recentLoginWindow = 24 * time.Hour

type Store interface {
	lockout.Store
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByID(ctx context.Context, id model.UserID) (*model.Account, error)
	Create(ctx context.Context, params *model.NewAccount) (*model.Account, error)
	RecordSuccessfulLogin(ctx context.Context, id model.UserID, ipAddress string) (*model.Account, error)
	RecordFailedLogin(ctx context.Context, email string, rule model.LockoutRule) (*model.Account, error)
	UpdateProfile(ctx context.Context, id model.UserID, update *model.ProfileUpdate) (*model.Account, error)
	List(ctx context.Context) ([]model.PublicAccount, error)
}

type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, storedHash string) bool
}

type Issuer interface {
	Issue(claims *token.Claims, ttl time.Duration) (string, error)
}

type Config struct {
	PasswordPolicy   password.Policy
	TokenTTL         time.Duration
	AllowAdminSignup bool
}

type Deps struct {
	Store   Store
	Hasher  Hasher
	Lockout *lockout.Policy
	Issuer  Issuer
	Metrics *metrics.Auth
	Logger  *log.Logger
	Now     func() time.Time
}

type service struct {
	config  Config
	store   Store
	hasher  Hasher
	lockout *lockout.Policy
	issuer  Issuer
	metrics *metrics.Auth
	logger  *log.Logger
	now     func() time.Time

	// compared against when the email is unknown
	placeholderHash string
}

func New(config Config, deps Deps) (*service, error) {
	if deps.Logger == nil {
		deps.Logger = log.New("user")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	placeholderHash, err := deps.Hasher.Hash("placeholder-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("generating placeholder hash: %w", err)
	}

	return &service{
		config:          config,
		store:           deps.Store,
		hasher:          deps.Hasher,
		lockout:         deps.Lockout,
		issuer:          deps.Issuer,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		now:             deps.Now,
		placeholderHash: placeholderHash,
	}, nil
}

func (s *service) Register(ctx context.Context, params *model.RegisterParams) (*model.Profile, error) {
	name := strings.TrimSpace(params.Name)
	email := model.NormalizeEmail(params.Email)
	department := strings.TrimSpace(params.Department)

	if name == "" || email == "" || params.Password == "" || department == "" {
		s.metrics.Record(metrics.EventRegister, "invalid_input")
		return nil, model.ErrorMissingFields
	}
	if err := validateEmail(email); err != nil {
		s.metrics.Record(metrics.EventRegister, "invalid_input")
		return nil, err
	}
	if !s.config.AllowAdminSignup && model.Role(department).Is(model.RoleAdmin) {
		s.metrics.Record(metrics.EventRegister, "reserved_role")
		s.logger.Warnj(log.JSON{"event": "register_reserved_role", "email": email})
		return nil, model.ErrorReservedRole
	}
	if err := s.config.PasswordPolicy.Validate(params.Password); err != nil {
		s.metrics.Record(metrics.EventRegister, "weak_password")
		return nil, err
	}

	account, err := s.create(ctx, name, email, department, params.Password)
	if err != nil {
		if errors.Is(err, model.ErrorDuplicateEmail) {
			s.metrics.Record(metrics.EventRegister, "duplicate")
		}
		return nil, err
	}

	s.metrics.Record(metrics.EventRegister, "success")
	s.logger.Infoj(log.JSON{"event": "register", "email": account.Email, "userId": account.ID})
	profile := account.Profile()
	return &profile, nil
}

func (s *service) create(ctx context.Context, name, email, department, plaintext string) (*model.Account, error) {
	_, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return nil, model.ErrorDuplicateEmail
	}
	if !errors.Is(err, model.ErrorUserNotFound) {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	// the store still rejects duplicates that raced past the lookup
	account, err := s.store.Create(ctx, &model.NewAccount{
		Name:         name,
		Email:        email,
		Department:   department,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, model.ErrorDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return account, nil
}

// Login authenticates an email and password. Unknown emails and wrong
// passwords both return model.ErrorInvalidCredentials; only the latter moves
// the account towards a lock.
func (s *service) Login(ctx context.Context, params *model.LoginParams, ipAddress string) (*model.LoginResult, error) {
	email := model.NormalizeEmail(params.Email)
	if email == "" || params.Password == "" {
		s.metrics.Record(metrics.EventLogin, "invalid_input")
		return nil, model.ErrorMissingFields
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			// keep the response time of unknown emails close to wrong passwords
			s.hasher.Verify(params.Password, s.placeholderHash)
			s.loginFailed("unknown_email", email, ipAddress)
			return nil, model.ErrorInvalidCredentials
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	locked, err := s.lockout.IsLocked(ctx, account)
	if err != nil {
		return nil, err
	}
	if locked {
		s.loginFailed("locked", email, ipAddress)
		return nil, &model.AccountLockedError{RetryAfter: s.lockout.Remaining(account)}
	}

	if !s.hasher.Verify(params.Password, account.PasswordHash) {
		updated, err := s.store.RecordFailedLogin(ctx, email, s.lockout.Rule())
		if err != nil {
			return nil, fmt.Errorf("recording failed login: %w", err)
		}
		if locked, err := s.lockout.IsLocked(ctx, updated); err == nil && locked {
			s.loginFailed("lock_engaged", email, ipAddress)
			return nil, &model.AccountLockedError{RetryAfter: s.lockout.Remaining(updated)}
		}
		s.loginFailed("wrong_password", email, ipAddress)
		return nil, model.ErrorInvalidCredentials
	}

	if !account.IsActive {
		s.loginFailed("disabled", email, ipAddress)
		return nil, model.ErrorAccountDisabled
	}

	updated, err := s.store.RecordSuccessfulLogin(ctx, account.ID, ipAddress)
	if err != nil {
		return nil, fmt.Errorf("recording successful login: %w", err)
	}

	tokenString, err := s.issuer.Issue(token.ClaimsFor(updated), s.config.TokenTTL)
	if err != nil {
		return nil, err
	}
	expiresAt, err := token.PeekExpiry(tokenString)
	if err != nil {
		return nil, fmt.Errorf("reading expiry of issued token: %w", err)
	}

	s.metrics.Record(metrics.EventLogin, "success")
	s.logger.Infoj(log.JSON{"event": "login", "email": updated.Email, "userId": updated.ID, "ip": ipAddress})

	return &model.LoginResult{
		Token:     tokenString,
		ExpiresAt: expiresAt,
		User:      updated.Profile(),
	}, nil
}

func (s *service) loginFailed(reason, email, ipAddress string) {
	s.metrics.Record(metrics.EventLogin, reason)
	s.logger.Warnj(log.JSON{"event": "login_failed", "reason": reason, "email": email, "ip": ipAddress})
}

// Directory lists every account with aggregate counts.
func (s *service) Directory(ctx context.Context) (*model.Directory, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	now := s.now()
	stats := model.DirectoryStats{Total: len(users)}
	for _, u := range users {
		if u.IsActive {
			stats.Active++
		}
		switch role := model.Role(u.Department); {
		case role.Is(model.RoleAdmin):
			stats.Admins++
		case role.Is(model.RoleAnalyst):
			stats.Analysts++
		}
		if u.LastLogin != nil && now.Sub(*u.LastLogin) < recentLoginWindow {
			stats.RecentLogins++
		}
	}
	return &model.Directory{Users: users, Stats: stats}, nil
}

func (s *service) UpdateProfile(ctx context.Context, id model.UserID, update *model.ProfileUpdate) (*model.PublicAccount, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", model.ErrorInvalidInput)
		}
		update.Name = &name
	}
	if update.Department != nil {
		department := strings.TrimSpace(*update.Department)
		if department == "" {
			return nil, fmt.Errorf("%w: department cannot be empty", model.ErrorInvalidInput)
		}
		update.Department = &department
	}
	if update.SecurityLevel != nil {
		level, err := model.ParseSecurityLevel(string(*update.SecurityLevel))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrorInvalidInput, err)
		}
		update.SecurityLevel = &level
	}

	account, err := s.store.UpdateProfile(ctx, id, update)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	s.logger.Infoj(log.JSON{"event": "profile_update", "userId": account.ID, "isActive": account.IsActive})
	public := account.Public()
	return &public, nil
}

// EnsureAdmin creates the bootstrap administrator unless the email is
// already registered. It reports whether an account was created.
func (s *service) EnsureAdmin(ctx context.Context, params *model.RegisterParams) (bool, error) {
	email := model.NormalizeEmail(params.Email)
	if email == "" || params.Password == "" {
		return false, model.ErrorMissingFields
	}
	if err := validateEmail(email); err != nil {
		return false, err
	}
	if err := s.config.PasswordPolicy.Validate(params.Password); err != nil {
		return false, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = "Administrator"
	}

	account, err := s.create(ctx, name, email, string(model.RoleAdmin), params.Password)
	if err != nil {
		if errors.Is(err, model.ErrorDuplicateEmail) {
			existing, findErr := s.store.FindByEmail(ctx, email)
			if findErr == nil && !existing.Role().Is(model.RoleAdmin) {
				s.logger.Warnf("bootstrap admin %s exists with department %q", email, existing.Department)
			}
			return false, nil
		}
		return false, err
	}

	s.logger.Infoj(log.JSON{"event": "bootstrap_admin", "email": account.Email, "userId": account.ID})
	return true, nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.ErrorInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return model.ErrorInvalidEmail
	}
	return nil
}
