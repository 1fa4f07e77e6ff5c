package model

import (
	"fmt"
	"strings"
	"time"
)

type UserID int64

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
)

// Is compares roles ignoring case, departments are free text.
func (r Role) Is(other Role) bool {
	return strings.EqualFold(strings.TrimSpace(string(r)), string(other))
}

type SecurityLevel string

const (
	SecurityLevelLow      SecurityLevel = "low"
	SecurityLevelMedium   SecurityLevel = "medium"
	SecurityLevelHigh     SecurityLevel = "high"
	SecurityLevelCritical SecurityLevel = "critical"
)

var securityLevelRanks = map[SecurityLevel]int{
	SecurityLevelLow:      0,
	SecurityLevelMedium:   1,
	SecurityLevelHigh:     2,
	SecurityLevelCritical: 3,
}

// Rank orders levels low < medium < high < critical. Unknown levels rank -1.
func (l SecurityLevel) Rank() int {
	rank, ok := securityLevelRanks[l]
	if !ok {
		return -1
	}
	return rank
}

func ParseSecurityLevel(s string) (SecurityLevel, error) {
	level := SecurityLevel(strings.ToLower(strings.TrimSpace(s)))
	if level.Rank() < 0 {
		return "", fmt.Errorf("unknown security level: %q", s)
	}
	return level, nil
}

type RegisterParams struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Department string `json:"department"`
}

type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewAccount is what the service hands to a store once the password has been hashed.
type NewAccount struct {
	Name         string
	Email        string
	Department   string
	PasswordHash string
}

type ProfileUpdate struct {
	Name             *string        `json:"name,omitempty"`
	Department       *string        `json:"department,omitempty"`
	SecurityLevel    *SecurityLevel `json:"securityLevel,omitempty"`
	TwoFactorEnabled *bool          `json:"twoFactorEnabled,omitempty"`
	IsActive         *bool          `json:"isActive,omitempty"`
}

func (u *ProfileUpdate) Apply(a *Account) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Department != nil {
		a.Department = *u.Department
	}
	if u.SecurityLevel != nil {
		a.SecurityLevel = *u.SecurityLevel
	}
	if u.TwoFactorEnabled != nil {
		a.TwoFactorEnabled = *u.TwoFactorEnabled
	}
	if u.IsActive != nil {
		a.IsActive = *u.IsActive
	}
}

// LockoutRule is applied by stores when recording a failed login.
type LockoutRule struct {
	MaxAttempts int
	Duration    time.Duration
}

type Account struct {
	ID                  UserID        `db:"ID" json:"id"`
	Email               string        `db:"Email" json:"email"`
	Name                string        `db:"Name" json:"name"`
	Department          string        `db:"Department" json:"department"`
	PasswordHash        string        `db:"PasswordHash" json:"passwordHash"`
	IsActive            bool          `db:"IsActive" json:"isActive"`
	CreatedAt           time.Time     `db:"CreatedAt" json:"createdAt"`
	UpdatedAt           time.Time     `db:"UpdatedAt" json:"updatedAt"`
	LastLogin           *time.Time    `db:"LastLogin" json:"lastLogin"`
	LoginCount          int           `db:"LoginCount" json:"loginCount"`
	LastIPAddress       *string       `db:"LastIPAddress" json:"lastIpAddress"`
	FailedLoginAttempts int           `db:"FailedLoginAttempts" json:"failedLoginAttempts"`
	AccountLockedUntil  *time.Time    `db:"AccountLockedUntil" json:"accountLockedUntil"`
	SecurityLevel       SecurityLevel `db:"SecurityLevel" json:"securityLevel"`
	TwoFactorEnabled    bool          `db:"TwoFactorEnabled" json:"twoFactorEnabled"`
}

func (a *Account) Role() Role {
	return Role(a.Department)
}

// Clone returns a deep copy, stores never hand out their own records.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastLogin != nil {
		t := *a.LastLogin
		c.LastLogin = &t
	}
	if a.LastIPAddress != nil {
		ip := *a.LastIPAddress
		c.LastIPAddress = &ip
	}
	if a.AccountLockedUntil != nil {
		t := *a.AccountLockedUntil
		c.AccountLockedUntil = &t
	}
	return &c
}

// PublicAccount is the admin view of an account. It has no password hash.
type PublicAccount struct {
	ID                  UserID        `json:"id"`
	Email               string        `json:"email"`
	Name                string        `json:"name"`
	Department          string        `json:"department"`
	IsActive            bool          `json:"isActive"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
	LastLogin           *time.Time    `json:"lastLogin"`
	LoginCount          int           `json:"loginCount"`
	LastIPAddress       *string       `json:"lastIpAddress"`
	FailedLoginAttempts int           `json:"failedLoginAttempts"`
	AccountLockedUntil  *time.Time    `json:"accountLockedUntil"`
	SecurityLevel       SecurityLevel `json:"securityLevel"`
	TwoFactorEnabled    bool          `json:"twoFactorEnabled"`
}

func (a *Account) Public() PublicAccount {
	c := a.Clone()
	return PublicAccount{
		ID:                  c.ID,
		Email:               c.Email,
		Name:                c.Name,
		Department:          c.Department,
		IsActive:            c.IsActive,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
		LastLogin:           c.LastLogin,
		LoginCount:          c.LoginCount,
		LastIPAddress:       c.LastIPAddress,
		FailedLoginAttempts: c.FailedLoginAttempts,
		AccountLockedUntil:  c.AccountLockedUntil,
		SecurityLevel:       c.SecurityLevel,
		TwoFactorEnabled:    c.TwoFactorEnabled,
	}
}

// Profile is what an account holder sees about themselves. Lockout state and
// the last client address are left to the admin view.
type Profile struct {
	ID               UserID        `json:"id"`
	Email            string        `json:"email"`
	Name             string        `json:"name"`
	Department       string        `json:"department"`
	IsActive         bool          `json:"isActive"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	LastLogin        *time.Time    `json:"lastLogin"`
	LoginCount       int           `json:"loginCount"`
	SecurityLevel    SecurityLevel `json:"securityLevel"`
	TwoFactorEnabled bool          `json:"twoFactorEnabled"`
}

func (a *Account) Profile() Profile {
	var lastLogin *time.Time
	if a.LastLogin != nil {
		t := *a.LastLogin
		lastLogin = &t
	}
	return Profile{
		ID:               a.ID,
		Email:            a.Email,
		Name:             a.Name,
		Department:       a.Department,
		IsActive:         a.IsActive,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
		LastLogin:        lastLogin,
		LoginCount:       a.LoginCount,
		SecurityLevel:    a.SecurityLevel,
		TwoFactorEnabled: a.TwoFactorEnabled,
	}
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Profile   `json:"user"`
}

type DirectoryStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Admins       int `json:"admins"`
	Analysts     int `json:"analysts"`
	RecentLogins int `json:"recentLogins"`
}

type Directory struct {
	Users []PublicAccount `json:"users"`
	Stats DirectoryStats  `json:"stats"`
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
