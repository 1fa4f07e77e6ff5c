package model

import (
	"errors"
	"time"
)

var ErrorMissingFields = errors.New("missing required fields")
var ErrorInvalidEmail = errors.New("invalid email format")
var ErrorWeakPassword = errors.New("password does not meet requirements")
var ErrorDuplicateEmail = errors.New("email already registered")
var ErrorReservedRole = errors.New("department cannot be self-assigned")
var ErrorUserNotFound = errors.New("user not found")

// ErrorInvalidCredentials covers both an unknown email and a wrong password.
var ErrorInvalidCredentials = errors.New("invalid email or password")
var ErrorAccountLocked = errors.New("account temporarily locked")
var ErrorAccountDisabled = errors.New("account deactivated")
var ErrorForbidden = errors.New("forbidden")

var ErrorMissingToken = errors.New("missing token")
var ErrorMalformedToken = errors.New("malformed token")
var ErrorInvalidSignature = errors.New("invalid token signature")
var ErrorTokenExpired = errors.New("token expired")

var ErrorRateLimited = errors.New("too many requests")
var ErrorInvalidInput = errors.New("invalid input")

// AccountLockedError is returned instead of ErrorAccountLocked when the
// remaining lockout time is known.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return ErrorAccountLocked.Error()
}

func (e *AccountLockedError) Unwrap() error {
	return ErrorAccountLocked
}
