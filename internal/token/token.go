// Package token issues and verifies HS256-signed bearer tokens.
//
// Verify is the only operation that authenticates a token. PeekExpiry and
// CheckStructure decode the payload without checking the signature; they
// exist for the page guard's fast path and must never be used to decide who
// the caller is.
package token

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"uk.co.dudmesh.sentinel/internal/model"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "sentinel"
)

var signingMethod = jwt.SigningMethodHS256

// Claims are the identity fields carried by a verified token.
type Claims struct {
	jwt.StandardClaims
	UserID        model.UserID        `json:"uid"`
	Email         string              `json:"email"`
	Name          string              `json:"name"`
	Role          model.Role          `json:"role"`
	SecurityLevel model.SecurityLevel `json:"securityLevel,omitempty"`
}

func ClaimsFor(account *model.Account) *Claims {
	return &Claims{
		UserID:        account.ID,
		Email:         account.Email,
		Name:          account.Name,
		Role:          account.Role(),
		SecurityLevel: account.SecurityLevel,
	}
}

func (c *Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

func WithIssuer(name string) Option {
	return func(i *Issuer) {
		i.issuer = name
	}
}

func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", i.ttl)
	}
	return i, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs claims with iat, exp, iss, sub and jti filled in. A ttl <= 0
// uses the issuer's default.
func (i *Issuer) Issue(claims *Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	jti, err := model.NewTokenID()
	if err != nil {
		return "", err
	}

	now := i.now()
	signed := *claims
	signed.StandardClaims = jwt.StandardClaims{
		Id:        jti,
		Issuer:    i.issuer,
		Subject:   strconv.FormatInt(int64(claims.UserID), 10),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	tokenString, err := jwt.NewWithClaims(signingMethod, &signed).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tokenString, nil
}

// Verify checks structure, signature and expiry, in that order.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, model.ErrorMalformedToken
	}

	claims := &Claims{}
	parser := &jwt.Parser{
		ValidMethods:         []string{signingMethod.Alg()},
		SkipClaimsValidation: true,
	}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
			return nil, fmt.Errorf("%w: %v", model.ErrorInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrorMalformedToken, err)
	}

	// base64 tolerates some non-canonical encodings of the same signature bytes
	expected, err := signingMethod.Sign(parts[0]+"."+parts[1], i.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token for comparison: %w", err)
	}
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, model.ErrorInvalidSignature
	}

	if claims.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing exp claim", model.ErrorMalformedToken)
	}
	if !claims.ExpiresAtTime().After(i.now()) {
		return nil, model.ErrorTokenExpired
	}
	return claims, nil
}

// PeekExpiry decodes the exp claim without verifying the signature. The
// result says nothing about who issued the token.
func PeekExpiry(tokenString string) (time.Time, error) {
	if strings.Count(tokenString, ".") != 2 {
		return time.Time{}, model.ErrorMalformedToken
	}
	claims := &jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", model.ErrorMalformedToken, err)
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", model.ErrorMalformedToken)
	}
	return time.Unix(claims.ExpiresAt, 0).UTC(), nil
}

// CheckStructure is the unauthenticated fast path: three segments, a
// decodable payload and an exp after now.
func CheckStructure(tokenString string, now time.Time) error {
	exp, err := PeekExpiry(tokenString)
	if err != nil {
		return err
	}
	if !exp.After(now) {
		return model.ErrorTokenExpired
	}
	return nil
}
