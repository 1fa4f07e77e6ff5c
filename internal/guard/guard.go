// Package guard gates routes on the caller's token.
//
// Pages is the coarse page-level gate: it only checks that a token is
// well-formed and unexpired, and redirects to the sign-in page otherwise.
// RequireToken and RequireAdmin verify the signature and are the only gates
// that may be trusted with identity.
package guard

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.sentinel/internal/metrics"
	"uk.co.dudmesh.sentinel/internal/model"
	"uk.co.dudmesh.sentinel/internal/token"
)

const claimsKey = "guard.claims"

type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

type Config struct {
	Prefixes   []string
	SignInPath string
	CookieName string
	Now        func() time.Time
}

// Protects reports whether path falls under one of the prefixes. A prefix
// matches itself and anything below it, never a sibling sharing its letters.
func Protects(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// TokenFromRequest prefers the cookie and falls back to a bearer header.
func TokenFromRequest(c echo.Context, cookieName string) (string, error) {
	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, value, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	return "", model.ErrorMissingToken
}

func Pages(config Config) echo.MiddlewareFunc {
	if config.Now == nil {
		config.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !Protects(config.Prefixes, path) {
				return next(c)
			}

			tokenString, err := TokenFromRequest(c, config.CookieName)
			if err == nil {
				err = token.CheckStructure(tokenString, config.Now())
			}
			if err != nil {
				target := config.SignInPath + "?next=" + url.QueryEscape(path)
				return c.Redirect(http.StatusFound, target)
			}
			return next(c)
		}
	}
}

// RequireToken verifies the token and stores its claims for ClaimsFrom.
// Every failure is the same 401 to the client; the log keeps the reason.
func RequireToken(verifier Verifier, cookieName string, logger *log.Logger, recorder *metrics.Auth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := verify(c, verifier, cookieName, logger, recorder)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(err)
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// RequireAdmin verifies the token and requires the admin role. Any failure
// is a 403.
func RequireAdmin(verifier Verifier, cookieName string, logger *log.Logger, recorder *metrics.Auth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := verify(c, verifier, cookieName, logger, recorder)
			if err != nil {
				return model.ErrorForbidden
			}
			if !claims.Role.Is(model.RoleAdmin) {
				logger.Warnj(log.JSON{"event": "admin_denied", "userId": claims.UserID, "email": claims.Email, "ip": c.RealIP()})
				return model.ErrorForbidden
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims left by RequireToken or RequireAdmin.
func ClaimsFrom(c echo.Context) (*token.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*token.Claims)
	return claims, ok
}

func verify(c echo.Context, verifier Verifier, cookieName string, logger *log.Logger, recorder *metrics.Auth) (*token.Claims, error) {
	tokenString, err := TokenFromRequest(c, cookieName)
	if err == nil {
		var claims *token.Claims
		claims, err = verifier.Verify(tokenString)
		if err == nil {
			return claims, nil
		}
	}

	reason := failureReason(err)
	recorder.Record(metrics.EventToken, reason)
	logger.Warnj(log.JSON{"event": "token_rejected", "reason": reason, "path": c.Request().URL.Path, "ip": c.RealIP()})
	return nil, err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrorMissingToken):
		return "missing"
	case errors.Is(err, model.ErrorInvalidSignature):
		return "signature"
	case errors.Is(err, model.ErrorTokenExpired):
		return "expired"
	case errors.Is(err, model.ErrorMalformedToken):
		return "malformed"
	default:
		return "error"
	}
}
