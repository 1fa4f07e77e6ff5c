package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.sentinel/internal/guard"
	"uk.co.dudmesh.sentinel/internal/model"
)

type UserService interface {
	Register(ctx context.Context, params *model.RegisterParams) (*model.Profile, error)
	Login(ctx context.Context, params *model.LoginParams, ipAddress string) (*model.LoginResult, error)
	Directory(ctx context.Context) (*model.Directory, error)
	UpdateProfile(ctx context.Context, id model.UserID, update *model.ProfileUpdate) (*model.PublicAccount, error)
}

// Cookie describes the session cookie set on login.
type Cookie struct {
	Name   string
	Secure bool
}

func (k Cookie) issue(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     k.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   k.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (k Cookie) clear() *http.Cookie {
	return &http.Cookie{
		Name:     k.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   k.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func Register(userService UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.RegisterParams{}
		if err := c.Bind(params); err != nil {
			return model.ErrorInvalidInput
		}
		user, err := userService.Register(c.Request().Context(), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, user)
	}
}

func Login(userService UserService, cookie Cookie) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.LoginParams{}
		if err := c.Bind(params); err != nil {
			return model.ErrorInvalidInput
		}
		result, err := userService.Login(c.Request().Context(), params, c.RealIP())
		if err != nil {
			return err
		}
		c.SetCookie(cookie.issue(result.Token, result.ExpiresAt))
		return c.JSON(http.StatusOK, result)
	}
}

func Logout(cookie Cookie) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.SetCookie(cookie.clear())
		return c.NoContent(http.StatusNoContent)
	}
}

type session struct {
	ID            model.UserID        `json:"id"`
	Email         string              `json:"email"`
	Name          string              `json:"name"`
	Role          model.Role          `json:"role"`
	SecurityLevel model.SecurityLevel `json:"securityLevel,omitempty"`
	ExpiresAt     time.Time           `json:"expiresAt"`
}

// Me echoes the verified claims of the caller. It must sit behind
// guard.RequireToken.
func Me() echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := guard.ClaimsFrom(c)
		if !ok {
			return model.ErrorMissingToken
		}
		return c.JSON(http.StatusOK, session{
			ID:            claims.UserID,
			Email:         claims.Email,
			Name:          claims.Name,
			Role:          claims.Role,
			SecurityLevel: claims.SecurityLevel,
			ExpiresAt:     claims.ExpiresAtTime(),
		})
	}
}
