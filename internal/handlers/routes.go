package handlers

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.sentinel/internal/guard"
	"uk.co.dudmesh.sentinel/internal/metrics"
	"uk.co.dudmesh.sentinel/internal/ratelimit"
)

type Routes struct {
	Users    UserService
	Verifier guard.Verifier
	Cookie   Cookie
	Pages    guard.Config
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Auth
	Logger   *log.Logger
}

// Mount installs the error handler, the page guard and every route on e.
func (r *Routes) Mount(e *echo.Echo) {
	if r.Logger == nil {
		r.Logger = log.New("http")
	}
	r.Pages.CookieName = r.Cookie.Name

	e.HTTPErrorHandler = ErrorHandler(r.Logger)
	e.Use(guard.Pages(r.Pages))

	e.GET("/", Home())
	e.GET(r.Pages.SignInPath, SignIn())
	for _, prefix := range r.Pages.Prefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		e.GET(prefix, Page(SectionTitle(prefix)))
		e.GET(prefix+"/*", Page(SectionTitle(prefix)))
	}

	var limited []echo.MiddlewareFunc
	if r.Limiter != nil {
		limited = append(limited, r.Limiter.Middleware())
	}

	auth := e.Group("/auth")
	auth.POST("/register", Register(r.Users), limited...)
	auth.POST("/login", Login(r.Users, r.Cookie), limited...)
	auth.POST("/logout", Logout(r.Cookie))
	auth.GET("/me", Me(), guard.RequireToken(r.Verifier, r.Cookie.Name, r.Logger, r.Metrics))

	users := e.Group("/users", guard.RequireAdmin(r.Verifier, r.Cookie.Name, r.Logger, r.Metrics))
	users.GET("", ListUsers(r.Users))
	users.PATCH("/:id", UpdateUser(r.Users))
}

// SectionTitle turns "/threat-intelligence" into "Threat Intelligence".
func SectionTitle(prefix string) string {
	words := strings.FieldsFunc(prefix, func(r rune) bool { return r == '/' || r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
