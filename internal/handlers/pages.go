package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

type pageData struct {
	Title string
	Path  string
	Next  string
}

func Home() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "app.html", pageData{Title: "Sentinel", Path: c.Request().URL.Path})
	}
}

func SignIn() echo.HandlerFunc {
	return func(c echo.Context) error {
		next := localPath(c.QueryParam("next"))
		return c.Render(http.StatusOK, "signin.html", pageData{Title: "Sign in", Path: c.Request().URL.Path, Next: next})
	}
}

// Page renders the placeholder shell for a dashboard section.
func Page(title string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "page.html", pageData{Title: title, Path: c.Request().URL.Path})
	}
}

// localPath returns next when it is a path on this site and "" otherwise.
// Browsers read `/\host` as `//host`, so any backslash is refused.
func localPath(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n\t") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return ""
	}
	return next
}
