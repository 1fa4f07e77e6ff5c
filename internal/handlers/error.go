package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.sentinel/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{model.ErrorMissingFields, http.StatusBadRequest},
	{model.ErrorInvalidEmail, http.StatusBadRequest},
	{model.ErrorWeakPassword, http.StatusBadRequest},
	{model.ErrorInvalidInput, http.StatusBadRequest},
	{model.ErrorInvalidCredentials, http.StatusUnauthorized},
	{model.ErrorMissingToken, http.StatusUnauthorized},
	{model.ErrorMalformedToken, http.StatusUnauthorized},
	{model.ErrorInvalidSignature, http.StatusUnauthorized},
	{model.ErrorTokenExpired, http.StatusUnauthorized},
	{model.ErrorAccountDisabled, http.StatusForbidden},
	{model.ErrorForbidden, http.StatusForbidden},
	{model.ErrorReservedRole, http.StatusForbidden},
	{model.ErrorUserNotFound, http.StatusNotFound},
	{model.ErrorDuplicateEmail, http.StatusConflict},
	{model.ErrorAccountLocked, http.StatusLocked},
	{model.ErrorRateLimited, http.StatusTooManyRequests},
}

// StatusFor maps an error returned by a handler or middleware to its HTTP
// status. Anything unrecognised is a 500.
func StatusFor(err error) int {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorHandler is the echo.HTTPErrorHandler for the server. It is the only
// place errors become responses.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusFor(err)
		message := err.Error()

		var httpErr *echo.HTTPError
		switch {
		case status == http.StatusInternalServerError:
			logger.Errorj(log.JSON{"event": "request_failed", "path": c.Request().URL.Path, "error": err.Error(), "requestId": c.Response().Header().Get(echo.HeaderXRequestID)})
			message = http.StatusText(status)
		case errors.As(err, &httpErr):
			if m, ok := httpErr.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		}

		var lockedErr *model.AccountLockedError
		if errors.As(err, &lockedErr) && lockedErr.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(lockedErr.RetryAfter)))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, errorResponse{Error: message})
		}
		if err != nil {
			logger.Errorf("writing error response: %+v", err)
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	return seconds
}
