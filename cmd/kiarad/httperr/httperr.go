// Package httperr builds echo.HTTPError values that carry a
// structured reason/advice/cause body instead of a bare string.
package httperr

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Body is the JSON shape every error response carries.
type Body struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
	Cause  string `json:"cause,omitempty"`
}

func new(code int, reason string, advice string, err error) *echo.HTTPError {
	body := Body{Reason: reason, Advice: advice}
	if err != nil {
		body.Cause = err.Error()
	}
	return echo.NewHTTPError(code, body).SetInternal(err)
}

func NotFound(reason string) *echo.HTTPError {
	return new(http.StatusNotFound, reason, "", nil)
}

func BadRequest(reason string, err error) *echo.HTTPError {
	return new(http.StatusBadRequest, reason, "check the request body against the documented shape", err)
}

func Conflict(reason string, err error) *echo.HTTPError {
	return new(http.StatusConflict, reason, "", err)
}

func InternalServerError(err error) *echo.HTTPError {
	return new(http.StatusInternalServerError, "unexpected error", "ask your system admin", err)
}
