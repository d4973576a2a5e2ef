package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"examkiosk/internal/models"
	"examkiosk/internal/services"
	"examkiosk/internal/session"
)

// Commands is the session router as seen by the bridge
type Commands interface {
	Login(id, credential string) session.LoginResult
	Logout() session.Result
	GetCurrentUser() session.CurrentUser
	AdminVerifyPIN(pin string) session.Result
	Navigate(raw string) session.Result
	NavControl(action string) session.Result
	GoOffline() session.Result
	GoOnline() session.Result
	AdminReadWhitelist() session.WhitelistResult
	AdminUpdateWhitelist(entries []string) session.Result
	AdminListUsers() session.UsersResult
	AdminUpdateUser(id string, patch models.UserPatch) session.UserResult
	UserEmergencyExit(id string) session.Result
	EmergencyExit() session.Result
}

// StatusFor maps a router error code to an HTTP status
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case services.ReasonInvalid, services.ReasonLocked, services.ReasonDisabled:
		return http.StatusUnauthorized
	case session.CodeForbidden, session.CodeBlocked:
		return http.StatusForbidden
	case services.ReasonNotFound:
		return http.StatusNotFound
	case session.CodeEmpty, session.CodeBadAction, session.CodeInvalidPIN, services.ReasonInvalidRole:
		return http.StatusBadRequest
	case session.CodeInvalidState, session.CodeNotAttached, session.CodeOffline, services.ReasonNoCurrentUser:
		return http.StatusConflict
	case session.CodeTerminated:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes a router result with the status matching its error code
func Respond(c echo.Context, code string, body interface{}) error {
	return c.JSON(StatusFor(code), body)
}

// Decode binds and validates a request body
func Decode(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
