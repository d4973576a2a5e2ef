package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthHandler handles session endpoints
type AuthHandler struct {
	commands Commands
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(commands Commands) *AuthHandler {
	return &AuthHandler{commands: commands}
}

// LoginRequest represents login request body
type LoginRequest struct {
	ID       string `json:"id" validate:"required,max=128"`
	Password string `json:"password" validate:"max=1024"`
}

// PINRequest represents a supervisor PIN check
type PINRequest struct {
	PIN string `json:"pin" validate:"required,max=128"`
}

// HandleLogin processes login requests
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	var req LoginRequest
	if err := Decode(c, &req); err != nil {
		return err
	}
	res := h.commands.Login(req.ID, req.Password)
	return Respond(c, res.Reason, res)
}

// HandleLogout ends an admin session
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	res := h.commands.Logout()
	return Respond(c, res.Error, res)
}

// HandleMe returns the active identity
func (h *AuthHandler) HandleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, h.commands.GetCurrentUser())
}

// HandleVerifyPIN elevates the session with the supervisor PIN
func (h *AuthHandler) HandleVerifyPIN(c echo.Context) error {
	var req PINRequest
	if err := Decode(c, &req); err != nil {
		return err
	}
	res := h.commands.AdminVerifyPIN(req.PIN)
	return Respond(c, res.Error, res)
}
