package handlers

import (
	"github.com/labstack/echo/v4"
)

// WhitelistHandler handles the admin whitelist endpoints
type WhitelistHandler struct {
	commands Commands
}

// NewWhitelistHandler creates a new WhitelistHandler
func NewWhitelistHandler(commands Commands) *WhitelistHandler {
	return &WhitelistHandler{commands: commands}
}

// WhitelistRequest replaces the whole whitelist
type WhitelistRequest struct {
	Entries []string `json:"entries" validate:"max=1000,dive,max=512"`
}

// HandleList returns the current whitelist
func (h *WhitelistHandler) HandleList(c echo.Context) error {
	res := h.commands.AdminReadWhitelist()
	return Respond(c, res.Error, res)
}

// HandleReplace stores a new whitelist. An empty list denies everything.
func (h *WhitelistHandler) HandleReplace(c echo.Context) error {
	var req WhitelistRequest
	if err := Decode(c, &req); err != nil {
		return err
	}
	entries := req.Entries
	if entries == nil {
		entries = []string{}
	}
	res := h.commands.AdminUpdateWhitelist(entries)
	return Respond(c, res.Error, res)
}
