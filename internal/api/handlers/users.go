package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"examkiosk/internal/models"
)

// UsersHandler handles the admin account endpoints
type UsersHandler struct {
	commands Commands
}

// NewUsersHandler creates a new UsersHandler
func NewUsersHandler(commands Commands) *UsersHandler {
	return &UsersHandler{commands: commands}
}

// HandleList returns every account without credentials
func (h *UsersHandler) HandleList(c echo.Context) error {
	res := h.commands.AdminListUsers()
	return Respond(c, res.Error, res)
}

// HandleUpdate handles PATCH /api/admin/users/:id
func (h *UsersHandler) HandleUpdate(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing user id")
	}

	var patch models.UserPatch
	if err := Decode(c, &patch); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}

	res := h.commands.AdminUpdateUser(id, patch)
	return Respond(c, res.Error, res)
}
