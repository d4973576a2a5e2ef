package handlers

import (
	"github.com/labstack/echo/v4"
)

// NavigationHandler handles content surface endpoints
type NavigationHandler struct {
	commands Commands
}

// NewNavigationHandler creates a new NavigationHandler
func NewNavigationHandler(commands Commands) *NavigationHandler {
	return &NavigationHandler{commands: commands}
}

// NavigateRequest carries raw address-bar input
type NavigateRequest struct {
	Target string `json:"target" validate:"required,max=2048"`
}

// HandleNavigate loads a URL or search query
func (h *NavigationHandler) HandleNavigate(c echo.Context) error {
	var req NavigateRequest
	if err := Decode(c, &req); err != nil {
		return err
	}
	res := h.commands.Navigate(req.Target)
	return Respond(c, res.Error, res)
}

// HandleControl handles /api/nav/:action (back, forward, reload)
func (h *NavigationHandler) HandleControl(c echo.Context) error {
	res := h.commands.NavControl(c.Param("action"))
	return Respond(c, res.Error, res)
}

// HandleOffline swaps the surface for the offline page
func (h *NavigationHandler) HandleOffline(c echo.Context) error {
	res := h.commands.GoOffline()
	return Respond(c, res.Error, res)
}

// HandleOnline reloads the retained target
func (h *NavigationHandler) HandleOnline(c echo.Context) error {
	res := h.commands.GoOnline()
	return Respond(c, res.Error, res)
}
