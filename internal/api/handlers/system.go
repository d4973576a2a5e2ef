package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"examkiosk/internal/kiosk"
)

// KioskStatus reports the containment controller state
type KioskStatus interface {
	State() kiosk.State
	Attached() bool
}

// ShellStatus reports whether the native shell is attached
type ShellStatus interface {
	Connected() bool
}

// SystemHandler handles status, health and exit endpoints
type SystemHandler struct {
	commands  Commands
	kiosk     KioskStatus
	shell     ShellStatus
	version   string
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(commands Commands, k KioskStatus, shell ShellStatus, version string) *SystemHandler {
	return &SystemHandler{
		commands:  commands,
		kiosk:     k,
		shell:     shell,
		version:   version,
		startTime: time.Now(),
	}
}

// StatusResponse represents system status
type StatusResponse struct {
	Version        string  `json:"version"`
	Uptime         string  `json:"uptime"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	State          string  `json:"state"`
	SurfaceOn      bool    `json:"surface_attached"`
	ShellConnected bool    `json:"shell_connected"`
	MemoryUsageMB  float64 `json:"memory_usage_mb"`
	GoRoutines     int     `json:"go_routines"`
}

// HandleStatus returns system status
func (h *SystemHandler) HandleStatus(c echo.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	status := StatusResponse{
		Version:       h.version,
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		State:         h.kiosk.State().String(),
		SurfaceOn:     h.kiosk.Attached(),
		MemoryUsageMB: float64(m.Alloc) / 1024 / 1024,
		GoRoutines:    runtime.NumGoroutine(),
	}
	if h.shell != nil {
		status.ShellConnected = h.shell.Connected()
	}

	return c.JSON(http.StatusOK, status)
}

// formatDuration formats a duration as human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// ============ Health Check ============

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// HandleHealth reports liveness. A terminated kiosk is unhealthy.
func (h *SystemHandler) HandleHealth(c echo.Context) error {
	state := h.kiosk.State()
	if state == kiosk.StateTerminated {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "terminating", State: state.String()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", State: state.String()})
}

// ============ Emergency Exit ============

// EmergencyRequest optionally names the account to lock
type EmergencyRequest struct {
	ID string `json:"id" validate:"omitempty,max=128"`
}

// HandleUserEmergencyExit locks the account and terminates the kiosk
func (h *SystemHandler) HandleUserEmergencyExit(c echo.Context) error {
	var req EmergencyRequest
	if err := Decode(c, &req); err != nil {
		return err
	}
	res := h.commands.UserEmergencyExit(req.ID)
	return Respond(c, res.Error, res)
}

// HandleAdminEmergencyExit terminates the kiosk on a supervisor's request
func (h *SystemHandler) HandleAdminEmergencyExit(c echo.Context) error {
	res := h.commands.EmergencyExit()
	return Respond(c, res.Error, res)
}
