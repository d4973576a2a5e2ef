// Package api is the loopback bridge between the sandboxed UI pages, the
// native shell and the session router.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"examkiosk/internal/api/handlers"
	"examkiosk/internal/api/middleware"
)

// Router sets up all bridge routes
type Router struct {
	auth     *middleware.BridgeAuth
	commands handlers.Commands
	kiosk    handlers.KioskStatus
	shell    http.Handler
	version  string
	log      zerolog.Logger
}

// NewRouter creates a new Router. shell may be nil when no native shell is
// wired; it must implement handlers.ShellStatus to appear in /api/system/status.
func NewRouter(
	auth *middleware.BridgeAuth,
	commands handlers.Commands,
	k handlers.KioskStatus,
	shell http.Handler,
	version string,
	log zerolog.Logger,
) *Router {
	return &Router{
		auth:     auth,
		commands: commands,
		kiosk:    k,
		shell:    shell,
		version:  version,
		log:      log.With().Str("component", "bridge").Logger(),
	}
}

// Setup registers all routes
func (r *Router) Setup() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(r.log)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			r.log.Debug().
				Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("bridge request")
			return nil
		},
	}))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	var shellStatus handlers.ShellStatus
	if s, ok := r.shell.(handlers.ShellStatus); ok {
		shellStatus = s
	}

	authHandler := handlers.NewAuthHandler(r.commands)
	navHandler := handlers.NewNavigationHandler(r.commands)
	whitelistHandler := handlers.NewWhitelistHandler(r.commands)
	usersHandler := handlers.NewUsersHandler(r.commands)
	systemHandler := handlers.NewSystemHandler(r.commands, r.kiosk, shellStatus, r.version)

	// Probes (no token; the bridge only listens on loopback)
	e.GET("/health", systemHandler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Native shell
	if r.shell != nil {
		e.GET("/shell", echo.WrapHandler(r.shell), r.auth.RequireToken(middleware.AudienceShell))
	}

	api := e.Group("/api", r.auth.RequireToken(middleware.AudienceUI))

	// Session routes
	api.POST("/login", authHandler.HandleLogin)
	api.POST("/logout", authHandler.HandleLogout)
	api.GET("/session", authHandler.HandleMe)
	api.POST("/admin/pin", authHandler.HandleVerifyPIN)

	// Navigation routes
	api.POST("/navigate", navHandler.HandleNavigate)
	api.POST("/nav/:action", navHandler.HandleControl)
	api.POST("/network/offline", navHandler.HandleOffline)
	api.POST("/network/online", navHandler.HandleOnline)

	// Admin routes
	api.GET("/admin/whitelist", whitelistHandler.HandleList)
	api.PUT("/admin/whitelist", whitelistHandler.HandleReplace)
	api.GET("/admin/users", usersHandler.HandleList)
	api.PATCH("/admin/users/:id", usersHandler.HandleUpdate)

	// System routes
	api.GET("/system/status", systemHandler.HandleStatus)
	api.POST("/emergency/user", systemHandler.HandleUserEmergencyExit)
	api.POST("/emergency/admin", systemHandler.HandleAdminEmergencyExit)

	return e
}
