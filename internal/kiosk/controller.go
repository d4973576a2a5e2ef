// Package kiosk owns the application window and the supervised content
// surface and keeps them contained.
//
// Everything that happens to the window arrives as an Event through
// Controller.Dispatch, which is the only code path that mutates the window or
// the surface. Containment rules are enforced there regardless of state until
// the controller reaches StateTerminated.
package kiosk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"examkiosk/internal/metrics"
)

var (
	ErrTerminated        = errors.New("kiosk terminated")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotAttached       = errors.New("content surface not attached")
	ErrOffline           = errors.New("content surface offline")
)

// State of the containment state machine
type State int

const (
	StateLogin State = iota
	StateUserSession
	StateAdminSession
	StateOffline
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateUserSession:
		return "user-session"
	case StateAdminSession:
		return "admin-session"
	case StateOffline:
		return "offline"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventKind names a window, session or timer event
type EventKind string

const (
	// Window events reported by the shell
	EventBlur            EventKind = "blur"
	EventFocus           EventKind = "focus"
	EventLeaveFullScreen EventKind = "leave-full-screen"
	EventClose           EventKind = "close"
	EventMinimize        EventKind = "minimize"
	EventHide            EventKind = "hide"
	EventSessionEnd      EventKind = "session-end"
	EventResize          EventKind = "resize"

	// Session transitions requested by the command router
	EventLoginUser     EventKind = "login-user"
	EventLoginAdmin    EventKind = "login-admin"
	EventLogout        EventKind = "logout"
	EventNetworkDown   EventKind = "network-down"
	EventNetworkUp     EventKind = "network-up"
	EventNavigate      EventKind = "navigate"
	EventBack          EventKind = "back"
	EventForward       EventKind = "forward"
	EventReload        EventKind = "reload"
	EventEmergencyExit EventKind = "emergency-exit"
	EventForcedExit    EventKind = "forced-exit"
	EventFatal         EventKind = "fatal"

	// Internal timers
	eventRefocus    EventKind = "refocus"
	eventReleaseTop EventKind = "release-top"
)

// Event is one input to the state machine
type Event struct {
	Kind   EventKind
	URL    string // navigate, login-user, network-up
	Width  int    // resize
	Height int    // resize
	Reason string // exits
}

// Exit codes
const (
	ExitOK    = 0
	ExitFatal = 1
)

// Options tunes the containment policy
type Options struct {
	// FocusGrace is how long the window may stay unfocused before it is
	// pulled back to the front.
	FocusGrace time.Duration
	// TopRelease is how long the window stays always-on-top after a re-focus.
	TopRelease time.Duration
	// UserBarHeight is the control bar above the surface in user sessions.
	UserBarHeight    int
	BlockedShortcuts []string
	ForceQuit        string
	Scheduler        Scheduler
}

func (o *Options) applyDefaults() {
	if o.FocusGrace <= 0 {
		o.FocusGrace = 150 * time.Millisecond
	}
	if o.TopRelease <= 0 {
		o.TopRelease = time.Second
	}
	if o.UserBarHeight <= 0 {
		o.UserBarHeight = 60
	}
	if o.BlockedShortcuts == nil {
		o.BlockedShortcuts = DefaultBlockedShortcuts()
	}
	if o.ForceQuit == "" {
		o.ForceQuit = DefaultForceQuit
	}
	if o.Scheduler == nil {
		o.Scheduler = clockScheduler{}
	}
}

// Controller is the window containment state machine
type Controller struct {
	mu sync.Mutex

	window    Window
	surface   Surface
	shortcuts ShortcutRegistry
	term      Terminator
	opts      Options
	log       zerolog.Logger

	state     State
	attached  bool
	barHeight int
	refocus   Timer
	release   Timer
	hooks     []func()
}

// NewController creates a Controller in StateLogin. Call Arm before use.
func NewController(w Window, s Surface, reg ShortcutRegistry, term Terminator, opts Options, log zerolog.Logger) *Controller {
	opts.applyDefaults()
	return &Controller{
		window:    w,
		surface:   s,
		shortcuts: reg,
		term:      term,
		opts:      opts,
		log:       log.With().Str("component", "kiosk").Logger(),
		state:     StateLogin,
	}
}

// OnTerminate registers a hook run during teardown, before the window is
// destroyed. Hooks must not call Dispatch.
func (c *Controller) OnTerminate(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, f)
}

// Arm locks the window down and shows the login page
func (c *Controller) Arm() {
	c.mu.Lock()
	c.window.SetKiosk(true)
	c.window.SetFullScreen(true)
	c.window.LoadPage(PageLogin)
	c.window.Show()
	c.window.Focus()
	c.mu.Unlock()

	for _, acc := range c.opts.BlockedShortcuts {
		acc := acc
		if err := c.shortcuts.Register(acc, func() {
			metrics.ShortcutsSuppressedTotal.WithLabelValues(acc).Inc()
		}); err != nil {
			c.log.Warn().Err(err).Str("accelerator", acc).Msg("shortcut register failed")
		}
	}
	if err := c.shortcuts.Register(c.opts.ForceQuit, func() {
		c.Dispatch(Event{Kind: EventForcedExit, Reason: "force-quit"})
	}); err != nil {
		c.log.Error().Err(err).Str("accelerator", c.opts.ForceQuit).Msg("force-quit register failed")
	}

	c.log.Info().Int("blocked_shortcuts", len(c.opts.BlockedShortcuts)).Msg("kiosk armed")
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attached reports whether the content surface is in the window
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// Dispatch feeds one event to the state machine
func (c *Controller) Dispatch(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTerminated {
		return ErrTerminated
	}

	err := c.handle(ev)
	action := "applied"
	if err != nil {
		action = "ignored"
	} else if isContainment(ev.Kind) {
		action = "enforced"
	}
	metrics.ContainmentEventsTotal.WithLabelValues(string(ev.Kind), action).Inc()
	return err
}

func isContainment(k EventKind) bool {
	switch k {
	case EventBlur, EventLeaveFullScreen, EventClose, EventMinimize, EventHide, EventSessionEnd, eventRefocus:
		return true
	}
	return false
}

// handle must be called with mu held
func (c *Controller) handle(ev Event) error {
	switch ev.Kind {
	// ============ Containment ============
	case EventBlur:
		c.scheduleRefocus()
	case EventFocus:
		c.stop(&c.refocus)
	case eventRefocus:
		c.reacquire()
	case eventReleaseTop:
		c.release = nil
		c.window.SetAlwaysOnTop(false)
	case EventLeaveFullScreen:
		c.window.SetFullScreen(true)
	case EventClose, EventMinimize, EventHide, EventSessionEnd:
		c.log.Warn().Str("event", string(ev.Kind)).Msg("escape attempt suppressed")
		c.window.Show()
		c.window.SetFullScreen(true)
		c.window.Focus()
	case EventResize:
		c.resize(ev.Width, ev.Height)

	// ============ Session transitions ============
	case EventLoginUser:
		if c.state != StateLogin {
			return c.invalid(ev)
		}
		c.attach(c.opts.UserBarHeight)
		c.surface.LoadURL(orBlank(ev.URL))
		c.setState(StateUserSession)
	case EventLoginAdmin:
		if c.state != StateLogin {
			return c.invalid(ev)
		}
		c.detach()
		c.window.LoadPage(PageAdmin)
		c.setState(StateAdminSession)
	case EventLogout:
		if c.state != StateAdminSession {
			return c.invalid(ev)
		}
		c.window.LoadPage(PageLogin)
		c.setState(StateLogin)
	case EventNetworkDown:
		if c.state != StateUserSession {
			return c.invalid(ev)
		}
		c.surface.LoadPage(PageOffline)
		c.setState(StateOffline)
	case EventNetworkUp:
		if c.state != StateOffline {
			return c.invalid(ev)
		}
		c.surface.LoadURL(orBlank(ev.URL))
		c.setState(StateUserSession)

	// ============ Navigation ============
	case EventNavigate, EventBack, EventForward, EventReload:
		if err := c.requireSurface(); err != nil {
			return err
		}
		switch ev.Kind {
		case EventNavigate:
			c.surface.LoadURL(ev.URL)
		case EventBack:
			c.surface.GoBack()
		case EventForward:
			c.surface.GoForward()
		case EventReload:
			c.surface.Reload()
		}

	// ============ Termination ============
	case EventEmergencyExit:
		switch c.state {
		case StateUserSession, StateAdminSession, StateOffline:
		default:
			return c.invalid(ev)
		}
		c.terminate(ev, ExitOK)
	case EventForcedExit:
		c.terminate(ev, ExitOK)
	case EventFatal:
		c.terminate(ev, ExitFatal)

	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Kind)
	}
	return nil
}

func (c *Controller) invalid(ev Event) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.Kind, c.state)
}

func (c *Controller) setState(s State) {
	c.log.Info().Str("from", c.state.String()).Str("to", s.String()).Msg("containment state changed")
	c.state = s
}

func (c *Controller) requireSurface() error {
	switch {
	case c.state == StateOffline:
		return ErrOffline
	case c.state != StateUserSession || !c.attached:
		return ErrNotAttached
	}
	return nil
}

func (c *Controller) scheduleRefocus() {
	c.stop(&c.refocus)
	c.refocus = c.opts.Scheduler.AfterFunc(c.opts.FocusGrace, func() {
		c.Dispatch(Event{Kind: eventRefocus})
	})
}

// reacquire pulls the window back in front of whatever took focus
func (c *Controller) reacquire() {
	c.refocus = nil
	c.window.Show()
	c.window.SetAlwaysOnTop(true)
	c.window.MoveTop()
	c.window.Focus()

	c.stop(&c.release)
	c.release = c.opts.Scheduler.AfterFunc(c.opts.TopRelease, func() {
		c.Dispatch(Event{Kind: eventReleaseTop})
	})
}

func (c *Controller) stop(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) attach(barHeight int) {
	c.window.AttachSurface()
	c.attached = true
	c.barHeight = barHeight
	w, h := c.window.ContentSize()
	c.resize(w, h)
}

func (c *Controller) detach() {
	if !c.attached {
		return
	}
	c.window.DetachSurface()
	c.attached = false
}

// resize keeps the surface below the control bar
func (c *Controller) resize(width, height int) {
	if !c.attached {
		return
	}
	h := height - c.barHeight
	if h < 0 {
		h = 0
	}
	if width < 0 {
		width = 0
	}
	c.surface.SetBounds(Bounds{X: 0, Y: c.barHeight, Width: width, Height: h})
}

// terminate tears everything down. Each step is guarded on its own so a
// failing step never prevents the process from exiting.
func (c *Controller) terminate(ev Event, code int) {
	c.log.Warn().Str("event", string(ev.Kind)).Str("reason", ev.Reason).Int("code", code).Msg("terminating kiosk")
	c.state = StateTerminated

	c.stop(&c.refocus)
	c.stop(&c.release)

	for i, hook := range c.hooks {
		c.guard(fmt.Sprintf("hook-%d", i), hook)
	}
	c.guard("shortcuts", c.shortcuts.UnregisterAll)
	if c.attached {
		c.guard("detach", c.window.DetachSurface)
		c.attached = false
	}
	c.guard("window", c.window.Destroy)
	c.guard("exit", func() { c.term.Exit(code) })
}

func (c *Controller) guard(step string, f func()) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error().Str("step", step).Interface("panic", p).Msg("teardown step failed")
		}
	}()
	f()
}

func orBlank(url string) string {
	if url == "" {
		return "about:blank"
	}
	return url
}
