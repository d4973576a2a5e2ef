// Package session is the only trusted intermediary between the UI layer and
// the kiosk core. It owns the single active session and turns every UI command
// into calls on the auth service, the request filter and the containment
// controller. No handler panics past the router and no command runs after the
// kiosk has terminated.
package session

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"examkiosk/internal/audit"
	"examkiosk/internal/filter"
	"examkiosk/internal/kiosk"
	"examkiosk/internal/metrics"
	"examkiosk/internal/models"
	"examkiosk/internal/services"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrTerminated   = errors.New("kiosk terminated")
	ErrEmptyTarget  = errors.New("empty navigation target")
	ErrBadAction    = errors.New("unknown navigation action")
	ErrInvalidState = errors.New("command not available in current state")
	ErrInvalidPIN   = errors.New("invalid pin")
	ErrInternal     = errors.New("internal error")
)

// Error codes returned to the UI
const (
	CodeForbidden    = "forbidden"
	CodeTerminated   = "terminated"
	CodeBlocked      = "blocked"
	CodeEmpty        = "empty"
	CodeBadAction    = "bad-action"
	CodeNotAttached  = "not-attached"
	CodeOffline      = "offline"
	CodeInvalidState = "invalid-state"
	CodeInvalidPIN   = "invalid-pin"
	CodeInternal     = "internal"
)

// Code maps a router error to the code handed back to the UI
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrTerminated), errors.Is(err, kiosk.ErrTerminated):
		return CodeTerminated
	case errors.Is(err, filter.ErrBlocked):
		return CodeBlocked
	case errors.Is(err, ErrEmptyTarget):
		return CodeEmpty
	case errors.Is(err, ErrBadAction):
		return CodeBadAction
	case errors.Is(err, kiosk.ErrNotAttached):
		return CodeNotAttached
	case errors.Is(err, kiosk.ErrOffline):
		return CodeOffline
	case errors.Is(err, ErrInvalidState), errors.Is(err, kiosk.ErrInvalidTransition):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidPIN):
		return CodeInvalidPIN
	case errors.Is(err, ErrInternal):
		return CodeInternal
	default:
		return services.Reason(err)
	}
}

// Controller is the part of the containment controller the router drives
type Controller interface {
	Dispatch(ev kiosk.Event) error
	State() kiosk.State
}

// Store is the part of the config store the router reads and writes directly
type Store interface {
	Whitelist() []string
	ReplaceWhitelist(entries []string) error
	Settings() models.Settings
}

// Connectivity reports the last known network status
type Connectivity interface {
	Online() bool
}

// LoginResult is the answer to a login command
type LoginResult struct {
	Success bool        `json:"success"`
	Role    models.Role `json:"role,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Result is the answer to a command without payload
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WhitelistResult is the answer to a whitelist read
type WhitelistResult struct {
	OK      bool     `json:"ok"`
	Entries []string `json:"entries"`
	Error   string   `json:"error,omitempty"`
}

// UsersResult is the answer to a user listing
type UsersResult struct {
	OK    bool              `json:"ok"`
	Users []models.UserView `json:"users"`
	Error string            `json:"error,omitempty"`
}

// UserResult is the answer to a user update
type UserResult struct {
	OK    bool             `json:"ok"`
	User  *models.UserView `json:"user,omitempty"`
	Error string           `json:"error,omitempty"`
}

// CurrentUser identifies the active session. Both fields are empty when
// nobody is logged in.
type CurrentUser struct {
	ID   string      `json:"id,omitempty"`
	Role models.Role `json:"role,omitempty"`
}

func result(err error) Result {
	return Result{OK: err == nil, Error: Code(err)}
}

// Router dispatches UI commands. Commands are serialized.
type Router struct {
	mu sync.Mutex

	sess   *models.Session
	auth   *services.AuthService
	filter *filter.Filter
	ctl    Controller
	store  Store
	audit  audit.Recorder
	net    Connectivity
	log    zerolog.Logger
}

// NewRouter creates a Router that owns sess
func NewRouter(sess *models.Session, auth *services.AuthService, f *filter.Filter, ctl Controller, store Store, rec audit.Recorder, log zerolog.Logger) *Router {
	return &Router{
		sess:   sess,
		auth:   auth,
		filter: f,
		ctl:    ctl,
		store:  store,
		audit:  rec,
		log:    log.With().Str("component", "router").Logger(),
	}
}

// SetConnectivity lets a user login start offline when the network is
// already down
func (r *Router) SetConnectivity(c Connectivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.net = c
}

// Session returns a snapshot of the active session
func (r *Router) Session() models.SessionSnapshot {
	return r.sess.Snapshot()
}

// run executes one command under the router lock. Panics become ErrInternal.
func (r *Router) run(cmd string, f func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		outcome := "ok"
		if p := recover(); p != nil {
			r.log.Error().Str("command", cmd).Interface("panic", p).Msg("command handler panicked")
			err = ErrInternal
			outcome = "panic"
		} else if err != nil {
			outcome = "rejected"
			r.log.Debug().Str("command", cmd).Err(err).Msg("command rejected")
		}
		metrics.CommandsTotal.WithLabelValues(cmd, outcome).Inc()
	}()

	if r.ctl.State() == kiosk.StateTerminated {
		return ErrTerminated
	}
	return f()
}

// ============ Session Commands ============

// Login authenticates and moves the window into the session matching the role
func (r *Router) Login(id, credential string) LoginResult {
	var res LoginResult
	err := r.run("login", func() error {
		if r.ctl.State() != kiosk.StateLogin {
			return ErrInvalidState
		}

		user, err := r.auth.Login(r.sess, id, credential)
		if err != nil {
			return err
		}

		// The session only survives if the window followed
		entered := false
		defer func() {
			if !entered {
				r.sess.Clear()
			}
		}()

		var ev kiosk.Event
		switch user.Role {
		case models.RoleUser:
			start := r.store.Settings().EffectiveStartURL()
			ev = kiosk.Event{Kind: kiosk.EventLoginUser, URL: start}
			r.sess.SetTarget(start)
		case models.RoleAdmin:
			ev = kiosk.Event{Kind: kiosk.EventLoginAdmin}
		default:
			return services.ErrInvalidCredentials
		}
		if err := r.ctl.Dispatch(ev); err != nil {
			return err
		}
		entered = true

		// A transition missed while nobody was logged in still applies
		if user.Role == models.RoleUser && r.net != nil && !r.net.Online() {
			if err := r.goOffline(); err != nil {
				r.log.Warn().Err(err).Msg("failed to show offline page after login")
			}
		}

		res = LoginResult{Success: true, Role: user.Role}
		return nil
	})
	if err != nil {
		return LoginResult{Reason: Code(err)}
	}
	return res
}

// Logout ends an admin session and returns to the login page. User sessions
// only end through an emergency exit.
func (r *Router) Logout() Result {
	return result(r.run("logout", func() error {
		if r.sess.Role() != models.RoleAdmin {
			return ErrForbidden
		}
		if err := r.ctl.Dispatch(kiosk.Event{Kind: kiosk.EventLogout}); err != nil {
			return err
		}
		r.sess.Clear()
		return nil
	}))
}

// GetCurrentUser returns the active identity
func (r *Router) GetCurrentUser() CurrentUser {
	var cu CurrentUser
	_ = r.run("get-current-user", func() error {
		cu = CurrentUser{ID: r.sess.UserID(), Role: r.sess.Role()}
		return nil
	})
	return cu
}

// AdminVerifyPIN elevates the active session to admin commands when pin
// matches the supervisor PIN from settings
func (r *Router) AdminVerifyPIN(pin string) Result {
	return result(r.run("admin-verify-pin", func() error {
		if !r.sess.Active() {
			return ErrForbidden
		}
		if !r.auth.VerifyAdminPIN(pin) {
			r.log.Warn().Str("id", r.sess.UserID()).Msg("supervisor pin rejected")
			return ErrInvalidPIN
		}
		r.sess.MarkPINVerified()
		r.log.Info().Str("id", r.sess.UserID()).Msg("session elevated by supervisor pin")
		return nil
	}))
}

// ============ Navigation Commands ============

func (r *Router) requireUser() error {
	if !r.sess.Active() || r.sess.Role() != models.RoleUser {
		return ErrForbidden
	}
	return nil
}

// Navigate normalizes address-bar input, checks it against the whitelist and
// loads it into the content surface
func (r *Router) Navigate(raw string) Result {
	return result(r.run("navigate", func() error {
		if err := r.requireUser(); err != nil {
			return err
		}
		target := filter.NormalizeURL(raw)
		if target == "" {
			return ErrEmptyTarget
		}
		if !r.filter.Allowed(target, filter.LayerNavigate) {
			return filter.ErrBlocked
		}
		if err := r.ctl.Dispatch(kiosk.Event{Kind: kiosk.EventNavigate, URL: target}); err != nil {
			return err
		}
		r.sess.SetTarget(target)
		return nil
	}))
}

// NavControl runs back, forward or reload on the content surface
func (r *Router) NavControl(action string) Result {
	return result(r.run("nav-control", func() error {
		if err := r.requireUser(); err != nil {
			return err
		}
		var kind kiosk.EventKind
		switch strings.ToLower(action) {
		case "back":
			kind = kiosk.EventBack
		case "forward":
			kind = kiosk.EventForward
		case "reload":
			kind = kiosk.EventReload
		default:
			return ErrBadAction
		}
		return r.ctl.Dispatch(kiosk.Event{Kind: kind})
	}))
}

// SurfaceNavigated records a page the content surface finished loading so
// it can be resumed after an offline period
func (r *Router) SurfaceNavigated(url string) {
	_ = r.run("surface-navigated", func() error {
		if r.ctl.State() != kiosk.StateUserSession {
			return ErrInvalidState
		}
		if !r.filter.Allowed(url, filter.LayerNavigate) {
			return filter.ErrBlocked
		}
		r.sess.SetTarget(url)
		return nil
	})
}

// GoOffline swaps the content surface for the offline page. Repeating it
// while offline is a no-op.
func (r *Router) GoOffline() Result {
	return result(r.run("go-offline", func() error {
		if err := r.requireUser(); err != nil {
			return err
		}
		return r.goOffline()
	}))
}

func (r *Router) goOffline() error {
	if r.ctl.State() == kiosk.StateOffline {
		return nil
	}
	if err := r.ctl.Dispatch(kiosk.Event{Kind: kiosk.EventNetworkDown}); err != nil {
		return err
	}
	r.record(audit.SystemOfflineView, "id", r.sess.UserID())
	return nil
}

// GoOnline reloads the retained target. Repeating it while online is a no-op.
func (r *Router) GoOnline() Result {
	return result(r.run("go-online", func() error {
		if err := r.requireUser(); err != nil {
			return err
		}
		if r.ctl.State() == kiosk.StateUserSession {
			return nil
		}
		if err := r.ctl.Dispatch(kiosk.Event{Kind: kiosk.EventNetworkUp, URL: r.sess.Target()}); err != nil {
			return err
		}
		r.record(audit.SystemOnlineView, "id", r.sess.UserID(), "url", r.sess.Target())
		return nil
	}))
}

// ============ Admin Commands ============

func (r *Router) requirePrivileged() error {
	if !r.sess.Privileged() {
		return ErrForbidden
	}
	return nil
}

// AdminReadWhitelist returns the current whitelist
func (r *Router) AdminReadWhitelist() WhitelistResult {
	var entries []string
	err := r.run("admin-read-whitelist", func() error {
		if err := r.requirePrivileged(); err != nil {
			return err
		}
		entries = r.store.Whitelist()
		return nil
	})
	if entries == nil {
		entries = []string{}
	}
	return WhitelistResult{OK: err == nil, Entries: entries, Error: Code(err)}
}

// AdminUpdateWhitelist replaces the whitelist. Entries are trimmed and blank
// lines dropped. The filter sees the new list on its next decision.
func (r *Router) AdminUpdateWhitelist(entries []string) Result {
	return result(r.run("admin-update-whitelist", func() error {
		if err := r.requirePrivileged(); err != nil {
			return err
		}
		cleaned := make([]string, 0, len(entries))
		for _, e := range entries {
			if e = strings.TrimSpace(e); e != "" {
				cleaned = append(cleaned, e)
			}
		}
		if err := r.store.ReplaceWhitelist(cleaned); err != nil {
			r.log.Error().Err(err).Msg("whitelist update failed")
			return err
		}
		r.record(audit.WhitelistUpdated, "by", r.sess.UserID(), "entries", strconv.Itoa(len(cleaned)))
		return nil
	}))
}

// AdminListUsers lists every account without credentials
func (r *Router) AdminListUsers() UsersResult {
	var users []models.UserView
	err := r.run("admin-list-users", func() error {
		if err := r.requirePrivileged(); err != nil {
			return err
		}
		users = r.auth.ListUsers()
		return nil
	})
	if users == nil {
		users = []models.UserView{}
	}
	return UsersResult{OK: err == nil, Users: users, Error: Code(err)}
}

// AdminUpdateUser merges patch into the account id
func (r *Router) AdminUpdateUser(id string, patch models.UserPatch) UserResult {
	var view *models.UserView
	err := r.run("admin-update-user", func() error {
		if err := r.requirePrivileged(); err != nil {
			return err
		}
		v, err := r.auth.UpdateUser(id, patch)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	return UserResult{OK: err == nil, User: view, Error: Code(err)}
}

// ============ Exit Commands ============

// UserEmergencyExit locks the active account and terminates the kiosk. A
// candidate may only name their own id; a privileged session may name any.
// Without a session no id is accepted. Nothing is torn down when no account
// resolves.
func (r *Router) UserEmergencyExit(id string) Result {
	return result(r.run("user-emergency-exit", func() error {
		if id != "" && id != r.sess.UserID() && !r.sess.Privileged() {
			r.log.Warn().Str("id", r.sess.UserID()).Str("target", id).Msg("emergency exit for another account refused")
			return ErrForbidden
		}

		target, err := r.auth.EmergencyExit(r.sess, id)
		if errors.Is(err, services.ErrUserNotFound) || errors.Is(err, services.ErrNoCurrentUser) {
			return err
		}
		if err != nil {
			r.log.Error().Err(err).Str("id", target).Msg("emergency lock not persisted, terminating anyway")
		}

		r.terminate(kiosk.Event{Kind: kiosk.EventEmergencyExit, Reason: "user emergency exit"}, nil)
		return err
	}))
}

// EmergencyExit shuts the kiosk down on a supervisor's request. Termination
// proceeds even when the audit append fails.
func (r *Router) EmergencyExit() Result {
	return result(r.run("emergency-exit", func() error {
		if err := r.requirePrivileged(); err != nil {
			return err
		}
		by := r.sess.UserID()
		r.terminate(kiosk.Event{Kind: kiosk.EventForcedExit, Reason: "admin emergency exit"}, func() {
			r.record(audit.SystemEmergencyExitByAdmin, "by", by)
		})
		return nil
	}))
}

// terminate runs before, clears the session and ends the kiosk. A failing
// before step never prevents the dispatch.
func (r *Router) terminate(ev kiosk.Event, before func()) {
	if before != nil {
		r.safely("pre-terminate", before)
	}
	r.sess.Clear()
	r.safely("dispatch", func() {
		if err := r.ctl.Dispatch(ev); err != nil {
			r.log.Error().Err(err).Str("event", string(ev.Kind)).Msg("terminate dispatch failed")
		}
	})
}

func (r *Router) safely(step string, f func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("step", step).Interface("panic", p).Msg("terminate step failed")
		}
	}()
	f()
}

func (r *Router) record(tag audit.Tag, kv ...string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(tag, kv...); err != nil {
		r.log.Warn().Err(err).Str("tag", string(tag)).Msg("audit append failed")
	}
}
