package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examkiosk/internal/audit"
	"examkiosk/internal/filter"
	"examkiosk/internal/kiosk"
	"examkiosk/internal/models"
	"examkiosk/internal/services"
	"examkiosk/internal/storage"
)

const usersJSON = `[
	{"id":"user01","password":"1234","role":"user","enabled":true,"locked":false},
	{"id":"user02","password":"abcd","role":"user","enabled":true,"locked":true},
	{"id":"user03","password":"zzzz","role":"user","enabled":false,"locked":false},
	{"id":"admin01","password":"admin123","role":"admin","enabled":true,"locked":false}
]`

// ============ Fakes ============

type nopWindow struct{}

func (nopWindow) SetKiosk(bool)           {}
func (nopWindow) SetFullScreen(bool)      {}
func (nopWindow) Show()                   {}
func (nopWindow) Focus()                  {}
func (nopWindow) MoveTop()                {}
func (nopWindow) SetAlwaysOnTop(bool)     {}
func (nopWindow) ContentSize() (int, int) { return 1024, 768 }
func (nopWindow) LoadPage(kiosk.Page)     {}
func (nopWindow) AttachSurface()          {}
func (nopWindow) DetachSurface()          {}
func (nopWindow) Destroy()                {}

type recordingSurface struct {
	mu   sync.Mutex
	urls []string
	page kiosk.Page
}

func (s *recordingSurface) SetBounds(kiosk.Bounds) {}
func (s *recordingSurface) LoadURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	s.page = ""
}
func (s *recordingSurface) LoadPage(p kiosk.Page) { s.mu.Lock(); defer s.mu.Unlock(); s.page = p }
func (s *recordingSurface) GoBack()               {}
func (s *recordingSurface) GoForward()            {}
func (s *recordingSurface) Reload()               {}

func (s *recordingSurface) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.urls) == 0 {
		return ""
	}
	return s.urls[len(s.urls)-1]
}

type nopRegistry struct{}

func (nopRegistry) Register(string, func()) error { return nil }
func (nopRegistry) UnregisterAll()                {}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) Exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

type memRecorder struct {
	mu     sync.Mutex
	tags   []audit.Tag
	fail   error
	panics bool
}

func (m *memRecorder) Record(tag audit.Tag, kv ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("audit log vanished")
	}
	m.tags = append(m.tags, tag)
	return m.fail
}

func (m *memRecorder) recorded() []audit.Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Tag(nil), m.tags...)
}

// ============ Rig ============

type rig struct {
	router  *Router
	ctl     *kiosk.Controller
	store   *storage.Storage
	surface *recordingSurface
	exits   *exitRecorder
	audit   *memRecorder
}

func newRig(t *testing.T, whitelist string) *rig {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.UsersFile), []byte(usersJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.WhitelistFile), []byte(whitelist), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.SettingsFile), []byte(`{"adminPassword":"2468"}`), 0o600))

	store, err := storage.New(dir, zerolog.Nop())
	require.NoError(t, err)

	rec := &memRecorder{}
	surface := &recordingSurface{}
	exits := &exitRecorder{}
	ctl := kiosk.NewController(nopWindow{}, surface, nopRegistry{}, exits, kiosk.Options{}, zerolog.Nop())
	ctl.Arm()

	auth := services.NewAuthService(store, rec, zerolog.Nop())
	f := filter.New(store, zerolog.Nop())
	router := NewRouter(models.NewSession(), auth, f, ctl, store, rec, zerolog.Nop())

	return &rig{router: router, ctl: ctl, store: store, surface: surface, exits: exits, audit: rec}
}

// ============ Tests ============

func TestLoginEntersStateMatchingRole(t *testing.T) {
	tests := []struct {
		id, pw string
		role   models.Role
		state  kiosk.State
	}{
		{"user01", "1234", models.RoleUser, kiosk.StateUserSession},
		{"admin01", "admin123", models.RoleAdmin, kiosk.StateAdminSession},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r := newRig(t, `[]`)
			res := r.router.Login(tt.id, tt.pw)
			require.True(t, res.Success, res.Reason)
			assert.Equal(t, tt.role, res.Role)
			assert.Equal(t, tt.state, r.ctl.State())

			cu := r.router.GetCurrentUser()
			assert.Equal(t, tt.id, cu.ID)
			assert.Equal(t, tt.role, cu.Role)
		})
	}
}

func TestLoginRefusesUnknownRole(t *testing.T) {
	r := newRig(t, `[]`)
	require.NoError(t, r.store.SaveUser(&models.User{ID: "odd01", Password: "pw", Role: models.Role("Admin"), Enabled: true}))

	res := r.router.Login("odd01", "pw")
	assert.False(t, res.Success)
	assert.Equal(t, services.ReasonInvalid, res.Reason)
	assert.Equal(t, kiosk.StateLogin, r.ctl.State())
	assert.Equal(t, CurrentUser{}, r.router.GetCurrentUser())
}

type fixedConnectivity bool

func (c fixedConnectivity) Online() bool { return bool(c) }

func TestLoginWhileNetworkDownShowsOfflinePage(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	r.router.SetConnectivity(fixedConnectivity(false))

	// The transition happened before anyone logged in
	assert.Equal(t, CodeForbidden, r.router.GoOffline().Error)

	require.True(t, r.router.Login("user01", "1234").Success)
	assert.Equal(t, kiosk.StateOffline, r.ctl.State())
	assert.Equal(t, kiosk.PageOffline, r.surface.page)
	assert.Equal(t, []audit.Tag{audit.LoginSuccess, audit.SystemOfflineView}, r.audit.recorded())

	require.True(t, r.router.GoOnline().OK)
	assert.Equal(t, kiosk.StateUserSession, r.ctl.State())
	assert.Equal(t, "about:blank", r.surface.last())
}

func TestAdminLoginIgnoresNetworkDown(t *testing.T) {
	r := newRig(t, `[]`)
	r.router.SetConnectivity(fixedConnectivity(false))

	require.True(t, r.router.Login("admin01", "admin123").Success)
	assert.Equal(t, kiosk.StateAdminSession, r.ctl.State())
}

func TestUserLoginStartsBlank(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	assert.Equal(t, "about:blank", r.surface.last())
	assert.Equal(t, "about:blank", r.router.Session().TargetURL)
}

func TestRefusedLoginsLeaveSessionUnset(t *testing.T) {
	tests := []struct {
		id, pw string
		reason string
	}{
		{"user01", "wrong", services.ReasonInvalid},
		{"ghost", "1234", services.ReasonInvalid},
		{"user02", "abcd", services.ReasonLocked},
		{"user03", "zzzz", services.ReasonDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.reason, func(t *testing.T) {
			r := newRig(t, `[]`)
			res := r.router.Login(tt.id, tt.pw)
			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, kiosk.StateLogin, r.ctl.State())
			assert.Equal(t, CurrentUser{}, r.router.GetCurrentUser())
		})
	}
}

func TestSecondLoginRejected(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	res := r.router.Login("admin01", "admin123")
	assert.False(t, res.Success)
	assert.Equal(t, CodeInvalidState, res.Reason)
	assert.Equal(t, "user01", r.router.GetCurrentUser().ID)
}

func TestNavigate(t *testing.T) {
	r := newRig(t, `["example.com"]`)

	assert.Equal(t, CodeForbidden, r.router.Navigate("example.com").Error, "no session yet")

	require.True(t, r.router.Login("user01", "1234").Success)

	res := r.router.Navigate("  sub.example.com/page ")
	require.True(t, res.OK, res.Error)
	assert.Equal(t, "https://sub.example.com/page", r.surface.last())
	assert.Equal(t, "https://sub.example.com/page", r.router.Session().TargetURL)

	assert.Equal(t, CodeBlocked, r.router.Navigate("notexample.com").Error)
	assert.Equal(t, CodeBlocked, r.router.Navigate("capital of france").Error)
	assert.Equal(t, CodeEmpty, r.router.Navigate("   ").Error)
	assert.Equal(t, "https://sub.example.com/page", r.surface.last(), "denied targets never load")
}

func TestNavControl(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	assert.True(t, r.router.NavControl("back").OK)
	assert.True(t, r.router.NavControl("Reload").OK)
	assert.Equal(t, CodeBadAction, r.router.NavControl("devtools").Error)
}

func TestAdminCannotNavigate(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	require.True(t, r.router.Login("admin01", "admin123").Success)

	assert.Equal(t, CodeForbidden, r.router.Navigate("example.com").Error)
	assert.Equal(t, CodeForbidden, r.router.NavControl("back").Error)
	assert.Equal(t, CodeForbidden, r.router.GoOffline().Error)
}

func TestWhitelistUpdateAppliesToNextNavigation(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	require.True(t, r.router.Login("admin01", "admin123").Success)

	wl := r.router.AdminReadWhitelist()
	require.True(t, wl.OK)
	assert.Equal(t, []string{"example.com"}, wl.Entries)

	require.True(t, r.router.AdminUpdateWhitelist([]string{" exam.org ", "", "example.com"}).OK)
	assert.Equal(t, []string{"exam.org", "example.com"}, r.store.Whitelist())
	assert.Contains(t, r.audit.recorded(), audit.WhitelistUpdated)

	require.True(t, r.router.Logout().OK)
	assert.Equal(t, kiosk.StateLogin, r.ctl.State())

	require.True(t, r.router.Login("user01", "1234").Success)
	assert.True(t, r.router.Navigate("https://www.exam.org/").OK)
}

func TestAdminCommandsNeedPrivilege(t *testing.T) {
	r := newRig(t, `[]`)
	assert.Equal(t, CodeForbidden, r.router.AdminReadWhitelist().Error)

	require.True(t, r.router.Login("user01", "1234").Success)
	assert.Equal(t, CodeForbidden, r.router.AdminListUsers().Error)
	assert.Equal(t, CodeForbidden, r.router.AdminUpdateWhitelist([]string{"x.org"}).Error)
	assert.Equal(t, CodeForbidden, r.router.EmergencyExit().Error)
	assert.Equal(t, CodeForbidden, r.router.Logout().Error)

	assert.Equal(t, CodeInvalidPIN, r.router.AdminVerifyPIN("0000").Error)
	assert.Equal(t, CodeForbidden, r.router.AdminListUsers().Error)

	require.True(t, r.router.AdminVerifyPIN("2468").OK)
	res := r.router.AdminUpdateWhitelist([]string{"x.org"})
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, kiosk.StateUserSession, r.ctl.State())
}

func TestAdminUserManagement(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("admin01", "admin123").Success)

	list := r.router.AdminListUsers()
	require.True(t, list.OK)
	require.Len(t, list.Users, 4)
	assert.Equal(t, "admin01", list.Users[0].ID)

	unlocked, enabled := false, true
	res := r.router.AdminUpdateUser("user02", models.UserPatch{Locked: &unlocked, Enabled: &enabled})
	require.True(t, res.OK, res.Error)
	assert.False(t, res.User.Locked)
	assert.False(t, r.store.GetUser("user02").Locked)

	res = r.router.AdminUpdateUser("ghost", models.UserPatch{Locked: &unlocked})
	assert.False(t, res.OK)
	assert.Equal(t, services.ReasonNotFound, res.Error)
}

func TestOfflineOnlineIsIdempotent(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	require.True(t, r.router.Login("user01", "1234").Success)
	require.True(t, r.router.Navigate("example.com/exam").OK)

	require.True(t, r.router.GoOffline().OK)
	require.True(t, r.router.GoOffline().OK)
	assert.Equal(t, kiosk.StateOffline, r.ctl.State())
	assert.Equal(t, CodeOffline, r.router.NavControl("reload").Error)

	require.True(t, r.router.GoOnline().OK)
	require.True(t, r.router.GoOnline().OK)
	assert.Equal(t, kiosk.StateUserSession, r.ctl.State())
	assert.Equal(t, "https://example.com/exam", r.surface.last())

	assert.Equal(t, []audit.Tag{audit.LoginSuccess, audit.SystemOfflineView, audit.SystemOnlineView}, r.audit.recorded())
}

func TestSurfaceNavigatedUpdatesTarget(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	r.router.SurfaceNavigated("https://example.com/next")
	assert.Equal(t, "https://example.com/next", r.router.Session().TargetURL)

	r.router.SurfaceNavigated("https://elsewhere.org/")
	assert.Equal(t, "https://example.com/next", r.router.Session().TargetURL)
}

func TestUserEmergencyExitWithoutIdentity(t *testing.T) {
	r := newRig(t, `[]`)

	res := r.router.UserEmergencyExit("")
	assert.False(t, res.OK)
	assert.Equal(t, services.ReasonNoCurrentUser, res.Error)
	assert.Equal(t, kiosk.StateLogin, r.ctl.State())
	assert.Empty(t, r.exits.codes)
	for _, u := range r.store.ListUsers() {
		assert.Nil(t, u.LastExit, u.ID)
	}
}

func TestUserEmergencyExitUnknownIDDoesNotTerminate(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("admin01", "admin123").Success)

	res := r.router.UserEmergencyExit("ghost")
	assert.Equal(t, services.ReasonNotFound, res.Error)
	assert.Equal(t, kiosk.StateAdminSession, r.ctl.State())
}

func TestUserEmergencyExitLocksAndTerminates(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	res := r.router.UserEmergencyExit("")
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, kiosk.StateTerminated, r.ctl.State())
	assert.Equal(t, []int{kiosk.ExitOK}, r.exits.codes)

	u := r.store.GetUser("user01")
	assert.True(t, u.Locked)
	assert.False(t, u.Enabled)
	assert.NotNil(t, u.LastExit)

	assert.Equal(t, CodeTerminated, r.router.Login("admin01", "admin123").Reason)
	assert.Equal(t, CurrentUser{}, r.router.GetCurrentUser())
}

func TestUserEmergencyExitNamingAnotherAccountIsRefused(t *testing.T) {
	t.Run("from login", func(t *testing.T) {
		r := newRig(t, `[]`)
		for _, id := range []string{"admin01", "user01", "ghost"} {
			res := r.router.UserEmergencyExit(id)
			assert.Equal(t, CodeForbidden, res.Error, id)
		}
		assert.Equal(t, kiosk.StateLogin, r.ctl.State())
		assert.Empty(t, r.exits.codes)
		assert.False(t, r.store.GetUser("admin01").Locked)
		for _, u := range r.store.ListUsers() {
			assert.Nil(t, u.LastExit, u.ID)
		}
	})

	t.Run("from a candidate session", func(t *testing.T) {
		r := newRig(t, `[]`)
		require.True(t, r.router.Login("user01", "1234").Success)

		res := r.router.UserEmergencyExit("admin01")
		assert.Equal(t, CodeForbidden, res.Error)
		assert.Equal(t, kiosk.StateUserSession, r.ctl.State())
		assert.False(t, r.store.GetUser("admin01").Locked)
		assert.True(t, r.store.GetUser("admin01").Enabled)
		assert.False(t, r.store.GetUser("user01").Locked)
	})
}

func TestUserEmergencyExitWithOwnID(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("user01", "1234").Success)

	res := r.router.UserEmergencyExit("user01")
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, kiosk.StateTerminated, r.ctl.State())
	assert.True(t, r.store.GetUser("user01").Locked)
	assert.False(t, r.store.GetUser("admin01").Locked)
}

func TestPrivilegedSessionMayLockAnotherAccount(t *testing.T) {
	r := newRig(t, `[]`)
	require.True(t, r.router.Login("admin01", "admin123").Success)

	res := r.router.UserEmergencyExit("user01")
	assert.True(t, res.OK, res.Error)
	assert.True(t, r.store.GetUser("user01").Locked)
	assert.Equal(t, kiosk.StateTerminated, r.ctl.State())
}

func TestAdminEmergencyExitSurvivesAuditFailure(t *testing.T) {
	for name, breakAudit := range map[string]func(*memRecorder){
		"error": func(m *memRecorder) { m.fail = errors.New("disk full") },
		"panic": func(m *memRecorder) { m.panics = true },
	} {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, `[]`)
			require.True(t, r.router.Login("admin01", "admin123").Success)
			breakAudit(r.audit)

			res := r.router.EmergencyExit()
			assert.True(t, res.OK, res.Error)
			assert.Equal(t, kiosk.StateTerminated, r.ctl.State())
			assert.Equal(t, []int{kiosk.ExitOK}, r.exits.codes)
		})
	}
}

type panickingController struct{ state kiosk.State }

func (p *panickingController) Dispatch(kiosk.Event) error { panic("window gone") }
func (p *panickingController) State() kiosk.State         { return p.state }

func TestHandlerPanicBecomesSafeResult(t *testing.T) {
	r := newRig(t, `["example.com"]`)
	r.router.ctl = &panickingController{state: kiosk.StateLogin}

	res := r.router.Login("user01", "1234")
	assert.False(t, res.Success)
	assert.Equal(t, CodeInternal, res.Reason)

	// The half-started session is dropped and the router keeps serving
	assert.Equal(t, CurrentUser{}, r.router.GetCurrentUser())
	assert.Equal(t, CodeForbidden, r.router.AdminReadWhitelist().Error)
}
