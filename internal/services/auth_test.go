package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examkiosk/internal/audit"
	"examkiosk/internal/models"
)

type stubStore struct {
	users    map[string]*models.User
	settings models.Settings
	saveErr  error
	saves    int
}

func newStubStore(users ...*models.User) *stubStore {
	s := &stubStore{users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u.Clone()
	}
	return s
}

func (s *stubStore) GetUser(id string) *models.User { return s.users[id].Clone() }

func (s *stubStore) ListUsers() []*models.User {
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	return out
}

func (s *stubStore) SaveUser(u *models.User) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *stubStore) UserCount() int             { return len(s.users) }
func (s *stubStore) Settings() models.Settings { return s.settings }

type recorded struct {
	tag audit.Tag
	kv  []string
}

type stubRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *stubRecorder) Record(tag audit.Tag, kv ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{tag: tag, kv: kv})
	return nil
}

func (r *stubRecorder) tags() []audit.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Tag, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.tag
	}
	return out
}

var fixedNow = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func newTestService(users ...*models.User) (*AuthService, *stubStore, *stubRecorder) {
	store := newStubStore(users...)
	rec := &stubRecorder{}
	svc := NewAuthService(store, rec, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, store, rec
}

func candidate(id, pw string) *models.User {
	return &models.User{ID: id, Password: pw, Role: models.RoleUser, Enabled: true}
}

func TestLoginSuccessSetsSession(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	svc, store, rec := newTestService(
		candidate("user01", "1234"),
		&models.User{ID: "admin01", Password: hash, Role: models.RoleAdmin, Enabled: true},
	)

	sess := models.NewSession()
	user, err := svc.Login(sess, "user01", "1234")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "user01", sess.UserID())
	assert.Equal(t, models.RoleUser, sess.Role())
	require.NotNil(t, store.users["user01"].LastLogin)
	assert.True(t, fixedNow.Equal(*store.users["user01"].LastLogin))

	sess2 := models.NewSession()
	user, err = svc.Login(sess2, "admin01", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Equal(t, models.RoleAdmin, sess2.Role())

	assert.Equal(t, []audit.Tag{audit.LoginSuccess, audit.LoginSuccess}, rec.tags())
}

func TestLoginFailures(t *testing.T) {
	locked := candidate("locked", "pw")
	locked.Locked = true
	disabled := candidate("disabled", "pw")
	disabled.Enabled = false
	both := candidate("both", "pw")
	both.Locked = true
	both.Enabled = false
	misnamed := candidate("misnamed", "pw")
	misnamed.Role = models.Role("Admin")

	tests := []struct {
		name   string
		id, pw string
		want   error
		reason string
		tag    audit.Tag
	}{
		{"unknown user", "ghost", "pw", ErrInvalidCredentials, ReasonInvalid, audit.LoginFailed},
		{"wrong password", "user01", "nope", ErrInvalidCredentials, ReasonInvalid, audit.LoginFailed},
		{"empty password", "user01", "", ErrInvalidCredentials, ReasonInvalid, audit.LoginFailed},
		{"locked with right password", "locked", "pw", ErrAccountLocked, ReasonLocked, audit.LoginRefused},
		{"locked with wrong password", "locked", "bad", ErrInvalidCredentials, ReasonInvalid, audit.LoginFailed},
		{"disabled with right password", "disabled", "pw", ErrAccountDisabled, ReasonDisabled, audit.LoginRefused},
		{"locked and disabled", "both", "pw", ErrAccountLocked, ReasonLocked, audit.LoginRefused},
		{"unknown role", "misnamed", "pw", ErrInvalidCredentials, ReasonInvalid, audit.LoginFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, rec := newTestService(candidate("user01", "1234"), locked, disabled, both, misnamed)
			sess := models.NewSession()

			user, err := svc.Login(sess, tt.id, tt.pw)
			assert.Nil(t, user)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, Reason(err))
			assert.False(t, sess.Active(), "session must stay unset")
			assert.Equal(t, 0, store.saves)
			assert.Equal(t, []audit.Tag{tt.tag}, rec.tags())
		})
	}
}

func TestLoginNeverRecordsCredential(t *testing.T) {
	svc, _, rec := newTestService(candidate("user01", "1234"))
	_, _ = svc.Login(models.NewSession(), "user01", "wrong-secret")
	_, _ = svc.Login(models.NewSession(), "user01", "1234")

	for _, e := range rec.entries {
		for _, v := range e.kv {
			assert.NotEqual(t, "wrong-secret", v)
			assert.NotEqual(t, "1234", v)
		}
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)

	assert.True(t, CheckPassword("pw", hash))
	assert.False(t, CheckPassword("pw2", hash))
	assert.True(t, CheckPassword("legacy", "legacy"))
	assert.False(t, CheckPassword("legacy", "Legacy"))
	assert.False(t, CheckPassword("", ""))
}

func TestEmergencyExitWithoutIdentity(t *testing.T) {
	svc, store, rec := newTestService(candidate("user01", "1234"))

	id, err := svc.EmergencyExit(models.NewSession(), "")
	assert.Equal(t, "", id)
	assert.ErrorIs(t, err, ErrNoCurrentUser)
	assert.Equal(t, ReasonNoCurrentUser, Reason(err))
	assert.Equal(t, 0, store.saves)
	assert.False(t, store.users["user01"].Locked)
	assert.Equal(t, []audit.Tag{audit.UserEmergencyExitFailed}, rec.tags())
}

func TestEmergencyExitUnknownUser(t *testing.T) {
	svc, store, _ := newTestService()
	_, err := svc.EmergencyExit(models.NewSession(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, store.saves)
}

func TestEmergencyExitLocksActiveUser(t *testing.T) {
	svc, store, rec := newTestService(candidate("user01", "1234"))
	sess := models.NewSession()
	_, err := svc.Login(sess, "user01", "1234")
	require.NoError(t, err)

	id, err := svc.EmergencyExit(sess, "")
	require.NoError(t, err)
	assert.Equal(t, "user01", id)

	u := store.users["user01"]
	assert.True(t, u.Locked)
	assert.False(t, u.Enabled)
	require.NotNil(t, u.LastExit)
	assert.Contains(t, rec.tags(), audit.UserEmergencyExit)

	// The account cannot come back without an admin
	_, err = svc.Login(models.NewSession(), "user01", "1234")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestEmergencyExitWriteFailure(t *testing.T) {
	svc, store, rec := newTestService(candidate("user01", "1234"))
	store.saveErr = errors.New("read-only fs")

	_, err := svc.EmergencyExit(models.NewSession(), "user01")
	require.Error(t, err)
	assert.Equal(t, ReasonWriteFailed, Reason(err))
	assert.Equal(t, []audit.Tag{audit.UserEmergencyExitFailed}, rec.tags())
}

func TestUpdateUser(t *testing.T) {
	locked := candidate("user01", "1234")
	locked.Locked = true
	locked.Enabled = false
	svc, store, rec := newTestService(locked)

	enabled, unlocked := true, false
	view, err := svc.UpdateUser("user01", models.UserPatch{Enabled: &enabled, Locked: &unlocked})
	require.NoError(t, err)
	assert.Equal(t, "user01", view.ID)
	assert.True(t, view.Enabled)
	assert.False(t, view.Locked)
	assert.Equal(t, "1234", store.users["user01"].Password, "untouched fields survive")
	assert.Equal(t, []audit.Tag{audit.AdminUpdateUser}, rec.tags())

	_, err = svc.Login(models.NewSession(), "user01", "1234")
	assert.NoError(t, err)
}

func TestUpdateUserHashesPassword(t *testing.T) {
	svc, store, _ := newTestService(candidate("user01", "1234"))

	pw := "n3w"
	_, err := svc.UpdateUser("user01", models.UserPatch{Password: &pw})
	require.NoError(t, err)
	assert.NotEqual(t, "n3w", store.users["user01"].Password)
	assert.True(t, CheckPassword("n3w", store.users["user01"].Password))
}

func TestUpdateUserNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	enabled := true
	_, err := svc.UpdateUser("ghost", models.UserPatch{Enabled: &enabled})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateUserRejectsUnknownRole(t *testing.T) {
	svc, store, rec := newTestService(candidate("user01", "1234"))
	role := models.Role("root")

	_, err := svc.UpdateUser("user01", models.UserPatch{Role: &role})
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, ReasonInvalidRole, Reason(err))
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, models.RoleUser, store.users["user01"].Role)
	assert.Empty(t, rec.tags())
}

func TestListUsersHidesCredentials(t *testing.T) {
	svc, _, _ := newTestService(candidate("b", "x"), candidate("a", "y"))
	views := svc.ListUsers()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].ID)
	assert.Equal(t, "b", views[1].ID)
}

func TestInitializeAdmin(t *testing.T) {
	svc, store, _ := newTestService()
	require.NoError(t, svc.InitializeAdmin("supervisor", "pw"))
	admin := store.users["supervisor"]
	require.NotNil(t, admin)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, CheckPassword("pw", admin.Password))

	// Second call is a no-op
	require.NoError(t, svc.InitializeAdmin("other", "pw"))
	assert.Nil(t, store.users["other"])
}

func TestVerifyAdminPIN(t *testing.T) {
	svc, store, _ := newTestService()
	assert.False(t, svc.VerifyAdminPIN("anything"), "unset PIN never verifies")

	store.settings.AdminPassword = "2468"
	assert.True(t, svc.VerifyAdminPIN("2468"))
	assert.False(t, svc.VerifyAdminPIN("1357"))
	assert.False(t, svc.VerifyAdminPIN(""))
}
