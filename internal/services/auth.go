package services

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"examkiosk/internal/audit"
	"examkiosk/internal/metrics"
	"examkiosk/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUserNotFound       = errors.New("user not found")
	ErrNoCurrentUser      = errors.New("no current user")
	ErrInvalidRole        = errors.New("invalid role")
)

// Reason codes handed back to the UI layer
const (
	ReasonInvalid       = "invalid"
	ReasonLocked        = "locked"
	ReasonDisabled      = "disabled"
	ReasonNotFound      = "not-found"
	ReasonNoCurrentUser = "no-current-user"
	ReasonInvalidRole   = "invalid-role"
	ReasonWriteFailed   = "write-failed"
)

// Reason maps a service error to its reason code
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonInvalid
	case errors.Is(err, ErrAccountLocked):
		return ReasonLocked
	case errors.Is(err, ErrAccountDisabled):
		return ReasonDisabled
	case errors.Is(err, ErrUserNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrNoCurrentUser):
		return ReasonNoCurrentUser
	case errors.Is(err, ErrInvalidRole):
		return ReasonInvalidRole
	default:
		return ReasonWriteFailed
	}
}

// Store is the slice of the config store the auth service needs
type Store interface {
	GetUser(id string) *models.User
	ListUsers() []*models.User
	SaveUser(user *models.User) error
	UserCount() int
	Settings() models.Settings
}

// AuthService handles authentication
type AuthService struct {
	store Store
	audit audit.Recorder
	log   zerolog.Logger
	now   func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(store Store, rec audit.Recorder, log zerolog.Logger) *AuthService {
	return &AuthService{
		store: store,
		audit: rec,
		log:   log.With().Str("component", "auth").Logger(),
		now:   time.Now,
	}
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a credential against a stored value. Stored values
// are bcrypt hashes; anything else is a legacy clear credential and is
// compared in constant time.
func CheckPassword(credential, stored string) bool {
	if stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(credential)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(stored)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// InitializeAdmin creates the first admin account if the store has no users
func (a *AuthService) InitializeAdmin(id, password string) error {
	if a.store.UserCount() > 0 {
		return nil
	}
	if id == "" || password == "" {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	admin := &models.User{
		ID:       id,
		Password: hash,
		Role:     models.RoleAdmin,
		Enabled:  true,
	}
	if err := a.store.SaveUser(admin); err != nil {
		return err
	}
	a.log.Info().Str("id", id).Msg("bootstrap admin created")
	return nil
}

// Login verifies credentials and, on success, starts the session. The
// credential is checked before the account flags so a wrong password never
// reveals whether an account is locked.
func (a *AuthService) Login(sess *models.Session, id, credential string) (*models.User, error) {
	user := a.store.GetUser(id)
	if user == nil || !CheckPassword(credential, user.Password) {
		a.record(audit.LoginFailed, "id", id)
		metrics.LoginAttemptsTotal.WithLabelValues(ReasonInvalid).Inc()
		return nil, ErrInvalidCredentials
	}

	if user.Locked {
		a.record(audit.LoginRefused, "id", id, "reason", ReasonLocked)
		metrics.LoginAttemptsTotal.WithLabelValues(ReasonLocked).Inc()
		return nil, ErrAccountLocked
	}
	if !user.Enabled {
		a.record(audit.LoginRefused, "id", id, "reason", ReasonDisabled)
		metrics.LoginAttemptsTotal.WithLabelValues(ReasonDisabled).Inc()
		return nil, ErrAccountDisabled
	}
	if !user.Role.Valid() {
		a.log.Warn().Str("id", id).Str("role", string(user.Role)).Msg("account has an unknown role")
		a.record(audit.LoginFailed, "id", id)
		metrics.LoginAttemptsTotal.WithLabelValues(ReasonInvalid).Inc()
		return nil, ErrInvalidCredentials
	}

	now := a.now().UTC()
	user.LastLogin = &now
	if err := a.store.SaveUser(user); err != nil {
		// The candidate still gets in; the stamp is bookkeeping
		a.log.Warn().Err(err).Str("id", id).Msg("failed to persist last login")
	}

	sess.Begin(uuid.NewString(), user.ID, user.Role, now)
	a.record(audit.LoginSuccess, "id", id, "role", string(user.Role))
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()

	return user, nil
}

// EmergencyExit locks and disables the account named by id, or the active
// session's account when id is empty. It does not tear anything down; the
// caller terminates the kiosk afterwards.
func (a *AuthService) EmergencyExit(sess *models.Session, id string) (string, error) {
	target := id
	if target == "" {
		target = sess.UserID()
	}
	if target == "" {
		a.record(audit.UserEmergencyExitFailed, "reason", ReasonNoCurrentUser)
		return "", ErrNoCurrentUser
	}

	user := a.store.GetUser(target)
	if user == nil {
		a.record(audit.UserEmergencyExitFailed, "id", target, "reason", ReasonNotFound)
		return target, ErrUserNotFound
	}

	now := a.now().UTC()
	user.Locked = true
	user.Enabled = false
	user.LastExit = &now

	if err := a.store.SaveUser(user); err != nil {
		a.record(audit.UserEmergencyExitFailed, "id", target, "reason", ReasonWriteFailed)
		return target, fmt.Errorf("lock %s: %w", target, err)
	}

	a.record(audit.UserEmergencyExit, "id", target)
	return target, nil
}

// ListUsers returns every account without credentials, ordered by id
func (a *AuthService) ListUsers() []models.UserView {
	users := a.store.ListUsers()
	views := make([]models.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// UpdateUser merges patch into the account. A new password is stored hashed.
func (a *AuthService) UpdateUser(id string, patch models.UserPatch) (*models.UserView, error) {
	user := a.store.GetUser(id)
	if user == nil {
		return nil, ErrUserNotFound
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return nil, ErrInvalidRole
	}

	var changed []string
	if patch.Password != nil {
		hash, err := HashPassword(*patch.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hash
		changed = append(changed, "password")
	}
	if patch.Role != nil {
		user.Role = *patch.Role
		changed = append(changed, "role")
	}
	if patch.Enabled != nil {
		user.Enabled = *patch.Enabled
		changed = append(changed, "enabled")
	}
	if patch.Locked != nil {
		user.Locked = *patch.Locked
		changed = append(changed, "locked")
	}
	if patch.LastLogin != nil {
		t := *patch.LastLogin
		user.LastLogin = &t
		changed = append(changed, "lastLogin")
	}
	if patch.LastExit != nil {
		t := *patch.LastExit
		user.LastExit = &t
		changed = append(changed, "lastExit")
	}

	if err := a.store.SaveUser(user); err != nil {
		return nil, err
	}

	a.record(audit.AdminUpdateUser, "id", id, "fields", strings.Join(changed, ","))
	view := user.View()
	return &view, nil
}

// VerifyAdminPIN checks the supervisor PIN from settings in constant time.
// An unset PIN never verifies.
func (a *AuthService) VerifyAdminPIN(pin string) bool {
	want := a.store.Settings().AdminPassword
	if want == "" || pin == "" {
		return false
	}
	return CheckPassword(pin, want)
}

// record appends to the audit log; failures are already logged by the recorder
func (a *AuthService) record(tag audit.Tag, kv ...string) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Record(tag, kv...); err != nil {
		a.log.Warn().Err(err).Str("tag", string(tag)).Msg("audit append failed")
	}
}
