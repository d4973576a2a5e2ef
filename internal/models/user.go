package models

import "time"

// Role is the access level of a kiosk account
type Role string

const (
	RoleUser  Role = "user"  // Exam candidate, gets the filtered content surface
	RoleAdmin Role = "admin" // Supervisor, gets the configuration page
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a kiosk account as persisted in users.json
type User struct {
	ID        string     `json:"id"`
	Password  string     `json:"password"` // bcrypt hash, or a legacy clear credential
	Role      Role       `json:"role"`
	Enabled   bool       `json:"enabled"`
	Locked    bool       `json:"locked"`
	LastLogin *time.Time `json:"lastLogin"`
	LastExit  *time.Time `json:"lastExit"`
}

// Clone returns a deep copy so callers never alias the store's cache
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.LastExit != nil {
		t := *u.LastExit
		c.LastExit = &t
	}
	return &c
}

// View strips the credential for anything leaving the trusted side
func (u *User) View() UserView {
	return UserView{
		ID:        u.ID,
		Role:      u.Role,
		Enabled:   u.Enabled,
		Locked:    u.Locked,
		LastLogin: u.LastLogin,
		LastExit:  u.LastExit,
	}
}

// UserView is a User without its credential
type UserView struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Enabled   bool       `json:"enabled"`
	Locked    bool       `json:"locked"`
	LastLogin *time.Time `json:"lastLogin"`
	LastExit  *time.Time `json:"lastExit"`
}

// UserPatch carries the fields an admin update may change. Nil means untouched.
// The id is deliberately absent: it is immutable.
type UserPatch struct {
	Password  *string    `json:"password,omitempty" validate:"omitempty,min=1"`
	Role      *Role      `json:"role,omitempty" validate:"omitempty,oneof=user admin"`
	Enabled   *bool      `json:"enabled,omitempty"`
	Locked    *bool      `json:"locked,omitempty"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	LastExit  *time.Time `json:"lastExit,omitempty"`
}

// IsEmpty returns true if the patch changes nothing
func (p UserPatch) IsEmpty() bool {
	return p.Password == nil && p.Role == nil && p.Enabled == nil &&
		p.Locked == nil && p.LastLogin == nil && p.LastExit == nil
}
