package models

import (
	"sync"
	"time"
)

// Session is the single active identity of a running kiosk. There is exactly
// one per process; it is owned by the command router and handed to the auth
// service and containment controller explicitly.
type Session struct {
	mu sync.RWMutex

	id          string
	userID      string
	role        Role
	targetURL   string
	pinVerified bool
	startedAt   time.Time
}

// SessionSnapshot is a point-in-time copy of the session fields
type SessionSnapshot struct {
	ID          string    `json:"sessionId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	Role        Role      `json:"role,omitempty"`
	TargetURL   string    `json:"targetUrl,omitempty"`
	PINVerified bool      `json:"pinVerified"`
	StartedAt   time.Time `json:"startedAt"`
}

// NewSession returns an empty (unauthenticated) session
func NewSession() *Session {
	return &Session{}
}

// Begin sets the active identity. Any previous identity is replaced.
func (s *Session) Begin(sessionID, userID string, role Role, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = sessionID
	s.userID = userID
	s.role = role
	s.targetURL = ""
	s.pinVerified = false
	s.startedAt = now
}

// Clear drops the active identity
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = ""
	s.userID = ""
	s.role = ""
	s.targetURL = ""
	s.pinVerified = false
	s.startedAt = time.Time{}
}

// Active returns true if a user is logged in
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID != ""
}

// UserID returns the active user id, or "" when unauthenticated
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Role returns the active role, or "" when unauthenticated
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetTarget records the last successfully loaded in-session URL
func (s *Session) SetTarget(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		return
	}
	s.targetURL = url
}

// Target returns the URL to resume after an offline period
func (s *Session) Target() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetURL
}

// MarkPINVerified elevates the active session after a supervisor PIN check
func (s *Session) MarkPINVerified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		return
	}
	s.pinVerified = true
}

// Privileged returns true for admin sessions and PIN-elevated sessions
func (s *Session) Privileged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID != "" && (s.role == RoleAdmin || s.pinVerified)
}

// Snapshot copies the current fields
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		ID:          s.id,
		UserID:      s.userID,
		Role:        s.role,
		TargetURL:   s.targetURL,
		PINVerified: s.pinVerified,
		StartedAt:   s.startedAt,
	}
}
