package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"examkiosk/internal/models"
)

const (
	UsersFile     = "users.json"
	WhitelistFile = "whitelist.json"
	SettingsFile  = "settings.json"
)

// ErrWrite wraps every persistence failure so callers can report it uniformly
var ErrWrite = errors.New("storage write failed")

// Storage handles all data persistence using JSON files
type Storage struct {
	dataDir string
	log     zerolog.Logger
	mu      sync.RWMutex

	// In-memory cache
	users     []*models.User
	whitelist []string
	settings  models.Settings
}

// New creates a new Storage instance
func New(dataDir string, log zerolog.Logger) (*Storage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	s := &Storage{
		dataDir:   dataDir,
		log:       log.With().Str("component", "storage").Logger(),
		users:     make([]*models.User, 0),
		whitelist: make([]string, 0),
	}

	s.mu.Lock()
	s.loadUsers()
	s.loadWhitelist()
	s.loadSettings()
	s.mu.Unlock()

	return s, nil
}

// Reload re-reads one data file from disk. Unknown names are ignored.
func (s *Storage) Reload(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch filename {
	case UsersFile:
		s.loadUsers()
	case WhitelistFile:
		s.loadWhitelist()
	case SettingsFile:
		s.loadSettings()
	}
}

// readJSON decodes a data file. A missing file is not an error.
func (s *Storage) readJSON(filename string, v interface{}) (bool, error) {
	data, err := os.ReadFile(s.filePath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filename, err)
	}
	return true, nil
}

// loadUsers must be called with mu held. Read failures keep the previous
// cache, which is empty at startup.
func (s *Storage) loadUsers() {
	var users []*models.User
	found, err := s.readJSON(UsersFile, &users)
	if err != nil {
		s.log.Warn().Err(err).Str("file", UsersFile).Msg("failed to read users, keeping previous records")
		return
	}
	if !found {
		return
	}

	// Drop null entries and duplicate ids; first occurrence wins
	seen := make(map[string]bool, len(users))
	clean := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u == nil || u.ID == "" || seen[u.ID] {
			continue
		}
		u.Role = models.Role(strings.ToLower(strings.TrimSpace(string(u.Role))))
		if u.Role == "" {
			u.Role = models.RoleUser
		}
		if !u.Role.Valid() {
			s.log.Warn().Str("id", u.ID).Str("role", string(u.Role)).Msg("dropping user with unknown role")
			continue
		}
		seen[u.ID] = true
		clean = append(clean, u)
	}
	s.users = clean
}

// loadWhitelist must be called with mu held
func (s *Storage) loadWhitelist() {
	var list []string
	found, err := s.readJSON(WhitelistFile, &list)
	if err != nil {
		s.log.Warn().Err(err).Str("file", WhitelistFile).Msg("failed to read whitelist, keeping previous entries")
		return
	}
	if !found {
		return
	}
	if list == nil {
		list = make([]string, 0)
	}
	s.whitelist = list
}

// loadSettings must be called with mu held
func (s *Storage) loadSettings() {
	var settings models.Settings
	found, err := s.readJSON(SettingsFile, &settings)
	if err != nil {
		s.log.Warn().Err(err).Str("file", SettingsFile).Msg("failed to read settings, keeping previous values")
		return
	}
	if !found {
		return
	}
	s.settings = settings
}

// filePath returns the full path for a data file
func (s *Storage) filePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

// saveFile atomically writes data to a JSON file
func (s *Storage) saveFile(filename string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, filename, err)
	}

	path := s.filePath(filename)
	tmpPath := path + ".tmp"

	// Write to temp file first
	if err := os.WriteFile(tmpPath, jsonData, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// ============ User Methods ============

// ListUsers returns copies of all users
func (s *Storage) ListUsers() []*models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.User, len(s.users))
	for i, u := range s.users {
		result[i] = u.Clone()
	}
	return result
}

// GetUser returns a copy of the user with this id, or nil
func (s *Storage) GetUser(id string) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			return u.Clone()
		}
	}
	return nil
}

// SaveUser saves or updates a user. The cache only changes if the write succeeds.
func (s *Storage) SaveUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*models.User, len(s.users), len(s.users)+1)
	copy(next, s.users)

	// Update existing or append
	found := false
	for i, u := range next {
		if u.ID == user.ID {
			next[i] = user.Clone()
			found = true
			break
		}
	}
	if !found {
		next = append(next, user.Clone())
	}

	if err := s.saveFile(UsersFile, next); err != nil {
		return err
	}
	s.users = next
	return nil
}

// UserCount returns the number of users
func (s *Storage) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// ============ Whitelist Methods ============

// Whitelist returns a copy of the current whitelist entries in order
func (s *Storage) Whitelist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.whitelist))
	copy(result, s.whitelist)
	return result
}

// ReplaceWhitelist persists a new whitelist and swaps the cache
func (s *Storage) ReplaceWhitelist(entries []string) error {
	next := make([]string, 0, len(entries))
	next = append(next, entries...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveFile(WhitelistFile, next); err != nil {
		return err
	}
	s.whitelist = next
	return nil
}

// ============ Settings Methods ============

// Settings returns the current settings record
func (s *Storage) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
