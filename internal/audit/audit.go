// Package audit writes the append-only kiosk audit trail.
//
// Each record is one line: an RFC 3339 timestamp, an event tag and optional
// key=value pairs. Credentials are never passed in.
package audit

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tag identifies the kind of audited event
type Tag string

const (
	LoginSuccess               Tag = "LOGIN_SUCCESS"
	LoginFailed                Tag = "LOGIN_FAILED"
	LoginRefused               Tag = "LOGIN_REFUSED"
	WhitelistUpdated           Tag = "WHITELIST_UPDATED"
	AdminUpdateUser            Tag = "ADMIN_UPDATE_USER"
	SystemOfflineView          Tag = "SYSTEM_OFFLINE_VIEW"
	SystemOnlineView           Tag = "SYSTEM_ONLINE_VIEW"
	SystemEmergencyExitByAdmin Tag = "SYSTEM_EMERGENCY_EXIT_BY_ADMIN"
	UserEmergencyExit          Tag = "USER_EMERGENCY_EXIT"
	UserEmergencyExitFailed    Tag = "USER_EMERGENCY_EXIT_FAILED"
)

// Recorder is what the services depend on
type Recorder interface {
	Record(tag Tag, kv ...string) error
}

// Log appends records to a writer, one Write call per line
type Log struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	log zerolog.Logger
	now func() time.Time
}

// Open opens (or creates) the audit file in append mode
func Open(path string, log zerolog.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := New(f, log)
	l.c = f
	return l, nil
}

// New wraps an arbitrary writer
func New(w io.Writer, log zerolog.Logger) *Log {
	return &Log{
		w:   w,
		log: log.With().Str("component", "audit").Logger(),
		now: time.Now,
	}
}

// Record appends one line. kv is read as alternating keys and values;
// a trailing key without value is dropped.
func (l *Log) Record(tag Tag, kv ...string) error {
	line := l.format(tag, kv)

	l.mu.Lock()
	_, err := io.WriteString(l.w, line)
	l.mu.Unlock()

	ev := l.log.Info()
	if err != nil {
		ev = l.log.Error().Err(err)
	}
	ev.Str("tag", string(tag)).Strs("fields", kv).Msg("audit")

	return err
}

func (l *Log) format(tag Tag, kv []string) string {
	var b strings.Builder
	b.WriteString(l.now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(tag))
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(quote(kv[i+1]))
	}
	b.WriteByte('\n')
	return b.String()
}

// quote keeps values on one line and unambiguous
func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\r\n\"=") {
		return strconv.Quote(v)
	}
	return v
}

// Close closes the underlying file, if any
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}
