// Package shell connects the containment controller to the native window
// process. The shell owns the real window and content surface. It dials the
// bridge's /shell websocket, executes the commands it receives and reports
// window events back.
package shell

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"examkiosk/internal/kiosk"
)

// ErrAlreadyConnected is returned when a second shell tries to attach
var ErrAlreadyConnected = errors.New("shell already connected")

const writeTimeout = time.Second

// Command is one instruction sent to the shell
type Command struct {
	Op          string        `json:"op"`
	On          *bool         `json:"on,omitempty"`
	URL         string        `json:"url,omitempty"`
	Page        kiosk.Page    `json:"page,omitempty"`
	Bounds      *kiosk.Bounds `json:"bounds,omitempty"`
	Accelerator string        `json:"accelerator,omitempty"`
}

// Shell operations
const (
	OpSetKiosk        = "window.kiosk"
	OpSetFullScreen   = "window.fullscreen"
	OpShow            = "window.show"
	OpFocus           = "window.focus"
	OpMoveTop         = "window.move-top"
	OpSetAlwaysOnTop  = "window.always-on-top"
	OpLoadPage        = "window.load-page"
	OpAttachSurface   = "window.attach-surface"
	OpDetachSurface   = "window.detach-surface"
	OpDestroy         = "window.destroy"
	OpSurfaceBounds   = "surface.bounds"
	OpSurfaceLoadURL  = "surface.load-url"
	OpSurfaceLoadPage = "surface.load-page"
	OpSurfaceBack     = "surface.back"
	OpSurfaceForward  = "surface.forward"
	OpSurfaceReload   = "surface.reload"
	OpRegister        = "shortcut.register"
	OpUnregisterAll   = "shortcut.unregister-all"
)

// Event is one report from the shell
type Event struct {
	Type        string `json:"type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	URL         string `json:"url,omitempty"`
	Accelerator string `json:"accelerator,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Shell event types that are not window events
const (
	EventReady     = "ready"
	EventShortcut  = "shortcut"
	EventNavigated = "navigated"
	EventCrashed   = "crashed"
)

// Dispatcher receives the window events reported by the shell
type Dispatcher interface {
	Dispatch(ev kiosk.Event) error
}

var upgrader = websocket.Upgrader{
	// The bridge only listens on loopback and the route sits behind the
	// bridge token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Link implements kiosk.Window, kiosk.Surface and kiosk.ShortcutRegistry on
// top of the shell websocket. Commands issued before the shell connects are
// queued and flushed on connect.
type Link struct {
	mu sync.Mutex

	conn      *websocket.Conn
	queue     []Command
	width     int
	height    int
	shortcuts map[string]func()

	dispatch    Dispatcher
	onNavigated func(url string)
	log         zerolog.Logger
}

// NewLink creates an unconnected Link
func NewLink(log zerolog.Logger) *Link {
	return &Link{
		width:     1280,
		height:    800,
		shortcuts: make(map[string]func()),
		log:       log.With().Str("component", "shell").Logger(),
	}
}

// Bind sets where shell events go. It must be called before the shell
// connects.
func (l *Link) Bind(d Dispatcher, onNavigated func(url string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatch = d
	l.onNavigated = onNavigated
}

// Connected reports whether a shell is attached
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// ServeHTTP upgrades the shell connection and reads its events until it
// disconnects
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	busy := l.conn != nil
	l.mu.Unlock()
	if busy {
		http.Error(w, ErrAlreadyConnected.Error(), http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Error().Err(err).Msg("shell upgrade failed")
		return
	}

	if err := l.attach(conn); err != nil {
		l.log.Warn().Err(err).Msg("shell rejected")
		conn.Close()
		return
	}
	l.log.Info().Str("remote", r.RemoteAddr).Msg("shell connected")

	l.readLoop(conn)
}

func (l *Link) attach(conn *websocket.Conn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return ErrAlreadyConnected
	}
	l.conn = conn

	pending := l.queue
	l.queue = nil
	for _, cmd := range pending {
		if err := l.writeLocked(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warn().Err(err).Msg("shell read error")
			}
			l.dispatchEvent(kiosk.Event{Kind: kiosk.EventFatal, Reason: "shell disconnected"})
			return
		}
		l.handle(ev)
	}
}

func (l *Link) handle(ev Event) {
	switch ev.Type {
	case EventReady:
		l.setSize(ev.Width, ev.Height)
	case EventShortcut:
		l.mu.Lock()
		h := l.shortcuts[ev.Accelerator]
		l.mu.Unlock()
		if h != nil {
			h()
		}
	case EventNavigated:
		l.mu.Lock()
		cb := l.onNavigated
		l.mu.Unlock()
		if cb != nil {
			cb(ev.URL)
		}
	case EventCrashed:
		l.dispatchEvent(kiosk.Event{Kind: kiosk.EventFatal, Reason: ev.Reason})
	case string(kiosk.EventResize):
		l.setSize(ev.Width, ev.Height)
		l.dispatchEvent(kiosk.Event{Kind: kiosk.EventResize, Width: ev.Width, Height: ev.Height})
	case string(kiosk.EventBlur), string(kiosk.EventFocus), string(kiosk.EventLeaveFullScreen),
		string(kiosk.EventClose), string(kiosk.EventMinimize), string(kiosk.EventHide),
		string(kiosk.EventSessionEnd):
		l.dispatchEvent(kiosk.Event{Kind: kiosk.EventKind(ev.Type)})
	default:
		l.log.Debug().Str("type", ev.Type).Msg("unknown shell event")
	}
}

func (l *Link) dispatchEvent(ev kiosk.Event) {
	l.mu.Lock()
	d := l.dispatch
	l.mu.Unlock()
	if d == nil {
		return
	}
	if err := d.Dispatch(ev); err != nil && !errors.Is(err, kiosk.ErrTerminated) {
		l.log.Debug().Err(err).Str("event", string(ev.Kind)).Msg("shell event not applied")
	}
}

func (l *Link) setSize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	l.mu.Lock()
	l.width, l.height = w, h
	l.mu.Unlock()
}

// send writes cmd, or queues it while no shell is attached
func (l *Link) send(cmd Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		l.queue = append(l.queue, cmd)
		return
	}
	if err := l.writeLocked(cmd); err != nil {
		l.log.Error().Err(err).Str("op", cmd.Op).Msg("shell write failed")
	}
}

func (l *Link) writeLocked(cmd Command) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return l.conn.WriteJSON(cmd)
}

func flag(on bool) *bool { return &on }

// ============ kiosk.Window ============

func (l *Link) SetKiosk(on bool)       { l.send(Command{Op: OpSetKiosk, On: flag(on)}) }
func (l *Link) SetFullScreen(on bool)  { l.send(Command{Op: OpSetFullScreen, On: flag(on)}) }
func (l *Link) Show()                  { l.send(Command{Op: OpShow}) }
func (l *Link) Focus()                 { l.send(Command{Op: OpFocus}) }
func (l *Link) MoveTop()               { l.send(Command{Op: OpMoveTop}) }
func (l *Link) SetAlwaysOnTop(on bool) { l.send(Command{Op: OpSetAlwaysOnTop, On: flag(on)}) }
func (l *Link) LoadPage(p kiosk.Page)  { l.send(Command{Op: OpLoadPage, Page: p}) }
func (l *Link) AttachSurface()         { l.send(Command{Op: OpAttachSurface}) }
func (l *Link) DetachSurface()         { l.send(Command{Op: OpDetachSurface}) }

// Destroy asks the shell to close the window and drops the connection
func (l *Link) Destroy() {
	l.send(Command{Op: OpDestroy})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminated"),
			time.Now().Add(writeTimeout))
	}
}

// ContentSize returns the last size reported by the shell
func (l *Link) ContentSize() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.width, l.height
}

// ============ kiosk.Surface ============

func (l *Link) SetBounds(b kiosk.Bounds) { l.send(Command{Op: OpSurfaceBounds, Bounds: &b}) }
func (l *Link) LoadURL(url string)       { l.send(Command{Op: OpSurfaceLoadURL, URL: url}) }
func (l *Link) GoBack()                  { l.send(Command{Op: OpSurfaceBack}) }
func (l *Link) GoForward()               { l.send(Command{Op: OpSurfaceForward}) }
func (l *Link) Reload()                  { l.send(Command{Op: OpSurfaceReload}) }

// Surface returns the content surface view of the link. kiosk.Window and
// kiosk.Surface both declare LoadPage, so the surface gets its own type.
func (l *Link) Surface() kiosk.Surface { return surface{l} }

type surface struct{ *Link }

func (s surface) LoadPage(p kiosk.Page) { s.send(Command{Op: OpSurfaceLoadPage, Page: p}) }

// ============ kiosk.ShortcutRegistry ============

// Register asks the shell to grab accelerator and routes presses to handler
func (l *Link) Register(accelerator string, handler func()) error {
	if accelerator == "" {
		return errors.New("empty accelerator")
	}
	l.mu.Lock()
	l.shortcuts[accelerator] = handler
	l.mu.Unlock()

	l.send(Command{Op: OpRegister, Accelerator: accelerator})
	return nil
}

// UnregisterAll releases every grabbed shortcut
func (l *Link) UnregisterAll() {
	l.mu.Lock()
	l.shortcuts = make(map[string]func())
	l.mu.Unlock()

	l.send(Command{Op: OpUnregisterAll})
}
