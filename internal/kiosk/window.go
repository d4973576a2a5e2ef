package kiosk

import "time"

// Page is a static page bundled with the shell
type Page string

const (
	PageLogin   Page = "login"
	PageAdmin   Page = "admin"
	PageOffline Page = "offline"
)

// Bounds positions the content surface inside the window, in pixels
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Window is the top-level application window. Only the Controller calls it.
type Window interface {
	SetKiosk(on bool)
	SetFullScreen(on bool)
	Show()
	Focus()
	MoveTop()
	SetAlwaysOnTop(on bool)
	ContentSize() (width, height int)
	LoadPage(p Page)
	AttachSurface()
	DetachSurface()
	Destroy()
}

// Surface is the single supervised browsing area. Its network context is
// pinned to the filtering proxy when the shell creates it.
type Surface interface {
	SetBounds(b Bounds)
	LoadURL(url string)
	LoadPage(p Page)
	GoBack()
	GoForward()
	Reload()
}

// ShortcutRegistry intercepts global key combinations at the OS layer
type ShortcutRegistry interface {
	Register(accelerator string, handler func()) error
	UnregisterAll()
}

// Terminator ends the process
type Terminator interface {
	Exit(code int)
}

// Timer is a pending scheduled call
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d on another goroutine
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
