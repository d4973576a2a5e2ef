package kiosk

// Blocked shortcut groups. Some OS-level combinations cannot be grabbed on
// every platform; registration failures are logged and skipped.
var (
	reloadShortcuts     = []string{"CommandOrControl+R", "CommandOrControl+Shift+R", "F5"}
	newWindowShortcuts  = []string{"CommandOrControl+N", "CommandOrControl+Shift+N", "CommandOrControl+T"}
	devToolsShortcuts   = []string{"CommandOrControl+Shift+I", "CommandOrControl+Alt+I", "CommandOrControl+Shift+J", "F12"}
	fullScreenShortcuts = []string{"F11", "CommandOrControl+Control+F"}
	closeShortcuts      = []string{"CommandOrControl+W", "Alt+F4"}
	quitShortcuts       = []string{"CommandOrControl+Q"}
	appSwitchShortcuts  = []string{"Alt+Tab", "Alt+Shift+Tab", "Command+Tab", "Super+Tab", "Alt+Escape"}
)

// DefaultForceQuit is the operator escape hatch
const DefaultForceQuit = "CommandOrControl+Shift+Q"

// DefaultBlockedShortcuts returns every combination rendered inert
func DefaultBlockedShortcuts() []string {
	var all []string
	for _, group := range [][]string{
		reloadShortcuts,
		newWindowShortcuts,
		devToolsShortcuts,
		fullScreenShortcuts,
		closeShortcuts,
		quitShortcuts,
		appSwitchShortcuts,
	} {
		all = append(all, group...)
	}
	return all
}
