package models

// Settings is the kiosk-wide record persisted in settings.json
type Settings struct {
	// AdminPassword is the supervisor PIN. It never leaves the trusted side.
	AdminPassword string `json:"adminPassword"`
	// StartURL is loaded into the content surface after a user login.
	StartURL string `json:"startURL,omitempty"`
}

// DefaultStartURL is used when settings carry no start page
const DefaultStartURL = "about:blank"

// EffectiveStartURL returns StartURL or the blank page
func (s Settings) EffectiveStartURL() string {
	if s.StartURL == "" {
		return DefaultStartURL
	}
	return s.StartURL
}
