package filter

import (
	"net/url"
	"regexp"
	"strings"
)

// SearchURL receives free-text input from the address bar
const SearchURL = "https://www.google.com/search?q="

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL turns address-bar input into a loadable URL. Input with an
// http(s) scheme is returned as is, input containing a dot is treated as a
// bare host, anything else becomes a search query. Empty input yields "".
// The result of a second call on the output is the output itself.
func NormalizeURL(raw string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		return ""
	}
	if schemePattern.MatchString(target) {
		return target
	}
	if strings.Contains(target, ".") {
		return "https://" + target
	}
	return SearchURL + escapeComponent(target)
}

// escapeComponent percent-encodes a query value with spaces as %20
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
