// Package filter enforces the kiosk whitelist on everything the content
// surface loads.
//
// An entry names a domain, optionally with a scheme (ignored), a leading "*."
// (same as the bare domain) or a path prefix. A domain entry admits the domain
// itself and every subdomain on a label boundary: "example.com" admits
// "example.com" and "a.b.example.com" but never "notexample.com". An entry
// with a path additionally requires the request path to start with it on a
// segment boundary. Everything is compared case-insensitively. Entries with no
// usable host are ignored.
package filter

import (
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"examkiosk/internal/metrics"
)

// Enforcement layers, used as metric labels
const (
	LayerNavigate  = "navigate"
	LayerTransport = "transport"
	LayerProxy     = "proxy"
)

// BlankPage is always loadable, it is where a user session starts
const BlankPage = "about:blank"

// WhitelistSource supplies the current entries. It is consulted on every
// decision so an admin update takes effect on the very next request.
type WhitelistSource interface {
	Whitelist() []string
}

// Decision is the verdict for one request
type Decision struct {
	Allowed bool
	Host    string
	Entry   string // matching entry when allowed
	Reason  string // why it was denied
}

// Filter decides allow/deny against the whitelist
type Filter struct {
	source WhitelistSource
	log    zerolog.Logger
}

// New creates a Filter reading entries from source
func New(source WhitelistSource, log zerolog.Logger) *Filter {
	return &Filter{
		source: source,
		log:    log.With().Str("component", "filter").Logger(),
	}
}

// Check evaluates a raw URL
func (f *Filter) Check(rawURL string) Decision {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Decision{Reason: "unparseable url"}
	}
	return f.CheckURL(u)
}

// CheckURL evaluates a parsed URL
func (f *Filter) CheckURL(u *url.URL) Decision {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "about":
		if strings.EqualFold(u.Opaque, "blank") {
			return Decision{Allowed: true, Entry: BlankPage}
		}
		return Decision{Reason: "scheme not allowed"}
	default:
		return Decision{Reason: "scheme not allowed"}
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return Decision{Reason: "missing host"}
	}
	path := strings.ToLower(u.EscapedPath())

	for _, entry := range f.source.Whitelist() {
		r, ok := parseEntry(entry)
		if !ok {
			continue
		}
		if hostMatches(host, r.host) && pathMatches(path, r.path) {
			return Decision{Allowed: true, Host: host, Entry: entry}
		}
	}
	return Decision{Host: host, Reason: "not whitelisted"}
}

// Allowed reports the verdict for rawURL and records it against layer
func (f *Filter) Allowed(rawURL, layer string) bool {
	d := f.Check(rawURL)
	f.observe(d, rawURL, layer)
	return d.Allowed
}

// AllowedHost decides on a bare host, ignoring entry paths. It serves CONNECT
// tunnels where only the host is visible.
func (f *Filter) AllowedHost(host, layer string) bool {
	h := normalizeHost(host)
	d := Decision{Host: h, Reason: "not whitelisted"}
	if h == "" {
		d.Reason = "missing host"
	} else {
		for _, entry := range f.source.Whitelist() {
			r, ok := parseEntry(entry)
			if ok && hostMatches(h, r.host) {
				d = Decision{Allowed: true, Host: h, Entry: entry}
				break
			}
		}
	}
	f.observe(d, host, layer)
	return d.Allowed
}

func (f *Filter) observe(d Decision, target, layer string) {
	if d.Allowed {
		metrics.FilterDecisionsTotal.WithLabelValues("allow", layer).Inc()
		return
	}
	metrics.FilterDecisionsTotal.WithLabelValues("deny", layer).Inc()
	f.log.Debug().
		Str("layer", layer).
		Str("host", d.Host).
		Str("reason", d.Reason).
		Str("target", target).
		Msg("request blocked")
}

type rule struct {
	host string
	path string // "" admits every path
}

// parseEntry turns a whitelist string into a rule. Arbitrary strings are
// tolerated and simply never match.
func parseEntry(entry string) (rule, bool) {
	e := strings.ToLower(strings.TrimSpace(entry))
	if e == "" {
		return rule{}, false
	}
	if !strings.Contains(e, "://") {
		e = "http://" + e
	}
	u, err := url.Parse(e)
	if err != nil {
		return rule{}, false
	}
	host := normalizeHost(strings.TrimPrefix(u.Hostname(), "*."))
	if host == "" || strings.ContainsAny(host, "*/ ") {
		return rule{}, false
	}
	return rule{
		host: host,
		path: strings.TrimRight(u.EscapedPath(), "/"),
	}, true
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.Trim(h, "[]")
	return strings.TrimSuffix(h, ".")
}

// hostMatches is an exact or subdomain match on a label boundary
func hostMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

// pathMatches is a prefix match on a path segment boundary
func pathMatches(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
