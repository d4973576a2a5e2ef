package filter

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBlocked is returned for requests outside the whitelist
var ErrBlocked = errors.New("blocked by whitelist")

// Transport refuses to send non-whitelisted requests. Nothing is dialed for a
// blocked request.
type Transport struct {
	filter *Filter
	base   http.RoundTripper
}

// Transport wraps base (http.DefaultTransport when nil) with the filter
func (f *Filter) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{filter: f, base: base}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	d := t.filter.CheckURL(req.URL)
	t.filter.observe(d, req.URL.String(), LayerTransport)
	if !d.Allowed {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s", ErrBlocked, req.URL.Host)
	}
	return t.base.RoundTrip(req)
}
