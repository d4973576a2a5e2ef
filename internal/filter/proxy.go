package filter

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hop-by-hop headers, removed before forwarding
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// tunnelPorts are the only ports a CONNECT tunnel may reach
var tunnelPorts = map[string]bool{"443": true, "80": true}

// Proxy is the forward proxy the content surface's network context is pinned
// to. Plain HTTP requests go through the filtering Transport and are checked
// against the full URL. CONNECT tunnels can only be checked by host, so
// path-scoped entries are enforced at navigation.
type Proxy struct {
	filter    *Filter
	transport http.RoundTripper
	dialer    *net.Dialer
	log       zerolog.Logger
}

// NewProxy creates a filtering forward proxy
func NewProxy(f *Filter, log zerolog.Logger) *Proxy {
	return &Proxy{
		filter: f,
		transport: f.Transport(&http.Transport{
			Proxy:                 nil,
			MaxIdleConns:          32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		}),
		dialer: &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		log:    log.With().Str("component", "proxy").Logger(),
	}
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.tunnel(w, r)
		return
	}

	if !r.URL.IsAbs() {
		http.Error(w, "proxy requires an absolute url", http.StatusBadRequest)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	removeHopHeaders(out.Header)

	resp, err := p.transport.RoundTrip(out)
	if errors.Is(err, ErrBlocked) {
		http.Error(w, "blocked", http.StatusForbidden)
		return
	}
	if err != nil {
		p.log.Debug().Err(err).Str("url", r.URL.String()).Msg("upstream request failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// tunnel handles CONNECT for TLS traffic
func (p *Proxy) tunnel(w http.ResponseWriter, r *http.Request) {
	if _, port, err := net.SplitHostPort(r.Host); err != nil || !tunnelPorts[port] {
		p.log.Debug().Str("target", r.Host).Msg("tunnel port refused")
		http.Error(w, "blocked", http.StatusForbidden)
		return
	}
	if !p.filter.AllowedHost(r.Host, LayerProxy) {
		http.Error(w, "blocked", http.StatusForbidden)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "tunneling not supported", http.StatusInternalServerError)
		return
	}

	upstream, err := p.dialer.DialContext(r.Context(), "tcp", r.Host)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	client, _, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	var once sync.Once
	closeBoth := func() {
		client.Close()
		upstream.Close()
	}
	go func() {
		io.Copy(upstream, client)
		once.Do(closeBoth)
	}()
	go func() {
		io.Copy(client, upstream)
		once.Do(closeBoth)
	}()
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
