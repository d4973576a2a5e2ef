package filter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is a whitelist that can be swapped between calls
type memSource struct {
	mu      sync.Mutex
	entries []string
}

func (m *memSource) Whitelist() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memSource) set(entries ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
}

func newFilter(entries ...string) (*Filter, *memSource) {
	src := &memSource{entries: entries}
	return New(src, zerolog.Nop()), src
}

func TestCheckMatching(t *testing.T) {
	f, _ := newFilter(
		"example.com",
		"*.wildcard.net",
		"https://Docs.Example.org/Course/",
		"Not A Domain",
		"",
		"localhost:8080",
	)

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://example.com", true},
		{"http://example.com/any/path?q=1", true},
		{"https://EXAMPLE.COM/", true},
		{"https://sub.example.com/x", true},
		{"https://a.b.example.com", true},
		{"https://example.com.:443/", true},
		{"https://notexample.com", false},
		{"https://example.com.evil.io", false},
		{"https://example.co", false},
		{"https://wildcard.net", true},
		{"https://x.wildcard.net", true},
		{"https://docs.example.org/course", true},
		{"https://docs.example.org/course/unit-1", true},
		{"https://docs.example.org/COURSE/unit-1", true},
		{"https://docs.example.org/courseware", false},
		{"https://docs.example.org/", false},
		{"http://localhost:3000/", true},
		{"https://example.com@evil.io/", false},
		{"ftp://example.com/file", false},
		{"file:///etc/passwd", false},
		{"javascript:alert(1)", false},
		{"about:blank", true},
		{"about:config", false},
		{"https:///nohost", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.allowed, f.Check(tt.url).Allowed)
		})
	}
}

func TestCheckReportsEntryAndReason(t *testing.T) {
	f, _ := newFilter("bad entry", "example.com")

	d := f.Check("https://www.example.com/")
	assert.True(t, d.Allowed)
	assert.Equal(t, "example.com", d.Entry)
	assert.Equal(t, "www.example.com", d.Host)

	d = f.Check("https://other.org/")
	assert.False(t, d.Allowed)
	assert.Equal(t, "not whitelisted", d.Reason)
}

func TestEmptyWhitelistDeniesEverything(t *testing.T) {
	f, _ := newFilter()
	assert.False(t, f.Allowed("https://example.com", LayerNavigate))
	assert.True(t, f.Allowed("about:blank", LayerNavigate))
}

func TestUpdateTakesEffectImmediately(t *testing.T) {
	f, src := newFilter("example.com")
	require.True(t, f.Allowed("https://example.com", LayerNavigate))
	require.False(t, f.Allowed("https://exam.org", LayerNavigate))

	src.set("exam.org")
	assert.False(t, f.Allowed("https://example.com", LayerNavigate))
	assert.True(t, f.Allowed("https://exam.org", LayerNavigate))
}

func TestAllowedHostIgnoresPaths(t *testing.T) {
	f, _ := newFilter("docs.example.org/course")
	assert.True(t, f.AllowedHost("docs.example.org:443", LayerProxy))
	assert.True(t, f.AllowedHost("cdn.docs.example.org", LayerProxy))
	assert.False(t, f.AllowedHost("example.org:443", LayerProxy))
	assert.False(t, f.AllowedHost("", LayerProxy))
}

type countingTransport struct{ calls int }

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestTransportBlocksWithoutDialing(t *testing.T) {
	f, _ := newFilter("example.com")
	base := &countingTransport{}
	client := &http.Client{Transport: f.Transport(base)}

	_, err := client.Get("https://blocked.org/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 0, base.calls)

	resp, err := client.Get("https://www.example.com/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, base.calls)
}

func TestProxyForwardsWhitelistedRequests(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		io.WriteString(w, "hello "+r.URL.Path)
	}))
	defer backend.Close()

	f, src := newFilter("127.0.0.1")
	proxy := NewProxy(f, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, backend.URL+"/exam", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello /exam", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))

	src.set("example.com")
	rec = httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, backend.URL+"/exam", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxyRejectsRelativeRequests(t *testing.T) {
	f, _ := newFilter("example.com")
	proxy := NewProxy(f, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/relative", nil)
	req.URL.Scheme = ""
	req.URL.Host = ""
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyDeniesConnectToUnlistedHost(t *testing.T) {
	f, _ := newFilter("example.com")
	proxy := NewProxy(f, zerolog.Nop())

	req := httptest.NewRequest(http.MethodConnect, "http://evil.io:443", nil)
	req.Host = "evil.io:443"
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxyLimitsTunnelPorts(t *testing.T) {
	f, _ := newFilter("example.com")
	proxy := NewProxy(f, zerolog.Nop())

	tests := []struct {
		target string
		code   int
	}{
		{"example.com:22", http.StatusForbidden},
		{"example.com:8443", http.StatusForbidden},
		{"example.com", http.StatusForbidden},
		// Passes the checks; the recorder cannot be hijacked
		{"example.com:443", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodConnect, "http://"+tt.target, nil)
			req.Host = tt.target
			rec := httptest.NewRecorder()
			proxy.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}
