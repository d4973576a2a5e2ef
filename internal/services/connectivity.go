package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"examkiosk/internal/metrics"
)

// Prober answers whether the network is reachable right now
type Prober interface {
	Online(ctx context.Context) bool
}

// HTTPProber treats any HTTP response from the probe URL as online
type HTTPProber struct {
	client *resty.Client
	url    string
}

// NewHTTPProber creates a prober with a per-request timeout
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.NoRedirectPolicy())
	return &HTTPProber{client: client, url: url}
}

// Online implements Prober
func (p *HTTPProber) Online(ctx context.Context) bool {
	resp, err := p.client.R().SetContext(ctx).Head(p.url)
	if err != nil {
		// NoRedirectPolicy surfaces redirects as errors, but a redirect still
		// proves the network is up
		return resp != nil && resp.RawResponse != nil
	}
	return true
}

// ConnectivityMonitor periodically samples the network and reports only the
// changes: a run of identical samples fires nothing.
type ConnectivityMonitor struct {
	prober   Prober
	interval time.Duration
	onChange func(online bool)
	log      zerolog.Logger

	mu    sync.Mutex
	known bool
	last  bool

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewConnectivityMonitor creates a new ConnectivityMonitor
func NewConnectivityMonitor(prober Prober, interval time.Duration, onChange func(online bool), log zerolog.Logger) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		prober:   prober,
		interval: interval,
		onChange: onChange,
		log:      log.With().Str("component", "connectivity").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the polling loop
func (m *ConnectivityMonitor) Start() {
	ticker := time.NewTicker(m.interval)
	go func() {
		defer close(m.doneChan)
		m.tick()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-m.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
	m.log.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
}

// Stop stops the polling loop
func (m *ConnectivityMonitor) Stop() {
	close(m.stopChan)
	<-m.doneChan
	m.log.Info().Msg("connectivity monitor stopped")
}

// tick performs one probe
func (m *ConnectivityMonitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	m.Observe(m.prober.Online(ctx))
}

// Online returns the last sampled status. Before the first sample the
// network is assumed up.
func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.known || m.last
}

// Observe feeds one sample and reports whether it was a transition. The
// first sample only establishes the baseline.
func (m *ConnectivityMonitor) Observe(online bool) bool {
	m.mu.Lock()
	if !m.known {
		m.known = true
		m.last = online
		m.mu.Unlock()
		return false
	}
	if online == m.last {
		m.mu.Unlock()
		return false
	}
	m.last = online
	m.mu.Unlock()

	to := "offline"
	if online {
		to = "online"
	}
	metrics.ConnectivityTransitionsTotal.WithLabelValues(to).Inc()
	m.log.Info().Str("to", to).Msg("connectivity changed")

	if m.onChange != nil {
		m.onChange(online)
	}
	return true
}
