// Package metrics defines the Prometheus metrics exported by the kiosk on the
// bridge's /metrics endpoint. Metric names, labels and help strings live here
// and nowhere else.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "examkiosk"

// LoginAttemptsTotal counts login outcomes.
// Label:
//   - outcome: "success", "invalid", "locked", "disabled" or "error"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// FilterDecisionsTotal counts request filter verdicts.
// Labels:
//   - decision: "allow" or "deny"
//   - layer: "navigate", "transport" or "proxy"
var FilterDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filter_decisions_total",
		Help:      "Total number of whitelist decisions, by verdict and enforcement layer.",
	},
	[]string{"decision", "layer"},
)

// ContainmentEventsTotal counts window events seen by the containment controller.
// Labels:
//   - event: event kind (e.g. "blur", "close", "leave-full-screen")
//   - action: "enforced", "applied" or "ignored"
var ContainmentEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "containment_events_total",
		Help:      "Total number of window events handled by the containment controller.",
	},
	[]string{"event", "action"},
)

// ShortcutsSuppressedTotal counts intercepted global shortcuts.
// Label:
//   - accelerator: the key combination
var ShortcutsSuppressedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shortcuts_suppressed_total",
		Help:      "Total number of blocked keyboard shortcuts pressed.",
	},
	[]string{"accelerator"},
)

// ConnectivityTransitionsTotal counts edge-triggered network status changes.
// Label:
//   - to: "online" or "offline"
var ConnectivityTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connectivity_transitions_total",
		Help:      "Total number of online/offline transitions observed.",
	},
	[]string{"to"},
)

// CommandsTotal counts router commands.
// Labels:
//   - command: command name (e.g. "login", "navigate")
//   - result: "ok", "rejected" or "panic"
var CommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Total number of session commands dispatched, by result.",
	},
	[]string{"command", "result"},
)
