// Package metrics exposes prometheus counters for the client connection lifecycle.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "transport",
		Name:      "sessions_opened_total",
		Help:      "Sessions that reached the open state.",
	})
	SessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "transport",
		Name:      "sessions_closed_total",
		Help:      "Sessions that closed, including failed dials.",
	})
	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "transport",
		Name:      "frames_sent_total",
		Help:      "Outbound frames accepted for writing.",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "transport",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because no session was open.",
	})
	ReconnectsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "reconnect",
		Name:      "scheduled_total",
		Help:      "Reconnect attempts scheduled after a session closed.",
	})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Subsystem: "dispatch",
		Name:      "decode_errors_total",
		Help:      "Inbound sub-frames that failed to decode.",
	})
	LoginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomchat",
			Subsystem: "auth",
			Name:      "login_failures_total",
			Help:      "Failed login attempts by reason.",
		},
		[]string{"reason"},
	)
)

// Register adds every collector to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionsOpened,
			SessionsClosed,
			FramesSent,
			FramesDropped,
			ReconnectsScheduled,
			DecodeErrors,
			LoginFailures,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
