// Package metrics exposes runtime instrumentation on a dedicated
// Prometheus registry. The core increments these; exposition is left to
// the embedding host.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the runtime-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	RuntimesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wotjs",
		Subsystem: "runtime",
		Name:      "started_total",
		Help:      "Total number of runtimes created.",
	})

	RuntimesStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wotjs",
		Subsystem: "runtime",
		Name:      "stopped_total",
		Help:      "Total number of runtimes freed.",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wotjs",
		Subsystem: "streams",
		Name:      "active",
		Help:      "Stream handles currently open.",
	})

	StreamBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wotjs",
		Subsystem: "streams",
		Name:      "read_bytes_total",
		Help:      "Bytes delivered through stream message events.",
	})

	StreamBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wotjs",
		Subsystem: "streams",
		Name:      "written_bytes_total",
		Help:      "Bytes accepted by stream writes.",
	})

	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wotjs",
		Subsystem: "workers",
		Name:      "active",
		Help:      "Worker threads currently running.",
	})

	TimersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wotjs",
		Subsystem: "timers",
		Name:      "active",
		Help:      "JS timers currently armed.",
	})
)

func init() {
	Registry.MustRegister(
		RuntimesStarted,
		RuntimesStopped,
		ActiveStreams,
		StreamBytesRead,
		StreamBytesWritten,
		WorkersActive,
		TimersActive,
		collectors.NewGoCollector(),
	)
}

// Handler returns an exposition handler for the runtime registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
