// Package metrics exposes the hub's prometheus counters/gauges.
// pkg/health reads FramesRouted directly via FramesRoutedByCategory so
// the /health snapshot and the Prometheus exposition report from the
// same instruments rather than two independently maintained counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registered against the default registerer and exposed via
// promhttp.Handler() with no per-test isolation — this hub has
// exactly one process-wide set of counters for its exactly-one
// listener.
var (
	FramesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "frames_routed_total",
		Help:      "Frames routed, partitioned by envelope category.",
	}, []string{"category"})

	QueueOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "queue_overflow_total",
		Help:      "Frames dropped due to a saturated outbound queue, by role.",
	}, []string{"role"})

	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayhub",
		Name:      "active_sessions",
		Help:      "Currently active sessions, by role.",
	}, []string{"role"})

	TelemetryDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayhub",
		Name:      "telemetry_buffer_depth",
		Help:      "Current depth of a device's telemetry ring buffer.",
	}, []string{"device_id"})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayhub",
		Name:      "sessions_closed_total",
		Help:      "Sessions closed, partitioned by reason.",
	}, []string{"reason"})
)

// FramesRoutedByCategory reads FramesRouted's current per-category
// values directly off the collector, for callers like /health that
// need the counts without going through a scrape round trip.
func FramesRoutedByCategory() map[string]float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		FramesRouted.Collect(ch)
		close(ch)
	}()
	out := make(map[string]float64)
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		var category string
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == "category" {
				category = lp.GetValue()
			}
		}
		out[category] = pb.GetCounter().GetValue()
	}
	return out
}
