// Package health builds the read-only process snapshot served at
// /health: uptime, active counts, per-device telemetry depth, and
// total frames routed by category. No third-party concern fits a
// one-shot JSON snapshot better than a plain struct; the live counters
// it reads from are pkg/registry, pkg/telemetry, and pkg/metrics.
package health

import (
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/metrics"
	"github.com/fleetwire/relayhub/pkg/registry"
	"github.com/fleetwire/relayhub/pkg/telemetry"
)

type DeviceHealth struct {
	ID             string `json:"id"`
	Connected      bool   `json:"connected"`
	TelemetryDepth int    `json:"telemetryDepth"`
}

type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	ActiveDevices int                `json:"activeDevices"`
	ActiveClients int                `json:"activeClients"`
	Devices       []DeviceHealth     `json:"devices"`
	FramesRouted  map[string]float64 `json:"framesRoutedByCategory"`
}

// Build assembles a Snapshot from the registry, telemetry buffer, and
// routed-frame counters as of now, relative to startedAt.
func Build(reg *registry.Registry, tel *telemetry.Buffer, startedAt time.Time) Snapshot {
	devices := reg.ListDevices()
	out := make([]DeviceHealth, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceHealth{
			ID:             d.ID,
			Connected:      d.Connected,
			TelemetryDepth: tel.Depth(d.ID),
		})
	}
	return Snapshot{
		UptimeSeconds: time.Since(startedAt).Seconds(),
		ActiveDevices: reg.ActiveDeviceCount(),
		ActiveClients: reg.ActiveClientCount(),
		Devices:       out,
		FramesRouted:  metrics.FramesRoutedByCategory(),
	}
}

// Envelope renders the snapshot as a status envelope so /health and
// the websocket-side error/status frames share one wire shape.
func (s Snapshot) Envelope() envelope.Envelope {
	devices := make([]any, 0, len(s.Devices))
	for _, d := range s.Devices {
		devices = append(devices, map[string]any{
			"id": d.ID, "connected": d.Connected, "telemetryDepth": d.TelemetryDepth,
		})
	}
	framesRouted := make(map[string]any, len(s.FramesRouted))
	for category, count := range s.FramesRouted {
		framesRouted[category] = count
	}
	return envelope.Envelope{
		"uptimeSeconds":          s.UptimeSeconds,
		"activeDevices":          s.ActiveDevices,
		"activeClients":          s.ActiveClients,
		"devices":                devices,
		"framesRoutedByCategory": framesRouted,
	}
}
