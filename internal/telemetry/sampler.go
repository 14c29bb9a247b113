package telemetry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/influxdb"
)

// ManagerStats is implemented by *connection.Manager.
type ManagerStats interface {
	Stats() connection.Stats
}

// MonitorStats is implemented by *connection.Monitor.
type MonitorStats interface {
	Stats() connection.MonitorStats
}

// writeCounter is implemented by *influxdb.Client.
type writeCounter interface {
	Stats() influxdb.WriteStats
}

// Sampler periodically writes manager and monitor counters as link_health
// points.
type Sampler struct {
	w        Writer
	manager  ManagerStats
	monitor  MonitorStats
	clientID string
	interval time.Duration
	clock    clock.Clock
}

// NewSampler creates a sampler. monitor may be nil.
func NewSampler(w Writer, manager ManagerStats, monitor MonitorStats, clientID string, interval time.Duration, clk clock.Clock) *Sampler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sampler{
		w:        w,
		manager:  manager,
		monitor:  monitor,
		clientID: clientID,
		interval: interval,
		clock:    clk,
	}
}

// Run samples on every tick until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample writes one link_health point now.
func (s *Sampler) Sample() {
	ms := s.manager.Stats()

	connected := 0
	if ms.State == connection.StateConnected {
		connected = 1
	}
	fields := map[string]any{
		"connected":     connected,
		"generation":    int64(ms.Generation), // #nosec G115 -- counter never nears MaxInt64
		"attempts":      ms.Attempts,
		"subscriptions": ms.Subscriptions,
		"listeners":     ms.Listeners,
	}
	if !ms.ConnectedSince.IsZero() && connected == 1 {
		fields["uptime_seconds"] = s.clock.Since(ms.ConnectedSince).Seconds()
	}
	if s.monitor != nil {
		mon := s.monitor.Stats()
		fields["checks"] = mon.Checks
		fields["reconnects"] = mon.Reconnects
		fields["coalesced"] = mon.Coalesced
		fields["probes_sent"] = mon.ProbesSent
		fields["probe_fails"] = mon.ProbeFails
	}

	// Counters as of the previous sample; this point is not in them yet.
	if wc, ok := s.w.(writeCounter); ok {
		ws := wc.Stats()
		fields["points_queued"] = ws.Queued
		fields["batches_failed"] = ws.Failed
	}

	s.w.WritePoint(influxdb.MeasurementLinkHealth,
		map[string]string{"client_id": s.clientID, "state": ms.State.String()},
		fields,
		s.clock.Now(),
	)
}
