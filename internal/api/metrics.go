package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Connection    ConnMetrics      `json:"connection"`
	Monitor       *MonitorInfo     `json:"monitor,omitempty"`
	Recorder      *RecorderMetrics `json:"recorder,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	Broadcasts       uint64 `json:"broadcasts"`
}

// ConnMetrics contains connection manager counters.
type ConnMetrics struct {
	State         string `json:"state"`
	Connected     bool   `json:"connected"`
	Generation    uint64 `json:"generation"`
	Attempts      int    `json:"attempts"`
	Subscriptions int    `json:"subscriptions"`
	Listeners     int    `json:"listeners"`
}

// RecorderMetrics contains last-value recorder throughput.
type RecorderMetrics struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.conn.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			Broadcasts:       s.hub.Broadcasts(),
		},
		Connection: ConnMetrics{
			State:         st.State.String(),
			Connected:     st.State == connection.StateConnected,
			Generation:    st.Generation,
			Attempts:      st.Attempts,
			Subscriptions: st.Subscriptions,
			Listeners:     st.Listeners,
		},
		Monitor: s.monitorInfo(),
	}

	if s.recorder != nil {
		metrics.Recorder = &RecorderMetrics{
			Written: s.recorder.Written(),
			Dropped: s.recorder.Dropped(),
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
