package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Broker        BrokerMetrics        `json:"broker"`
	Store         telemetry.StoreStats `json:"store"`
	Tanks         int                  `json:"tanks"`
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
	ConnectedClients int `json:"connected_clients"`
}

// BrokerMetrics contains broker connection statistics.
type BrokerMetrics struct {
	Connected             bool        `json:"connected"`
	Status                mqtt.Status `json:"status"`
	Endpoint              string      `json:"endpoint,omitempty"`
	LastMessageAgeSeconds float64     `json:"last_message_age_seconds,omitempty"`
}

// handleMetrics returns a JSON runtime report. Prometheus collectors are
// served separately on /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

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
		},
		Broker: s.brokerSummary(),
		Store:  s.state.Stats(),
		Tanks:  len(s.state.Snapshot().Tanks),
	}

	writeJSON(w, http.StatusOK, metrics)
}
