package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Automations   AutomationMetrics `json:"automations"`
	Actuator      *ActuatorMetrics  `json:"actuator,omitempty"`
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
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// AutomationMetrics contains registry and execution log statistics.
type AutomationMetrics struct {
	Total       int `json:"total"`
	Enabled     int `json:"enabled"`
	Running     int `json:"running"`
	LogEntries  int `json:"log_entries"`
	LogCapacity int `json:"log_capacity"`
}

// ActuatorMetrics contains command delivery statistics.
type ActuatorMetrics struct {
	Published    uint64 `json:"published"`
	Failed       uint64 `json:"failed"`
	Dropped      uint64 `json:"dropped"`
	Queued       int    `json:"queued"`
	NotifyBudget int    `json:"notify_budget"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
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
			DroppedMessages:  s.hub.Dropped(),
		},
	}

	// Registry stats
	list := s.registry.List(r.Context())
	metrics.Automations.Total = len(list)
	for _, a := range list {
		if a.Enabled {
			metrics.Automations.Enabled++
		}
		if s.registry.InFlight(a.ID) {
			metrics.Automations.Running++
		}
	}
	metrics.Automations.LogEntries = s.registry.Log().Len()
	metrics.Automations.LogCapacity = s.registry.Log().Capacity()

	// Actuator stats (if available)
	if s.actuator != nil {
		st := s.actuator.Stats()
		metrics.Actuator = &ActuatorMetrics{
			Published:    st.Published,
			Failed:       st.Failed,
			Dropped:      st.Dropped,
			Queued:       st.Queued,
			NotifyBudget: s.actuator.NotifyBudget(),
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
