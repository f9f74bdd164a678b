package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/laurel-core/internal/bridge"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Bridge        *bridge.Metrics `json:"bridge,omitempty"`
	Meshes        []MeshView      `json:"meshes"`
	Devices       DeviceMetrics   `json:"devices"`
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

// DeviceMetrics counts devices by cache source and colour mode.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	BySource map[string]int `json:"by_source"`
	ByMode   map[string]int `json:"by_mode"`
}

// handleMetrics returns runtime, mesh and bridge metrics.
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
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices: DeviceMetrics{
			BySource: make(map[string]int),
			ByMode:   make(map[string]int),
		},
	}

	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &bm
	}

	for _, m := range s.network.Meshes() {
		metrics.Meshes = append(metrics.Meshes, newMeshView(m))
	}

	for _, d := range s.network.Devices() {
		snap := d.State()
		source := string(snap.Source)
		if source == "" {
			source = "unknown"
		}
		metrics.Devices.Total++
		metrics.Devices.BySource[source]++
		metrics.Devices.ByMode[snap.Mode.String()]++
	}

	writeJSON(w, http.StatusOK, metrics)
}
