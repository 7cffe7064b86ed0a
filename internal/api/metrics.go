package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
)

// SystemMetrics is the response of GET /system. Prometheus metrics are
// served separately at /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	LogLevel      string           `json:"log_level"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Zones         ZoneMetrics      `json:"zones"`
	Enforcers     *EnforcerMetrics `json:"enforcers,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
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

// ZoneMetrics counts controllers by current state.
type ZoneMetrics struct {
	Controllers  int            `json:"controllers"`
	ByState      map[string]int `json:"by_state"`
	TimerPending int            `json:"timer_pending"`
}

// EnforcerMetrics summarises the enforcers.
type EnforcerMetrics struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Converged int `json:"converged"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

const bytesPerMB = 1024 * 1024

// handleSystem returns a runtime and domain summary.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		LogLevel:      s.logger.LevelName(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Zones: ZoneMetrics{ByState: make(map[string]int)},
	}

	for _, c := range s.zones.List() {
		metrics.Zones.Controllers++
		if st, err := c.State(r.Context()); err == nil {
			metrics.Zones.ByState[string(st)]++
		}
		if c.TimerPending() {
			metrics.Zones.TimerPending++
		}
	}

	if s.enforcers != nil {
		em := &EnforcerMetrics{}
		for _, st := range s.enforcers.Statuses() {
			em.Total++
			if st.Running {
				em.Running++
			}
			if st.Converged {
				em.Converged++
			}
		}
		metrics.Enforcers = em
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handleSetLogLevel changes the service log level until the next restart.
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	from := s.logger.LevelName()
	if err := s.logger.SetLevel(req.Level); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	to := s.logger.LevelName()

	s.logger.Info("log level changed", "from", from, "to", to)
	s.recordAudit(r, audit.ActionLogLevel, "logging", audit.OutcomeOK, map[string]any{"from": from, "to": to})
	writeJSON(w, http.StatusOK, map[string]string{"level": to})
}
