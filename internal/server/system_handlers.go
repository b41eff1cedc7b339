package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/papertrader/internal/database"
	"github.com/aristath/papertrader/internal/events"
	"github.com/aristath/papertrader/internal/scheduler"
)

// TradingStatus reports the orchestrator's state
type TradingStatus interface {
	IsTrading() bool
	ActiveCount() int
}

// JobRegistry exposes registered background jobs
type JobRegistry interface {
	Jobs() []scheduler.JobStatus
	Lookup(name string) (scheduler.Job, bool)
	RunNow(job scheduler.Job) error
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    int64   `json:"uptimeSeconds"`
	IsTrading        bool    `json:"isTrading"`
	ActiveTrades     int     `json:"activeTrades"`
	EventSubscribers int     `json:"eventSubscribers"`
	CPUPercent       float64 `json:"cpuPercent"`
	MemoryPercent    float64 `json:"memoryPercent"`
	Goroutines       int     `json:"goroutines"`
	LastChecked      string  `json:"lastChecked"`
}

// DatabaseStatsResponse is returned by GET /api/system/database/stats
type DatabaseStatsResponse struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SizeMB      float64 `json:"sizeMb"`
	WALSizeMB   float64 `json:"walSizeMb"`
	PageCount   int64   `json:"pageCount"`
	PageSize    int64   `json:"pageSize"`
	LastChecked string  `json:"lastChecked"`
}

// SystemHandlers serves process and host status
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	ledgerDB    *database.DB
	trading     TradingStatus
	jobs        JobRegistry
	eventBus    *events.Bus
	sampleCPU   func() (float64, float64)
}

// NewSystemHandlers creates system handlers. Any dependency may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	ledgerDB *database.DB,
	trading TradingStatus,
	jobs JobRegistry,
	eventBus *events.Bus,
) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		ledgerDB:    ledgerDB,
		trading:     trading,
		jobs:        jobs,
		eventBus:    eventBus,
	}
	h.sampleCPU = h.getSystemStats
	return h
}

// HandleSystemStatus returns uptime, host load and trading state
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.sampleCPU()

	response := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		LastChecked:   time.Now().Format(time.RFC3339),
	}
	if h.trading != nil {
		response.IsTrading = h.trading.IsTrading()
		response.ActiveTrades = h.trading.ActiveCount()
	}
	if h.eventBus != nil {
		response.EventSubscribers = h.eventBus.SubscriberCount()
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns ledger database statistics
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.ledgerDB == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Ledger not configured")
		return
	}

	stats, err := h.ledgerDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		h.writeError(w, http.StatusInternalServerError, "Failed to get database stats")
		return
	}

	h.writeJSON(w, http.StatusOK, DatabaseStatsResponse{
		Name:        h.ledgerDB.Name(),
		Path:        h.ledgerDB.Path(),
		SizeMB:      float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB:   float64(stats.WALSizeBytes) / 1024 / 1024,
		PageCount:   stats.PageCount,
		PageSize:    stats.PageSize,
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

// HandleListJobs lists registered background jobs
// GET /api/system/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeJSON(w, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.jobs.Jobs())
}

// HandleTriggerJob runs a registered job immediately in the background
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	job, ok := h.jobs.Lookup(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	go func() {
		if err := h.jobs.RunNow(job); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": name + " triggered",
	})
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
