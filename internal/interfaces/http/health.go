package http

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/sawpanic/aureon/internal/execution"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/supervisor"
	"github.com/sawpanic/aureon/internal/venue"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the /health body. The CLI decodes the same type.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`

	System   SystemInfo               `json:"system"`
	Venues   map[string]venue.Health  `json:"venues"`
	Summary  VenueSummary             `json:"venue_summary"`
	Checks   map[string]CheckResult   `json:"checks"`
	Database *persistence.HealthCheck `json:"database,omitempty"`
	Scanner  *ScannerStatus           `json:"scanner,omitempty"`
	Executor *execution.Stats         `json:"executor,omitempty"`
	Services []supervisor.Status      `json:"services,omitempty"`
}

type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

type VenueSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

type ScannerStatus struct {
	Profiles []scan.ProfileStats `json:"profiles"`
	Emitted  int64               `json:"emitted"`
	Dropped  int64               `json:"dropped"`
}

// CheckResult is one auxiliary check: pass, warn or fail.
type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Duration string `json:"duration,omitempty"`
}

// HealthHandler reports venue reachability plus the state of the store,
// cache, scanner, executor and supervised services.
type HealthHandler struct {
	deps      Deps
	startTime time.Time
	now       func() time.Time

	mu       sync.Mutex
	venues   map[string]venue.Health
	pingedAt time.Time
}

func NewHealthHandler(deps Deps) *HealthHandler {
	if deps.VenueTimeout <= 0 {
		deps.VenueTimeout = 3 * time.Second
	}
	return &HealthHandler{deps: deps, startTime: time.Now(), now: time.Now}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Gather(r.Context())

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Gather builds the health report.
func (h *HealthHandler) Gather(ctx context.Context) HealthResponse {
	now := h.now()
	response := HealthResponse{
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		System:    systemInfo(),
		Venues:    map[string]venue.Health{},
		Checks:    map[string]CheckResult{},
	}

	if h.deps.Venues != nil {
		response.Venues = h.venueHealth(ctx)
	}
	for _, vh := range response.Venues {
		response.Summary.Total++
		if vh.Healthy {
			response.Summary.Healthy++
		} else {
			response.Summary.Unhealthy++
		}
	}

	if h.deps.Database != nil {
		dbh := h.deps.Database(ctx)
		response.Database = &dbh
		switch {
		case !dbh.Enabled:
			response.Checks["database"] = CheckResult{Status: "pass", Message: "in-memory store"}
		case dbh.Healthy:
			response.Checks["database"] = CheckResult{Status: "pass", Message: "postgres reachable"}
		default:
			response.Checks["database"] = CheckResult{Status: "warn", Message: firstOr(dbh.Errors, "postgres unhealthy")}
		}
	}

	if h.deps.Cache != nil {
		start := time.Now()
		if err := h.deps.Cache.Ping(ctx); err != nil {
			response.Checks["cache"] = CheckResult{Status: "warn", Message: err.Error(), Duration: time.Since(start).String()}
		} else {
			response.Checks["cache"] = CheckResult{Status: "pass", Message: "cooldown ledger reachable", Duration: time.Since(start).String()}
		}
	}

	if h.deps.Scanner != nil {
		st := &ScannerStatus{Profiles: h.deps.Scanner.Stats()}
		for _, p := range st.Profiles {
			st.Emitted += p.Emitted
			st.Dropped += p.Dropped
		}
		response.Scanner = st
	}
	if h.deps.Executor != nil {
		es := h.deps.Executor.Stats()
		response.Executor = &es
	}
	if h.deps.Services != nil {
		response.Services = h.deps.Services.Status()
		for _, svc := range response.Services {
			if svc.State == supervisor.StateFailed {
				response.Checks["service_"+svc.Name] = CheckResult{Status: "fail", Message: svc.LastError}
			} else if svc.State == supervisor.StateRestarting {
				response.Checks["service_"+svc.Name] = CheckResult{Status: "warn", Message: svc.LastError}
			}
		}
	}

	response.Status = overallStatus(response.Summary, response.Checks)
	return response
}

// overallStatus: healthy when every venue is up, degraded when only some
// are (or an auxiliary check warns), unhealthy when none are or a check
// fails.
func overallStatus(sum VenueSummary, checks map[string]CheckResult) string {
	for _, c := range checks {
		if c.Status == "fail" {
			return StatusUnhealthy
		}
	}
	if sum.Total == 0 || sum.Healthy == 0 {
		return StatusUnhealthy
	}
	if sum.Healthy < sum.Total {
		return StatusDegraded
	}
	for _, c := range checks {
		if c.Status == "warn" {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

func (h *HealthHandler) venueHealth(ctx context.Context) map[string]venue.Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.venues != nil && h.deps.HealthTTL > 0 && h.now().Sub(h.pingedAt) < h.deps.HealthTTL {
		return h.venues
	}
	h.venues = h.deps.Venues.Ping(ctx, h.deps.VenueTimeout)
	h.pingedAt = h.now()
	return h.venues
}

func systemInfo() SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      mem.Alloc,
		MemSys:        mem.Sys,
		NumGC:         mem.NumGC,
	}
}

func firstOr(list []string, def string) string {
	if len(list) > 0 {
		return list[0]
	}
	return def
}
