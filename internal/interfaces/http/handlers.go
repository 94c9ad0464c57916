package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/aureon/internal/execution"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/supervisor"
	"github.com/sawpanic/aureon/internal/venue"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// VenuePinger is satisfied by *venue.Registry.
type VenuePinger interface {
	Names() []string
	Ping(ctx context.Context, timeout time.Duration) map[string]venue.Health
}

type ScannerStats interface {
	Stats() []scan.ProfileStats
}

type ExecutorStats interface {
	Stats() execution.Stats
}

type ServiceStatus interface {
	Status() []supervisor.Status
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsSink is satisfied by *metrics.Registry.
type MetricsSink interface {
	Handler() http.Handler
	ObserveHTTP(route, method string, code int, d time.Duration)
}

// Deps are the components the API reads from. Nil members disable the
// corresponding endpoint or health section.
type Deps struct {
	Version  string
	Venues   VenuePinger
	Store    *persistence.Repository
	Database func(ctx context.Context) persistence.HealthCheck
	Cache    Pinger
	Scanner  ScannerStats
	Executor ExecutorStats
	Services ServiceStatus
	Metrics  MetricsSink
	Hub      *Hub

	// VenueTimeout bounds each venue ping on /health.
	VenueTimeout time.Duration
	// HealthTTL caches the venue pings so /health cannot burn venue quota.
	HealthTTL time.Duration
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type OpportunitiesResponse struct {
	Opportunities []persistence.Opportunity `json:"opportunities"`
	Count         int                       `json:"count"`
	Generated     time.Time                 `json:"generated"`
}

type ExecutionsResponse struct {
	Executions []persistence.Execution `json:"executions"`
	Count      int                     `json:"count"`
	Generated  time.Time               `json:"generated"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

// readiness is 200 only when the store answers and every registered venue
// pinged healthy. Pings share the /health cache.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	var problems []string
	if s.deps.Store != nil && s.deps.Store.Ping != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			problems = append(problems, "store: "+err.Error())
		}
	}
	if s.deps.Venues == nil || len(s.deps.Venues.Names()) == 0 {
		problems = append(problems, "no venues registered")
	} else {
		venues := s.health.venueHealth(r.Context())
		for _, name := range sortedNames(venues) {
			h := venues[name]
			if h.Healthy {
				continue
			}
			msg := h.Error
			if msg == "" {
				msg = "unhealthy"
			}
			problems = append(problems, "venue "+name+": "+msg)
		}
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "problems": problems})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func sortedNames(m map[string]venue.Health) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parseLimit reads ?limit, defaulting to 50 and capping at 500.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func (s *Server) opportunities(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if s.deps.Store == nil || s.deps.Store.Opportunities == nil {
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "No opportunity store configured")
		return
	}

	opps, err := s.deps.Store.Opportunities.Latest(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Str("request_id", RequestID(r.Context())).Msg("Failed to load opportunities")
		writeError(w, r, http.StatusInternalServerError, "store_error", "Failed to load opportunities")
		return
	}
	if opps == nil {
		opps = []persistence.Opportunity{}
	}
	writeJSON(w, http.StatusOK, OpportunitiesResponse{Opportunities: opps, Count: len(opps), Generated: time.Now().UTC()})
}

func (s *Server) executions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if s.deps.Store == nil || s.deps.Store.Executions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "No execution store configured")
		return
	}

	execs, err := s.deps.Store.Executions.Latest(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Str("request_id", RequestID(r.Context())).Msg("Failed to load executions")
		writeError(w, r, http.StatusInternalServerError, "store_error", "Failed to load executions")
		return
	}
	if execs == nil {
		execs = []persistence.Execution{}
	}
	writeJSON(w, http.StatusOK, ExecutionsResponse{Executions: execs, Count: len(execs), Generated: time.Now().UTC()})
}
