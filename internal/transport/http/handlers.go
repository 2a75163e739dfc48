package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

// Fleet is the read side of the tracking engine.
type Fleet interface {
	Snapshot() domain.FleetSnapshot
	GetTripState(tripID string) (domain.TripState, bool)
	Route(tripID string) (domain.RouteRecord, bool)
	ActiveAlerts() []domain.Alert
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	fleet   Fleet
	hub     *Hub
	log     *slog.Logger
	service string
	checks  map[string]HealthCheck
}

func NewServer(fleet Fleet, hub *Hub, log *slog.Logger, service string, checks map[string]HealthCheck) *Server {
	return &Server{fleet: fleet, hub: hub, log: log, service: service, checks: checks}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(NewRequestLogger(s.log).Wrap)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/metrics", metrics.HandleMetrics)

	r.Route("/fleet", func(r chi.Router) {
		r.Get("/snapshot", s.Snapshot)
		r.Get("/alerts", s.Alerts)
		r.Get("/trips", s.Trips)
		r.Get("/trips/{id}", s.Trip)
		r.Get("/trips/{id}/route", s.TripRoute)
	})

	if s.hub != nil {
		r.Get("/ws/fleet", s.hub.HandleWS)
	}
	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{"status": "ok", "service": s.service, "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.Snapshot())
}

func (s *Server) Alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.ActiveAlerts())
}

// Trips lists tracked trips, optionally filtered by ?freshness=.
func (s *Server) Trips(w http.ResponseWriter, r *http.Request) {
	snap := s.fleet.Snapshot()

	q := r.URL.Query().Get("freshness")
	if q == "" {
		writeJSON(w, http.StatusOK, snap.Trips)
		return
	}
	f, ok := domain.ParseFreshness(q)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "freshness must be live, delayed or offline"})
		return
	}
	writeJSON(w, http.StatusOK, snap.TripsWithFreshness(f))
}

type tripDetail struct {
	State  domain.TripState `json:"state"`
	Alerts []domain.Alert   `json:"alerts"`
}

func (s *Server) Trip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.fleet.GetTripState(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trip not tracked"})
		return
	}

	alerts := []domain.Alert{}
	for _, a := range s.fleet.ActiveAlerts() {
		if a.TripID == id {
			alerts = append(alerts, a)
		}
	}
	writeJSON(w, http.StatusOK, tripDetail{State: st, Alerts: alerts})
}

func (s *Server) TripRoute(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fleet.Route(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trip not tracked"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
