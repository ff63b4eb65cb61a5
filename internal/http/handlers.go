// Package httpapi exposes the dispatch core over HTTP and websockets.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/job-dispatch/internal/autoaccept"
	"github.com/example/job-dispatch/internal/coordinator"
	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/eta"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/ingest"
	"github.com/example/job-dispatch/internal/matcher"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/realtime"
	"github.com/example/job-dispatch/internal/storage"
)

type Deps struct {
	Store         storage.Store
	Coordinator   *coordinator.Coordinator
	Matcher       *matcher.Service
	AutoAccept    *autoaccept.Service
	Rules         autoaccept.RuleStore
	JobIndex      geo.JobIndexWriter
	ProviderIndex geo.ProviderIndexWriter
	Estimator     *eta.Estimator
	Locations     *ingest.LocationProducer // optional
	WSReg         *dispatch.WSRegistry
	Sync          *realtime.Manager
	Logger        *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/jobs", s.handleCreateJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/find", s.handleFindJobs).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/accept", s.handleAcceptJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{id}", s.handleGetJob).Methods("GET")
	s.mux.HandleFunc("/api/v1/jobs/{id}/status", s.handleJobStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")

	s.mux.HandleFunc("/api/v1/providers", s.handleUpsertProvider).Methods("POST")
	s.mux.HandleFunc("/api/v1/providers/{id}/rules", s.handleListRules).Methods("GET")
	s.mux.HandleFunc("/api/v1/providers/{id}/rules", s.handlePutRule).Methods("PUT")
	s.mux.HandleFunc("/api/v1/providers/{id}/rules/{rule_id}", s.handleDeleteRule).Methods("DELETE")

	s.mux.HandleFunc("/api/v1/eta", s.handleEta).Methods("POST")

	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods("POST")

	s.mux.HandleFunc("/ws/{client_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createJobRequest struct {
	ServiceType models.ServiceType `json:"service_type"`
	Pickup      models.Coord       `json:"pickup"`
	Dropoff     *models.Coord      `json:"dropoff,omitempty"`
	Fare        float64            `json:"fare"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.ServiceType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service_type")
		return
	}
	if req.Fare < 0 {
		writeError(w, http.StatusBadRequest, "fare must be >= 0")
		return
	}

	job := models.Job{
		ID:          uuid.NewString(),
		ServiceType: req.ServiceType,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		Fare:        req.Fare,
		Status:      models.StatusPending,
	}
	created, err := s.deps.Coordinator.CreateJob(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.deps.JobIndex != nil {
		if err := s.deps.JobIndex.Upsert(r.Context(), created); err != nil {
			s.logger.Error("job index upsert", "job_id", created.ID, "error", err)
		}
	}

	// auto-accept runs inline so the response reflects an immediate claim
	if s.deps.AutoAccept != nil {
		if winner, err := s.deps.AutoAccept.Offer(r.Context(), created); err != nil {
			s.logger.Error("auto-accept offer", "job_id", created.ID, "error", err)
		} else if winner != "" {
			if claimed, err := s.deps.Store.GetJob(r.Context(), created.ID); err == nil {
				created = claimed
			}
			if s.deps.JobIndex != nil {
				_ = s.deps.JobIndex.Remove(r.Context(), created.ID)
			}
		}
	}

	writeJSON(w, http.StatusCreated, created)
}

type findJobsRequest struct {
	ProviderID    string               `json:"provider_id"`
	Location      models.Coord         `json:"location"`
	ServiceTypes  []models.ServiceType `json:"service_types,omitempty"`
	MaxDistanceKm float64              `json:"max_distance_km"`
}

func (s *Server) handleFindJobs(w http.ResponseWriter, r *http.Request) {
	var req findJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	if req.MaxDistanceKm <= 0 {
		req.MaxDistanceKm = 10
	}

	jobs, err := s.deps.Matcher.FindJobs(r.Context(), req.ProviderID, req.Location, req.ServiceTypes, req.MaxDistanceKm)
	if err != nil {
		var ne *matcher.NotEligibleError
		if errors.As(err, &ne) {
			writeError(w, http.StatusConflict, ne.Reason)
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type acceptJobRequest struct {
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
}

func (s *Server) handleAcceptJob(w http.ResponseWriter, r *http.Request) {
	var req acceptJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.JobID == "" || req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "job_id and provider_id required")
		return
	}

	res, err := s.deps.Coordinator.Accept(r.Context(), req.JobID, req.ProviderID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job or provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Status != coordinator.Accepted {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": res.Status.String()})
		return
	}
	if s.deps.JobIndex != nil {
		_ = s.deps.JobIndex.Remove(r.Context(), req.JobID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": res.Job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.deps.Store.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type jobStatusRequest struct {
	ProviderID string           `json:"provider_id"`
	Status     models.JobStatus `json:"status"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req jobStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Coordinator.Advance(r.Context(), id, req.ProviderID, req.Status)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, coordinator.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, coordinator.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.deps.Coordinator.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, coordinator.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		if s.deps.JobIndex != nil {
			_ = s.deps.JobIndex.Remove(r.Context(), id)
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	var p models.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Availability == "" {
		p.Availability = models.Available
	}
	if err := s.deps.Store.UpsertProvider(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.deps.ProviderIndex != nil {
		if err := s.deps.ProviderIndex.Upsert(r.Context(), p); err != nil {
			s.logger.Error("provider index upsert", "provider_id", p.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]
	rules, err := s.deps.Rules.ListRules(r.Context(), providerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]
	var rule models.AutoAcceptRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ProviderID = providerID
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	for _, t := range rule.ServiceTypes {
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "unknown service type in rule")
			return
		}
	}
	if err := s.deps.Rules.PutRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.deps.Rules.DeleteRule(r.Context(), vars["id"], vars["rule_id"]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type etaRequest struct {
	From models.Coord `json:"from"`
	To   models.Coord `json:"to"`
}

func (s *Server) handleEta(w http.ResponseWriter, r *http.Request) {
	var req etaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Estimator.Estimate(r.Context(), req.From, req.To))
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id required")
		return
	}

	if s.deps.Locations != nil {
		if err := s.deps.Locations.PublishLocation(u); err != nil {
			s.logger.Error("publish location", "provider_id", u.ProviderID, "error", err)
		}
	}

	// keep the durable record and the geo index in step with the report
	if p, err := s.deps.Store.GetProvider(r.Context(), u.ProviderID); err == nil {
		if p.Online != u.Online {
			if u.Online {
				observability.ProvidersOnline.Inc()
			} else {
				observability.ProvidersOnline.Dec()
			}
		}
		p.Location = u.Location
		p.Online = u.Online
		if err := s.deps.Store.UpsertProvider(r.Context(), p); err != nil {
			s.logger.Error("provider upsert", "provider_id", p.ID, "error", err)
		}
		if s.deps.ProviderIndex != nil {
			if err := s.deps.ProviderIndex.Upsert(r.Context(), p); err != nil {
				s.logger.Error("provider index upsert", "provider_id", p.ID, "error", err)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS bridges the realtime manager to a websocket client. Optional
// query params narrow the stream: ?entity=job|provider and ?id=<entity id>.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	var entityTypes []models.EntityType
	if e := r.URL.Query().Get("entity"); e != "" {
		entityTypes = append(entityTypes, models.EntityType(e))
	}
	var filter realtime.Filter
	if id := r.URL.Query().Get("id"); id != "" {
		filter = func(ev models.RealtimeEvent) bool { return ev.EntityID == id }
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := s.deps.WSReg.Add(clientID, conn)

	var handle realtime.Handle
	if s.deps.Sync != nil {
		handle = s.deps.Sync.Subscribe(entityTypes, filter, func(ev models.RealtimeEvent) {
			if err := session.Send(ev); err != nil {
				s.logger.Debug("ws send", "client_id", clientID, "error", err)
			}
		})
	}

	go func() {
		defer func() {
			if s.deps.Sync != nil {
				s.deps.Sync.Unsubscribe(handle)
			}
			s.deps.WSReg.Remove(clientID)
			_ = session.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
