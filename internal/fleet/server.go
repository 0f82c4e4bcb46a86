package fleet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is fleetd's HTTP surface: job submission and status, per-device
// nonce reservation, station progress reporting, WebSocket job watching,
// and Prometheus metrics.
type Server struct {
	Audit   *AuditStore
	Nonces  *NonceRegistry
	Hub     *Hub
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewServer(audit *AuditStore, nonces *NonceRegistry, hub *Hub) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		Audit:    audit,
		Nonces:   nonces,
		Hub:      hub,
		Metrics:  NewMetrics(registry),
		registry: registry,
	}
}

// Router builds the mux router for the server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/jobs", s.handleCreateJob).Methods("POST")
	r.HandleFunc("/api/jobs/{id}", s.handleGetJob).Methods("GET")
	r.HandleFunc("/api/jobs/{id}/progress", s.handleProgress).Methods("POST")
	r.HandleFunc("/api/jobs/{id}/ws", s.handleWatchJob).Methods("GET")
	r.HandleFunc("/api/devices/{device}/nonces", s.handleReserveNonce).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createJobRequest struct {
	Kind    JobKind `json:"kind"`
	Device  string  `json:"device"`
	Station string  `json:"station"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind != JobInstall && req.Kind != JobReadback {
		writeError(w, http.StatusBadRequest, "kind must be install or readback")
		return
	}
	if req.Device == "" || req.Station == "" {
		writeError(w, http.StatusBadRequest, "device and station are required")
		return
	}

	job := NewJob(req.Kind, req.Device, req.Station)
	if err := s.Audit.Insert(r.Context(), job); err != nil {
		slog.Error("insert job failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "audit store unavailable")
		return
	}
	slog.Info("job created", "job_id", job.ID, "kind", job.Kind, "device", job.Device, "station", job.Station)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Audit.Get(r.Context(), id)
	if err != nil {
		slog.Error("get job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "audit store unavailable")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type progressRequest struct {
	Frame        int    `json:"frame"`
	Total        int    `json:"total"`
	Status       string `json:"status"`
	Detail       string `json:"detail"`
	VersionAfter uint16 `json:"version_after"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.Audit.Get(r.Context(), id)
	if err != nil || job == nil {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}

	switch req.Status {
	case "ok":
		s.Metrics.FramesInstalled.WithLabelValues(job.Device).Inc()
		if job.Status == StatusQueued {
			job.Status = StatusRunning
		}
	case "mac_error":
		s.Metrics.MACFailures.WithLabelValues(job.Device).Inc()
		job.Status = StatusFailed
	case "version_error":
		s.Metrics.RollbacksRefused.WithLabelValues(job.Device).Inc()
		job.Status = StatusFailed
	case "done":
		job.Status = StatusSucceeded
		job.VersionAfter = req.VersionAfter
	case "failed":
		job.Status = StatusFailed
	default:
		writeError(w, http.StatusBadRequest, "unknown progress status")
		return
	}
	job.FrameCount = req.Frame
	job.Detail = req.Detail

	if job.Status == StatusSucceeded || job.Status == StatusFailed {
		s.Metrics.JobsTotal.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
		s.Metrics.JobDuration.WithLabelValues(string(job.Kind)).
			Observe(time.Since(job.CreatedAt).Seconds())
	}
	if err := s.Audit.Update(r.Context(), job); err != nil {
		slog.Error("update job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "audit store unavailable")
		return
	}

	s.Hub.Publish(ProgressEvent{
		JobID:    id,
		Frame:    req.Frame,
		Total:    req.Total,
		Status:   req.Status,
		Detail:   req.Detail,
		Reported: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.Hub.Subscribe(id)
	defer cancel()

	// Drain the client's side so pings and closes are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

type reserveNonceRequest struct {
	Nonce string `json:"nonce"`
}

func (s *Server) handleReserveNonce(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	var req reserveNonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := hex.DecodeString(req.Nonce)
	if err != nil || len(raw) != 24 {
		writeError(w, http.StatusBadRequest, "nonce must be 48 hex chars")
		return
	}
	var nonce [24]byte
	copy(nonce[:], raw)

	if err := s.Nonces.Reserve(r.Context(), device, nonce); err != nil {
		slog.Warn("nonce reservation refused", "device", device, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": device, "nonce": req.Nonce})
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string, tlsConfig *TLSListenConfig) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	if tlsConfig != nil {
		srv.TLSConfig = tlsConfig.Config
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
