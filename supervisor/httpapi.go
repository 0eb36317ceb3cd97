package supervisor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the control HTTP API:
//
//	GET  /status                    watchdog state of every service
//	GET  /healthz                   200 when all services healthy, else 503
//	GET  /events?since=N            event log entries with seq > N
//	GET  /metrics                   prometheus metrics
//	POST /services/{name}/restart   force a restart cycle
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /services/{name}/restart", s.handleRestart)
	return mux
}

type statusResponse struct {
	Services []StateSnapshot `json:"services"`
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Services: s.Status()})
}

func (s *Supervisor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snaps := s.Status()
	for _, snap := range snaps {
		if snap.Phase != PhaseHealthy {
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Services: snaps})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Services: snaps})
}

func (s *Supervisor) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.Log.Since(since))
}

func (s *Supervisor) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Restart(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Info("restart requested", "service", name)
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}
