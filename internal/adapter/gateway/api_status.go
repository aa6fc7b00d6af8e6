package gateway

import (
	"net/http"
	"time"

	"label-inspector/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Station StationStatus         `json:"station"`
	Backend domain.BackendStatus  `json:"backend"`
	Breaker *domain.BreakerStatus `json:"breaker,omitempty"`
	Stream  StreamState           `json:"stream"`
	Gateway GatewayStatus         `json:"gateway"`
}

// StationStatus holds station overview info.
type StationStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// GatewayStatus holds connection stats.
type GatewayStatus struct {
	Clients       int    `json:"clients"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

// HealthResponse is the JSON body returned by GET /healthz.
type HealthResponse struct {
	Status  string              `json:"status"`
	Backend domain.BackendState `json:"backend"`
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		backend := backendStatus(deps)
		backend.StderrTail = ""
		var breaker *domain.BreakerStatus
		if deps.Breaker != nil {
			st := deps.Breaker.Status()
			breaker = &st
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Station: StationStatus{
				Name:          "label-inspector",
				Version:       deps.Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Backend: backend,
			Breaker: breaker,
			Stream:  currentStreamState(deps),
			Gateway: GatewayStatus{
				Clients:       s.ClientCount(),
				DroppedFrames: s.DroppedFrames(),
			},
		})
	}
}

// healthzHandler answers 200 while the backend is usable and 503 once it
// has exited, failed or been stopped.
func healthzHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		state := backendStatus(deps).State
		switch state {
		case domain.BackendStateExited, domain.BackendStateFailed, domain.BackendStateStopped:
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Backend: state})
		default:
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Backend: state})
		}
	}
}
