package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"label-inspector/internal/domain"
	"label-inspector/internal/usecase/overlay"
	"label-inspector/internal/usecase/stream"
)

// RPC method names.
const (
	MethodCameraInit       = "camera.init"
	MethodCameraFrame      = "camera.frame"
	MethodInspectionRun    = "inspection.process"
	MethodStreamPlayPause  = "stream.play_pause"
	MethodErrorReport      = "error.report"
	MethodStreamState      = "stream.state"
	MethodGuideCompute     = "guide.compute"
	MethodBackendStatus    = "backend.status"
	MethodGatewayListNames = "gateway.methods"
)

// Station is the operator-level orchestrator the UI methods drive.
type Station interface {
	Init(ctx context.Context) domain.Result[domain.CameraInit]
	Process(ctx context.Context) domain.Result[domain.InspectionResult]
	SetPlaying(ctx context.Context, playing bool) domain.Result[domain.Ack]
}

// Commands is the slice of the command gateway exposed directly.
type Commands interface {
	GetFrame(ctx context.Context) domain.Result[domain.Frame]
	ReportError(ctx context.Context, title, message string) domain.Result[domain.Ack]
}

// StreamStatus reports the frame loop state.
type StreamStatus interface {
	Snapshot() stream.Snapshot
}

// BackendStatus reports the supervised process state.
type BackendStatus interface {
	Status() domain.BackendStatus
}

// BreakerStatus reports the circuit breaker in front of the backend.
type BreakerStatus interface {
	Status() domain.BreakerStatus
}

// HandlerDeps holds dependencies needed by RPC and REST handlers.
type HandlerDeps struct {
	Station    Station
	Commands   Commands
	Stream     StreamStatus
	Backend    BackendStatus // can be nil (no supervisor, e.g. tests)
	Breaker    BreakerStatus // can be nil (breaker disabled)
	Session    *domain.SessionState
	Bus        domain.EventBus
	BusDropped func() uint64 // can be nil
	Version    string
	Logger     *slog.Logger
}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler(MethodCameraInit, cameraInitHandler(deps))
	s.RegisterHandler(MethodCameraFrame, cameraFrameHandler(deps))
	s.RegisterHandler(MethodInspectionRun, inspectionProcessHandler(deps))
	s.RegisterHandler(MethodStreamPlayPause, playPauseHandler(deps))
	s.RegisterHandler(MethodErrorReport, errorReportHandler(deps))
	s.RegisterHandler(MethodStreamState, streamStateHandler(deps))
	s.RegisterHandler(MethodGuideCompute, guideComputeHandler())
	s.RegisterHandler(MethodBackendStatus, backendStatusHandler(deps))
	s.RegisterHandler(MethodGatewayListNames, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(s.Methods())
	})
}

// RegisterRESTHandlers registers HTTP endpoints and starts counting bus
// events for /metrics.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	startTime := time.Now()
	metrics := NewMetrics()
	if deps.Bus != nil {
		metrics.Subscribe(deps.Bus)
	}

	s.RegisterHTTPRoute("/api/v1/status", statusHandler(deps, startTime, s))
	s.RegisterHTTPRoute("/healthz", healthzHandler(deps))
	s.RegisterHTTPRoute("/metrics", metricsHandler(deps, startTime, metrics, s))
	return metrics
}

func cameraInitHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Station.Init(ctx))
	}
}

func cameraFrameHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Commands.GetFrame(ctx))
	}
}

func inspectionProcessHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Station.Process(ctx))
	}
}

type playPauseRequest struct {
	State *bool `json:"state"`
}

func playPauseHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req playPauseRequest
		if err := decodePayload(MethodStreamPlayPause, payload, &req); err != nil {
			return nil, err
		}
		if req.State == nil {
			return nil, domain.NewDomainError(MethodStreamPlayPause, domain.ErrRPCInvalidPayload, "state is required")
		}
		return json.Marshal(deps.Station.SetPlaying(ctx, *req.State))
	}
}

type errorReportRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func errorReportHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req errorReportRequest
		if err := decodePayload(MethodErrorReport, payload, &req); err != nil {
			return nil, err
		}
		if req.Title == "" && req.Message == "" {
			return nil, domain.NewDomainError(MethodErrorReport, domain.ErrRPCInvalidPayload, "title or message is required")
		}
		return json.Marshal(deps.Commands.ReportError(ctx, req.Title, req.Message))
	}
}

// StreamState is the stream.state response.
type StreamState struct {
	stream.Snapshot
	StopRequested bool `json:"stop_requested"`
}

func streamStateHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(currentStreamState(deps))
	}
}

func currentStreamState(deps HandlerDeps) StreamState {
	var st StreamState
	if deps.Stream != nil {
		st.Snapshot = deps.Stream.Snapshot()
	}
	if deps.Session != nil {
		snap := deps.Session.Snapshot()
		st.Playing = snap.Playing
		st.StopRequested = snap.StopRequested
	}
	return st
}

type guideRequest struct {
	Container overlay.Size `json:"container"`
	Natural   overlay.Size `json:"natural"`
	Mode      string       `json:"mode"`
}

// GuideResponse is the guide.compute response. Guide is nil when no overlay
// should be drawn (mode none, or no image laid out yet).
type GuideResponse struct {
	Visible bool           `json:"visible"`
	Guide   *overlay.Guide `json:"guide,omitempty"`
}

func guideComputeHandler() RPCHandler {
	return func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req guideRequest
		if err := decodePayload(MethodGuideCompute, payload, &req); err != nil {
			return nil, err
		}
		mode, err := overlay.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		guide, ok := overlay.Layout(req.Container, req.Natural, mode)
		if !ok {
			return json.Marshal(GuideResponse{})
		}
		return json.Marshal(GuideResponse{Visible: true, Guide: &guide})
	}
}

func backendStatusHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(backendStatus(deps))
	}
}

func backendStatus(deps HandlerDeps) domain.BackendStatus {
	if deps.Backend == nil {
		return domain.BackendStatus{State: domain.BackendStateExternal}
	}
	return deps.Backend.Status()
}

func decodePayload(method string, payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return domain.NewDomainError(method, domain.ErrRPCInvalidPayload, "payload is required")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return domain.NewDomainError(method, domain.ErrRPCInvalidPayload, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
