package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"label-inspector/internal/domain"
)

type commandKey struct {
	op      string
	outcome string
}

// Metrics counts bus events for the Prometheus endpoint.
type Metrics struct {
	mu       sync.Mutex
	commands map[commandKey]int64

	FramesRendered       atomic.Int64
	ErrorsSurfaced       atomic.Int64
	InspectionsCompleted atomic.Int64
	InspectionsFailed    atomic.Int64
	ProbeAttempts        atomic.Int64
	BackendFatal         atomic.Int64
	LoopsStopped         atomic.Int64

	unsubs []func()
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{commands: make(map[commandKey]int64)}
}

// Subscribe starts counting events from bus.
func (m *Metrics) Subscribe(bus domain.EventBus) {
	count := func(c *atomic.Int64) domain.EventHandler {
		return func(context.Context, domain.Event) { c.Add(1) }
	}
	m.unsubs = append(m.unsubs,
		bus.Subscribe(domain.EventCommandCompleted, m.onCommand),
		bus.Subscribe(domain.EventFrameRendered, count(&m.FramesRendered)),
		bus.Subscribe(domain.EventErrorSurfaced, count(&m.ErrorsSurfaced)),
		bus.Subscribe(domain.EventInspectionCompleted, count(&m.InspectionsCompleted)),
		bus.Subscribe(domain.EventInspectionFailed, count(&m.InspectionsFailed)),
		bus.Subscribe(domain.EventProbeAttempt, count(&m.ProbeAttempts)),
		bus.Subscribe(domain.EventBackendFatal, count(&m.BackendFatal)),
		bus.Subscribe(domain.EventStreamStopped, count(&m.LoopsStopped)),
	)
}

// Unsubscribe stops counting.
func (m *Metrics) Unsubscribe() {
	for _, u := range m.unsubs {
		u()
	}
	m.unsubs = nil
}

func (m *Metrics) onCommand(_ context.Context, e domain.Event) {
	var p domain.CommandPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.Op == "" {
		return
	}
	m.RecordCommand(p.Op, p.OK)
}

// RecordCommand increments the counter for op and its outcome.
func (m *Metrics) RecordCommand(op string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.mu.Lock()
	m.commands[commandKey{op: op, outcome: outcome}]++
	m.mu.Unlock()
}

// Commands returns the count for op and outcome ("success" or "failure").
func (m *Metrics) Commands(op, outcome string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands[commandKey{op: op, outcome: outcome}]
}

func (m *Metrics) commandSnapshot() ([]commandKey, map[commandKey]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]commandKey, 0, len(m.commands))
	values := make(map[commandKey]int64, len(m.commands))
	for k, v := range m.commands {
		keys = append(keys, k)
		values[k] = v
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].op != keys[j].op {
			return keys[i].op < keys[j].op
		}
		return keys[i].outcome < keys[j].outcome
	})
	return keys, values
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP inspector_commands_total Backend commands by operation and outcome.\n")
		fmt.Fprintf(w, "# TYPE inspector_commands_total counter\n")
		keys, values := metrics.commandSnapshot()
		for _, k := range keys {
			fmt.Fprintf(w, "inspector_commands_total{op=%q,outcome=%q} %d\n", k.op, k.outcome, values[k])
		}

		counter(w, "inspector_frames_rendered_total", "Frames shown on the live view.", metrics.FramesRendered.Load())
		counter(w, "inspector_errors_surfaced_total", "Errors shown to the operator.", metrics.ErrorsSurfaced.Load())
		counter(w, "inspector_inspections_completed_total", "Inspections that returned a result.", metrics.InspectionsCompleted.Load())
		counter(w, "inspector_inspections_failed_total", "Inspections that failed.", metrics.InspectionsFailed.Load())
		counter(w, "inspector_probe_attempts_total", "Backend readiness probe attempts.", metrics.ProbeAttempts.Load())
		counter(w, "inspector_backend_fatal_total", "Fatal backend startup errors.", metrics.BackendFatal.Load())
		counter(w, "inspector_stream_loops_stopped_total", "Frame loop instances that ended.", metrics.LoopsStopped.Load())

		playing := 0
		if currentStreamState(deps).Playing {
			playing = 1
		}
		gauge(w, "inspector_stream_playing", "Whether the live feed is playing.", float64(playing))

		ready := 0
		if backendStatus(deps).State == domain.BackendStateReady {
			ready = 1
		}
		gauge(w, "inspector_backend_ready", "Whether the backend answered readiness probes.", float64(ready))
		gauge(w, "inspector_ws_clients", "Connected WebSocket clients.", float64(s.ClientCount()))
		counter(w, "inspector_ws_dropped_frames_total", "Frames dropped for slow WebSocket clients.", int64(s.DroppedFrames()))
		if deps.BusDropped != nil {
			counter(w, "inspector_bus_dropped_events_total", "Events dropped for slow bus subscribers.", int64(deps.BusDropped()))
		}

		gauge(w, "inspector_uptime_seconds", "Seconds since the station started.", float64(int64(time.Since(startTime).Seconds())))

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge(w, "go_goroutines", "Number of goroutines.", float64(runtime.NumGoroutine()))
		gauge(w, "go_memstats_alloc_bytes", "Bytes of allocated heap objects.", float64(mem.Alloc))
		gauge(w, "go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", float64(mem.Sys))
	}
}

func counter(w http.ResponseWriter, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}

func gauge(w http.ResponseWriter, name, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
}
