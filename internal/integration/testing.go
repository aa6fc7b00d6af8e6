// Package integration wires the real station components against a fake
// detection backend served over HTTP.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"label-inspector/internal/adapter/backend"
	"label-inspector/internal/adapter/gateway"
	"label-inspector/internal/adapter/surface"
	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
	"label-inspector/internal/usecase/command"
	"label-inspector/internal/usecase/eventbus"
	"label-inspector/internal/usecase/readiness"
	"label-inspector/internal/usecase/station"
	"label-inspector/internal/usecase/stream"
	"label-inspector/internal/usecase/supervisor"
)

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// FakeBackend serves the detection backend's HTTP API from canned answers.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	initBody string
	frame    string
	process  string
	hits     map[string]int
	lastPlay *bool
}

// Canned answers.
const (
	InitOK    = `{"success": true, "message": "Camera initialized"}`
	InitBusy  = `{"success": false, "message": "Camera is busy"}`
	ProcessOK = `{"success": true, "detection_image": "ZGV0",
		"matched_results": [{"item": "Lot", "reason": "match", "db_value": "A1", "ocr_value": "A1"}],
		"defect_results": [], "status": "OK"}`
	ProcessNG = `{"success": true, "detection_image": "ZGV0",
		"matched_results": [],
		"defect_results": [{"item": "Expiry", "reason": "mismatch", "db_value": "2027-01", "ocr_value": "2021-01"}],
		"status": "NG"}`
)

// NewFakeBackend starts a fake backend that accepts camera init and serves
// a fixed frame.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{
		initBody: InitOK,
		frame:    "aGVsbG8=",
		process:  ProcessOK,
		hits:     make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/camera/init", fb.handle("camera/init", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		body := fb.initBody
		fb.mu.Unlock()
		io.WriteString(w, body)
	}))
	mux.HandleFunc("/api/camera/frame", fb.handle("camera/frame", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		frame := fb.frame
		fb.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": "success", "frame": frame})
	}))
	mux.HandleFunc("/api/camera/close", fb.handle("camera/close", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"success": true}`)
	}))
	mux.HandleFunc("/api/process", fb.handle("process", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		body := fb.process
		fb.mu.Unlock()
		io.WriteString(w, body)
	}))
	mux.HandleFunc("/api/play/pause/frame", fb.handle("play/pause/frame", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			State bool `json:"state"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		fb.mu.Lock()
		fb.lastPlay = &req.State
		fb.mu.Unlock()
		io.WriteString(w, `{"success": true}`)
	}))
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Server.Close)
	return fb
}

func (fb *FakeBackend) handle(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.hits[name]++
		fb.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}
}

// BaseURL is the API root to configure the client with.
func (fb *FakeBackend) BaseURL() string { return fb.Server.URL + "/api" }

// SetInit replaces the camera init answer.
func (fb *FakeBackend) SetInit(body string) {
	fb.mu.Lock()
	fb.initBody = body
	fb.mu.Unlock()
}

// SetProcess replaces the inspection answer.
func (fb *FakeBackend) SetProcess(body string) {
	fb.mu.Lock()
	fb.process = body
	fb.mu.Unlock()
}

// Hits returns how often path was requested.
func (fb *FakeBackend) Hits(path string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.hits[path]
}

// LastPlayState returns the last play/pause state posted, if any.
func (fb *FakeBackend) LastPlayState() (bool, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.lastPlay == nil {
		return false, false
	}
	return *fb.lastPlay, true
}

// Station is the full station wired against a backend URL, the way
// cmd/inspector wires it, minus the console.
type Station struct {
	Bus        *eventbus.Bus
	Supervisor *supervisor.Supervisor
	Session    *domain.SessionState
	Commands   *command.Gateway
	Stream     *stream.Controller
	Station    *station.Station
	Gateway    *gateway.Server

	recMu  sync.Mutex
	events []domain.Event
}

// NewStation builds the station in external launch mode against baseURL.
// The gateway listens on a random local port once StartGateway is called.
func NewStation(t *testing.T, baseURL string) *Station {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.RequestTimeout = 2 * time.Second
	cfg.Backend.ProcessTimeout = 2 * time.Second
	cfg.Stream.FrameInterval = 5 * time.Millisecond

	bus := eventbus.New(log)
	client := backend.NewClient(cfg.Backend, log)
	prober := readiness.New(readiness.Config{Interval: 10 * time.Millisecond}, log)
	sup := supervisor.New(domain.LaunchSpec{Mode: config.LaunchExternal}, supervisor.Config{
		ReadyTimeout: 2 * time.Second,
	}, prober, client.Probe, bus, log)

	session := domain.NewSessionState()
	surf := surface.NewBusSurface(bus, "it")
	commands := command.New(client, surf, bus, command.Config{CloseTimeout: time.Second}, log)
	loop := stream.New(commands, surf, session, bus, stream.Config{FrameInterval: cfg.Stream.FrameInterval}, log)
	st := station.New(commands, loop, surf, session, log)

	srv := gateway.NewServer(bus, "127.0.0.1:0", log)
	deps := gateway.HandlerDeps{
		Station:    st,
		Commands:   commands,
		Stream:     loop,
		Backend:    sup,
		Session:    session,
		Bus:        bus,
		BusDropped: bus.Dropped,
		Version:    "it",
		Logger:     log,
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)

	s := &Station{
		Bus:        bus,
		Supervisor: sup,
		Session:    session,
		Commands:   commands,
		Stream:     loop,
		Station:    st,
		Gateway:    srv,
	}
	unsub := bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		s.recMu.Lock()
		s.events = append(s.events, ev)
		s.recMu.Unlock()
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		st.Shutdown(ctx)
		sup.Stop(ctx)
		srv.Stop(ctx)
		unsub()
		bus.Close()
	})
	return s
}

// StartGateway starts the gateway under ctx and waits until it listens.
func (s *Station) StartGateway(t *testing.T, ctx context.Context) string {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Gateway.Start(ctx) }()
	select {
	case <-s.Gateway.Ready():
		return s.Gateway.BoundAddr()
	case err := <-errCh:
		t.Fatalf("gateway start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not start")
	}
	return ""
}

// Events returns the events of type et seen so far.
func (s *Station) Events(et domain.EventType) []domain.Event {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor polls until cond holds or the timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
