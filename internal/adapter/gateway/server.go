package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/middleware"
)

// clientSendBuffer is the per-connection outbound queue. Frames beyond it are
// dropped rather than stalling the event bus.
const clientSendBuffer = 64

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware wraps every HTTP route, the upgrade endpoint included.
// Middlewares run in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

// WithOriginPatterns sets the host patterns accepted on WebSocket upgrade.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server is the operator gateway: RPC over WebSocket plus a few HTTP routes.
type Server struct {
	bus            domain.EventBus
	logger         *slog.Logger
	addr           string
	middlewares    []middleware.Middleware
	originPatterns []string

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	httpRoutes []httpRoute

	clients   sync.Map // connID (uint64) -> *clientConn
	nclients  atomic.Int64
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	unsubAll  func()
	baseCtx   context.Context
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	ready     chan struct{}
	stopOnce  sync.Once
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// NewServer creates a gateway server listening on addr once started.
func NewServer(bus domain.EventBus, addr string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:      bus,
		logger:   logger,
		addr:     addr,
		handlers: make(map[string]RPCHandler),
		baseCtx:  context.Background(),
		ready:    make(chan struct{}),
		originPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Handler returns the full HTTP handler with middlewares applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.Handle(route.pattern, route.handler)
	}
	return middleware.Chain(mux, s.middlewares...)
}

// Start begins accepting connections. It blocks until ctx is cancelled or
// the listener fails. RPCs run under ctx, not under the connection that
// issued them, so a camera init survives its client disconnecting.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return domain.NewSubSystemError("gateway", "gateway.Start", domain.ErrUnavailable,
			fmt.Sprintf("listen %s: %v", s.addr, err))
	}
	s.baseCtx = ctx
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.unsubAll = s.bus.SubscribeAll(s.forwardEvent)

	s.logger.Info("gateway started", "addr", s.BoundAddr())
	close(s.ready)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Stop closes all client connections and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.unsubAll != nil {
			s.unsubAll()
		}

		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			cc.close()
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})

		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(shutdownCtx)
		}
		s.logger.Info("gateway stopped")
	})
	return err
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int { return int(s.nclients.Load()) }

// DroppedFrames returns how many outbound frames were dropped for slow clients.
func (s *Server) DroppedFrames() uint64 { return s.dropped.Load() }

func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		s.enqueue(value.(*clientConn), frame)
		return true
	})
}

func (s *Server) enqueue(cc *clientConn, frame Frame) {
	select {
	case cc.sendCh <- frame:
	default:
		s.dropped.Add(1)
		s.logger.Debug("gateway: dropped frame for slow client",
			"conn_id", cc.id, "type", frame.Type, "frame_id", frame.ID)
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan Frame, clientSendBuffer),
		done:   make(chan struct{}),
	}
	s.clients.Store(cc.id, cc)
	s.nclients.Add(1)
	s.logger.Info("gateway client connected", "conn_id", cc.id, "remote", r.RemoteAddr)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	if _, ok := s.clients.LoadAndDelete(cc.id); ok {
		ws.Close(websocket.StatusNormalClosure, "")
	}
	s.nclients.Add(-1)
	s.logger.Info("gateway client disconnected", "conn_id", cc.id)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("gateway.dispatch", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	result, err := handler(s.baseCtx, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Payload = nil
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	s.enqueue(cc, resp)
}
