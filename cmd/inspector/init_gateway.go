package main

import (
	"context"
	"log/slog"
	"net/url"

	"label-inspector/internal/adapter/gateway"
	"label-inspector/internal/infra/config"
	"label-inspector/internal/infra/logger"
	"label-inspector/internal/infra/middleware"
	"label-inspector/internal/usecase/eventbus"
)

// gatewayComponents holds the operator gateway and its metrics.
type gatewayComponents struct {
	Server  *gateway.Server
	Metrics *gateway.Metrics
}

// initGateway builds the operator gateway. It returns nil when the gateway
// is disabled. ctx bounds the rate limiter's cleanup goroutine.
func initGateway(ctx context.Context, cfg *config.Config, st *stationComponents, b *backendComponents, bus *eventbus.Bus, log *slog.Logger) (*gatewayComponents, error) {
	if !cfg.Gateway.Enabled {
		log.Info("operator gateway disabled")
		return nil, nil
	}

	mws := []middleware.Middleware{middleware.CORS(cfg.Gateway.AllowedOrigins)}
	if rl := cfg.Gateway.RateLimit; rl.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: rl.RequestsPerMinute,
			BurstSize:      rl.Burst,
		}))
	}
	mws = append(mws, middleware.SecurityHeaders)

	opts := []gateway.Option{gateway.WithMiddleware(mws...)}
	if patterns := originPatterns(cfg.Gateway.AllowedOrigins); len(patterns) > 0 {
		opts = append(opts, gateway.WithOriginPatterns(patterns...))
	}
	srv := gateway.NewServer(bus, cfg.Gateway.Addr, logger.Component(log, "gateway"), opts...)

	deps := gateway.HandlerDeps{
		Station:    st.Station,
		Commands:   st.Commands,
		Stream:     st.Stream,
		Backend:    b.Supervisor,
		Session:    st.Session,
		Bus:        bus,
		BusDropped: bus.Dropped,
		Version:    Version,
		Logger:     logger.Component(log, "gateway"),
	}
	if b.Breaker != nil {
		deps.Breaker = b.Breaker
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	metrics := gateway.RegisterRESTHandlers(srv, deps)

	return &gatewayComponents{Server: srv, Metrics: metrics}, nil
}

// originPatterns turns allowed origins into the host patterns the websocket
// upgrade checks. Entries without a scheme are used as-is.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
