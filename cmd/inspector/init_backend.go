package main

import (
	"fmt"
	"log/slog"

	"label-inspector/internal/adapter/backend"
	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
	"label-inspector/internal/infra/launch"
	"label-inspector/internal/infra/logger"
	"label-inspector/internal/usecase/readiness"
	"label-inspector/internal/usecase/supervisor"
)

// backendComponents holds everything that reaches or owns the detection backend.
type backendComponents struct {
	Spec       domain.LaunchSpec
	Prober     *readiness.Prober
	Client     *backend.Client
	Backend    domain.Backend          // Client, behind the breaker when enabled
	Breaker    *backend.BreakerBackend // nil when the breaker is disabled
	Supervisor *supervisor.Supervisor
}

func initBackend(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*backendComponents, error) {
	spec, err := launch.Resolve(cfg.Launch)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	client := backend.NewClient(cfg.Backend, logger.Component(log, "backend-client"))
	var b domain.Backend = client
	var breaker *backend.BreakerBackend
	if cfg.Backend.Breaker.Enabled {
		breaker = backend.NewBreakerBackend(client, cfg.Backend.Breaker, logger.Component(log, "breaker"))
		b = breaker
	}

	prober := readiness.New(readiness.Config{
		InitialDelay: cfg.Readiness.InitialDelay,
		Interval:     cfg.Readiness.Interval,
	}, logger.Component(log, "readiness"))

	sup := supervisor.New(spec, supervisor.Config{
		ReadyTimeout: cfg.Readiness.Timeout,
		StopTimeout:  cfg.Launch.StopTimeout,
		OutputMax:    cfg.Launch.OutputMax,
	}, prober, client.Probe, bus, logger.Component(log, "supervisor"))

	return &backendComponents{
		Spec:       spec,
		Prober:     prober,
		Client:     client,
		Backend:    b,
		Breaker:    breaker,
		Supervisor: sup,
	}, nil
}
