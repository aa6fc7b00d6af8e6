package main

import (
	"log/slog"

	"github.com/oklog/ulid/v2"

	"label-inspector/internal/adapter/surface"
	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
	"label-inspector/internal/infra/logger"
	"label-inspector/internal/usecase/command"
	"label-inspector/internal/usecase/station"
	"label-inspector/internal/usecase/stream"
)

// stationComponents holds the operator-facing pipeline.
type stationComponents struct {
	SessionID string
	Session   *domain.SessionState
	Surface   *surface.BusSurface
	Commands  *command.Gateway
	Stream    *stream.Controller
	Station   *station.Station
}

func initStation(cfg *config.Config, b domain.Backend, bus domain.EventBus, log *slog.Logger) *stationComponents {
	sessionID := ulid.Make().String()
	session := domain.NewSessionState()
	surf := surface.NewBusSurface(bus, sessionID)

	commands := command.New(b, surf, bus, command.Config{
		CloseTimeout: cfg.Backend.CloseTimeout,
	}, logger.Component(log, "commands"))

	loop := stream.New(commands, surf, session, bus, stream.Config{
		FrameInterval: cfg.Stream.FrameInterval,
	}, logger.Component(log, "stream"))

	st := station.New(commands, loop, surf, session, logger.Component(log, "station"))

	return &stationComponents{
		SessionID: sessionID,
		Session:   session,
		Surface:   surf,
		Commands:  commands,
		Stream:    loop,
		Station:   st,
	}
}
