// Package station ties camera init, the frame loop and inspections together
// and decides what the operator sees when they fail.
package station

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"label-inspector/internal/domain"
)

// Operator-facing titles and messages.
const (
	titleCameraError    = "Camera Error"
	titleProcessError   = "Process Error"
	titleDefectDetected = "Defect Detected"
	titleError          = "Error"

	msgCameraInitFailed = "Failed to initialize camera: "
	msgProcessFailed    = "Failed to process image: "
	msgPlayPauseFailed  = "Failed to pause/play camera: "
	msgCameraPaused     = "Camera is paused. Please play the camera feed to process."
	msgDefectFound      = "A defect was found. Check the Defect Results panel for details."
	msgNoItems          = "No items to display."

	resultSeparator = "\n------------------------------------\n"
)

// Commands is the slice of the command gateway the station drives.
type Commands interface {
	InitCamera(ctx context.Context) domain.Result[domain.CameraInit]
	ProcessImage(ctx context.Context) domain.Result[domain.InspectionResult]
	CloseCamera(ctx context.Context) <-chan struct{}
}

// Stream is the frame loop controller.
type Stream interface {
	Start(ctx context.Context)
	Pause(ctx context.Context) domain.Result[domain.Ack]
	Resume(ctx context.Context) domain.Result[domain.Ack]
	Stop(ctx context.Context) error
}

// Station is the operator-level orchestrator.
type Station struct {
	commands   Commands
	stream     Stream
	surface    domain.Surface
	session    *domain.SessionState
	logger     *slog.Logger
	processing atomic.Bool
}

// New creates a Station.
func New(commands Commands, stream Stream, surface domain.Surface, session *domain.SessionState, logger *slog.Logger) *Station {
	if logger == nil {
		logger = slog.Default()
	}
	return &Station{
		commands: commands,
		stream:   stream,
		surface:  surface,
		session:  session,
		logger:   logger,
	}
}

// Init opens the camera and starts the frame loop. On failure the live view
// shows the no-camera placeholder and no loop is started. ctx becomes the
// loop's application context.
func (s *Station) Init(ctx context.Context) domain.Result[domain.CameraInit] {
	res := s.commands.InitCamera(ctx)
	if !res.OK() {
		s.logger.Warn("camera init failed", "error", res.Message())
		s.surface.ShowFallback(ctx, domain.TargetLive, domain.ImageNoCamera)
		s.surface.ShowError(ctx, titleCameraError, msgCameraInitFailed+res.Message())
		return res
	}
	s.logger.Info("camera initialized", "message", res.Payload().Message)
	s.stream.Start(ctx)
	return res
}

// Process runs one inspection. It is refused while the feed is paused or
// while another inspection is in flight.
func (s *Station) Process(ctx context.Context) domain.Result[domain.InspectionResult] {
	if !s.session.IsPlaying() {
		s.surface.ShowError(ctx, titleProcessError, msgCameraPaused)
		return domain.Failure[domain.InspectionResult](msgCameraPaused)
	}
	if !s.processing.CompareAndSwap(false, true) {
		return domain.Failure[domain.InspectionResult](domain.ErrInspectionBusy.Error())
	}
	defer s.processing.Store(false)

	s.surface.ShowInspectionPending(ctx)
	res := s.commands.ProcessImage(ctx)
	if !res.OK() {
		s.surface.ShowFallback(ctx, domain.TargetInspection, domain.ImageNoImage)
		s.surface.ShowInspectionFailed(ctx, titleProcessError+": "+res.Message())
		s.surface.ShowError(ctx, titleProcessError, msgProcessFailed+res.Message())
		return res
	}

	result := res.Payload()
	s.surface.ShowInspection(ctx, result)
	s.logger.Info("inspection completed", "status", result.Status,
		"matched", len(result.Matched), "defects", len(result.Defects))
	if !result.OK() {
		s.surface.ShowError(ctx, titleDefectDetected, msgDefectFound+"\n\n"+FormatResults(result.Defects))
	}
	return res
}

// Processing reports whether an inspection is in flight.
func (s *Station) Processing() bool { return s.processing.Load() }

// SetPlaying resumes or pauses the feed.
func (s *Station) SetPlaying(ctx context.Context, playing bool) domain.Result[domain.Ack] {
	var res domain.Result[domain.Ack]
	if playing {
		res = s.stream.Resume(ctx)
	} else {
		res = s.stream.Pause(ctx)
	}
	if !res.OK() {
		s.surface.ShowError(ctx, titleError, msgPlayPauseFailed+res.Message())
	}
	return res
}

// Toggle flips the play state.
func (s *Station) Toggle(ctx context.Context) domain.Result[domain.Ack] {
	return s.SetPlaying(ctx, !s.session.IsPlaying())
}

// Shutdown stops the loop and releases the camera. The camera close is
// bounded by the gateway; ctx only bounds how long Shutdown waits for it.
func (s *Station) Shutdown(ctx context.Context) error {
	err := s.stream.Stop(ctx)
	select {
	case <-s.commands.CloseCamera(ctx):
	case <-ctx.Done():
		if err == nil {
			err = domain.WrapOp("station.Shutdown", ctx.Err())
		}
	}
	return err
}

// FormatResults renders inspection records as aligned text blocks.
func FormatResults(records []domain.Record) string {
	if len(records) == 0 {
		return msgNoItems
	}
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		var b strings.Builder
		b.WriteString("Item           : " + r.Item + "\n")
		if r.Reason != "" {
			b.WriteString("Reason         : " + r.Reason + "\n")
		}
		b.WriteString("Database Value : " + r.DBValue + "\n")
		b.WriteString("OCR Value      : " + r.OCRValue)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, resultSeparator)
}
