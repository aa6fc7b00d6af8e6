// Package stream runs the live frame loop and its play/pause state machine.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"label-inspector/internal/domain"
)

// DefaultFrameDelay is the pause between two frame requests.
const DefaultFrameDelay = 33 * time.Millisecond

const (
	cameraErrorTitle = "Camera Error"
	frameErrorPrefix = "Failed to get camera frame: "
)

// Reasons a loop instance ended.
const (
	ReasonPaused     = "paused"
	ReasonNoCamera   = "nocamera"
	ReasonError      = "error"
	ReasonSuperseded = "superseded"
	ReasonShutdown   = "shutdown"
)

// FrameSource is the slice of the command gateway the loop needs.
type FrameSource interface {
	GetFrame(ctx context.Context) domain.Result[domain.Frame]
	SetPlayPause(ctx context.Context, playing bool) domain.Result[domain.Ack]
}

// Config holds loop tuning.
type Config struct {
	FrameInterval time.Duration // sleep after each iteration; <= 0 means DefaultFrameDelay
}

// Snapshot describes the loop for status reporting.
type Snapshot struct {
	Playing    bool   `json:"playing"`
	LoopActive bool   `json:"loop_active"`
	Frames     uint64 `json:"frames"`
	Generation uint64 `json:"generation"`
}

// Controller owns the frame loop. At most one loop instance requests frames
// at any time; each instance is tagged with a generation and exits at its
// next iteration boundary once a newer one exists.
type Controller struct {
	source  FrameSource
	surface domain.Surface
	session *domain.SessionState
	bus     domain.EventBus
	config  Config
	logger  *slog.Logger

	cmdMu sync.Mutex // serialises Pause/Resume/Stop

	mu         sync.Mutex
	appCtx     context.Context
	generation uint64
	active     bool
	closed     bool
	done       chan struct{} // closed when the newest instance ends

	frames atomic.Uint64
}

// New creates a Controller. bus may be nil.
func New(source FrameSource, surface domain.Surface, session *domain.SessionState, bus domain.EventBus, cfg Config, logger *slog.Logger) *Controller {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		source:  source,
		surface: surface,
		session: session,
		bus:     bus,
		config:  cfg,
		logger:  logger,
		appCtx:  context.Background(),
	}
}

// Start spawns a loop. ctx is the application context: cancelling it ends
// the loop at its next iteration. Start is a no-op while a loop is active.
// A stop left behind by an earlier terminal condition is cleared while the
// feed is playing, so a fresh camera init streams again.
func (c *Controller) Start(ctx context.Context) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.appCtx = ctx
	active, closed := c.active, c.closed
	c.mu.Unlock()
	if active || closed {
		return
	}
	if c.session.IsPlaying() {
		c.session.ClearStop()
	}
	c.spawn()
}

// Pause stops frame requests after the current iteration and tells the
// backend. The play flag is cleared whatever the backend answers. Pausing
// while paused is a no-op.
func (c *Controller) Pause(ctx context.Context) domain.Result[domain.Ack] {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if wasPlaying := c.session.SetPlaying(false); !wasPlaying {
		return domain.Success(domain.Ack{Success: true})
	}
	c.surface.ShowPlayState(ctx, false)
	c.logger.Info("stream paused")
	return c.source.SetPlayPause(ctx, false)
}

// Resume restarts frame requests. It is a no-op while a loop is active and
// playing. If the backend refuses, the play flag reverts and no loop starts.
func (c *Controller) Resume(ctx context.Context) domain.Result[domain.Ack] {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	active, closed := c.active, c.closed
	c.mu.Unlock()
	if closed {
		return domain.Failure[domain.Ack](domain.ErrStreamNotActive.Error())
	}
	if active && c.session.IsPlaying() {
		return domain.Success(domain.Ack{Success: true})
	}

	c.session.SetPlaying(true)
	res := c.source.SetPlayPause(ctx, true)
	if !res.OK() {
		c.session.SetPlaying(false)
		c.logger.Warn("resume refused by backend", "error", res.Message())
		return res
	}

	c.surface.ShowPlayState(ctx, true)
	c.logger.Info("stream resumed")
	c.spawn()
	return res
}

// Toggle pauses a playing stream and resumes a paused one.
func (c *Controller) Toggle(ctx context.Context) domain.Result[domain.Ack] {
	if c.session.IsPlaying() {
		return c.Pause(ctx)
	}
	return c.Resume(ctx)
}

// Stop ends the loop for good and waits for the active instance to finish
// or for ctx to end.
func (c *Controller) Stop(ctx context.Context) error {
	c.cmdMu.Lock()
	c.mu.Lock()
	c.closed = true
	done := c.done
	c.mu.Unlock()
	c.session.RequestStop()
	c.cmdMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return domain.WrapOp("stream.Stop", ctx.Err())
	}
}

// Snapshot reports the loop state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Playing:    c.session.IsPlaying(),
		LoopActive: c.active,
		Frames:     c.frames.Load(),
		Generation: c.generation,
	}
}

// spawn starts a new loop instance that first waits for its predecessor.
func (c *Controller) spawn() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	prev := c.done
	done := make(chan struct{})
	c.done = done
	c.active = true
	ctx := c.appCtx
	c.mu.Unlock()

	go c.run(ctx, gen, prev, done)
}

// state reports whether gen is still the newest instance and whether Stop ran.
func (c *Controller) state(gen uint64) (current, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen, c.closed
}

func (c *Controller) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	var frames uint64
	reason := ReasonPaused
	logger := c.logger.With("generation", gen)

	defer func() {
		c.mu.Lock()
		if c.generation == gen {
			c.active = false
		}
		c.mu.Unlock()
		close(done)

		logger.Debug("frame loop ended", "reason", reason, "frames", frames)
		if c.bus != nil {
			c.bus.Publish(ctx, domain.NewEvent(domain.EventStreamStopped, "", domain.StreamStoppedPayload{
				Generation: gen,
				Reason:     reason,
				Frames:     frames,
			}))
		}
	}()

	if prev != nil {
		<-prev
	}
	logger.Debug("frame loop started")

	for {
		current, closed := c.state(gen)
		switch {
		case ctx.Err() != nil, closed:
			reason = ReasonShutdown
			return
		case !current:
			reason = ReasonSuperseded
			return
		case !c.session.ShouldRun():
			return
		}

		res := c.source.GetFrame(ctx)
		frame, ok := res.Get()
		if !ok {
			c.surface.ShowFallback(ctx, domain.TargetLive, domain.ImageNoCamera)
			c.surface.ShowError(ctx, cameraErrorTitle, frameErrorPrefix+res.Message())
			c.session.RequestStop()
			reason = ReasonError
			return
		}

		switch frame.Status {
		case domain.FrameNormal:
			c.surface.ShowFrame(ctx, frame)
			frames++
			c.frames.Add(1)
		case domain.FrameNoCamera:
			c.surface.ShowFallback(ctx, domain.TargetLive, domain.ImageNoCamera)
			c.session.RequestStop()
			reason = ReasonNoCamera
			return
		case domain.FrameNoFrame:
			// Camera is warming up; try again next tick.
		}

		if !sleep(ctx, c.config.FrameInterval) {
			reason = ReasonShutdown
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
