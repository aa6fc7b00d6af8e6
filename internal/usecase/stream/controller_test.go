package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-inspector/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource scripts frame answers by call number and records play/pause calls.
type fakeSource struct {
	mu          sync.Mutex
	frame       func(n int) domain.Result[domain.Frame]
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
	plays       []bool
	refusePlay  bool
}

func normalFrame(n int) domain.Result[domain.Frame] {
	return domain.Success(domain.Frame{Status: domain.FrameNormal, Image: "abcd", Seq: uint64(n)})
}

func (s *fakeSource) GetFrame(context.Context) domain.Result[domain.Frame] {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	frame := s.frame
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	if frame == nil {
		return normalFrame(n)
	}
	return frame(n)
}

func (s *fakeSource) SetPlayPause(_ context.Context, playing bool) domain.Result[domain.Ack] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, playing)
	if s.refusePlay {
		return domain.Failure[domain.Ack]("camera busy")
	}
	return domain.Success(domain.Ack{Success: true})
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) Plays() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.plays...)
}

// fakeSurface records render calls as short strings.
type fakeSurface struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSurface) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeSurface) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSurface) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeSurface) ShowFrame(_ context.Context, frame domain.Frame) {
	f.record(fmt.Sprintf("frame:%d", frame.Seq))
}
func (f *fakeSurface) ShowFallback(_ context.Context, target domain.FallbackTarget, image domain.FallbackImage) {
	f.record(fmt.Sprintf("fallback:%s:%s", target, image))
}
func (f *fakeSurface) ShowError(_ context.Context, title, message string) {
	f.record("error:" + title + ":" + message)
}
func (f *fakeSurface) ShowInspectionPending(context.Context)                   { f.record("pending") }
func (f *fakeSurface) ShowInspection(context.Context, domain.InspectionResult) { f.record("inspection") }
func (f *fakeSurface) ShowInspectionFailed(_ context.Context, message string)  { f.record("failed:" + message) }
func (f *fakeSurface) ShowPlayState(_ context.Context, playing bool)           { f.record(fmt.Sprintf("play:%v", playing)) }

func newTestController(t *testing.T, src *fakeSource) (*Controller, *fakeSurface, *domain.SessionState) {
	t.Helper()
	surface := &fakeSurface{}
	session := domain.NewSessionState()
	c := New(src, surface, session, nil, Config{FrameInterval: time.Millisecond}, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Stop(ctx)
	})
	return c, surface, session
}

func waitInactive(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.Snapshot().LoopActive }, 2*time.Second, time.Millisecond)
}

func TestLoopRendersFrames(t *testing.T) {
	src := &fakeSource{}
	c, surface, _ := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return surface.Count("frame:") >= 5 }, 2*time.Second, time.Millisecond)

	snap := c.Snapshot()
	assert.True(t, snap.Playing)
	assert.True(t, snap.LoopActive)
	assert.EqualValues(t, 1, snap.Generation)
	assert.GreaterOrEqual(t, snap.Frames, uint64(5))
}

func TestNoCameraTerminatesWithoutRestart(t *testing.T) {
	src := &fakeSource{frame: func(n int) domain.Result[domain.Frame] {
		if n < 3 {
			return normalFrame(n)
		}
		return domain.Success(domain.Frame{Status: domain.FrameNoCamera})
	}}
	c, surface, session := newTestController(t, src)

	c.Start(context.Background())
	waitInactive(t, c)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, src.Calls(), "loop must not restart on its own")
	assert.Equal(t, []string{"frame:1", "frame:2", "fallback:live:no_camera"}, surface.Calls())
	assert.True(t, session.StopRequested())
	assert.True(t, session.IsPlaying(), "nocamera does not change the play flag")
}

func TestStartAfterNoCameraStreamsAgain(t *testing.T) {
	src := &fakeSource{frame: func(int) domain.Result[domain.Frame] {
		return domain.Success(domain.Frame{Status: domain.FrameNoCamera})
	}}
	c, surface, session := newTestController(t, src)

	c.Start(context.Background())
	waitInactive(t, c)
	require.True(t, session.StopRequested())
	before := src.Calls()

	src.mu.Lock()
	src.frame = normalFrame
	src.mu.Unlock()

	c.Start(context.Background())
	require.Eventually(t, func() bool { return surface.Count("frame:") >= 3 }, 2*time.Second, time.Millisecond)
	assert.Greater(t, src.Calls(), before)
	assert.False(t, session.StopRequested())
	assert.EqualValues(t, 2, c.Snapshot().Generation)
}

func TestStartWhilePausedKeepsLoopIdle(t *testing.T) {
	src := &fakeSource{}
	c, _, session := newTestController(t, src)
	session.SetPlaying(false)
	session.RequestStop()

	c.Start(context.Background())
	waitInactive(t, c)
	assert.Equal(t, 0, src.Calls())
	assert.True(t, session.StopRequested())
}

func TestNonPositiveFrameIntervalUsesDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Millisecond} {
		c := New(&fakeSource{}, &fakeSurface{}, domain.NewSessionState(), nil, Config{FrameInterval: d}, newTestLogger())
		assert.Equal(t, DefaultFrameDelay, c.config.FrameInterval, "interval %v", d)
	}
}

func TestFailureShowsFallbackAndError(t *testing.T) {
	src := &fakeSource{frame: func(int) domain.Result[domain.Frame] {
		return domain.Failure[domain.Frame]("connection refused")
	}}
	c, surface, session := newTestController(t, src)

	c.Start(context.Background())
	waitInactive(t, c)

	assert.Equal(t, []string{
		"fallback:live:no_camera",
		"error:Camera Error:Failed to get camera frame: connection refused",
	}, surface.Calls())
	assert.True(t, session.StopRequested())
	assert.Equal(t, 1, src.Calls())
}

func TestNoFrameContinuesWithoutRendering(t *testing.T) {
	src := &fakeSource{frame: func(n int) domain.Result[domain.Frame] {
		if n <= 3 {
			return domain.Success(domain.Frame{Status: domain.FrameNoFrame})
		}
		return normalFrame(n)
	}}
	c, surface, _ := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return surface.Count("frame:") >= 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "frame:4", surface.Calls()[0])
}

func TestResumeWhilePlayingIsNoop(t *testing.T) {
	src := &fakeSource{}
	c, _, _ := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return src.Calls() > 0 }, 2*time.Second, time.Millisecond)

	res := c.Resume(context.Background())
	require.True(t, res.OK())
	assert.Empty(t, src.Plays(), "no backend call while already playing")
	assert.EqualValues(t, 1, c.Snapshot().Generation, "no second loop spawned")
}

func TestPauseThenResume(t *testing.T) {
	src := &fakeSource{delay: 2 * time.Millisecond}
	c, surface, session := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return src.Calls() > 2 }, 2*time.Second, time.Millisecond)

	require.True(t, c.Pause(context.Background()).OK())
	assert.False(t, session.IsPlaying())
	require.True(t, c.Resume(context.Background()).OK())
	assert.True(t, session.IsPlaying())

	assert.Equal(t, []bool{false, true}, src.Plays())
	assert.EqualValues(t, 2, c.Snapshot().Generation)

	before := src.Calls()
	require.Eventually(t, func() bool { return src.Calls() > before+3 }, 2*time.Second, time.Millisecond)

	src.mu.Lock()
	maxInFlight := src.maxInFlight
	src.mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "frame requests must be strictly sequential")
	assert.Contains(t, surface.Calls(), "play:false")
	assert.Contains(t, surface.Calls(), "play:true")
}

func TestPauseStopsRequests(t *testing.T) {
	src := &fakeSource{}
	c, _, _ := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return src.Calls() > 0 }, 2*time.Second, time.Millisecond)

	c.Pause(context.Background())
	waitInactive(t, c)
	calls := src.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.Calls())
}

func TestPauseTwiceIsNoop(t *testing.T) {
	src := &fakeSource{}
	c, _, _ := newTestController(t, src)

	c.Pause(context.Background())
	c.Pause(context.Background())
	assert.Equal(t, []bool{false}, src.Plays())
}

func TestPauseFailureStillPauses(t *testing.T) {
	src := &fakeSource{refusePlay: true}
	c, _, session := newTestController(t, src)

	res := c.Pause(context.Background())
	assert.False(t, res.OK())
	assert.Equal(t, "camera busy", res.Message())
	assert.False(t, session.IsPlaying())
}

func TestResumeRefusedRevertsAndSpawnsNothing(t *testing.T) {
	src := &fakeSource{}
	c, _, session := newTestController(t, src)
	session.SetPlaying(false)
	src.refusePlay = true

	res := c.Resume(context.Background())
	assert.False(t, res.OK())
	assert.False(t, session.IsPlaying())
	assert.Zero(t, c.Snapshot().Generation)
	assert.Zero(t, src.Calls())
}

func TestResumeAfterNoCamera(t *testing.T) {
	var noCamera = true
	var mu sync.Mutex
	src := &fakeSource{frame: func(n int) domain.Result[domain.Frame] {
		mu.Lock()
		defer mu.Unlock()
		if noCamera {
			return domain.Success(domain.Frame{Status: domain.FrameNoCamera})
		}
		return normalFrame(n)
	}}
	c, surface, session := newTestController(t, src)

	c.Start(context.Background())
	waitInactive(t, c)

	mu.Lock()
	noCamera = false
	mu.Unlock()

	require.True(t, c.Resume(context.Background()).OK())
	assert.False(t, session.StopRequested())
	require.Eventually(t, func() bool { return surface.Count("frame:") > 0 }, 2*time.Second, time.Millisecond)
}

func TestToggle(t *testing.T) {
	src := &fakeSource{}
	c, _, session := newTestController(t, src)

	c.Toggle(context.Background())
	assert.False(t, session.IsPlaying())
	c.Toggle(context.Background())
	assert.True(t, session.IsPlaying())
	assert.Equal(t, []bool{false, true}, src.Plays())
}

func TestStopWaitsAndBlocksRestart(t *testing.T) {
	src := &fakeSource{delay: 5 * time.Millisecond}
	c, _, session := newTestController(t, src)

	c.Start(context.Background())
	require.Eventually(t, func() bool { return src.Calls() > 0 }, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.Snapshot().LoopActive)

	res := c.Resume(context.Background())
	assert.False(t, res.OK())
	c.Start(context.Background())
	assert.False(t, c.Snapshot().LoopActive)
	assert.True(t, session.StopRequested(), "a closed controller leaves the stop in place")
}

func TestAppContextEndsLoop(t *testing.T) {
	src := &fakeSource{}
	c, _, _ := newTestController(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	require.Eventually(t, func() bool { return src.Calls() > 0 }, 2*time.Second, time.Millisecond)
	cancel()
	waitInactive(t, c)
}
