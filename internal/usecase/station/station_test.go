package station

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-inspector/internal/domain"
	"label-inspector/internal/usecase/stream"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCommands struct {
	init    domain.Result[domain.CameraInit]
	process domain.Result[domain.InspectionResult]
	block   chan struct{} // when set, ProcessImage waits on it
	closed  int
}

func (f *fakeCommands) InitCamera(context.Context) domain.Result[domain.CameraInit] { return f.init }

func (f *fakeCommands) ProcessImage(context.Context) domain.Result[domain.InspectionResult] {
	if f.block != nil {
		<-f.block
	}
	return f.process
}

func (f *fakeCommands) CloseCamera(context.Context) <-chan struct{} {
	f.closed++
	done := make(chan struct{})
	close(done)
	return done
}

type fakeStream struct {
	starts  int
	stops   int
	calls   []string
	refuse  string
	session *domain.SessionState
}

func (f *fakeStream) Start(context.Context) { f.starts++ }

func (f *fakeStream) Pause(context.Context) domain.Result[domain.Ack] {
	f.calls = append(f.calls, "pause")
	f.session.SetPlaying(false)
	if f.refuse != "" {
		return domain.Failure[domain.Ack](f.refuse)
	}
	return domain.Success(domain.Ack{Success: true})
}

func (f *fakeStream) Resume(context.Context) domain.Result[domain.Ack] {
	f.calls = append(f.calls, "resume")
	if f.refuse != "" {
		return domain.Failure[domain.Ack](f.refuse)
	}
	f.session.SetPlaying(true)
	return domain.Success(domain.Ack{Success: true})
}

func (f *fakeStream) Stop(context.Context) error {
	f.stops++
	return nil
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

func (f *fakeSurface) ShowFrame(context.Context, domain.Frame) { f.record("frame") }
func (f *fakeSurface) ShowFallback(_ context.Context, target domain.FallbackTarget, image domain.FallbackImage) {
	f.record(fmt.Sprintf("fallback:%s:%s", target, image))
}
func (f *fakeSurface) ShowError(_ context.Context, title, message string) {
	f.record("error:" + title + ":" + message)
}
func (f *fakeSurface) ShowInspectionPending(context.Context) { f.record("pending") }
func (f *fakeSurface) ShowInspection(_ context.Context, r domain.InspectionResult) {
	f.record("inspection:" + r.Status)
}
func (f *fakeSurface) ShowInspectionFailed(_ context.Context, message string) {
	f.record("failed:" + message)
}
func (f *fakeSurface) ShowPlayState(_ context.Context, playing bool) {
	f.record(fmt.Sprintf("play:%v", playing))
}

type fixture struct {
	station  *Station
	commands *fakeCommands
	stream   *fakeStream
	surface  *fakeSurface
	session  *domain.SessionState
}

func newFixture() *fixture {
	session := domain.NewSessionState()
	f := &fixture{
		commands: &fakeCommands{},
		stream:   &fakeStream{session: session},
		surface:  &fakeSurface{},
		session:  session,
	}
	f.station = New(f.commands, f.stream, f.surface, session, newTestLogger())
	return f
}

func TestInitSuccessStartsLoop(t *testing.T) {
	f := newFixture()
	f.commands.init = domain.Success(domain.CameraInit{Success: true, Message: "ok"})

	res := f.station.Init(context.Background())
	assert.True(t, res.OK())
	assert.Equal(t, 1, f.stream.starts)
	assert.Empty(t, f.surface.Calls())
}

func TestInitFailureShowsFallbackAndNoLoop(t *testing.T) {
	f := newFixture()
	f.commands.init = domain.Failure[domain.CameraInit]("busy")

	res := f.station.Init(context.Background())
	assert.False(t, res.OK())
	assert.Zero(t, f.stream.starts)
	assert.Equal(t, []string{
		"fallback:live:no_camera",
		"error:Camera Error:Failed to initialize camera: busy",
	}, f.surface.Calls())
}

// scriptedFrames answers no_camera until the camera is plugged back in.
type scriptedFrames struct {
	mu      sync.Mutex
	plugged bool
}

func (s *scriptedFrames) plugIn() {
	s.mu.Lock()
	s.plugged = true
	s.mu.Unlock()
}

func (s *scriptedFrames) GetFrame(context.Context) domain.Result[domain.Frame] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.plugged {
		return domain.Success(domain.Frame{Status: domain.FrameNoCamera})
	}
	return domain.Success(domain.Frame{Status: domain.FrameNormal, Image: "abcd"})
}

func (s *scriptedFrames) SetPlayPause(context.Context, bool) domain.Result[domain.Ack] {
	return domain.Success(domain.Ack{Success: true})
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestInitAfterNoCameraStreamsAgain(t *testing.T) {
	session := domain.NewSessionState()
	surface := &fakeSurface{}
	frames := &scriptedFrames{}
	loop := stream.New(frames, surface, session, nil, stream.Config{FrameInterval: time.Millisecond}, newTestLogger())
	commands := &fakeCommands{init: domain.Success(domain.CameraInit{Success: true, Message: "ok"})}
	st := New(commands, loop, surface, session, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st.Shutdown(ctx)
	})

	require.True(t, st.Init(context.Background()).OK())
	require.Eventually(t, func() bool { return !loop.Snapshot().LoopActive }, 2*time.Second, time.Millisecond)
	require.Equal(t, 1, countCalls(surface.Calls(), "fallback:live:no_camera"))

	frames.plugIn()
	require.True(t, st.Init(context.Background()).OK())
	require.Eventually(t, func() bool {
		return countCalls(surface.Calls(), "frame") >= 3
	}, 2*time.Second, time.Millisecond)
	assert.False(t, session.StopRequested())
}

func TestProcessWhilePaused(t *testing.T) {
	f := newFixture()
	f.session.SetPlaying(false)

	res := f.station.Process(context.Background())
	assert.False(t, res.OK())
	assert.Equal(t, "Camera is paused. Please play the camera feed to process.", res.Message())
	assert.Equal(t, []string{
		"error:Process Error:Camera is paused. Please play the camera feed to process.",
	}, f.surface.Calls())
}

func TestProcessOK(t *testing.T) {
	f := newFixture()
	f.commands.process = domain.Success(domain.InspectionResult{Status: domain.StatusOK})

	res := f.station.Process(context.Background())
	require.True(t, res.OK())
	assert.Equal(t, []string{"pending", "inspection:OK"}, f.surface.Calls())
	assert.False(t, f.station.Processing())
}

func TestProcessDefect(t *testing.T) {
	f := newFixture()
	f.commands.process = domain.Success(domain.InspectionResult{
		Status:  "NG",
		Defects: []domain.Record{{Item: "Expiry", Reason: "mismatch", DBValue: "2025-01", OCRValue: "2024-01"}},
	})

	f.station.Process(context.Background())
	calls := f.surface.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "inspection:NG", calls[1])
	assert.True(t, strings.HasPrefix(calls[2], "error:Defect Detected:A defect was found."), calls[2])
	assert.Contains(t, calls[2], "Reason         : mismatch")
}

func TestProcessFailure(t *testing.T) {
	f := newFixture()
	f.commands.process = domain.Failure[domain.InspectionResult]("No frame available")

	res := f.station.Process(context.Background())
	assert.False(t, res.OK())
	assert.Equal(t, []string{
		"pending",
		"fallback:inspection:no_image",
		"failed:Process Error: No frame available",
		"error:Process Error:Failed to process image: No frame available",
	}, f.surface.Calls())
}

func TestProcessRejectsConcurrent(t *testing.T) {
	f := newFixture()
	f.commands.block = make(chan struct{})
	f.commands.process = domain.Success(domain.InspectionResult{Status: domain.StatusOK})

	first := make(chan domain.Result[domain.InspectionResult], 1)
	go func() { first <- f.station.Process(context.Background()) }()
	require.Eventually(t, f.station.Processing, time.Second, time.Millisecond)

	second := f.station.Process(context.Background())
	assert.False(t, second.OK())
	assert.Equal(t, domain.ErrInspectionBusy.Error(), second.Message())

	close(f.commands.block)
	assert.True(t, (<-first).OK())
}

func TestSetPlaying(t *testing.T) {
	f := newFixture()

	assert.True(t, f.station.Toggle(context.Background()).OK())
	assert.False(t, f.session.IsPlaying())
	assert.True(t, f.station.Toggle(context.Background()).OK())
	assert.Equal(t, []string{"pause", "resume"}, f.stream.calls)
	assert.Empty(t, f.surface.Calls())
}

func TestSetPlayingFailure(t *testing.T) {
	f := newFixture()
	f.stream.refuse = "camera busy"

	res := f.station.SetPlaying(context.Background(), false)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"error:Error:Failed to pause/play camera: camera busy"}, f.surface.Calls())
}

func TestShutdown(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.station.Shutdown(context.Background()))
	assert.Equal(t, 1, f.stream.stops)
	assert.Equal(t, 1, f.commands.closed)
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, "No items to display.", FormatResults(nil))

	got := FormatResults([]domain.Record{
		{Item: "Batch", DBValue: "B12", OCRValue: "B12"},
		{Item: "Expiry", Reason: "mismatch", DBValue: "2025-01", OCRValue: "2024-01"},
	})
	want := "Item           : Batch\n" +
		"Database Value : B12\n" +
		"OCR Value      : B12\n" +
		"------------------------------------\n" +
		"Item           : Expiry\n" +
		"Reason         : mismatch\n" +
		"Database Value : 2025-01\n" +
		"OCR Value      : 2024-01"
	assert.Equal(t, want, got)
}
