package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
)

// stubBackend is a scriptable domain.Backend.
type stubBackend struct {
	calls    int
	frameErr error
	closed   bool
}

func (s *stubBackend) InitCamera(context.Context) (domain.CameraInit, error) {
	s.calls++
	return domain.CameraInit{Success: true}, nil
}

func (s *stubBackend) Frame(context.Context) (domain.Frame, error) {
	s.calls++
	if s.frameErr != nil {
		return domain.Frame{}, s.frameErr
	}
	return domain.Frame{Status: domain.FrameNormal, Image: "abcd"}, nil
}

func (s *stubBackend) Process(context.Context) (domain.InspectionResult, error) {
	s.calls++
	return domain.InspectionResult{Status: domain.StatusOK}, nil
}

func (s *stubBackend) SetPlayPause(_ context.Context, playing bool) (domain.Ack, error) {
	s.calls++
	return domain.Ack{Success: playing}, nil
}

func (s *stubBackend) CloseCamera(context.Context) error {
	s.closed = true
	return nil
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := &stubBackend{}
	b := NewBreakerBackend(inner, config.BreakerConfig{}, newTestLogger())

	frame, err := b.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcd", frame.Image)

	res, err := b.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())

	ack, err := b.SetPlayPause(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &stubBackend{frameErr: errors.New("http request: connection reset")}
	b := NewBreakerBackend(inner, config.BreakerConfig{Enabled: true, MaxFailures: 3, Timeout: 5 * time.Second}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := b.Frame(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, "open", b.Status().State)

	_, err := b.Frame(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 3, inner.calls, "backend should not be called when circuit is open")

	// Shutdown still reaches the backend.
	require.NoError(t, b.CloseCamera(context.Background()))
	assert.True(t, inner.closed)
}

func TestBreakerIgnoresRejections(t *testing.T) {
	inner := &stubBackend{frameErr: rejected(pathCameraFrame, "camera busy")}
	b := NewBreakerBackend(inner, config.BreakerConfig{Enabled: true, MaxFailures: 2, Timeout: 5 * time.Second}, newTestLogger())

	for i := 0; i < 5; i++ {
		_, err := b.Frame(context.Background())
		assert.ErrorIs(t, err, domain.ErrBackendRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 5, inner.calls)
	assert.Equal(t, domain.BreakerStatus{State: "closed", Requests: 5}, b.Status())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	inner := &stubBackend{frameErr: errors.New("down")}
	b := NewBreakerBackend(inner, config.BreakerConfig{Enabled: true, MaxFailures: 2, Timeout: 50 * time.Millisecond}, newTestLogger())

	for i := 0; i < 2; i++ {
		b.Frame(context.Background())
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, b.State())

	inner.frameErr = nil
	_, err := b.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
