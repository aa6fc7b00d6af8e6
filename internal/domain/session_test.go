package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateDefaults(t *testing.T) {
	s := NewSessionState()
	assert.True(t, s.IsPlaying())
	assert.False(t, s.StopRequested())
	assert.True(t, s.ShouldRun())
}

func TestSessionStateStopThenResume(t *testing.T) {
	s := NewSessionState()
	s.RequestStop()
	assert.False(t, s.ShouldRun())
	assert.True(t, s.IsPlaying(), "a terminal stop does not flip the play flag")

	prev := s.SetPlaying(true)
	assert.True(t, prev)
	assert.True(t, s.ShouldRun())
}

func TestSessionStatePauseKeepsStopRequest(t *testing.T) {
	s := NewSessionState()
	s.RequestStop()
	s.SetPlaying(false)
	assert.Equal(t, SessionSnapshot{Playing: false, StopRequested: true}, s.Snapshot())
}

func TestSessionStateClearStop(t *testing.T) {
	s := NewSessionState()
	s.RequestStop()
	s.ClearStop()
	assert.True(t, s.ShouldRun())

	s.SetPlaying(false)
	s.RequestStop()
	s.ClearStop()
	assert.Equal(t, SessionSnapshot{Playing: false, StopRequested: false}, s.Snapshot())
}

func TestInspectionResultOK(t *testing.T) {
	assert.True(t, InspectionResult{Status: "OK"}.OK())
	assert.False(t, InspectionResult{Status: "NG"}.OK())
	assert.False(t, InspectionResult{}.OK())
}

func TestDecodeImageDataURL(t *testing.T) {
	raw, err := DecodeImage("data:image/jpeg;base64,aGk=")
	assert.NoError(t, err)
	assert.Equal(t, "hi", string(raw))

	raw, err = Frame{Status: FrameNormal, Image: "aGk="}.Bytes()
	assert.NoError(t, err)
	assert.Equal(t, "hi", string(raw))
}
