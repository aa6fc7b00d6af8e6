package domain

import "sync"

// SessionState holds the process-wide play/pause flags. One instance is
// created at startup and handed to the stream controller and the station.
// Only the play/pause command and the streaming loop write it.
type SessionState struct {
	mu            sync.Mutex
	playing       bool
	stopRequested bool
}

// NewSessionState returns the initial state: playing, no stop requested.
func NewSessionState() *SessionState {
	return &SessionState{playing: true}
}

// IsPlaying reports the authoritative play flag.
func (s *SessionState) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// StopRequested reports whether a terminal condition or pause asked the loop to stop.
func (s *SessionState) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// ShouldRun reports whether a loop may start another iteration.
func (s *SessionState) ShouldRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.stopRequested
}

// SetPlaying sets the play flag. Setting it to true clears any stop request.
// It returns the previous value.
func (s *SessionState) SetPlaying(playing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.playing
	s.playing = playing
	if playing {
		s.stopRequested = false
	}
	return prev
}

// RequestStop marks the current loop for termination at its next iteration boundary.
func (s *SessionState) RequestStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

// ClearStop withdraws a pending stop request without touching the play flag.
func (s *SessionState) ClearStop() {
	s.mu.Lock()
	s.stopRequested = false
	s.mu.Unlock()
}

// SessionSnapshot is a copy of the flags.
type SessionSnapshot struct {
	Playing       bool `json:"playing"`
	StopRequested bool `json:"stop_requested"`
}

// Snapshot returns both flags under one lock.
func (s *SessionState) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{Playing: s.playing, StopRequested: s.stopRequested}
}
