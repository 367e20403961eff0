package render

import "go.uber.org/atomic"

// State is the user-controlled render state. It is shared between the engine, which mutates it
// on explicit user actions, and the renderer, which reads it every tick.
type State struct {
	overlay   atomic.Bool
	recording atomic.Bool
}

// NewState returns a state with the point overlay enabled and recording off.
func NewState() *State {
	s := &State{}
	s.overlay.Store(true)
	return s
}

// OverlayEnabled reports whether accumulated points are drawn.
func (s *State) OverlayEnabled() bool {
	return s.overlay.Load()
}

// ToggleOverlay flips the overlay and returns the new value.
func (s *State) ToggleOverlay() bool {
	return !s.overlay.Toggle()
}

// IsRecording reports whether frames are being accumulated and persisted.
func (s *State) IsRecording() bool {
	return s.recording.Load()
}

// SetRecording sets the recording flag and returns its previous value.
func (s *State) SetRecording(on bool) bool {
	return s.recording.Swap(on)
}
