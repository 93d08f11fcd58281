package bot

import "sync"

// Phase is the bot's top-level lifecycle state.
type Phase string

const (
	PhaseRunning             Phase = "RUNNING"
	PhasePausedForRedemption Phase = "PAUSED_FOR_REDEMPTION"
)

// State is the shared pause flag observed by every producing stage. While
// paused, the monitor and trader stop emitting and the detector stops
// auto-executing; orders already in flight are unaffected.
type State struct {
	mu    sync.RWMutex
	phase Phase
}

// NewState starts in the running phase.
func NewState() *State {
	return &State{phase: PhaseRunning}
}

// TradingAllowed reports whether new orders may be produced.
func (s *State) TradingAllowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase == PhaseRunning
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Pause moves to the redemption phase. Idempotent.
func (s *State) Pause() {
	s.mu.Lock()
	s.phase = PhasePausedForRedemption
	s.mu.Unlock()
}

// Resume returns to the running phase. Idempotent.
func (s *State) Resume() {
	s.mu.Lock()
	s.phase = PhaseRunning
	s.mu.Unlock()
}
