package bot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStartsRunning(t *testing.T) {
	s := NewState()
	assert.Equal(t, PhaseRunning, s.Phase())
	assert.True(t, s.TradingAllowed())
}

func TestPauseAndResume(t *testing.T) {
	s := NewState()

	s.Pause()
	assert.Equal(t, PhasePausedForRedemption, s.Phase())
	assert.False(t, s.TradingAllowed())

	s.Pause() // idempotent
	assert.False(t, s.TradingAllowed())

	s.Resume()
	assert.Equal(t, PhaseRunning, s.Phase())
	assert.True(t, s.TradingAllowed())
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Pause()
			s.Resume()
		}()
		go func() {
			defer wg.Done()
			_ = s.TradingAllowed()
			_ = s.Phase()
		}()
	}
	wg.Wait()
	assert.Equal(t, PhaseRunning, s.Phase())
}
