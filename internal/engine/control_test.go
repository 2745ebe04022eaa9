package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlSignals(t *testing.T) {
	ctl := NewControl()
	assert.False(t, ctl.PauseRequested())
	assert.False(t, ctl.CancelRequested())
	assert.NoError(t, ctl.check())

	ctl.Pause()
	ctl.Pause() // idempotent
	assert.True(t, ctl.PauseRequested())
	assert.ErrorIs(t, ctl.check(), ErrPaused)
}

func TestControlCancelWinsOverPause(t *testing.T) {
	ctl := NewControl()
	ctl.Pause()
	ctl.Cancel()

	assert.ErrorIs(t, ctl.check(), ErrCancelled)
}
