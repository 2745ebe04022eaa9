package engine

import (
	"errors"
	"sync"
)

// ErrPaused and ErrCancelled are the sentinels the driver uses to tell
// a suspended walk apart from a finished one.
var (
	ErrPaused    = errors.New("execution paused")
	ErrCancelled = errors.New("execution cancelled")
)

// Control carries the cooperative pause/cancel signal for one run
// segment. A Control is single-use: resuming a paused run creates a
// fresh one. All methods are safe for concurrent use.
type Control struct {
	pauseOnce  sync.Once
	cancelOnce sync.Once
	pauseCh    chan struct{}
	cancelCh   chan struct{}
}

// NewControl creates an unsignalled control.
func NewControl() *Control {
	return &Control{
		pauseCh:  make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// Pause requests suspension at the next checkpoint. Idempotent.
func (c *Control) Pause() {
	c.pauseOnce.Do(func() { close(c.pauseCh) })
}

// Cancel requests termination at the next checkpoint. Idempotent.
func (c *Control) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelCh) })
}

// PauseRequested reports whether Pause has been called.
func (c *Control) PauseRequested() bool {
	select {
	case <-c.pauseCh:
		return true
	default:
		return false
	}
}

// CancelRequested reports whether Cancel has been called.
func (c *Control) CancelRequested() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// PauseChan exposes the pause signal for select-based waits.
func (c *Control) PauseChan() <-chan struct{} { return c.pauseCh }

// CancelChan exposes the cancel signal for select-based waits.
func (c *Control) CancelChan() <-chan struct{} { return c.cancelCh }

// check returns the sentinel matching a pending signal, cancel first.
func (c *Control) check() error {
	if c.CancelRequested() {
		return ErrCancelled
	}
	if c.PauseRequested() {
		return ErrPaused
	}
	return nil
}
