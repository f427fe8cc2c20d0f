package orchestrator

import (
	"context"
	"sync"

	"github.com/ShayCichocki/tandem/internal/errors"
)

// ErrStopped is returned by WaitIfPaused once the controller is stopped.
var ErrStopped = errors.New("engine stopped")

// PauseController holds idle loops back from picking new tasks.
// Work already in flight is not interrupted by a pause.
type PauseController struct {
	// paused indicates whether new tasks are held back.
	paused bool
	// stopped releases every waiter for good.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond is signalled on resume, stop, or a cancelled waiter.
	cond *sync.Cond
	// onChange is told about every pause and resume.
	onChange func(paused bool)
}

// NewPauseController creates a new PauseController.
func NewPauseController() *PauseController {
	p := &PauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// OnChange registers a callback run (outside the lock) on every pause or resume.
func (p *PauseController) OnChange(fn func(paused bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Pause stops loops from picking new tasks.
func (p *PauseController) Pause() {
	p.set(true)
}

// Resume lets loops pick tasks again.
func (p *PauseController) Resume() {
	p.set(false)
}

// Toggle flips the paused state and returns the new one.
func (p *PauseController) Toggle() bool {
	p.mu.RLock()
	next := !p.paused
	p.mu.RUnlock()
	p.set(next)
	return next
}

func (p *PauseController) set(paused bool) {
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return
	}
	p.paused = paused
	if !paused {
		p.cond.Broadcast()
	}
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		fn(paused)
	}
}

// Stop signals a stop. This unblocks any WaitIfPaused calls.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused returns whether execution is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// IsStopped returns whether the controller has been stopped.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// WaitIfPaused blocks until the controller is resumed or stopped.
// It returns ctx.Err() if ctx ends first and ErrStopped after Stop.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// Spawn ONE goroutine to signal condition if context is cancelled
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()
	return nil
}
