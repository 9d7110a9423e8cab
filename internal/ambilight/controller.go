package ambilight

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyRunning = errors.New("ambilight loop is already running")
	ErrNotRunning     = errors.New("ambilight loop is not running")
)

// Controller owns the single Loop goroutine and its Stopped/Running state.
// All methods are safe for concurrent use.
type Controller struct {
	// base bounds every loop the controller starts; cancelling it stops the
	// controller for good.
	base context.Context
	loop *Loop

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	last     Status
	reporter Reporter
}

func NewController(base context.Context, loop *Loop, reporter Reporter) *Controller {
	c := &Controller{
		base:     base,
		loop:     loop,
		reporter: reporter,
	}
	loop.reporter = c
	return c
}

// Start launches the loop. It returns ErrAlreadyRunning instead of starting a
// second loop. If a previous loop is still stopping, Start waits for it.
func (c *Controller) Start() error {
	for {
		c.mu.Lock()
		switch c.state {
		case Running:
			c.mu.Unlock()
			return ErrAlreadyRunning
		case Stopping:
			done := c.done
			c.mu.Unlock()
			<-done
			continue
		}

		if err := c.base.Err(); err != nil {
			c.mu.Unlock()
			return err
		}

		// A fresh loop knows nothing about the lamp, which may have been
		// changed while the loop was stopped.
		c.loop.store.ForgetLastBrightness()

		ctx, cancel := context.WithCancel(c.base)
		done := make(chan struct{})
		c.state = Running
		c.cancel = cancel
		c.done = done
		c.mu.Unlock()

		go c.run(ctx, cancel, done)
		return nil
	}
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		c.mu.Lock()
		c.state = Stopped
		c.cancel = nil
		c.mu.Unlock()
		close(done)
	}()
	c.loop.Run(ctx)
}

// Stop asks the loop to exit after its current tick. It does not wait; use
// Wait for that.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return ErrNotRunning
	}
	c.state = Stopping
	c.cancel()
	return nil
}

// Wait blocks until the current loop, if any, has exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the outcome of the latest tick together with the current
// state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.last
	s.State = c.state
	return s
}

// Report implements Reporter for the controller's own loop.
func (c *Controller) Report(s Status) {
	c.mu.Lock()
	s.State = c.state
	c.last = s
	reporter := c.reporter
	c.mu.Unlock()

	if reporter != nil {
		reporter.Report(s)
	}
}
