package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/state"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrNotRunning is returned by Stop when no run is in progress.
	ErrNotRunning = errors.New("pipeline not running")
)

// Status is what a control surface sees of the controller.
type Status struct {
	State  string           `json:"state"`
	RunID  string           `json:"run_id,omitempty"`
	Source string           `json:"source,omitempty"`
	Frames int              `json:"frames"`
	Counts state.CountState `json:"counts"`
}

// Controller owns at most one run of a pipeline at a time.
type Controller struct {
	p *Pipeline

	mu      sync.Mutex
	current *Handle
}

// NewController returns a controller for p.
func NewController(p *Pipeline) *Controller {
	return &Controller{p: p}
}

// Start begins a run unless one is in progress. The run lives until it ends
// on its own, Stop is called or ctx is cancelled.
func (c *Controller) Start(ctx context.Context, src config.SourceConfig) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		if _, done := c.current.Result(); !done {
			return nil, ErrAlreadyRunning
		}
	}
	c.current = c.p.Start(ctx, src)
	return c.current, nil
}

// Stop asks the current run to end and returns its handle without waiting.
func (c *Controller) Stop() (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotRunning
	}
	if _, done := c.current.Result(); done {
		return nil, ErrNotRunning
	}
	c.current.Stop()
	return c.current, nil
}

// Current returns the latest run, which may have ended, or nil.
func (c *Controller) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Wait blocks until the latest run ends. It returns false if there was none.
func (c *Controller) Wait() (Result, bool) {
	h := c.Current()
	if h == nil {
		return Result{}, false
	}
	return h.Wait(), true
}

// Status reports "idle" before the first run, "running" or "stopping" while
// one is in progress, and then the outcome of the latest run.
func (c *Controller) Status() Status {
	h := c.Current()
	if h == nil {
		return Status{State: Idle.String()}
	}
	st := Status{
		RunID:  h.ID(),
		Source: h.Source(),
		Frames: h.Frames(),
		Counts: h.Counts(),
	}
	if res, done := h.Result(); done {
		st.State = string(res.Outcome)
		st.Frames = res.Frames
		return st
	}
	st.State = h.State().String()
	return st
}
