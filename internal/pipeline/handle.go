package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grocky/ripeness-detector/internal/state"
)

// State is the lifecycle state of a run.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is how a finished run ended.
type Outcome string

const (
	OutcomeStopped Outcome = "stopped"
	OutcomeFailed  Outcome = "failed"
)

// Result summarizes a finished run. Counts is the last flushed snapshot.
type Result struct {
	RunID   string
	Source  string
	Outcome Outcome
	Frames  int
	Counts  state.CountState
	Err     error
	Started time.Time
	Ended   time.Time
}

// Handle is the caller's view of one run.
type Handle struct {
	id      string
	source  string
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	frames atomic.Int64

	mu  sync.Mutex
	agg *state.Aggregator
	res Result

	done chan struct{}
}

func newHandle(ctx context.Context, id, source string, started time.Time) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:      id,
		source:  source,
		started: started,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.state.Store(int32(Running))
	return h
}

// ID returns the run ID.
func (h *Handle) ID() string { return h.id }

// Source describes the run's frame source.
func (h *Handle) Source() string { return h.source }

// Started returns when the run was started.
func (h *Handle) Started() time.Time { return h.started }

// State returns the current lifecycle state. It is Idle once the run has
// ended; Result tells how.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Stop asks the run to end after the current frame. It does not wait.
func (h *Handle) Stop() {
	h.cancel()
}

// Done is closed when the run has ended and its source is released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run ends and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.res
}

// Result returns the result if the run has ended.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return Result{}, false
	}
}

// Frames returns the number of frames processed so far.
func (h *Handle) Frames() int {
	return int(h.frames.Load())
}

// Counts returns the run's current counts.
func (h *Handle) Counts() state.CountState {
	if res, ok := h.Result(); ok {
		return res.Counts
	}
	h.mu.Lock()
	agg := h.agg
	h.mu.Unlock()
	if agg == nil {
		return state.CountState{}
	}
	return agg.Snapshot()
}

func (h *Handle) stopRequested() bool {
	return h.ctx.Err() != nil
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Handle) setFrames(n int) {
	h.frames.Store(int64(n))
}

func (h *Handle) setCounts(agg *state.Aggregator) {
	h.mu.Lock()
	h.agg = agg
	h.mu.Unlock()
}

func (h *Handle) finish(res Result) {
	h.res = res
	h.setState(Idle)
	h.cancel()
	close(h.done)
}
