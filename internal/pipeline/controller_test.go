package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/source"
	"github.com/grocky/ripeness-detector/internal/state"
)

func TestController(t *testing.T) {
	p := newPipeline(t, Deps{
		Open: func(context.Context, config.SourceConfig) (source.Source, error) {
			return &fakeSource{}, nil
		},
		Detector: fixed(box("ripe")),
		Store:    &memStore{},
	}, Options{Interval: time.Millisecond})
	c := NewController(p)

	assert.Equal(t, Status{State: "idle"}, c.Status())
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
	_, ok := c.Wait()
	assert.False(t, ok)

	h, err := c.Start(context.Background(), fileSource)
	require.NoError(t, err)
	assert.Same(t, h, c.Current())

	_, err = c.Start(context.Background(), fileSource)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return h.Frames() >= 1 }, 5*time.Second, time.Millisecond)
	st := c.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, h.ID(), st.RunID)
	assert.Equal(t, "file:bananas.mp4", st.Source)

	stopped, err := c.Stop()
	require.NoError(t, err)
	assert.Same(t, h, stopped)

	res, ok := c.Wait()
	require.True(t, ok)
	assert.Equal(t, OutcomeStopped, res.Outcome)

	st = c.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, res.Frames, st.Frames)
	assert.Equal(t, state.CountState{Ripe: res.Frames}, st.Counts)

	_, err = c.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)

	// a finished run frees the controller
	h2, err := c.Start(context.Background(), fileSource)
	require.NoError(t, err)
	assert.NotEqual(t, h.ID(), h2.ID())
	h2.Stop()
	h2.Wait()
}

func TestControllerReportsFailure(t *testing.T) {
	p := newPipeline(t, Deps{
		Open:  openerFor(&fakeSource{}),
		Store: &memStore{failAt: 1},
	}, Options{})
	c := NewController(p)

	_, err := c.Start(context.Background(), fileSource)
	require.NoError(t, err)
	res, _ := c.Wait()
	require.Error(t, res.Err)
	assert.Equal(t, "failed", c.Status().State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
