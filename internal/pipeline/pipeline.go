// Package pipeline drives frames from a source through enhancement,
// detection and classification into the shared counts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/detect"
	"github.com/grocky/ripeness-detector/internal/ripeness"
	"github.com/grocky/ripeness-detector/internal/source"
	"github.com/grocky/ripeness-detector/internal/state"
)

// Opener opens the frame source for a run.
type Opener func(ctx context.Context, cfg config.SourceConfig) (source.Source, error)

// Enhancer returns a corrected copy of a frame.
type Enhancer interface {
	Enhance(frame gocv.Mat) (gocv.Mat, error)
}

// Classifier labels one region of a frame. ok is false for regions that
// cannot be classified, which are skipped.
type Classifier interface {
	ClassifyRegion(frame gocv.Mat, region detect.Region) (ripeness.Result, bool, error)
}

// Mirror receives every flushed snapshot.
type Mirror interface {
	Publish(state.Update) error
}

// Observer receives each processed frame with its results.
type Observer interface {
	Observe(n int, frame gocv.Mat, results []ripeness.Result) error
}

// Journal records run boundaries.
type Journal interface {
	Begin(ctx context.Context, id, source string) (string, error)
	Finish(ctx context.Context, id, outcome string, runErr error, frames int, counts state.CountState) error
}

// Deps are the stages of a pipeline. Open, Enhancer, Detector, Classifier
// and Store are required.
type Deps struct {
	Open       Opener
	Enhancer   Enhancer
	Detector   detect.Detector
	Classifier Classifier
	Store      state.Store
	Mirrors    []Mirror
	Observers  []Observer
	Journal    Journal
	Clock      clock.Clock
	Logger     logrus.FieldLogger
}

// Options tune the run loop.
type Options struct {
	// Interval is slept after every frame. 0 disables the sleep.
	Interval time.Duration
	// Prefetch reads up to this many frames ahead on a background goroutine.
	Prefetch int
	// MaxFrames stops a run after this many processed frames. 0 is unlimited.
	MaxFrames int
}

// Pipeline runs the frame loop. A Pipeline may be started repeatedly; use a
// Controller to allow at most one run at a time.
type Pipeline struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger
}

// New validates deps and returns a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Open == nil:
		return nil, errors.New("pipeline: source opener is required")
	case deps.Enhancer == nil:
		return nil, errors.New("pipeline: enhancer is required")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: detector is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: state store is required")
	}
	if opts.Interval < 0 || opts.Prefetch < 0 || opts.MaxFrames < 0 {
		return nil, errors.New("pipeline: options must be non-negative")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  deps.Logger.WithField("component", "pipeline"),
	}, nil
}

// Start begins a run reading from src and returns its handle immediately.
// Cancelling ctx has the same effect as Handle.Stop.
func (p *Pipeline) Start(ctx context.Context, src config.SourceConfig) *Handle {
	h := newHandle(ctx, uuid.NewString(), src.Target(), p.deps.Clock.Now())
	go func() {
		res := p.run(h, src)
		h.finish(res)
	}()
	return h
}

// Run starts a run and waits for it to end.
func (p *Pipeline) Run(ctx context.Context, src config.SourceConfig) Result {
	return p.Start(ctx, src).Wait()
}

func (p *Pipeline) run(h *Handle, cfg config.SourceConfig) (res Result) {
	log := p.log.WithFields(logrus.Fields{"run_id": h.id, "source": h.source})
	// work inside an iteration is never interrupted by Stop
	work := context.WithoutCancel(h.ctx)

	res = Result{RunID: h.id, Source: h.source, Started: h.started}
	defer func() {
		res.Ended = p.deps.Clock.Now()
		if res.Err != nil {
			res.Outcome = OutcomeFailed
			log.WithError(res.Err).WithField("frames", res.Frames).Error("run failed")
		} else {
			res.Outcome = OutcomeStopped
			log.WithFields(logrus.Fields{"frames": res.Frames, "counts": res.Counts.String()}).Info("run stopped")
		}
		if p.deps.Journal != nil {
			if err := p.deps.Journal.Finish(work, h.id, string(res.Outcome), res.Err, res.Frames, res.Counts); err != nil {
				log.WithError(err).Warn("failed to record run end")
			}
		}
	}()

	if p.deps.Journal != nil {
		if _, err := p.deps.Journal.Begin(work, h.id, h.source); err != nil {
			log.WithError(err).Warn("failed to record run start")
		}
	}

	src, err := p.deps.Open(work, cfg)
	if err != nil {
		res.Err = fmt.Errorf("opening source: %w", err)
		h.setState(Failed)
		return res
	}
	if p.opts.Prefetch > 0 {
		src = source.Prefetch(src, p.opts.Prefetch)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Warn("failed to close source")
		}
	}()

	agg := state.NewAggregator(p.deps.Store)
	agg.Reset()
	h.setCounts(agg)
	if res.Counts, err = agg.Flush(); err != nil {
		res.Err = err
		h.setState(Failed)
		return res
	}
	p.publish(log, state.Update{RunID: h.id, Frame: 0, Counts: res.Counts, At: p.deps.Clock.Now()})

	log.Info("run started")
	for {
		if h.stopRequested() {
			h.setState(Stopping)
			log.Debug("stop requested")
			return res
		}

		frame, err := src.Next(work)
		if err != nil {
			frame.Close()
			switch {
			case errors.Is(err, source.ErrEndOfStream):
				h.setState(Stopping)
				log.WithError(err).Info("end of stream")
				return res
			case errors.Is(err, source.ErrTransient):
				log.WithError(err).Warn("skipping frame")
				p.sleep(h)
				continue
			default:
				res.Err = fmt.Errorf("reading frame %d: %w", res.Frames+1, err)
				h.setState(Failed)
				return res
			}
		}

		n := res.Frames + 1
		results := p.process(work, log, n, frame, agg)
		frame.Close()

		snap, err := agg.Flush()
		if err != nil {
			res.Err = err
			h.setState(Failed)
			return res
		}
		res.Frames, res.Counts = n, snap
		h.setFrames(n)
		p.publish(log, state.Update{RunID: h.id, Frame: n, Counts: snap, At: p.deps.Clock.Now()})

		entry := log.WithFields(logrus.Fields{"frame": n, "regions": len(results), "counts": snap.String()})
		if n == 1 || n%10 == 0 {
			entry.Info("processed frame")
		} else {
			entry.Debug("processed frame")
		}

		if p.opts.MaxFrames > 0 && n >= p.opts.MaxFrames {
			h.setState(Stopping)
			log.WithField("max_frames", p.opts.MaxFrames).Info("frame limit reached")
			return res
		}
		p.sleep(h)
	}
}

// process enhances, detects and classifies one frame, recording every label.
func (p *Pipeline) process(ctx context.Context, log logrus.FieldLogger, n int, frame gocv.Mat, agg *state.Aggregator) []ripeness.Result {
	log = log.WithField("frame", n)

	enhanced, err := p.deps.Enhancer.Enhance(frame)
	defer enhanced.Close()
	if err != nil {
		log.WithError(err).Warn("enhance failed, skipping frame")
		return nil
	}

	regions, err := p.deps.Detector.Detect(ctx, enhanced)
	if err != nil {
		log.WithError(err).Warn("detector failed, treating as no regions")
		regions = nil
	}

	results := make([]ripeness.Result, 0, len(regions))
	for _, r := range regions {
		result, ok, err := p.deps.Classifier.ClassifyRegion(enhanced, r)
		if err != nil {
			log.WithError(err).WithField("region", r.Rect().String()).Warn("classify failed")
			continue
		}
		if !ok {
			continue
		}
		agg.Record(result.Label)
		results = append(results, result)
	}

	for _, o := range p.deps.Observers {
		if err := o.Observe(n, frame, results); err != nil {
			log.WithError(err).Warn("observer failed")
		}
	}
	return results
}

func (p *Pipeline) publish(log logrus.FieldLogger, u state.Update) {
	for _, m := range p.deps.Mirrors {
		if err := m.Publish(u); err != nil {
			log.WithError(err).Warn("failed to mirror counts")
		}
	}
}

// sleep waits the frame interval or until a stop is requested.
func (p *Pipeline) sleep(h *Handle) {
	if p.opts.Interval <= 0 {
		return
	}
	t := p.deps.Clock.Timer(p.opts.Interval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-h.ctx.Done():
	}
}
