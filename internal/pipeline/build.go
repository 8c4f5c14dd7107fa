package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/grocky/ripeness-detector/internal/annotate"
	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/detect"
	"github.com/grocky/ripeness-detector/internal/enhance"
	"github.com/grocky/ripeness-detector/internal/history"
	"github.com/grocky/ripeness-detector/internal/ripeness"
	"github.com/grocky/ripeness-detector/internal/source"
	"github.com/grocky/ripeness-detector/internal/state"
)

// Assembly is a pipeline built from configuration together with the
// resources it owns.
type Assembly struct {
	Pipeline *Pipeline
	Store    *state.FileStore
	// Journal is nil when history is disabled.
	Journal *history.Journal

	closers []io.Closer
}

// Close releases the journal and mirror connections.
func (a *Assembly) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	return err
}

// FromConfig wires every stage named by cfg.
func FromConfig(cfg *config.Config, logger logrus.FieldLogger) (_ *Assembly, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Assembly{Store: state.NewFileStore(cfg.State.Path)}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	params, err := cfg.Classifier.Params()
	if err != nil {
		return nil, err
	}
	classifier, err := ripeness.NewClassifier(params)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}

	deps := Deps{
		Open: func(ctx context.Context, src config.SourceConfig) (source.Source, error) {
			return source.Open(ctx, src, source.WithLogger(logger))
		},
		Enhancer:   enhance.New(cfg.Enhance.SaturationGain, cfg.Enhance.HighlightDamping, uint8(cfg.Enhance.BrightnessThreshold)),
		Detector:   newDetector(cfg.Detector, logger),
		Classifier: classifier,
		Store:      a.Store,
		Logger:     logger,
	}

	if cfg.NATS.URL != "" {
		mirror, err := state.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, mirror)
		deps.Mirrors = append(deps.Mirrors, mirror)
	}

	if cfg.History.Path != "" {
		journal, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, journal)
		a.Journal = journal
		deps.Journal = journal
	}

	if cfg.Pipeline.AnnotatePath != "" {
		deps.Observers = append(deps.Observers, annotate.NewWriter(cfg.Pipeline.AnnotatePath))
	}

	if a.Pipeline, err = New(deps, Options{
		Interval:  cfg.Pipeline.FrameInterval,
		Prefetch:  cfg.Pipeline.Prefetch,
		MaxFrames: cfg.Pipeline.MaxFrames,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func newDetector(cfg config.DetectorConfig, logger logrus.FieldLogger) detect.Detector {
	if cfg.Backend == config.DetectorHTTP {
		return detect.NewHTTP(detect.HTTPConfig{
			Address:       cfg.Address,
			Timeout:       cfg.Timeout,
			MinConfidence: cfg.MinConfidence,
			Labels:        cfg.Labels,
		}, logger)
	}

	box := detect.NewObjectbox(cfg.Address, logger)
	// an unreachable box only degrades frames to zero regions
	if info, err := box.Describe(); err != nil {
		logger.WithError(err).Warn("objectbox not reachable")
	} else {
		logger.WithField("box", info).Info("connected to objectbox")
	}
	return box
}
