// Package source produces BGR frames from a display region, a video file or
// a network stream behind one Source interface.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/grocky/ripeness-detector/internal/config"
)

var (
	// ErrEndOfStream is returned by Next when a finite source is exhausted.
	ErrEndOfStream = errors.New("end of stream")

	// ErrTransient marks a read failure after which Next may be retried.
	ErrTransient = errors.New("transient frame error")
)

// EndOfStream reports how many frames a finite source produced. It matches
// ErrEndOfStream.
type EndOfStream struct {
	Frames int
}

func (e *EndOfStream) Error() string {
	return "video stream complete. frames: " + strconv.Itoa(e.Frames)
}

// Is makes errors.Is(err, ErrEndOfStream) true.
func (e *EndOfStream) Is(target error) bool {
	return target == ErrEndOfStream
}

// Source yields frames one at a time. Next always returns a Mat the caller
// must Close, even alongside an error.
type Source interface {
	Next(ctx context.Context) (gocv.Mat, error)
	Close() error
}

// Option customizes Open.
type Option func(*options)

type options struct {
	resolver Resolver
	grab     grabFunc
	logger   logrus.FieldLogger
}

// WithResolver overrides the stream resolver built from config.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithLogger sets the logger used by sources.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func withGrabber(g grabFunc) Option {
	return func(o *options) { o.grab = g }
}

// Open opens the source selected by cfg.Kind.
func Open(ctx context.Context, cfg config.SourceConfig, opts ...Option) (Source, error) {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case config.SourceCapture:
		return openCapture(cfg.Capture, o)
	case config.SourceFile:
		return OpenFile(cfg.File.Path)
	case config.SourceStream:
		url := cfg.Stream.URL
		if cfg.Stream.Resolve {
			r := o.resolver
			if r == nil {
				r = CommandResolver{Binary: cfg.Stream.Resolver, Args: cfg.Stream.ResolverArgs}
			}
			resolved, err := r.Resolve(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("resolving stream %s: %w", url, err)
			}
			o.logger.WithFields(logrus.Fields{"url": url, "resolved": resolved}).Info("resolved stream")
			url = resolved
		}
		return OpenStream(url)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}
