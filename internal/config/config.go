// Package config loads the detector's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grocky/ripeness-detector/internal/fuzzy"
	"github.com/grocky/ripeness-detector/internal/ripeness"
)

// SourceKind selects the frame source variant.
type SourceKind string

const (
	SourceCapture SourceKind = "capture"
	SourceFile    SourceKind = "file"
	SourceStream  SourceKind = "stream"
)

// Detector backends.
const (
	DetectorObjectbox = "objectbox"
	DetectorHTTP      = "http"
)

// Config is the full configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source" json:"source"`
	Enhance    EnhanceConfig    `yaml:"enhance" json:"enhance"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Detector   DetectorConfig   `yaml:"detector" json:"detector"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	State      StateConfig      `yaml:"state" json:"state"`
	History    HistoryConfig    `yaml:"history" json:"history"`
	NATS       NATSConfig       `yaml:"nats" json:"nats"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SourceConfig is a discriminated choice of frame source. Only the block
// matching Kind is read.
type SourceConfig struct {
	Kind    SourceKind    `yaml:"kind" json:"kind"`
	Capture CaptureConfig `yaml:"capture,omitempty" json:"capture,omitempty"`
	File    FileConfig    `yaml:"file,omitempty" json:"file,omitempty"`
	Stream  StreamConfig  `yaml:"stream,omitempty" json:"stream,omitempty"`
}

// CaptureConfig is a rectangle of a local display. A zero width or height
// captures the whole display.
type CaptureConfig struct {
	Display int `yaml:"display" json:"display"`
	X       int `yaml:"x" json:"x"`
	Y       int `yaml:"y" json:"y"`
	Width   int `yaml:"width" json:"width"`
	Height  int `yaml:"height" json:"height"`
}

// FileConfig points at a stored video.
type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StreamConfig points at a network stream.
type StreamConfig struct {
	URL string `yaml:"url" json:"url"`
	// Resolve runs Resolver on URL first, for hosting pages that do not
	// serve media directly.
	Resolve      bool     `yaml:"resolve,omitempty" json:"resolve,omitempty"`
	Resolver     string   `yaml:"resolver,omitempty" json:"resolver,omitempty"`
	ResolverArgs []string `yaml:"resolver_args,omitempty" json:"resolver_args,omitempty"`
}

// EnhanceConfig holds the saturation correction constants.
type EnhanceConfig struct {
	SaturationGain      float64 `yaml:"saturation_gain" json:"saturation_gain"`
	HighlightDamping    float64 `yaml:"highlight_damping" json:"highlight_damping"`
	BrightnessThreshold int     `yaml:"brightness_threshold" json:"brightness_threshold"`
}

// ClassifierConfig holds the fuzzy model. Triangles are [a, b, c].
type ClassifierConfig struct {
	SampleSize   int       `yaml:"sample_size" json:"sample_size"`
	Resolution   int       `yaml:"resolution" json:"resolution"`
	Brown        []float64 `yaml:"brown" json:"brown"`
	Green        []float64 `yaml:"green" json:"green"`
	Yellow       []float64 `yaml:"yellow" json:"yellow"`
	Unripe       []float64 `yaml:"unripe" json:"unripe"`
	Ripe         []float64 `yaml:"ripe" json:"ripe"`
	Overripe     []float64 `yaml:"overripe" json:"overripe"`
	UnripeBelow  float64   `yaml:"unripe_below" json:"unripe_below"`
	OverripeFrom float64   `yaml:"overripe_from" json:"overripe_from"`
	Fallback     *float64  `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// DetectorConfig selects and configures the external detector.
type DetectorConfig struct {
	Backend       string        `yaml:"backend" json:"backend"`
	Address       string        `yaml:"address" json:"address"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	MinConfidence float64       `yaml:"min_confidence" json:"min_confidence"`
	Labels        []string      `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// PipelineConfig holds run loop settings.
type PipelineConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" json:"frame_interval"`
	// Prefetch is the depth of the background frame queue. 0 reads frames
	// inline.
	Prefetch int `yaml:"prefetch" json:"prefetch"`
	// MaxFrames stops the run after this many frames. 0 is unlimited.
	MaxFrames int `yaml:"max_frames" json:"max_frames"`
	// AnnotatePath, when set, receives the latest annotated frame as JPEG.
	AnnotatePath string `yaml:"annotate_path,omitempty" json:"annotate_path,omitempty"`
}

// StateConfig locates the shared counts file.
type StateConfig struct {
	Path string `yaml:"path" json:"path"`
}

// HistoryConfig locates the run journal. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"`
}

// NATSConfig mirrors snapshots to a NATS subject. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

// ServerConfig configures the control server.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`

	// File additionally writes logs to a rotated file when set.
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
}

// Default returns the reference configuration reading test_video.mp4.
func Default() *Config {
	cfg := &Config{
		Source: SourceConfig{
			Kind: SourceFile,
			File: FileConfig{Path: "test_video.mp4"},
		},
	}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = SourceFile
	}
	if c.Source.Stream.Resolver == "" {
		c.Source.Stream.Resolver = "yt-dlp"
	}
	if c.Source.Stream.ResolverArgs == nil {
		c.Source.Stream.ResolverArgs = []string{"-g", "-f", "best"}
	}

	if c.Enhance.SaturationGain == 0 {
		c.Enhance.SaturationGain = 1.3
	}
	if c.Enhance.HighlightDamping == 0 {
		c.Enhance.HighlightDamping = 0.9
	}
	if c.Enhance.BrightnessThreshold == 0 {
		c.Enhance.BrightnessThreshold = 220
	}

	p := ripeness.DefaultParams()
	cl := &c.Classifier
	if cl.SampleSize == 0 {
		cl.SampleSize = p.SampleSize
	}
	if cl.Resolution == 0 {
		cl.Resolution = p.Resolution
	}
	setTriangle(&cl.Brown, p.Brown)
	setTriangle(&cl.Green, p.Green)
	setTriangle(&cl.Yellow, p.Yellow)
	setTriangle(&cl.Unripe, p.Unripe)
	setTriangle(&cl.Ripe, p.Ripe)
	setTriangle(&cl.Overripe, p.Overripe)
	if cl.UnripeBelow == 0 && cl.OverripeFrom == 0 {
		cl.UnripeBelow = p.Thresholds.UnripeBelow
		cl.OverripeFrom = p.Thresholds.OverripeFrom
	}

	if c.Detector.Backend == "" {
		c.Detector.Backend = DetectorObjectbox
	}
	if c.Detector.Address == "" {
		c.Detector.Address = "http://localhost:8083"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 30 * time.Second
	}

	if c.Pipeline.FrameInterval == 0 {
		c.Pipeline.FrameInterval = 200 * time.Millisecond
	}

	if c.State.Path == "" {
		c.State.Path = "counts.json"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "ripeness.counts"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func setTriangle(dst *[]float64, t fuzzy.Triangle) {
	if len(*dst) == 0 {
		*dst = []float64{t.A, t.B, t.C}
	}
}

// Validate checks the configuration for the selected source and backend.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if c.Enhance.SaturationGain < 0 || c.Enhance.HighlightDamping < 0 {
		return errors.New("enhance: gain and damping must be non-negative")
	}
	if c.Enhance.BrightnessThreshold < 0 || c.Enhance.BrightnessThreshold > 255 {
		return fmt.Errorf("enhance: brightness_threshold %d outside [0, 255]", c.Enhance.BrightnessThreshold)
	}
	if _, err := c.Classifier.Params(); err != nil {
		return err
	}
	switch c.Detector.Backend {
	case DetectorObjectbox, DetectorHTTP:
	default:
		return fmt.Errorf("detector: unknown backend %q", c.Detector.Backend)
	}
	if c.Pipeline.FrameInterval < 0 {
		return errors.New("pipeline: frame_interval must be non-negative")
	}
	if c.Pipeline.Prefetch < 0 || c.Pipeline.MaxFrames < 0 {
		return errors.New("pipeline: prefetch and max_frames must be non-negative")
	}
	if c.State.Path == "" {
		return errors.New("state: path is required")
	}
	return nil
}

// Validate checks that the block selected by Kind is usable.
func (s SourceConfig) Validate() error {
	switch s.Kind {
	case SourceCapture:
		if s.Capture.Width < 0 || s.Capture.Height < 0 {
			return errors.New("source: capture width and height must be non-negative")
		}
	case SourceFile:
		if s.File.Path == "" {
			return errors.New("source: file path is required")
		}
	case SourceStream:
		if s.Stream.URL == "" {
			return errors.New("source: stream url is required")
		}
	default:
		return fmt.Errorf("source: unknown kind %q", s.Kind)
	}
	return nil
}

// Target describes the selected source for logs and the run journal.
func (s SourceConfig) Target() string {
	switch s.Kind {
	case SourceCapture:
		return fmt.Sprintf("capture:%d@%d,%d+%dx%d", s.Capture.Display, s.Capture.X, s.Capture.Y, s.Capture.Width, s.Capture.Height)
	case SourceFile:
		return "file:" + s.File.Path
	case SourceStream:
		return "stream:" + s.Stream.URL
	}
	return string(s.Kind)
}

// Params converts the classifier block to model parameters.
func (c ClassifierConfig) Params() (ripeness.Params, error) {
	p := ripeness.DefaultParams()
	p.SampleSize = c.SampleSize
	p.Resolution = c.Resolution
	p.Thresholds = ripeness.Thresholds{UnripeBelow: c.UnripeBelow, OverripeFrom: c.OverripeFrom}
	if c.Fallback != nil {
		p.Fallback = *c.Fallback
	}

	triangles := []struct {
		name string
		src  []float64
		dst  *fuzzy.Triangle
	}{
		{"brown", c.Brown, &p.Brown},
		{"green", c.Green, &p.Green},
		{"yellow", c.Yellow, &p.Yellow},
		{"unripe", c.Unripe, &p.Unripe},
		{"ripe", c.Ripe, &p.Ripe},
		{"overripe", c.Overripe, &p.Overripe},
	}
	for _, t := range triangles {
		tri, err := fuzzy.NewTriangle(t.src)
		if err != nil {
			return ripeness.Params{}, fmt.Errorf("classifier: %s: %w", t.name, err)
		}
		*t.dst = tri
	}
	if p.SampleSize <= 0 {
		return ripeness.Params{}, fmt.Errorf("classifier: sample_size must be positive, got %d", p.SampleSize)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return ripeness.Params{}, fmt.Errorf("classifier: %w", err)
	}
	return p, nil
}
