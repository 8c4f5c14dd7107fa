package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/history"
	"github.com/grocky/ripeness-detector/internal/logging"
	"github.com/grocky/ripeness-detector/internal/pipeline"
	"github.com/grocky/ripeness-detector/internal/state"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyRunFlags overrides the loaded configuration with run flags.
func applyRunFlags(c *cli.Context, cfg *config.Config) error {
	var kinds []string
	if c.IsSet("file") {
		kinds = append(kinds, "file")
		cfg.Source = config.SourceConfig{Kind: config.SourceFile, File: config.FileConfig{Path: c.String("file")}}
	}
	if c.IsSet("stream") {
		kinds = append(kinds, "stream")
		stream := cfg.Source.Stream
		stream.URL = c.String("stream")
		stream.Resolve = c.Bool("resolve")
		cfg.Source = config.SourceConfig{Kind: config.SourceStream, Stream: stream}
	}
	if c.Bool("capture") || c.IsSet("region") {
		kinds = append(kinds, "capture")
		capture := config.CaptureConfig{Display: c.Int("display")}
		if c.IsSet("region") {
			var err error
			if capture, err = parseRegion(c.String("region")); err != nil {
				return err
			}
			capture.Display = c.Int("display")
		}
		cfg.Source = config.SourceConfig{Kind: config.SourceCapture, Capture: capture}
	}
	if len(kinds) > 1 {
		return fmt.Errorf("only one source may be given, got %s", strings.Join(kinds, ", "))
	}

	if c.IsSet("interval") {
		cfg.Pipeline.FrameInterval = c.Duration("interval")
	}
	if c.IsSet("max-frames") {
		cfg.Pipeline.MaxFrames = c.Int("max-frames")
	}
	if c.IsSet("prefetch") {
		cfg.Pipeline.Prefetch = c.Int("prefetch")
	}
	if c.IsSet("annotate") {
		cfg.Pipeline.AnnotatePath = c.String("annotate")
	}
	if c.IsSet("state") {
		cfg.State.Path = c.String("state")
	}
	return cfg.Validate()
}

func parseRegion(s string) (config.CaptureConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return config.CaptureConfig{}, fmt.Errorf("region %q: want X,Y,W,H", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return config.CaptureConfig{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return config.CaptureConfig{}, fmt.Errorf("region %q: width and height must be positive", s)
	}
	return config.CaptureConfig{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := applyRunFlags(c, cfg); err != nil {
		return cli.Exit(err, 2)
	}
	logger := logging.New(c.Bool("debug"), cfg.Logging)

	asm, err := pipeline.FromConfig(cfg, logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer asm.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := asm.Pipeline.Run(ctx, cfg.Source)
	fmt.Fprintf(c.App.Writer, "run %s %s after %d frames: %s\n", res.RunID, res.Outcome, res.Frames, res.Counts)
	if res.Err != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", res.Err), 1)
	}
	return nil
}

func statusAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	path := cfg.State.Path
	if c.IsSet("state") {
		path = c.String("state")
	}
	asJSON := c.Bool("json")

	if !c.Bool("follow") {
		counts, ok, err := state.ReadSnapshot(path)
		if err != nil {
			return cli.Exit(err, 1)
		}
		return printSnapshot(c.App.Writer, counts, ok, asJSON)
	}

	logger := logging.New(c.Bool("debug"), cfg.Logging)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var printErr error
	err = state.Watch(ctx, path, logger, func(counts state.CountState, ok bool) {
		if err := printSnapshot(c.App.Writer, counts, ok, asJSON); err != nil && printErr == nil {
			printErr = err
			stop()
		}
	})
	if err == nil {
		err = printErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err, 1)
	}
	return nil
}

func printSnapshot(w io.Writer, counts state.CountState, ok, asJSON bool) error {
	if asJSON {
		if !ok {
			_, err := fmt.Fprintln(w, "{}")
			return err
		}
		return json.NewEncoder(w).Encode(counts)
	}
	if !ok || counts.Total() == 0 {
		_, err := fmt.Fprintln(w, "no data yet")
		return err
	}
	p := counts.Percentages()
	_, err := fmt.Fprintf(w, "ripe: %d (%.1f%%)  unripe: %d (%.1f%%)  overripe: %d (%.1f%%)  total: %d\n",
		counts.Ripe, p.Ripe, counts.Unripe, p.Unripe, counts.Overripe, p.Overripe, counts.Total())
	return err
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	path := cfg.History.Path
	if c.IsSet("db") {
		path = c.String("db")
	}
	if path == "" {
		return cli.Exit("run history is disabled: set history.path or --db", 1)
	}

	logger := logging.New(c.Bool("debug"), cfg.Logging)
	journal, err := history.Open(path, logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer journal.Close()

	runs, err := journal.List(c.Context, c.Int("limit"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	return printRuns(c.App.Writer, runs)
}

func printRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Source", "Started", "Duration", "Outcome", "Frames", "Ripe", "Unripe", "Overripe"})
	for _, r := range runs {
		outcome, duration := r.Outcome, "-"
		if r.Ended.IsZero() {
			outcome = "running"
		} else {
			duration = r.Ended.Sub(r.Started).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.ID, r.Source, r.Started.Local().Format("2006-01-02 15:04:05"), duration, outcome,
			r.Frames, r.Counts.Ripe, r.Counts.Unripe, r.Counts.Overripe,
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
