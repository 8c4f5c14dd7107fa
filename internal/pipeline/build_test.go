package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/detect"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Source.File.Path = filepath.Join(dir, "missing.mp4")
	cfg.Detector.Backend = config.DetectorHTTP
	cfg.Detector.Address = "http://127.0.0.1:1"
	cfg.State.Path = filepath.Join(dir, "counts.json")
	cfg.History.Path = filepath.Join(dir, "runs.db")
	cfg.Pipeline.AnnotatePath = filepath.Join(dir, "frames", "latest.jpg")
	cfg.Pipeline.FrameInterval = 0
	return cfg
}

func TestFromConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig(t)

	a, err := FromConfig(cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Journal)
	assert.Equal(t, cfg.State.Path, a.Store.Path())
	assert.IsType(t, &detect.HTTP{}, a.Pipeline.deps.Detector)
	assert.Len(t, a.Pipeline.deps.Observers, 1)
	assert.Empty(t, a.Pipeline.deps.Mirrors)

	res := a.Pipeline.Run(context.Background(), cfg.Source)
	require.Error(t, res.Err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	runs, err := a.Journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "failed", runs[0].Outcome)
	assert.Contains(t, runs[0].Error, "opening source")
}

func TestFromConfigWithoutHistory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig(t)
	cfg.History.Path = ""
	cfg.Pipeline.AnnotatePath = ""

	a, err := FromConfig(cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, a.Journal)
	assert.Nil(t, a.Pipeline.deps.Journal)
	assert.Empty(t, a.Pipeline.deps.Observers)
	assert.NoError(t, a.Close())
}

func TestFromConfigErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()

	cfg := testConfig(t)
	cfg.Detector.Backend = "tensorflow"
	_, err := FromConfig(cfg, logger)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Classifier.Green = []float64{80, 55, 30}
	_, err = FromConfig(cfg, logger)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.NATS.URL = "nats://127.0.0.1:1"
	_, err = FromConfig(cfg, logger)
	assert.Error(t, err)
}
