package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grocky/ripeness-detector/internal/config"
)

func TestJSONDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, config.LoggingConfig{Level: "info", Format: "json"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.WithField("component", "pipeline").Info("run started")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run started", entry["msg"])
	assert.Equal(t, "pipeline", entry["component"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, entry["time"])
}

func TestDebugOverrides(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, config.LoggingConfig{Level: "error", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, config.LoggingConfig{Level: "warn", Format: "text"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, config.LoggingConfig{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "unknown log level")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ripeness.log")
	var stdout bytes.Buffer
	logger := newLogger(output(&stdout, config.LoggingConfig{File: path}), false, config.LoggingConfig{Format: "json"})

	logger.Info("frame processed")
	assert.Contains(t, stdout.String(), "frame processed")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame processed")
}

func TestOutputWithoutFile(t *testing.T) {
	var stdout bytes.Buffer
	assert.Same(t, &stdout, output(&stdout, config.LoggingConfig{}))
}
