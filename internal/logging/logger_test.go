package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/broute2mqtt/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerLevelAndFormat(t *testing.T) {

	assert := assert.New(t)

	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("scan failed", zap.Int("duration", 7))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal("warn", entry["level"])
	assert.Equal("scan failed", entry["msg"])
	assert.EqualValues(7, entry["duration"])
	assert.NotContains(buf.String(), "hidden")
}

func TestLoggerWritesFile(t *testing.T) {

	assert := assert.New(t)

	filename := filepath.Join(t.TempDir(), "broute2mqtt.log")
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{
		Level:  "debug",
		Format: "console",
		File:   config.LogFileConfig{Filename: filename, MaxSizeMB: 1},
	}, &buf)
	require.NoError(t, err)

	logger.Debug("SEND", zap.String("command", "SKVER"))
	_ = logger.Sync()

	content, err := os.ReadFile(filename)
	assert.NoError(err)
	assert.Contains(string(content), "SKVER")
	assert.Contains(buf.String(), "SKVER")
}

func TestInitLoggerRejectsBadConfig(t *testing.T) {

	assert := assert.New(t)

	_, err := InitLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.ErrorIs(err, ErrInvalidLogConfig)

	_, err = InitLogger(config.LogConfig{Level: "info", File: config.LogFileConfig{
		Filename:   filepath.Join(t.TempDir(), "broute2mqtt.log"),
		MaxBackups: -1,
	}})
	assert.ErrorIs(err, ErrInvalidLogConfig)

	// the parent of the log file is a regular file
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	_, err = InitLogger(config.LogConfig{Level: "info", File: config.LogFileConfig{
		Filename: filepath.Join(blocker, "broute2mqtt.log"),
	}})
	assert.Error(err)
}

func TestInitLoggerCreatesLogDirectory(t *testing.T) {

	assert := assert.New(t)

	filename := filepath.Join(t.TempDir(), "logs", "broute2mqtt.log")
	logger, err := InitLogger(config.LogConfig{Level: "info", Format: "json", File: config.LogFileConfig{Filename: filename}})
	require.NoError(t, err)
	defer logger.Sync()

	_, err = os.Stat(filename)
	assert.NoError(err, "file exists before the first entry")
}
