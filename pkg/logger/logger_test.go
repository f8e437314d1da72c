package logger_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop/pkg/logger"
)

type logLine struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	Collection string `json:"collection"`
}

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, 0, buff.Len())
	templogger.Info("Test", "collection", "other_entity")
	// Get Stats After
	require.Contains(t, buff.String(), "Test")

	var line logLine
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	assert.Equal(t, "info", line.Level)
	assert.Equal(t, "Test", line.Message)
	assert.Equal(t, "other_entity", line.Collection)
}

func TestLevels(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)

	l.Debug("hidden")
	assert.Zero(t, buff.Len(), "debug is filtered at info level")

	buff.Reset()
	l, err = logger.New().FromBuffer(buff).Debug(true).Make()
	require.NoError(t, err)
	l.Debug("shown")
	assert.Contains(t, buff.String(), "shown")

	buff.Reset()
	l, err = logger.New().FromBuffer(buff).WithLevel(zerolog.ErrorLevel).Make()
	require.NoError(t, err)
	l.Warn("dropped")
	l.Error("kept")
	assert.NotContains(t, buff.String(), "dropped")
	assert.Contains(t, buff.String(), "kept")
}

func TestOddArgs(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)

	l.Warn("odd", "key")
	assert.Contains(t, buff.String(), "!MISSING")
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedpop.log")
	l, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)
	require.NotNil(t, l.LogFile)

	l.Info("to file")
	require.NoError(t, l.Close())
}

func TestNop(t *testing.T) {
	l := logger.Nop()
	l.Error("nothing")
	require.NoError(t, l.Close())
}
