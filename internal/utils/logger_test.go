package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingLogger(level log.Level) (*log.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	base := log.New()
	base.SetOutput(buf)
	base.SetFormatter(&log.JSONFormatter{})
	base.SetLevel(level)
	return base, buf
}

func TestLogger_FieldsFromKeyvals(t *testing.T) {
	base, buf := newCapturingLogger(log.DebugLevel)
	logger := NewLoggerFrom(base, "ledger")

	logger.Info("admitted", "api_key", "wz-1", "used_today", 2, "error", errors.New("boom"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "admitted", line["msg"])
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "wz-1", line["api_key"])
	assert.Equal(t, float64(2), line["used_today"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "info", line["level"])
}

func TestLogger_OddKeyvals(t *testing.T) {
	base, buf := newCapturingLogger(log.DebugLevel)
	logger := NewLoggerFrom(base, "test")

	logger.Warn("odd", "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dangling", line["!BADKEY"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	base, buf := newCapturingLogger(log.WarnLevel)
	logger := NewLoggerFrom(base, "test")

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}
