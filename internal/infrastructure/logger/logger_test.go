package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestChildLoggerSharesLevelAndOutput(t *testing.T) {
	cfg := NewConfig("info", "json", "stdout", "")
	root := NewLogrusLogger(cfg)

	var buf bytes.Buffer
	root.SetOutput(&buf)

	child := root.WithField("component", "hub")
	child.Debug("hidden")
	assert.Zero(t, buf.Len())

	child.SetLevel(LevelDebug)
	child.WithFields(Fields{"session_id": "abc12"}).Debug("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "visible", line["message"])
	assert.Equal(t, "hub", line["component"])
	assert.Equal(t, "abc12", line["session_id"])
}
