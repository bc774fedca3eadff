package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("WARN")

	Info("hidden")
	Warn("shown %d", 1)
	Error("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 1")
	assert.Contains(t, out, "[ERROR] also shown")
	assert.False(t, IsDebug())
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("debug")
	SetLevel("verbose")

	Debug("still debug")
	assert.Contains(t, buf.String(), "[DEBUG] still debug")
	assert.True(t, IsDebug())
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")

	Info("Space %s: created", "docs")

	var line map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "Space docs: created", line["msg"])
	assert.NotEmpty(t, line["time"])
}
