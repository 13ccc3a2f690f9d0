package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFiltersBelowMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Terminal: &buf, NoColor: true})
	require.NoError(t, err)

	l.Info("BOOKING", "hidden")
	l.Warn("booking", "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[BOOKING   ] shown")
	assert.Contains(t, out, "WARN")
}

func TestLoggerWritesJSONLinesToFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(Options{Service: "ms-scheduling", Dir: dir, Level: "info", Terminal: &buf, NoColor: true})
	require.NoError(t, err)

	l.LogWaitlist("JOIN", "session-1", "position 3")
	l.Close()

	files, err := filepath.Glob(filepath.Join(dir, "ms-scheduling-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.NotEmpty(t, lines)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "WAITLIST", entry.Category)
	assert.Equal(t, "ms-scheduling", entry.Service)
	assert.Equal(t, "[JOIN] session-1 - position 3", entry.Message)
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Error("ANY", "nothing")
		l.Close()
	})

	var nilLogger *Logger
	assert.NotPanics(t, func() { nilLogger.Info("ANY", "nothing") })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
