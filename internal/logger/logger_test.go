package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"none", SILENT, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		level, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, level, tt.input)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Session", "frame %d processed", 1)
	assert.Empty(t, buf.String())

	l.Warn("Session", "frame %d skipped", 2)
	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "Session")
	assert.Contains(t, out, "frame 2 skipped")

	buf.Reset()
	l.SetLevel(SILENT)
	l.Error("Session", "should not appear")
	assert.Empty(t, buf.String())
	assert.Equal(t, SILENT, l.GetLevel())
}

func TestLoggerWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(INFO, &buf, false, FormatJSON)
	child := l.With("session", "abc")

	child.Info("Session", "hello")
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "abc", entry["session"])
	assert.Equal(t, "Session", entry["logger"])
	assert.Equal(t, "hello", entry["msg"])

	buf.Reset()
	l.SetLevel(ERROR)
	child.Info("Session", "suppressed")
	assert.Empty(t, buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatConsole, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
