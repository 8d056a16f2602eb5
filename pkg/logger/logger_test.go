package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestNewLoggerWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("also shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestNewLoggerWithWriter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&buf, "chatty")

	log.Debug("hidden")
	log.Info("visible")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["message"])
}

func TestWithFields_DoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter(&buf, "info")

	child := parent.WithFields(map[string]interface{}{"run_id": "r1", "attempt": 2})
	child.Info("child")
	parent.WithField("automation_id", "a1").Info("sibling")
	parent.Info("parent")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "r1", lines[0]["run_id"])
	assert.Equal(t, float64(2), lines[0]["attempt"])
	assert.Equal(t, "a1", lines[1]["automation_id"])
	assert.NotContains(t, lines[1], "run_id")
	assert.NotContains(t, lines[2], "run_id")
	assert.NotContains(t, lines[2], "automation_id")
}

func TestNewNopLogger(t *testing.T) {
	log := NewNopLogger()
	assert.NotPanics(t, func() {
		log.WithField("k", "v").Info("nothing")
		log.Error("nothing")
	})
}
