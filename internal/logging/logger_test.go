package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.Trace("candidate noise")
	logger.Debug("debug noise")
	logger.Info("job started")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "job started", entry.Message)
}

func TestLogger_DerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerWithOutput(LevelTrace, FormatJSON, &buf)
	child := root.WithField("jobId", "abc").WithFields(map[string]interface{}{"strategy": "http"})

	child.Trace("candidate failed")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "abc", entry.Fields["jobId"])
	assert.Equal(t, "http", entry.Fields["strategy"])
	assert.Empty(t, root.fields, "parent fields must not be mutated")

	buf.Reset()
	root.SetLevel(LevelWarn)
	child.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelDebug, FormatText, &buf)

	logger.WithField("processed", 3).Debugf("candidate %d done", 3)

	out := buf.String()
	assert.Contains(t, out, "debug: candidate 3 done")
	assert.Contains(t, out, `fields={"processed":3}`)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, ParseLogLevel("trace"))
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("loud"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("yaml"))
}
