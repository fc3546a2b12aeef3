package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG", LevelInfo))
	assert.Equal(t, LevelWarn, ParseLevel("warning", LevelInfo))
	assert.Equal(t, LevelNone, ParseLevel("off", LevelInfo))
	assert.Equal(t, LevelError, ParseLevel("bogus", LevelError))
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv(LevelEnv, "trace")
	assert.Equal(t, LevelTrace, GetLevelFromEnv())
	t.Setenv(LevelEnv, "")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestJSONLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	sl := NewJSONLoggerWithSink(&buf, LevelInfo)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sl.(*jsonLogger).now = func() time.Time { return fixed }

	log := sl.WithPrefix("[bridge]").With(map[string]interface{}{"conn": "c1"})
	log.Debug("dropped")
	log.Info("plugin %s", "connected")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "plugin connected", entry.Message)
	assert.Equal(t, "INFO", entry.Severity)
	assert.Equal(t, "bridge", entry.Component)
	assert.Equal(t, "c1", entry.Metadata["conn"])
	assert.True(t, entry.Timestamp.Equal(fixed))
}

func TestJSONLoggerStripsColor(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLoggerWithSink(&buf, LevelTrace)
	log.Warn("\x1b[31mred\x1b[0m")
	assert.Contains(t, buf.String(), `"message":"red"`)
	assert.Contains(t, buf.String(), `"severity":"WARNING"`)
}

func TestConsoleLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	sl := NewConsoleLogger(LevelNone)
	sl.SetSink(&buf, LevelDebug)
	assert.True(t, sl.IsLevelEnabled(LevelDebug))
	assert.False(t, sl.IsLevelEnabled(LevelTrace))
	sl.WithPrefix("[relay]").Debug("queued %d", 3)
	out := buf.String()
	assert.Contains(t, out, "[DEBUG]")
	assert.Contains(t, out, "[relay] queued 3")
	assert.NotContains(t, out, "\x1b[")
}

func TestStackForwardsToChild(t *testing.T) {
	child := NewTestLogger()
	var buf bytes.Buffer
	parent := NewJSONLoggerWithSink(&buf, LevelInfo)
	log := parent.Stack(child).With(map[string]interface{}{"k": "v"})
	log.Info("hello")
	log.Error("boom")
	logs := child.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "v", logs[0].Metadata["k"])
	assert.True(t, child.Contains("ERROR", "boom"))
}

func TestTestLoggerSharedAndConcurrent(t *testing.T) {
	root := NewTestLogger()
	derived := WithKV(root.WithPrefix("[x]"), "id", 1)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			derived.Info("msg %d", i)
		}(i)
	}
	wg.Wait()
	assert.Len(t, root.Logs(), 50)
	assert.True(t, root.Contains("INFO", "msg 7"))
	assert.False(t, root.Contains("WARNING", "msg 7"))
}

func TestOtelLoggerWithMergesMetadata(t *testing.T) {
	base := NewOtelLogger(noop.NewLoggerProvider().Logger("test"), LevelTrace)
	first := base.With(map[string]interface{}{"base": "a", "shared": "one"}).(*otelLogger)
	second := first.With(map[string]interface{}{"extra": 2, "shared": "two"}).(*otelLogger)

	assert.Len(t, first.metadata, 2)
	assert.Len(t, second.metadata, 3)
	assert.Equal(t, "a", second.metadata["base"].AsString())
	assert.Equal(t, int64(2), second.metadata["extra"].AsInt64())
	assert.Equal(t, "two", second.metadata["shared"].AsString())
	assert.Equal(t, "one", first.metadata["shared"].AsString())
}

func TestOtelLoggerLevel(t *testing.T) {
	log := NewOtelLogger(noop.NewLoggerProvider().Logger("test"), LevelWarn)
	assert.False(t, log.IsLevelEnabled(LevelInfo))
	assert.True(t, log.IsLevelEnabled(LevelError))
	log.WithPrefix("[p]").Error("does not panic %s", "here")
}
